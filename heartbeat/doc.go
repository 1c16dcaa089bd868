// Package heartbeat provides liveness reporting and monitoring for agents.
//
// # Overview
//
// Agents broadcast HEARTBEAT messages to the "heartbeat.*" topic pattern at
// a fixed interval. The Monitor registers its own mailbox on the bus,
// subscribes to the pattern, and tracks the last beat seen per agent. A
// periodic sweep flags agents whose last beat is older than the stale
// threshold: callbacks fire once per incident and the agent's registry
// status flips to error until a fresh beat arrives.
//
// # Basic Usage
//
//	mon, err := heartbeat.NewMonitor(heartbeat.MonitorConfig{
//	    Bus:      b,
//	    Registry: reg,
//	})
//	mon.OnUnhealthy(func(agentID string, staleness time.Duration) {
//	    log.Printf("agent %s silent for %s", agentID, staleness)
//	})
//	mon.Start(ctx)
//	defer mon.Stop()
package heartbeat
