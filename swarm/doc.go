// Package swarm wires a bus, registry, heartbeat monitor, and a set of
// agents into one runnable unit.
//
// # Overview
//
// A Swarm is the composition root: it builds the shared infrastructure from
// a config.Config, hands it to every member added, starts members
// concurrently, and tears the whole thing down in dependency order
// (orchestrators, then specialists, then the monitor, then the bus).
//
// # Basic Usage
//
//	s, err := swarm.New(config.Default())
//	a, _ := s.AddAgent(agent.Config{ID: "lead-scorer", Type: "specialist"})
//	a.Handle("qualify_lead", qualify)
//	s.AddOrchestrator(orchestrate.Config{ID: "coordinator"})
//	s.Start(ctx)
//	defer s.Stop()
package swarm
