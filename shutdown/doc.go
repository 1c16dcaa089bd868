// Package shutdown coordinates ordered teardown of the runtime.
//
// # Overview
//
// Components register shutdown hooks in phases. Lower phases run first and
// hooks within a phase run concurrently. The conventional order stops
// orchestrators before the specialists they delegate to, specialists before
// the heartbeat monitor, and the bus last, so every in-flight reply still
// has a route while agents drain.
//
// # Basic Usage
//
//	coord := shutdown.NewCoordinator(shutdown.Config{}, log)
//	coord.RegisterFunc("coordinator", shutdown.PhaseOrchestrators, func(ctx context.Context) error {
//	    return orch.Stop()
//	})
//	coord.RegisterFunc("bus", shutdown.PhaseBus, func(ctx context.Context) error {
//	    return b.Close()
//	})
//	coord.HandleSignals()
//	<-coord.Done()
package shutdown
