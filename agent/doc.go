// Package agent implements the actor loop that consumes a mailbox.
//
// # Overview
//
// An Agent owns one mailbox and one goroutine. The loop receives envelopes
// in priority order and dispatches REQUESTs through a handler table keyed by
// the payload's request_type. Handler results become RESPONSE messages;
// handler errors and panics become ERROR messages carrying a structured
// diagnostic, so one misbehaving handler never takes down the process.
//
// COMMAND envelopes drive lifecycle: pause parks the agent (requests are
// answered with a retryable error), resume unparks it, stop ends the loop.
// While running the agent broadcasts heartbeats and mirrors its load into
// the registry.
//
// # Basic Usage
//
//	a, err := agent.New(agent.Config{
//	    ID:   "lead-scorer",
//	    Type: "specialist",
//	    Bus:  b,
//	})
//	a.Handle("qualify_lead", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
//	    return map[string]any{"qualified": true}, nil
//	})
//	a.Start(ctx)
//	defer a.Stop()
package agent
