// Package errors provides structured errors for the actorbus runtime.
//
// # Overview
//
// Every failure surfaced by the bus, an agent loop, or an orchestrator is an
// *Error carrying a Code (what went wrong), a Category (how callers should
// react), optional metadata, and the agent/correlation context it occurred
// in. Errors marshal to JSON so they can travel inside ERROR envelope
// diagnostic payloads.
//
// # Usage
//
// Construct errors with New or the code-specific helpers:
//
//	err := errors.UnknownRecipient("worker-7")
//	err := errors.HandlerFailure("parse failed",
//	    errors.WithAgentID("worker-1"),
//	    errors.WithCorrelationID(corrID))
//
// Inspect errors anywhere in a chain:
//
//	if errors.Is(err, errors.CodeRequestTimeout) { ... }
//	if errors.IsRetryable(err) { ... }
//
// The runtime never retries on its own; Retryable is advisory for callers
// layering resilience above the core.
package errors
