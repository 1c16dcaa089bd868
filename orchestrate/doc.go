// Package orchestrate implements request delegation to specialist agents.
//
// # Overview
//
// An Orchestrator is an agent that forwards requests it has no handler for.
// Specialists are resolved from a static route table first, then from the
// capability registry (running agents advertising the request type, lowest
// load wins). Each forwarded request gets a fresh correlation ID and a
// delegation record linking it back to the original caller; the specialist's
// reply is relayed under the original correlation ID, so the caller never
// learns the work was delegated.
//
// Delegations that outlive their deadline produce a synthetic ERROR to the
// original caller. A specialist reply arriving after that is dropped as an
// orphan.
package orchestrate
