package bus

import (
	"sync"
	"time"

	"github.com/meshworks/actorbus/message"
)

// RequestState tracks an in-flight request through its lifecycle.
type RequestState int

const (
	StateCreated RequestState = iota
	StateSent
	StateAwaitingResponse
	StateResolved
	StateTimedOut
	StateErrored
)

// String returns the state name.
func (s RequestState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSent:
		return "sent"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateResolved:
		return "resolved"
	case StateTimedOut:
		return "timed_out"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// IsTerminal returns true for final states.
func (s RequestState) IsTerminal() bool {
	return s == StateResolved || s == StateTimedOut || s == StateErrored
}

// pendingRequest is one live entry in the bus correlation table. The reply
// channel is buffered so the resolver never blocks; removal from the table
// and the single send happen under the bus lock, which is what makes
// resolution exactly-once.
type pendingRequest struct {
	correlationID string
	recipient     string
	deadline      time.Time
	replyCh       chan message.Message

	mu    sync.Mutex
	state RequestState
}

func newPendingRequest(correlationID, recipient string, timeout time.Duration) *pendingRequest {
	return &pendingRequest{
		correlationID: correlationID,
		recipient:     recipient,
		deadline:      time.Now().Add(timeout),
		replyCh:       make(chan message.Message, 1),
		state:         StateCreated,
	}
}

// setState advances the lifecycle. Terminal states are final: a transition
// out of one is ignored.
func (p *pendingRequest) setState(s RequestState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.IsTerminal() {
		return
	}
	p.state = s
}

// State returns the current lifecycle state.
func (p *pendingRequest) State() RequestState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
