package heartbeat

import (
	"errors"
	"time"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("monitor already started")
	ErrNotStarted     = errors.New("monitor not started")
	ErrInvalidBeat    = errors.New("invalid heartbeat payload")
	ErrNilBus         = errors.New("monitor requires a bus")
)

// TopicPattern is the broadcast pattern heartbeats are published to. Any
// subscriber under the "heartbeat" segment receives them.
const TopicPattern = "heartbeat.*"

// Beat is one liveness report from an agent.
type Beat struct {
	// AgentID identifies the reporting agent.
	AgentID string

	// Status is the agent's self-reported operational state.
	Status string

	// Load is the agent's mailbox utilization (0.0-1.0).
	Load float64

	// MessageCount is the total messages the agent has processed.
	MessageCount uint64

	// Timestamp is when the beat was produced.
	Timestamp time.Time
}

// Payload encodes the beat as a message payload.
func (b Beat) Payload() map[string]any {
	return map[string]any{
		"agent_id":      b.AgentID,
		"status":        b.Status,
		"load":          b.Load,
		"message_count": b.MessageCount,
		"timestamp":     b.Timestamp.Format(time.RFC3339Nano),
	}
}

// FromPayload decodes a beat from a message payload.
func FromPayload(payload map[string]any) (Beat, error) {
	agentID, ok := payload["agent_id"].(string)
	if !ok || agentID == "" {
		return Beat{}, ErrInvalidBeat
	}

	b := Beat{AgentID: agentID}
	if status, ok := payload["status"].(string); ok {
		b.Status = status
	}
	if load, ok := payload["load"].(float64); ok {
		b.Load = load
	}
	switch count := payload["message_count"].(type) {
	case uint64:
		b.MessageCount = count
	case float64:
		b.MessageCount = uint64(count)
	case int:
		b.MessageCount = uint64(count)
	}
	if ts, ok := payload["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			b.Timestamp = t
		}
	}
	if b.Timestamp.IsZero() {
		b.Timestamp = time.Now()
	}
	return b, nil
}
