// Package message defines the envelope exchanged between agents over the bus.
//
// A Message is immutable once sent: derived messages (responses, error
// replies) are new values, and payload maps are copied at construction so a
// handler can never mutate an envelope that is already in flight.
package message

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors.
var (
	ErrMissingSender      = errors.New("message missing sender")
	ErrMissingRecipient   = errors.New("message missing recipient")
	ErrMissingCorrelation = errors.New("message missing correlation ID")
	ErrUnknownType        = errors.New("unknown message type")
)

// Type classifies a message.
type Type string

const (
	TypeRequest      Type = "request"
	TypeResponse     Type = "response"
	TypeNotification Type = "notification"
	TypeCommand      Type = "command"
	TypeHeartbeat    Type = "heartbeat"
	TypeError        Type = "error"
	TypeEmergency    Type = "emergency"
)

// Valid returns true if the type is a known value.
func (t Type) Valid() bool {
	switch t {
	case TypeRequest, TypeResponse, TypeNotification, TypeCommand,
		TypeHeartbeat, TypeError, TypeEmergency:
		return true
	default:
		return false
	}
}

// IsReply returns true for message types that answer a prior request.
func (t Type) IsReply() bool {
	return t == TypeResponse || t == TypeError
}

// Priority orders messages within a mailbox. Higher values dequeue first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
	PriorityEmergency
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	case PriorityEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// RequestTypeKey is the payload key carrying the handler dispatch tag.
const RequestTypeKey = "request_type"

// Message is the envelope routed by the bus.
type Message struct {
	// ID uniquely identifies this envelope.
	ID string

	// SenderID is the originating agent.
	SenderID string

	// RecipientID is the target agent, or a topic pattern such as
	// "plugin.*". Empty only for broadcast notifications.
	RecipientID string

	// Type classifies the message.
	Type Type

	// Priority controls dequeue order. Defaults to PriorityNormal.
	Priority Priority

	// Payload is an opaque mapping whose schema is owned by the
	// sender/handler pair, never by the bus.
	Payload map[string]any

	// CreatedAt is when the envelope was constructed.
	CreatedAt time.Time

	// CorrelationID links a reply to its request, or a forwarded request
	// to a delegation record.
	CorrelationID string
}

// Option configures a message at construction.
type Option func(*Message)

// WithPriority sets the message priority.
func WithPriority(p Priority) Option {
	return func(m *Message) {
		m.Priority = p
	}
}

// WithCorrelationID sets the correlation ID.
func WithCorrelationID(id string) Option {
	return func(m *Message) {
		m.CorrelationID = id
	}
}

// New constructs a message. The payload is shallow-copied so later mutation
// by the caller does not affect the envelope.
func New(sender, recipient string, typ Type, payload map[string]any, opts ...Option) Message {
	m := Message{
		ID:          uuid.NewString(),
		SenderID:    sender,
		RecipientID: recipient,
		Type:        typ,
		Priority:    PriorityNormal,
		Payload:     copyPayload(payload),
		CreatedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// NewRequest constructs a REQUEST carrying the given request type tag.
func NewRequest(sender, recipient, requestType string, payload map[string]any, opts ...Option) Message {
	p := copyPayload(payload)
	if p == nil {
		p = make(map[string]any, 1)
	}
	p[RequestTypeKey] = requestType
	m := New(sender, recipient, TypeRequest, nil, opts...)
	m.Payload = p
	return m
}

// Response constructs the RESPONSE answering orig. The correlation ID is
// copied from the request and the reply routes back to the request's sender.
func Response(orig Message, sender string, payload map[string]any) Message {
	return New(sender, orig.SenderID, TypeResponse, payload,
		WithCorrelationID(orig.CorrelationID),
		WithPriority(orig.Priority))
}

// ErrorResponse constructs the ERROR reply for orig carrying a diagnostic
// payload. Routing mirrors Response.
func ErrorResponse(orig Message, sender, reason string, diag map[string]any) Message {
	payload := copyPayload(diag)
	if payload == nil {
		payload = make(map[string]any, 1)
	}
	payload["error"] = reason
	m := New(sender, orig.SenderID, TypeError, nil,
		WithCorrelationID(orig.CorrelationID),
		WithPriority(orig.Priority))
	m.Payload = payload
	return m
}

// RequestType returns the handler dispatch tag from the payload, or ""
// if absent.
func (m Message) RequestType() string {
	if m.Payload == nil {
		return ""
	}
	if rt, ok := m.Payload[RequestTypeKey].(string); ok {
		return rt
	}
	return ""
}

// ErrorReason returns the "error" payload field of an ERROR message.
func (m Message) ErrorReason() string {
	if m.Payload == nil {
		return ""
	}
	if reason, ok := m.Payload["error"].(string); ok {
		return reason
	}
	return ""
}

// Validate enforces the envelope requirements: identity fields always
// present, a recipient unless broadcasting a notification, and a
// correlation ID on replies.
func (m Message) Validate() error {
	if !m.Type.Valid() {
		return ErrUnknownType
	}
	if m.SenderID == "" {
		return ErrMissingSender
	}
	if m.RecipientID == "" && m.Type != TypeNotification && m.Type != TypeHeartbeat {
		return ErrMissingRecipient
	}
	if m.Type.IsReply() && m.CorrelationID == "" {
		return ErrMissingCorrelation
	}
	return nil
}

// copyPayload shallow-copies a payload map.
func copyPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	c := make(map[string]any, len(payload))
	for k, v := range payload {
		c[k] = v
	}
	return c
}
