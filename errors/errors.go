package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// Error is a structured runtime error.
type Error struct {
	code          Code
	category      Category
	message       string
	cause         error
	metadata      map[string]string
	retryable     *bool // nil means use default based on category
	timestamp     time.Time
	agentID       string // source agent, if applicable
	correlationID string // related request, if applicable
}

// Ensure Error implements error and json.Marshaler/Unmarshaler.
var (
	_ error            = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() Code {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() Category {
	return e.category
}

// Retryable returns whether this error is retryable.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// AgentID returns the source agent ID, if set.
func (e *Error) AgentID() string {
	return e.agentID
}

// CorrelationID returns the related request's correlation ID, if set.
func (e *Error) CorrelationID() string {
	return e.correlationID
}

// Diagnostic returns the error as an ERROR-envelope diagnostic payload.
func (e *Error) Diagnostic() map[string]any {
	diag := map[string]any{
		"code":     string(e.code),
		"category": string(e.category),
		"message":  e.message,
	}
	if e.agentID != "" {
		diag["agent_id"] = e.agentID
	}
	if e.correlationID != "" {
		diag["correlation_id"] = e.correlationID
	}
	if len(e.metadata) > 0 {
		diag["metadata"] = e.Metadata()
	}
	return diag
}

// errorJSON is the JSON representation of an Error.
type errorJSON struct {
	Code          Code              `json:"code"`
	Category      Category          `json:"category"`
	Message       string            `json:"message"`
	Cause         string            `json:"cause,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Retryable     bool              `json:"retryable"`
	Timestamp     string            `json:"timestamp,omitempty"`
	AgentID       string            `json:"agent_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:          e.code,
		Category:      e.category,
		Message:       e.message,
		Metadata:      e.metadata,
		Retryable:     e.Retryable(),
		AgentID:       e.agentID,
		CorrelationID: e.correlationID,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.category = j.Category
	e.message = j.Message
	e.metadata = j.Metadata
	e.agentID = j.AgentID
	e.correlationID = j.CorrelationID
	r := j.Retryable
	e.retryable = &r
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat Category) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithAgentID sets the source agent ID.
func WithAgentID(id string) Option {
	return func(e *Error) {
		e.agentID = id
	}
}

// WithCorrelationID sets the related correlation ID.
func WithCorrelationID(id string) Option {
	return func(e *Error) {
		e.correlationID = id
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code Code, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code Code, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// UnknownRecipient creates an unknown recipient error.
func UnknownRecipient(recipientID string, opts ...Option) *Error {
	opts = append([]Option{WithMetadata("recipient_id", recipientID)}, opts...)
	return New(CodeUnknownRecipient, fmt.Sprintf("recipient %s is not registered", recipientID), opts...)
}

// Timeout creates a request timeout error.
func Timeout(message string, opts ...Option) *Error {
	return New(CodeRequestTimeout, message, opts...)
}

// Orphaned creates an orphaned response error.
func Orphaned(correlationID string, opts ...Option) *Error {
	opts = append([]Option{WithCorrelationID(correlationID)}, opts...)
	return New(CodeOrphanedResponse, fmt.Sprintf("no pending request for correlation %s", correlationID), opts...)
}

// HandlerFailure creates a handler failure error.
func HandlerFailure(message string, opts ...Option) *Error {
	return New(CodeHandlerFailure, message, opts...)
}

// UnknownRequestType creates an unknown request type error.
func UnknownRequestType(requestType string, opts ...Option) *Error {
	opts = append([]Option{WithMetadata("request_type", requestType)}, opts...)
	return New(CodeUnknownRequestType, fmt.Sprintf("no handler for request type %q", requestType), opts...)
}

// NoSpecialist creates a no-specialist error.
func NoSpecialist(requestType string, opts ...Option) *Error {
	opts = append([]Option{WithMetadata("request_type", requestType)}, opts...)
	return New(CodeNoSpecialist, fmt.Sprintf("no specialist for request type %q", requestType), opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(CodeInternal, message, opts...)
}
