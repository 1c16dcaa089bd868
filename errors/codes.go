package errors

// Category classifies errors by how callers should react.
type Category string

const (
	// CategoryTransient indicates failures where a later attempt may
	// succeed. Examples: request timeouts, a paused agent.
	CategoryTransient Category = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: unknown recipient, unknown request type.
	CategoryPermanent Category = "permanent"

	// CategoryInternal indicates bugs or unexpected runtime failures.
	// Examples: recovered panics, invariant violations.
	CategoryInternal Category = "internal"
)

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c Category) IsRetryable() bool {
	return c == CategoryTransient
}

// Code identifies a specific failure type within the runtime.
type Code string

// Error codes for the coordination core.
const (
	// Routing failures
	CodeUnknownRecipient Code = "UNKNOWN_RECIPIENT" // publish to an unregistered agent
	CodeInvalidMessage   Code = "INVALID_MESSAGE"   // envelope failed validation
	CodeMailboxFull      Code = "MAILBOX_FULL"      // recipient mailbox at capacity
	CodeBusClosed        Code = "BUS_CLOSED"        // bus has shut down

	// Request/response failures
	CodeRequestTimeout   Code = "REQUEST_TIMEOUT"   // no correlated reply before deadline
	CodeOrphanedResponse Code = "ORPHANED_RESPONSE" // reply with no live pending entry
	CodeCanceled         Code = "CANCELED"          // local waiter detached via context

	// Actor failures
	CodeHandlerFailure     Code = "HANDLER_FAILURE"      // domain handler returned an error
	CodeUnknownRequestType Code = "UNKNOWN_REQUEST_TYPE" // no handler and no delegate route
	CodeAgentStopped       Code = "AGENT_STOPPED"        // operation on a stopped agent

	// Delegation failures
	CodeNoSpecialist Code = "NO_SPECIALIST" // no route or capable agent found

	// Internal failures
	CodeInternal Code = "INTERNAL" // unexpected internal error
	CodePanic    Code = "PANIC"    // recovered from panic in a handler
)

// String returns the string representation of the code.
func (c Code) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c Code) DefaultCategory() Category {
	switch c {
	case CodeRequestTimeout, CodeMailboxFull, CodeCanceled:
		return CategoryTransient
	case CodeUnknownRecipient, CodeInvalidMessage, CodeBusClosed,
		CodeOrphanedResponse, CodeHandlerFailure, CodeUnknownRequestType,
		CodeAgentStopped, CodeNoSpecialist:
		return CategoryPermanent
	case CodeInternal, CodePanic:
		return CategoryInternal
	default:
		return CategoryInternal
	}
}

// codeDescriptions provides human-readable descriptions for error codes.
var codeDescriptions = map[Code]string{
	CodeUnknownRecipient:   "recipient is not registered",
	CodeInvalidMessage:     "message failed validation",
	CodeMailboxFull:        "recipient mailbox is full",
	CodeBusClosed:          "bus is closed",
	CodeRequestTimeout:     "no reply before deadline",
	CodeOrphanedResponse:   "reply has no live pending request",
	CodeCanceled:           "request canceled by caller",
	CodeHandlerFailure:     "handler failed",
	CodeUnknownRequestType: "no handler for request type",
	CodeAgentStopped:       "agent is stopped",
	CodeNoSpecialist:       "no specialist available",
	CodeInternal:           "internal error",
	CodePanic:              "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c Code) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
