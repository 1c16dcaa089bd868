package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the chain.
// If err is nil, Wrap returns nil. An existing *Error keeps its code,
// category, and context; other errors become internal errors, except
// context errors which map to CodeRequestTimeout and CodeCanceled.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var runtimeErr *Error
	if errors.As(err, &runtimeErr) {
		wrapped := &Error{
			code:          runtimeErr.code,
			category:      runtimeErr.category,
			message:       message,
			cause:         err,
			metadata:      runtimeErr.Metadata(),
			retryable:     runtimeErr.retryable,
			agentID:       runtimeErr.agentID,
			correlationID: runtimeErr.correlationID,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(CodeRequestTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(CodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(CodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...any) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code Code, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code Code) bool {
	var runtimeErr *Error
	if errors.As(err, &runtimeErr) {
		return runtimeErr.code == code
	}
	return false
}

// IsCategory checks if any error in the chain has the given category.
func IsCategory(err error, category Category) bool {
	var runtimeErr *Error
	if errors.As(err, &runtimeErr) {
		return runtimeErr.category == category
	}
	return false
}

// IsRetryable checks if the error is retryable.
func IsRetryable(err error) bool {
	var runtimeErr *Error
	if errors.As(err, &runtimeErr) {
		return runtimeErr.Retryable()
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if err is not an *Error.
func GetCode(err error) Code {
	var runtimeErr *Error
	if errors.As(err, &runtimeErr) {
		return runtimeErr.code
	}
	return ""
}

// FromDiagnostic reconstructs an Error from an ERROR-envelope diagnostic
// payload produced by (*Error).Diagnostic.
func FromDiagnostic(diag map[string]any) *Error {
	code := CodeInternal
	if c, ok := diag["code"].(string); ok && c != "" {
		code = Code(c)
	}
	message, _ := diag["message"].(string)
	if message == "" {
		message = code.Description()
	}
	e := New(code, message)
	if agentID, ok := diag["agent_id"].(string); ok {
		e.agentID = agentID
	}
	if corrID, ok := diag["correlation_id"].(string); ok {
		e.correlationID = corrID
	}
	if cat, ok := diag["category"].(string); ok && cat != "" {
		e.category = Category(cat)
	}
	return e
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered any) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(CodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
