package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(CodeUnknownRecipient, "no such agent")

	if err.Code() != CodeUnknownRecipient {
		t.Errorf("code = %v, want %v", err.Code(), CodeUnknownRecipient)
	}
	if err.Category() != CategoryPermanent {
		t.Errorf("category = %v, want %v", err.Category(), CategoryPermanent)
	}
	if err.Error() != "no such agent" {
		t.Errorf("message = %q, want %q", err.Error(), "no such agent")
	}
	if err.Timestamp().IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestDefaultCategories(t *testing.T) {
	tests := []struct {
		code Code
		want Category
	}{
		{CodeRequestTimeout, CategoryTransient},
		{CodeMailboxFull, CategoryTransient},
		{CodeCanceled, CategoryTransient},
		{CodeUnknownRecipient, CategoryPermanent},
		{CodeHandlerFailure, CategoryPermanent},
		{CodeOrphanedResponse, CategoryPermanent},
		{CodeNoSpecialist, CategoryPermanent},
		{CodePanic, CategoryInternal},
		{CodeInternal, CategoryInternal},
		{Code("BOGUS"), CategoryInternal},
	}

	for _, tt := range tests {
		if got := tt.code.DefaultCategory(); got != tt.want {
			t.Errorf("%s: category = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !Timeout("slow").Retryable() {
		t.Error("timeout should default to retryable")
	}
	if UnknownRecipient("x").Retryable() {
		t.Error("unknown recipient should not be retryable")
	}
	if !New(CodeUnknownRecipient, "forced", WithRetryable(true)).Retryable() {
		t.Error("WithRetryable(true) should override the default")
	}
}

func TestOptions(t *testing.T) {
	err := HandlerFailure("boom",
		WithAgentID("worker-1"),
		WithCorrelationID("c-1"),
		WithMetadata("request_type", "score"))

	if err.AgentID() != "worker-1" {
		t.Errorf("agent ID = %q, want worker-1", err.AgentID())
	}
	if err.CorrelationID() != "c-1" {
		t.Errorf("correlation ID = %q, want c-1", err.CorrelationID())
	}
	if err.Metadata()["request_type"] != "score" {
		t.Errorf("metadata = %v, want request_type=score", err.Metadata())
	}
}

func TestWrapPreservesCode(t *testing.T) {
	inner := UnknownRecipient("worker-9", WithCorrelationID("c-9"))
	wrapped := Wrap(inner, "publish failed")

	if wrapped.Code() != CodeUnknownRecipient {
		t.Errorf("code = %v, want %v", wrapped.Code(), CodeUnknownRecipient)
	}
	if wrapped.CorrelationID() != "c-9" {
		t.Errorf("correlation = %q, want c-9", wrapped.CorrelationID())
	}
	if !stderrors.Is(wrapped, inner) {
		t.Error("wrapped error should match inner via errors.Is")
	}
}

func TestWrapContextErrors(t *testing.T) {
	if got := Wrap(context.DeadlineExceeded, "waiting").Code(); got != CodeRequestTimeout {
		t.Errorf("deadline code = %v, want %v", got, CodeRequestTimeout)
	}
	if got := Wrap(context.Canceled, "waiting").Code(); got != CodeCanceled {
		t.Errorf("canceled code = %v, want %v", got, CodeCanceled)
	}
	if got := Wrap(fmt.Errorf("plain"), "op").Code(); got != CodeInternal {
		t.Errorf("plain code = %v, want %v", got, CodeInternal)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "nothing") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if WrapWithCode(nil, CodeInternal, "nothing") != nil {
		t.Error("WrapWithCode(nil) should return nil")
	}
}

func TestIsAndGetCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", Timeout("slow"))

	if !Is(err, CodeRequestTimeout) {
		t.Error("Is should find the code through the chain")
	}
	if Is(err, CodeUnknownRecipient) {
		t.Error("Is should not match a different code")
	}
	if GetCode(err) != CodeRequestTimeout {
		t.Errorf("GetCode = %v, want %v", GetCode(err), CodeRequestTimeout)
	}
	if GetCode(fmt.Errorf("plain")) != "" {
		t.Error("GetCode on a plain error should be empty")
	}
}

func TestDiagnosticRoundTrip(t *testing.T) {
	orig := HandlerFailure("division by zero",
		WithAgentID("calc-1"),
		WithCorrelationID("c-42"),
		WithMetadata("op", "divide"))

	diag := orig.Diagnostic()
	back := FromDiagnostic(diag)

	if back.Code() != CodeHandlerFailure {
		t.Errorf("code = %v, want %v", back.Code(), CodeHandlerFailure)
	}
	if back.Error() != "division by zero" {
		t.Errorf("message = %q, want %q", back.Error(), "division by zero")
	}
	if back.AgentID() != "calc-1" {
		t.Errorf("agent ID = %q, want calc-1", back.AgentID())
	}
	if back.CorrelationID() != "c-42" {
		t.Errorf("correlation = %q, want c-42", back.CorrelationID())
	}
}

func TestJSONRoundTrip(t *testing.T) {
	orig := Timeout("no reply", WithAgentID("bus"), WithMetadata("recipient", "w1"))

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var back Error
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	if back.Code() != CodeRequestTimeout {
		t.Errorf("code = %v, want %v", back.Code(), CodeRequestTimeout)
	}
	if back.AgentID() != "bus" {
		t.Errorf("agent ID = %q, want bus", back.AgentID())
	}
	if !back.Retryable() {
		t.Error("retryable flag should survive the round trip")
	}
}

func TestRecoverPanic(t *testing.T) {
	tests := []struct {
		name      string
		recovered any
		want      string
	}{
		{"error value", fmt.Errorf("bad state"), "bad state"},
		{"string value", "oops", "oops"},
		{"other value", 42, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RecoverPanic(tt.recovered)
			if err.Code() != CodePanic {
				t.Errorf("code = %v, want %v", err.Code(), CodePanic)
			}
			if err.Error() != tt.want {
				t.Errorf("message = %q, want %q", err.Error(), tt.want)
			}
		})
	}

	if RecoverPanic(nil) != nil {
		t.Error("RecoverPanic(nil) should return nil")
	}
}
