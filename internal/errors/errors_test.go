package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCodeThroughChain(t *testing.T) {
	cause := stdErrors.New("rpc down")
	err := fmt.Errorf("outer: %w", Wrap(CodeChainFailure, cause, "查询余额失败"))

	if got := CodeOf(err); got != CodeChainFailure {
		t.Fatalf("unexpected code %s", got)
	}
	if !RetryableError(err) {
		t.Fatalf("chain failures should be retryable")
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("cause should be reachable via errors.Is")
	}
	if !stdErrors.Is(err, New(CodeChainFailure, "")) {
		t.Fatalf("errors with the same code should match")
	}
}

func TestUserMessageFallbacks(t *testing.T) {
	if msg := UserMessageOf(New(CodeInsufficientFunds, "")); msg != AttributesOf(CodeInsufficientFunds).UserMessage {
		t.Fatalf("unexpected user message %q", msg)
	}
	custom := New(CodeNotOwner, "owner mismatch", WithUserMessage("自定义提示"))
	if custom.UserMessage() != "自定义提示" {
		t.Fatalf("override ignored: %q", custom.UserMessage())
	}
	if msg := UserMessageOf(stdErrors.New("plain")); msg != AttributesOf(CodeUnknown).UserMessage {
		t.Fatalf("plain errors should map to unknown: %q", msg)
	}
	if UserMessageOf(nil) != "" {
		t.Fatalf("nil error should have no message")
	}
}

func TestRegisterOverridesAttributes(t *testing.T) {
	const code Code = "TEST_ONLY"
	Register(code, Attributes{Message: "test", Severity: SeverityCritical, Retryable: true})
	err := New(code, "")
	if err.Message() != "test" || err.Severity() != SeverityCritical || !err.Retryable() {
		t.Fatalf("registered attributes not applied: %+v", err)
	}
	if New(code, "", WithRetryable(false)).Retryable() {
		t.Fatalf("option should override registry")
	}
}
