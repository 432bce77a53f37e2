package ai

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsSafetyBlocked_TypedSentinel(t *testing.T) {
	if !IsSafetyBlocked(ErrSafetyBlocked) {
		t.Fatalf("sentinel not detected")
	}
	if !IsSafetyBlocked(SafetyBlockedError("harassment")) {
		t.Fatalf("wrapped sentinel not detected")
	}
	if !IsSafetyBlocked(fmt.Errorf("video reflection: %w", SafetyBlockedError(""))) {
		t.Fatalf("doubly wrapped sentinel not detected")
	}
}

func TestIsSafetyBlocked_MessageFallback(t *testing.T) {
	if !IsSafetyBlocked(errors.New("generation Stopped Due To Safety Policy by upstream")) {
		t.Fatalf("raw message not detected")
	}
	if IsSafetyBlocked(errors.New("connection reset by peer")) {
		t.Fatalf("unrelated error detected as safety block")
	}
	if IsSafetyBlocked(nil) {
		t.Fatalf("nil detected as safety block")
	}
}

func TestSafetyBlockedError_Reason(t *testing.T) {
	err := SafetyBlockedError("prohibited content")
	if !errors.Is(err, ErrSafetyBlocked) {
		t.Fatalf("reason-carrying error lost sentinel")
	}
	if err.Error() != "operation stopped due to safety policy: prohibited content" {
		t.Fatalf("got %q", err.Error())
	}
	if !errors.Is(SafetyBlockedError("  "), ErrSafetyBlocked) {
		t.Fatalf("blank reason lost sentinel")
	}
}
