package apperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Transition("accept", "accepted", "accept"))
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if errors.Is(err, ErrAuthorization) {
		t.Fatal("transition error must not match authorization")
	}
	if KindOf(err) != KindInvalidTransition {
		t.Fatalf("kind = %v", KindOf(err))
	}
}

func TestTransitionMessageNamesStates(t *testing.T) {
	msg := Transition("cancel", "completed", "cancel").Error()
	if !strings.Contains(msg, "completed") || !strings.Contains(msg, "cancel") {
		t.Fatalf("message %q lacks states", msg)
	}
}

func TestStorageUnwraps(t *testing.T) {
	cause := errors.New("conn reset")
	err := Storage("save ride", cause)
	if !errors.Is(err, cause) {
		t.Fatal("storage error should unwrap to cause")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatal("plain error has no kind")
	}
}
