package vterrors

import (
	"errors"
	"testing"
)

func TestIsAndKindOf(t *testing.T) {
	err := New(KindNotFound, "session %s not found", "abc123")
	if !Is(err, KindNotFound) {
		t.Fatal("expected Is(err, KindNotFound) to be true")
	}
	if Is(err, KindIOError) {
		t.Fatal("expected Is(err, KindIOError) to be false")
	}
	if KindOf(err) != KindNotFound {
		t.Fatalf("KindOf = %q, want %q", KindOf(err), KindNotFound)
	}
}

func TestKindOfNonVTError(t *testing.T) {
	if KindOf(errors.New("plain")) != "" {
		t.Error("expected empty Kind for a non-vterrors error")
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("permission denied")
	err := Wrap(KindSpawnFailed, cause, "spawn %s", "/bin/bash")
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
	if KindOf(err) != KindSpawnFailed {
		t.Errorf("KindOf = %q, want %q", KindOf(err), KindSpawnFailed)
	}
}
