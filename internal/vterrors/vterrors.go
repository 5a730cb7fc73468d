// Package vterrors defines the machine-readable error kinds surfaced by the
// session and terminal engine, so callers across process boundaries can
// branch on Kind without parsing message text.
package vterrors

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a core engine error.
type Kind string

const (
	KindNotFound      Kind = "NotFound"
	KindAlreadyExited Kind = "AlreadyExited"
	KindResizeDisabled Kind = "ResizeDisabled"
	KindUnknownKey    Kind = "UnknownKey"
	KindSpawnFailed   Kind = "SpawnFailed"
	KindStreamCorrupt Kind = "StreamCorrupt"
	KindIOError       Kind = "IOError"
)

// Error wraps a Kind, a human message, and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with no wrapped cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error carrying cause as its wrapped error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
