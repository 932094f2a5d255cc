package stt

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds, matched with errors.Is.
var (
	ErrNotConfigured = errors.New("backend not configured")
	ErrUnavailable   = errors.New("backend temporarily unavailable")
	ErrRejected      = errors.New("backend rejected request")
	ErrTimeout       = errors.New("backend timed out")
)

// Error is a failed backend call.
type Error struct {
	Backend string
	Kind    error
	Err     error
}

// NewError wraps err with a backend name and kind sentinel.
func NewError(backend string, kind, err error) *Error {
	return &Error{Backend: backend, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Backend, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Backend, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns a short label for err, used in metrics.
func KindOf(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "unknown"
	}
}

// Classify wraps a raw error from a backend call into an *Error, mapping
// context deadlines to ErrTimeout. Existing *Error values pass through.
func Classify(backend string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(backend, ErrTimeout, err)
	}
	return NewError(backend, ErrUnavailable, err)
}
