package pluggable

import (
	"errors"
	"fmt"
)

// Registration errors. Match with errors.Is.
var (
	ErrUnknownCategory     = errors.New("unknown category")
	ErrIncompatibleHandler = errors.New("incompatible handler")
	ErrNotFound            = errors.New("handler not found")
)

// Suppression signals a handler may return to narrow or widen dispatch scope.
var (
	// ErrSkipHandler ends the current handler only.
	ErrSkipHandler = errors.New("skip handler")
	// ErrAbortCategory stops the remaining handlers of the category; the event continues.
	ErrAbortCategory = errors.New("abort category")
	// ErrAbortEvent stops the category and every later dispatch for the same event.
	ErrAbortEvent = errors.New("abort event")
)

// Error is a categorized registry failure.
type Error struct {
	Kind   error
	Detail string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return e.Kind.Error()
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// IsSuppression reports whether err carries one of the suppression signals.
func IsSuppression(err error) bool {
	return errors.Is(err, ErrSkipHandler) || errors.Is(err, ErrAbortCategory) || errors.Is(err, ErrAbortEvent)
}
