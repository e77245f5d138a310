package tool

import (
	"errors"
	"fmt"
)

// Error is a structured tool failure that preserves a causal chain while
// still implementing the standard error interface. When a tool wraps another
// tool's failure (agent-as-tool composition), the chain is preserved through
// Cause rather than flattened to a single string, so callers can still
// errors.Is/As through it.
type Error struct {
	Message string
	Cause   *Error
}

// NewError constructs an Error with the given message and no cause.
func NewError(message string) *Error {
	if message == "" {
		message = "tool error"
	}
	return &Error{Message: message}
}

// NewErrorWithCause constructs an Error wrapping an underlying error. The
// cause is converted into an Error chain via FromError so it survives
// serialization into a tool_result block. An *Error cause is kept as is, so
// errors.Is/As reach it through Unwrap; any other cause is replaced by
// *Error values carrying its messages, so errors.Is against the original
// cause value does not match.
func NewErrorWithCause(message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Message: message, Cause: FromError(cause)}
}

// FromError converts an arbitrary error into an *Error chain, preserving the
// messages of any wrapped errors discoverable via errors.Unwrap.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Message: err.Error(), Cause: FromError(errors.Unwrap(err))}
}

// Errorf formats a message and returns it as an *Error.
func Errorf(format string, args ...any) *Error {
	return NewError(fmt.Sprintf(format, args...))
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
