package gateway

import (
	"encoding/json"

	goapkg "goa.design/goa/v3/pkg"
)

// Error codes carried in every RPC failure envelope, per spec.md §4.10.
const (
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeAuthFailed      = "AUTH_FAILED"
	CodeInvalidMessage  = "INVALID_MESSAGE"
	CodeInvalidParams   = "INVALID_PARAMS"
	CodeUnknownMethod   = "UNKNOWN_METHOD"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeInternal        = "INTERNAL"
)

// Error is the gateway's RPC error envelope, wire-shaped exactly as
// {code, message, details?}. It carries a goa ServiceError alongside (not
// embedded, to keep control of Error's own JSON shape) so the same
// temporary/fault classification goa-generated services use at their
// transport boundary is available to callers that want it.
type Error struct {
	svc *goapkg.ServiceError

	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// MarshalJSON fixes the wire shape to {code, message, details?} regardless
// of how many fields the goa ServiceError held in svc carries.
func (e *Error) MarshalJSON() ([]byte, error) {
	type wire Error
	return json.Marshal(wire(*e))
}

// Temporary reports whether the underlying goa ServiceError is safe to
// retry.
func (e *Error) Temporary() bool { return e.svc != nil && e.svc.Temporary }

// Fault reports whether the underlying goa ServiceError indicates a
// server-side bug rather than bad input.
func (e *Error) Fault() bool { return e.svc != nil && e.svc.Fault }

// newError builds a gateway Error for code/message. temporary/fault follow
// goa's convention: temporary errors are safe to retry, fault errors
// indicate a server-side bug rather than bad input.
func newError(code, message string, temporary, fault bool, details any) *Error {
	return &Error{
		svc:     goapkg.NewServiceError(code, message, false, temporary, fault),
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errUnauthorized(message string) *Error {
	return newError(CodeUnauthorized, message, false, false, nil)
}

func errAuthFailed(message string) *Error {
	return newError(CodeAuthFailed, message, false, false, nil)
}

func errInvalidMessage(message string) *Error {
	return newError(CodeInvalidMessage, message, false, false, nil)
}

func errInvalidParams(message string, details any) *Error {
	return newError(CodeInvalidParams, message, false, false, details)
}

func errUnknownMethod(method string) *Error {
	return newError(CodeUnknownMethod, "unknown method: "+method, false, false, nil)
}

func errSessionNotFound(sessionID string) *Error {
	return newError(CodeSessionNotFound, "session not found: "+sessionID, false, false, nil)
}

func errInternal(message string) *Error {
	return newError(CodeInternal, message, true, true, nil)
}
