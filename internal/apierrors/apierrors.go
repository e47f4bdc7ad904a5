// Package apierrors defines the stable error taxonomy shared by every
// layer of the control plane: business logic returns a *Error or nil,
// and only the outermost HTTP handler boundary translates an Error into
// a status code and JSON envelope. This keeps pure components (stats,
// stoprules, runstate) free of HTTP concerns, separating logic that
// returns plain errors from the boundary that translates into HTTP.
package apierrors

import (
	"errors"
	"fmt"
)

// Code is one of the stable error kinds in the error taxonomy.
type Code string

const (
	CodeInvalidRequest      Code = "invalid_request"
	CodeNotFound            Code = "not_found"
	CodeForbidden           Code = "forbidden"
	CodeInvalidStatus       Code = "invalid_status"
	CodeGuardrailCheckFailed Code = "guardrail_check_failed"
	CodeConflict            Code = "conflict"
	CodeTransportError      Code = "transport_error"
	CodeInternalError       Code = "internal_error"
)

// HTTPStatus maps a Code to its prescribed HTTP status code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidRequest, CodeInvalidStatus, CodeGuardrailCheckFailed:
		return 400
	case CodeNotFound:
		return 404
	case CodeForbidden:
		return 403
	case CodeConflict:
		return 409
	case CodeTransportError:
		return 502
	default:
		return 500
	}
}

// Error is the typed error every business-logic layer returns.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithDetails returns a copy of e with the given details attached.
func (e *Error) WithDetails(details map[string]any) *Error {
	n := *e
	n.Details = details
	return &n
}

func newErr(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvalidRequest builds a 400 invalid_request error.
func InvalidRequest(format string, args ...any) *Error {
	return newErr(CodeInvalidRequest, format, args...)
}

// NotFound builds a 404 not_found error. Used for both genuinely missing
// entities and cross-tenant access, so existence is never leaked.
func NotFound(format string, args ...any) *Error {
	return newErr(CodeNotFound, format, args...)
}

// Forbidden builds a 403 forbidden error.
func Forbidden(format string, args ...any) *Error {
	return newErr(CodeForbidden, format, args...)
}

// InvalidStatus builds a 400 invalid_status error carrying the current and
// valid-next statuses.
func InvalidStatus(current string, validNext []string, format string, args ...any) *Error {
	e := newErr(CodeInvalidStatus, format, args...)
	e.Details = map[string]any{"currentStatus": current, "validNextStatuses": validNext}
	return e
}

// GuardrailCheckFailed builds a 400 guardrail_check_failed error carrying
// the list of failed checks.
func GuardrailCheckFailed(checks []string) *Error {
	e := newErr(CodeGuardrailCheckFailed, "launch guardrail checks failed")
	e.Details = map[string]any{"checks": checks}
	return e
}

// Conflict builds a 409 conflict error (CAS or uniqueness violation).
func Conflict(format string, args ...any) *Error {
	return newErr(CodeConflict, format, args...)
}

// Transport wraps an adapter/transport failure as a 502 transport_error.
func Transport(cause error, format string, args ...any) *Error {
	e := newErr(CodeTransportError, format, args...)
	e.cause = cause
	return e
}

// Internal wraps an unexpected error as a 500 internal_error. requestID is
// attached so the user-visible message can point at it without leaking
// internals.
func Internal(requestID string, cause error) *Error {
	e := newErr(CodeInternalError, "something went wrong")
	e.cause = cause
	e.Details = map[string]any{"requestId": requestID}
	return e
}

// As reports whether err is an *Error, unwrapping std-errors-style.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
