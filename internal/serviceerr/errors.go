package serviceerr

import "net/http"

// Code is a machine readable error code. The RFC6749 codes are reused for
// failures reported by the identity provider.
type Code string

const (
	// RFC6749 Authorization errors
	CodeInvalidRequest Code = "invalid_request"
	CodeAccessDenied   Code = "access_denied"
	CodeServerError    Code = "server_error"

	// RFC6749 Token errors
	CodeInvalidGrant Code = "invalid_grant"

	// Custom codes
	CodeUnknown             Code = "unknown"
	CodeConflict            Code = "conflict"
	CodeNotFound            Code = "not_found"
	CodeUnsupported         Code = "unsupported"
	CodeFingerprintMismatch Code = "fingerprint_mismatch"
	CodeStateExpired        Code = "state_expired"
	CodeNonceMismatch       Code = "nonce_mismatch"
	CodeInvalidAtHashToken  Code = "invalid_at_hash"
	CodeUnknownLoginFlow    Code = "unknown_login_flow"
	CodeUnauthorized        Code = "unauthorized"
)

type Error struct {
	Err         Code
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

// Is matches any error of the same code, so errors with a specific
// description still match the code's sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == e.Err
}

// HTTPStatus returns the status code the hook API answers with for the error.
func (e *Error) HTTPStatus() int {
	switch e.Err {
	case CodeInvalidRequest, CodeInvalidGrant, CodeStateExpired, CodeNonceMismatch:
		return http.StatusBadRequest
	case CodeAccessDenied, CodeFingerprintMismatch:
		return http.StatusForbidden
	case CodeInvalidAtHashToken, CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnsupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrInvalidRequest = &Error{Err: CodeInvalidRequest}
	ErrAccessDenied   = &Error{Err: CodeAccessDenied}
	ErrServerError    = &Error{Err: CodeServerError}
	ErrInvalidGrant   = &Error{Err: CodeInvalidGrant}

	ErrUnknown             = &Error{Err: CodeUnknown, Description: "unknown error"}
	ErrConflict            = &Error{Err: CodeConflict, Description: "already exists"}
	ErrNotFound            = &Error{Err: CodeNotFound, Description: "not found"}
	ErrUnsupported         = &Error{Err: CodeUnsupported, Description: "operation not supported by the login flow"}
	ErrFingerprintMismatch = &Error{Err: CodeFingerprintMismatch, Description: "fingerprint mismatch"}
	ErrStateExpired        = &Error{Err: CodeStateExpired, Description: "state expired"}
	ErrNonceMismatch       = &Error{Err: CodeNonceMismatch, Description: "nonce mismatch"}
	ErrInvalidAtHash       = &Error{Err: CodeInvalidAtHashToken, Description: "access token does not match at_hash"}
	ErrUnknownLoginFlow    = &Error{Err: CodeUnknownLoginFlow, Description: "unknown login flow"}
	ErrUnauthorized        = &Error{Err: CodeUnauthorized, Description: "missing or invalid hook credential"}
)
