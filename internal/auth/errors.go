package auth

import (
	"fmt"
	"net/http"

	errors "github.com/Laisky/errors/v2"
)

// ErrorCode identifies why a request was rejected.
type ErrorCode string

const (
	ErrCodeMissingToken      ErrorCode = "MISSING_TOKEN"
	ErrCodeInvalidAuthHeader ErrorCode = "INVALID_AUTH_HEADER"
	ErrCodeTokenInvalid      ErrorCode = "TOKEN_INVALID"
	ErrCodeTokenExpired      ErrorCode = "TOKEN_EXPIRED"
	ErrCodeKeyNotFound       ErrorCode = "KEY_NOT_FOUND"
	ErrCodeForbidden         ErrorCode = "FORBIDDEN"
	ErrCodeDiscoveryFailed   ErrorCode = "DISCOVERY_FAILED"
	ErrCodeJwksFailed        ErrorCode = "JWKS_FAILED"
)

// Error is a typed authentication error. Message is for logs only; clients
// get the generic text from PublicMessage.
type Error struct {
	Code    ErrorCode
	Message string
	cause   error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e == nil {
		return "auth error: <nil>"
	}
	if e.Message == "" {
		return fmt.Sprintf("auth error: %s", e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// HTTPStatus maps the code to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeDiscoveryFailed, ErrCodeJwksFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

// PublicMessage is the message safe to return to clients.
func (e *Error) PublicMessage() string {
	switch e.HTTPStatus() {
	case http.StatusForbidden:
		return "Forbidden"
	case http.StatusInternalServerError:
		return "Authentication error"
	default:
		return "Unauthorized"
	}
}

// NewError constructs a typed auth error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func wrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// AsError extracts a typed auth error from the error chain.
func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

// IsCode reports whether the error chain contains the given code.
func IsCode(err error, code ErrorCode) bool {
	if typed, ok := AsError(err); ok {
		return typed.Code == code
	}
	return false
}
