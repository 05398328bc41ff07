package apk

import (
	"fmt"

	errors "github.com/Laisky/errors/v2"
)

// ErrorCode identifies a machine-stable extraction error code.
type ErrorCode string

const (
	ErrCodeParse            ErrorCode = "PARSE_ERROR"
	ErrCodeAapt2Failed      ErrorCode = "AAPT2_FAILED"
	ErrCodeAapt2NotFound    ErrorCode = "AAPT2_NOT_FOUND"
	ErrCodeAabNotSupported  ErrorCode = "AAB_NOT_SUPPORTED"
	ErrCodeInvalidAab       ErrorCode = "INVALID_AAB"
	ErrCodeConversionFailed ErrorCode = "CONVERSION_FAILED"
)

// Error is a typed extraction error. Message is safe to log but callers
// should not forward it to HTTP clients for tool failures.
type Error struct {
	Code    ErrorCode
	Message string
}

// Error returns the error message.
func (e *Error) Error() string {
	if e == nil {
		return "apk error: <nil>"
	}
	if e.Message == "" {
		return fmt.Sprintf("apk error: %s", e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError constructs a typed extraction error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// AsError extracts a typed extraction error from the error chain.
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
