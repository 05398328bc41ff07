package storage

import (
	"fmt"

	errors "github.com/Laisky/errors/v2"
)

// ErrorCode identifies a machine-stable storage error code.
type ErrorCode string

const (
	ErrCodeInvalidPackageName ErrorCode = "INVALID_PACKAGE_NAME"
	ErrCodeInvalidPath        ErrorCode = "INVALID_PATH"
	ErrCodeExists             ErrorCode = "EXISTS"
)

// Error is a typed storage error.
type Error struct {
	Code    ErrorCode
	Message string
}

// Error returns the error message.
func (e *Error) Error() string {
	if e == nil {
		return "storage error: <nil>"
	}
	if e.Message == "" {
		return fmt.Sprintf("storage error: %s", e.Code)
	}
	return e.Message
}

// NewError constructs a typed storage error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// IsCode reports whether the error chain contains the given code.
func IsCode(err error, code ErrorCode) bool {
	var typed *Error
	if err != nil && errors.As(err, &typed) {
		return typed.Code == code
	}
	return false
}
