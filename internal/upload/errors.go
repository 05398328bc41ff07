package upload

import (
	"fmt"

	errors "github.com/Laisky/errors/v2"
)

// ErrorCode identifies a machine-stable upload error code.
type ErrorCode string

const (
	ErrCodeFileTooLarge       ErrorCode = "FILE_TOO_LARGE"
	ErrCodeInvalidFileType    ErrorCode = "INVALID_FILE_TYPE"
	ErrCodeInvalidPackageName ErrorCode = "INVALID_PACKAGE_NAME"
	ErrCodeAabNotSupported    ErrorCode = "AAB_NOT_SUPPORTED"
	ErrCodeInvalidAab         ErrorCode = "INVALID_AAB"
	ErrCodeConversionFailed   ErrorCode = "CONVERSION_FAILED"
	ErrCodeVersionExists      ErrorCode = "VERSION_EXISTS"
	ErrCodeParse              ErrorCode = "PARSE_ERROR"
	ErrCodeAapt2Failed        ErrorCode = "AAPT2_FAILED"
	ErrCodeAapt2NotFound      ErrorCode = "AAPT2_NOT_FOUND"
	ErrCodeInternal           ErrorCode = "INTERNAL"
)

// Error is a typed upload error. Message is meant for clients; the wrapped
// cause, if any, is only for logs.
type Error struct {
	Code    ErrorCode
	Message string
	cause   error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e == nil {
		return "upload error: <nil>"
	}
	if e.Message == "" {
		return fmt.Sprintf("upload error: %s", e.Code)
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

// NewError constructs a typed upload error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func wrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// AsError extracts a typed upload error from the error chain.
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
