// Package apperrors defines the engine's error taxonomy.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned in the response envelope. HTTP status is derived per code.
const (
	CodeOK               = 0
	CodeValidation       = 1001
	CodeNotFound         = 1002
	CodeConflict         = 1003
	CodeInheritanceCycle = 1004
	CodeInvalidSchema    = 1005
	CodeInternal         = 9000
)

// AppError carries an engine error code alongside a human-readable message.
type AppError struct {
	Code    int
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

// HTTPStatus maps the error code to an HTTP status. Every code outside
// NOT_FOUND and CONFLICT surfaces as 400, INTERNAL (9000) included; only
// errors without an engine code become 500.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// New creates an AppError with the given code and message.
func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Newf creates an AppError with a formatted message.
func Newf(code int, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a VALIDATION (1001) error.
func Validation(message string) *AppError {
	return New(CodeValidation, message)
}

// NotFound creates a NOT_FOUND (1002) error.
func NotFound(message string) *AppError {
	return New(CodeNotFound, message)
}

// Conflict creates a CONFLICT (1003) error.
func Conflict(message string) *AppError {
	return New(CodeConflict, message)
}

// Internal creates an INTERNAL (9000) error.
func Internal(message string) *AppError {
	return New(CodeInternal, message)
}

// Internalf creates an INTERNAL (9000) error with a formatted message.
func Internalf(format string, args ...any) *AppError {
	return Newf(CodeInternal, format, args...)
}

// As unwraps err into an *AppError if possible.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the engine code for err, defaulting to INTERNAL for
// unrecognized errors.
func CodeOf(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeInternal
}
