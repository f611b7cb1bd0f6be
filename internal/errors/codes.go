package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific error type for capture and recall operations.
type ErrorCode string

const (
	// ErrCodeConfig indicates a required credential or endpoint is missing.
	ErrCodeConfig ErrorCode = "CONFIG_ERROR"
	// ErrCodeModel indicates a vision/text/embedding provider call failed.
	ErrCodeModel ErrorCode = "MODEL_ERROR"
	// ErrCodeEmptyInput indicates blank text was passed where content is required.
	ErrCodeEmptyInput ErrorCode = "EMPTY_INPUT"
	// ErrCodeStorage indicates a database insert/update/select failure.
	ErrCodeStorage ErrorCode = "STORAGE_ERROR"
	// ErrCodeNoData indicates an aggregation window contained no source logs.
	// This is a normal outcome, not a failure.
	ErrCodeNoData ErrorCode = "NO_DATA"
	// ErrCodeSearch indicates the fallback text search itself failed.
	ErrCodeSearch ErrorCode = "SEARCH_ERROR"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
)

// Error is a structured error carrying one of the codes above.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Convenience constructors for common error types.

// Config creates a missing-configuration error.
func Config(msg string) *Error {
	return &Error{Code: ErrCodeConfig, Message: msg}
}

// Model creates a model provider failure error.
func Model(msg string, cause error) *Error {
	return &Error{Code: ErrCodeModel, Message: msg, Cause: cause}
}

// EmptyInput creates an empty input error.
func EmptyInput(msg string) *Error {
	return &Error{Code: ErrCodeEmptyInput, Message: msg}
}

// Storage creates a storage failure error.
func Storage(msg string, cause error) *Error {
	return &Error{Code: ErrCodeStorage, Message: msg, Cause: cause}
}

// NoData creates a nothing-to-summarize error.
func NoData(msg string) *Error {
	return &Error{Code: ErrCodeNoData, Message: msg}
}

// Search creates a text search failure error.
func Search(msg string, cause error) *Error {
	return &Error{Code: ErrCodeSearch, Message: msg, Cause: cause}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *Error {
	return &Error{Code: ErrCodeInvalidArgument, Message: msg}
}

// IsCode checks if an error carries a specific code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the error code from any error.
// Returns the provided default code if the error is not an *Error.
func CodeOf(err error, defaultCode ErrorCode) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return defaultCode
}
