// Package errors provides the typed error taxonomy for hostfleet.
// Every failure that crosses a package boundary is a *FleetError carrying a
// code, so callers can decide between per-instance failures and fatal ones.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique identifier for different error types
type ErrorCode string

const (
	// Execution boundary
	ErrExecutionFailure    ErrorCode = "EXECUTION_FAILURE"
	ErrMissingPrerequisite ErrorCode = "MISSING_PREREQUISITE"
	ErrParseFailure        ErrorCode = "PARSE_FAILURE"
	ErrSystemUnavailable   ErrorCode = "SYSTEM_UNAVAILABLE"

	// Instance lifecycle
	ErrPartialMaterialization ErrorCode = "PARTIAL_MATERIALIZATION"
	ErrDuplicateInstance      ErrorCode = "DUPLICATE_INSTANCE"
	ErrAlreadyInitialized     ErrorCode = "ALREADY_INITIALIZED"
	ErrHealthCheckFailed      ErrorCode = "HEALTH_CHECK_FAILED"
	ErrLocked                 ErrorCode = "LOCKED"

	// Configuration errors
	ErrConfigNotFound   ErrorCode = "CONFIG_NOT_FOUND"
	ErrConfigInvalid    ErrorCode = "CONFIG_INVALID"
	ErrConfigParse      ErrorCode = "CONFIG_PARSE"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Database errors
	ErrDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	ErrDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	ErrDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"

	// Validation errors
	ErrInvalidInput ErrorCode = "INVALID_INPUT"

	// File/IO errors
	ErrFileWrite        ErrorCode = "FILE_WRITE"
	ErrFileRead         ErrorCode = "FILE_READ"
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrPermissionDenied ErrorCode = "PERMISSION_DENIED"

	// Internal errors
	ErrInternal  ErrorCode = "INTERNAL_ERROR"
	ErrCancelled ErrorCode = "CANCELLED"
)

// FleetError represents a structured error with additional context
type FleetError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details string                 `json:"details,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *FleetError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *FleetError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *FleetError) WithContext(key string, value interface{}) *FleetError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// HTTPStatus returns the status code the read-only API uses for this error.
func (e *FleetError) HTTPStatus() int {
	switch e.Code {
	case ErrNotFound, ErrConfigNotFound:
		return http.StatusNotFound
	case ErrInvalidInput, ErrConfigValidation:
		return http.StatusBadRequest
	case ErrPermissionDenied:
		return http.StatusForbidden
	case ErrSystemUnavailable, ErrDatabaseConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new FleetError
func New(code ErrorCode, message string) *FleetError {
	return &FleetError{Code: code, Message: message}
}

// NewWithDetails creates a new FleetError with details
func NewWithDetails(code ErrorCode, message, details string) *FleetError {
	return &FleetError{Code: code, Message: message, Details: details}
}

// Wrap creates a new FleetError that wraps an existing error
func Wrap(code ErrorCode, message string, cause error) *FleetError {
	return &FleetError{Code: code, Message: message, Cause: cause}
}

// WrapWithDetails creates a new FleetError with details that wraps an existing error
func WrapWithDetails(code ErrorCode, message, details string, cause error) *FleetError {
	return &FleetError{Code: code, Message: message, Details: details, Cause: cause}
}

// As finds the first FleetError in the chain.
func As(err error) (*FleetError, bool) {
	var fe *FleetError
	if stderrors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// GetCode extracts the error code from the first FleetError in the chain.
func GetCode(err error) ErrorCode {
	if fe, ok := As(err); ok {
		return fe.Code
	}
	return ""
}

// HasCode checks if an error has a specific error code
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// IsFatal reports whether the error must abort a whole batch instead of
// being recorded against a single instance.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case ErrMissingPrerequisite, ErrParseFailure, ErrSystemUnavailable, ErrLocked,
		ErrConfigNotFound, ErrConfigInvalid,
		ErrConfigParse, ErrConfigValidation, ErrDatabaseConnection, ErrDatabaseMigration:
		return true
	default:
		return false
	}
}

// IsPrecondition reports whether the error means the requested operation
// could not be attempted at all.
func IsPrecondition(err error) bool {
	switch GetCode(err) {
	case ErrMissingPrerequisite, ErrInvalidInput, ErrConfigValidation:
		return true
	default:
		return false
	}
}
