// Package errors provides error code definitions for the Hearthkeep sync core.
//
// The codes map the sync engine's failure taxonomy: connectivity errors are
// always retryable and never count against an operation's attempts;
// conflict errors are retryable up to the attempt threshold; validation,
// storage and schema errors are not fixable by retrying.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code surfaced to callers.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Connectivity errors: no response reached the server.
	ErrNetwork ErrorCode = "NETWORK_ERROR"
	ErrOffline ErrorCode = "OFFLINE"
	ErrTimeout ErrorCode = "TIMEOUT"

	// Storage errors: the durable queue/cache itself failed.
	ErrStorage ErrorCode = "STORAGE_ERROR"

	// Schema errors: a persisted record from an unrecognized newer version.
	ErrSchemaVersion ErrorCode = "SCHEMA_VERSION_UNKNOWN"

	// Queue errors
	ErrQueueFull ErrorCode = "QUEUE_FULL"

	// Sync errors
	ErrSyncConflict   ErrorCode = "SYNC_CONFLICT"
	ErrSyncInFlight   ErrorCode = "SYNC_IN_FLIGHT"
	ErrSyncFailed     ErrorCode = "SYNC_FAILED"
	ErrSyncBadPayload ErrorCode = "SYNC_BAD_PAYLOAD"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code, unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the error's code, or ErrInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsConnectivity reports whether err means no response reached the server.
// Connectivity failures are transient: they never increment an operation's
// attempt count.
func IsConnectivity(err error) bool {
	switch CodeOf(err) {
	case ErrNetwork, ErrOffline, ErrTimeout:
		return true
	}
	return false
}

// IsRetryable reports whether retrying could ever fix err.
func IsRetryable(err error) bool {
	if IsConnectivity(err) {
		return true
	}
	return Is(err, ErrSyncConflict)
}
