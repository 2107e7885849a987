// Package errors provides error code definitions shared by the Tourly core
// and bridged to the mobile client.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code that can be bridged to Dart.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrDuplicate  ErrorCode = "DUPLICATE"
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrConfig     ErrorCode = "CONFIG_INVALID"

	// Store errors (fatal at startup unless recovered)
	ErrStoreOpen    ErrorCode = "STORE_OPEN_FAILED"
	ErrStoreCorrupt ErrorCode = "STORE_CORRUPT"
	ErrDatabase     ErrorCode = "DATABASE_ERROR"
	ErrConstraint   ErrorCode = "CONSTRAINT_VIOLATION"

	// Migration errors
	ErrMigration      ErrorCode = "MIGRATION_FAILED"
	ErrMigrationDrift ErrorCode = "MIGRATION_DRIFT"

	// Itinerary policy rejections
	ErrItineraryPublic   ErrorCode = "ITINERARY_PUBLIC"
	ErrInvalidTimeWindow ErrorCode = "INVALID_TIME_WINDOW"
	ErrScheduleOverlap   ErrorCode = "SCHEDULE_OVERLAP"

	// Sync errors
	ErrSyncNotConfigured ErrorCode = "SYNC_NOT_CONFIGURED"
	ErrSyncFailed        ErrorCode = "SYNC_FAILED"
	ErrSyncUnknownKind   ErrorCode = "SYNC_UNKNOWN_KIND"
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
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any error in err's chain is an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first AppError in err's chain,
// or ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsPolicy reports whether err is a policy rejection. Policy rejections are
// returned to the caller and never queued for retry.
func IsPolicy(err error) bool {
	switch CodeOf(err) {
	case ErrItineraryPublic, ErrInvalidTimeWindow, ErrScheduleOverlap:
		return true
	}
	return false
}
