// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestErrorCodeValues verifies all error codes have non-empty, unique values.
func TestErrorCodeValues(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrNotFound, ErrDuplicate, ErrValidation, ErrConfig,
		ErrStoreOpen, ErrStoreCorrupt, ErrDatabase, ErrConstraint,
		ErrMigration, ErrMigrationDrift,
		ErrItineraryPublic, ErrInvalidTimeWindow, ErrScheduleOverlap,
		ErrSyncNotConfigured, ErrSyncFailed, ErrSyncUnknownKind,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		if code == "" {
			t.Error("ErrorCode should not be empty")
		}
		if seen[code] {
			t.Errorf("ErrorCode %q is duplicated", code)
		}
		seen[code] = true
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrDatabase, Message: "query failed", Err: errors.New("disk I/O error")},
			want:     "[DATABASE_ERROR] query failed: disk I/O error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestWrap_Unwrap verifies the underlying error stays reachable.
func TestWrap_Unwrap(t *testing.T) {
	cause := errors.New("file is not a database")
	err := Wrap(ErrStoreCorrupt, "open store", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if err.Unwrap() != cause {
		t.Error("Unwrap() should return the cause")
	}
}

// TestIs verifies code matching through fmt.Errorf wrapping.
func TestIs(t *testing.T) {
	base := New(ErrItineraryPublic, "itinerary is public")
	wrapped := fmt.Errorf("reorder: %w", base)

	if !Is(base, ErrItineraryPublic) {
		t.Error("Is() should match the direct error")
	}
	if !Is(wrapped, ErrItineraryPublic) {
		t.Error("Is() should match through wrapping")
	}
	if Is(wrapped, ErrNotFound) {
		t.Error("Is() should not match a different code")
	}
	if Is(errors.New("plain"), ErrInternal) {
		t.Error("Is() should not match a non-AppError")
	}
	if Is(nil, ErrInternal) {
		t.Error("Is(nil) should be false")
	}
}

// TestCodeOf verifies code extraction.
func TestCodeOf(t *testing.T) {
	if got := CodeOf(Newf(ErrScheduleOverlap, "overlaps %s", "09:00-10:00")); got != ErrScheduleOverlap {
		t.Errorf("CodeOf() = %q, want %q", got, ErrScheduleOverlap)
	}
	if got := CodeOf(errors.New("boom")); got != ErrInternal {
		t.Errorf("CodeOf(plain) = %q, want %q", got, ErrInternal)
	}
}

// TestIsPolicy verifies the policy-rejection classification.
func TestIsPolicy(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want bool
	}{
		{ErrItineraryPublic, true},
		{ErrInvalidTimeWindow, true},
		{ErrScheduleOverlap, true},
		{ErrSyncFailed, false},
		{ErrNotFound, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := IsPolicy(New(tt.code, "x")); got != tt.want {
				t.Errorf("IsPolicy(%s) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

// TestNewf verifies message formatting.
func TestNewf(t *testing.T) {
	err := Newf(ErrNotFound, "itinerary %s not found", "abc")
	if !strings.Contains(err.Error(), "itinerary abc not found") {
		t.Errorf("Newf() message = %q", err.Error())
	}
}
