// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestErrorCodeValues verifies all error codes have non-empty values.
func TestErrorCodeValues(t *testing.T) {
	tests := []struct {
		name string
		code ErrorCode
	}{
		{"internal", ErrInternal},
		{"invalid", ErrInvalid},
		{"not found", ErrNotFound},
		{"validation", ErrValidation},
		{"network", ErrNetwork},
		{"offline", ErrOffline},
		{"timeout", ErrTimeout},
		{"storage", ErrStorage},
		{"schema version", ErrSchemaVersion},
		{"queue full", ErrQueueFull},
		{"sync conflict", ErrSyncConflict},
		{"sync in flight", ErrSyncInFlight},
		{"sync failed", ErrSyncFailed},
		{"sync bad payload", ErrSyncBadPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code == "" {
				t.Errorf("Error code %s has empty value", tt.name)
			}
		})
	}
}

// TestNew tests creating an AppError without a cause.
func TestNew(t *testing.T) {
	err := New(ErrQueueFull, "write queue is at capacity")

	if err.Code != ErrQueueFull {
		t.Errorf("Expected code %s, got %s", ErrQueueFull, err.Code)
	}

	msg := err.Error()
	if !strings.Contains(msg, string(ErrQueueFull)) {
		t.Errorf("Error message missing code: %s", msg)
	}
	if !strings.Contains(msg, "write queue is at capacity") {
		t.Errorf("Error message missing text: %s", msg)
	}
}

// TestWrapUnwrap tests wrapping and unwrapping a cause.
func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(ErrStorage, "failed to persist queue", cause)

	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to find the wrapped cause")
	}

	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Error message missing cause: %s", err.Error())
	}
}

// TestIs tests code matching through wrapped errors.
func TestIs(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(ErrNetwork, "connection refused"))

	if !Is(err, ErrNetwork) {
		t.Error("Expected Is to match ErrNetwork through fmt wrapping")
	}
	if Is(err, ErrStorage) {
		t.Error("Did not expect Is to match ErrStorage")
	}
	if Is(errors.New("plain"), ErrNetwork) {
		t.Error("Did not expect Is to match a plain error")
	}
}

// TestIsConnectivity tests the connectivity classification.
func TestIsConnectivity(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want bool
	}{
		{ErrNetwork, true},
		{ErrOffline, true},
		{ErrTimeout, true},
		{ErrValidation, false},
		{ErrSyncConflict, false},
		{ErrStorage, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			got := IsConnectivity(New(tt.code, "x"))
			if got != tt.want {
				t.Errorf("IsConnectivity(%s) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

// TestIsRetryable tests retry eligibility classification.
func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(ErrNetwork, "x")) {
		t.Error("Network errors must be retryable")
	}
	if !IsRetryable(New(ErrSyncConflict, "x")) {
		t.Error("Conflict errors are retryable up to the threshold")
	}
	if IsRetryable(New(ErrValidation, "x")) {
		t.Error("Validation errors must not be retryable")
	}
	if IsRetryable(New(ErrSchemaVersion, "x")) {
		t.Error("Schema errors must not be retryable")
	}
}

// TestCodeOf tests code extraction with fallback.
func TestCodeOf(t *testing.T) {
	if got := CodeOf(New(ErrTimeout, "x")); got != ErrTimeout {
		t.Errorf("CodeOf = %s, want %s", got, ErrTimeout)
	}
	if got := CodeOf(errors.New("plain")); got != ErrInternal {
		t.Errorf("CodeOf(plain) = %s, want %s", got, ErrInternal)
	}
}
