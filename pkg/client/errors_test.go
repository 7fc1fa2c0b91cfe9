package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		errorClass ErrorClass
		expected   bool
	}{
		{
			name:       "client error should not retry",
			errorClass: ErrorClassClient,
			expected:   false,
		},
		{
			name:       "server error should retry",
			errorClass: ErrorClassServer,
			expected:   true,
		},
		{
			name:       "network error should retry",
			errorClass: ErrorClassNetwork,
			expected:   true,
		},
		{
			name:       "primary rate limit should retry",
			errorClass: ErrorClassRateLimit,
			expected:   true,
		},
		{
			name:       "secondary rate limit should retry",
			errorClass: ErrorClassSecondaryRateLimit,
			expected:   true,
		},
		{
			name:       "empty error class should not retry",
			errorClass: "",
			expected:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := shouldRetry(tt.errorClass)
			if result != tt.expected {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.errorClass, result, tt.expected)
			}
		})
	}
}

func TestSearchError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *SearchError
		expected string
	}{
		{
			name: "error with wrapped error",
			err: &SearchError{
				StatusCode: 502,
				ErrorClass: ErrorClassServer,
				Message:    "Bad Gateway",
				Err:        errors.New("upstream"),
			},
			expected: "search server error (status 502): Bad Gateway: upstream",
		},
		{
			name: "error without wrapped error",
			err: &SearchError{
				StatusCode: 422,
				ErrorClass: ErrorClassClient,
				Message:    "Validation Failed",
			},
			expected: "search client error (status 422): Validation Failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSearchError_Unwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := fmt.Errorf("fetch: %w", &SearchError{ErrorClass: ErrorClassNetwork, Err: inner})

	if !errors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped error")
	}

	var searchErr *SearchError
	if !errors.As(err, &searchErr) {
		t.Fatal("errors.As should find the SearchError")
	}
	if searchErr.ErrorClass != ErrorClassNetwork {
		t.Errorf("ErrorClass = %q, want network", searchErr.ErrorClass)
	}
}

func TestClassOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil", nil, ""},
		{"cancelled", fmt.Errorf("wrap: %w", context.Canceled), ""},
		{"timeout is network", context.DeadlineExceeded, ErrorClassNetwork},
		{"search error", &SearchError{ErrorClass: ErrorClassServer}, ErrorClassServer},
		{"invalid cursor", fmt.Errorf("%w: x", ErrInvalidCursor), ErrorClassClient},
		{"unknown error", errors.New("boom"), ErrorClassNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassOf(tt.err); got != tt.expected {
				t.Errorf("ClassOf() = %q, want %q", got, tt.expected)
			}
		})
	}
}
