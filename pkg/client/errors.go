package client

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrInvalidCursor is returned for a cursor this client did not issue.
	ErrInvalidCursor = errors.New("invalid page cursor")
)

// ErrorClass represents a classification of search API errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx query/client errors. Not retried.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassRateLimit represents primary quota exhaustion.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassSecondaryRateLimit represents secondary (abuse) rate limits.
	ErrorClassSecondaryRateLimit ErrorClass = "secondary_rate_limit"
)

// SearchError represents a classified search API failure.
type SearchError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string

	// ResetAt is set for primary rate limits.
	ResetAt time.Time

	// RetryAfter is set when a secondary rate limit carried Retry-After.
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface.
func (e *SearchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("search %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("search %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *SearchError) Unwrap() error {
	return e.Err
}

// ClassOf returns the class of err. Cancellation has no class and is never
// retried; deadline errors are HTTP timeouts and count as network errors.
func ClassOf(err error) ErrorClass {
	if err == nil || errors.Is(err, context.Canceled) {
		return ""
	}

	var searchErr *SearchError
	if errors.As(err, &searchErr) {
		return searchErr.ErrorClass
	}
	if errors.Is(err, ErrInvalidCursor) {
		return ErrorClassClient
	}
	return ErrorClassNetwork
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx errors are query errors; retrying burns quota
		return false
	case ErrorClassServer, ErrorClassNetwork:
		return true
	case ErrorClassRateLimit, ErrorClassSecondaryRateLimit:
		return true
	default:
		return false
	}
}

// isRateLimited reports classes handled by limiter suspension rather than
// by the retry budget.
func isRateLimited(errorClass ErrorClass) bool {
	return errorClass == ErrorClassRateLimit || errorClass == ErrorClassSecondaryRateLimit
}
