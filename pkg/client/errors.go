package client

import (
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
)

// ProviderError represents a non-2xx answer from the email provider.
type ProviderError struct {
	StatusCode int
	ErrorClass ErrorClass
	Name       string
	Message    string

	// RetryAfter is the provider's requested wait (429 only).
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	label := e.Message
	if e.Name != "" {
		label = e.Name + ": " + e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("provider %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, label, e.Err)
	}
	return fmt.Sprintf("provider %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, label)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// shouldRetry determines if an error should be retried based on its classification.
// Retrying is safe for every class but client errors because each send carries an
// Idempotency-Key the provider deduplicates on.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx errors are permanent (bad recipient, bad payload)
		return false
	case ErrorClassServer:
		return true
	case ErrorClassRateLimit:
		return true
	case ErrorClassNetwork:
		return true
	default:
		return false
	}
}
