package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRateStoreUnavailable means the shared rate-window store could not
	// be reached. Callers must fail closed and treat the send as denied.
	ErrRateStoreUnavailable = errors.New("rate window store unavailable")

	// ErrQueueUnavailable means the managed queue rejected an operation.
	// Surfaced synchronously on enqueue; the worker backs off and retries.
	ErrQueueUnavailable = errors.New("message queue unavailable")

	// ErrDeadLetterNotFound is returned for retry/lookup of a job ID that
	// has no dead-letter record.
	ErrDeadLetterNotFound = errors.New("dead letter record not found")
)

// ValidationError reports a malformed send request. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid send request: %s %s", e.Field, e.Reason)
}

// ErrorClass partitions downstream delivery failures. The downstream
// adapter must classify; the worker never infers a class from free text.
type ErrorClass string

const (
	// ErrorClassRetryable covers transient failures: timeouts, 5xx, 429.
	ErrorClassRetryable ErrorClass = "retryable"
	// ErrorClassPermanent covers rejections that retrying cannot fix:
	// bad recipient, content policy violation.
	ErrorClassPermanent ErrorClass = "permanent"
)

// DeliveryError is a classified failure from the downstream platform API.
type DeliveryError struct {
	Class      ErrorClass
	StatusCode int
	Message    string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed (%s, status %d): %s", e.Class, e.StatusCode, e.Message)
}

// Retryable reports whether the failure counts toward the retry budget.
func (e *DeliveryError) Retryable() bool {
	return e.Class == ErrorClassRetryable
}

// NewRetryableDeliveryError builds a DeliveryError for a transient failure.
func NewRetryableDeliveryError(statusCode int, message string) *DeliveryError {
	return &DeliveryError{Class: ErrorClassRetryable, StatusCode: statusCode, Message: message}
}

// NewPermanentDeliveryError builds a DeliveryError for a terminal rejection.
func NewPermanentDeliveryError(statusCode int, message string) *DeliveryError {
	return &DeliveryError{Class: ErrorClassPermanent, StatusCode: statusCode, Message: message}
}
