// Package apperrors defines the error taxonomy shared by the issue source,
// embedding, index, ingestion and cleanup layers.
//
// Every kind wraps an underlying cause so callers can use errors.As to
// branch on the kind and errors.Is to reach the cause.
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AuthError means the app assertion could not be signed or the credential
// exchange failed. Fatal for the current run.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("auth: %s: %v", e.Op, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError signals exhausted remote quota. It is a graceful-stop
// signal, never a crash.
type RateLimitError struct {
	Message string
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	if e.ResetAt.IsZero() {
		return "rate limit exceeded: " + e.Message
	}
	return fmt.Sprintf("rate limit exceeded (resets %s): %s", e.ResetAt.UTC().Format(time.RFC3339), e.Message)
}

// EmbeddingError is returned when any part of an embedding batch fails.
type EmbeddingError struct {
	Count int // number of texts in the failed call
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding %d texts: %v", e.Count, e.Err)
}
func (e *EmbeddingError) Unwrap() error { return e.Err }

// IndexError wraps a vector-store failure after retries are exhausted.
type IndexError struct {
	Op  string
	Err error
}

func (e *IndexError) Error() string { return fmt.Sprintf("index %s: %v", e.Op, e.Err) }
func (e *IndexError) Unwrap() error { return e.Err }

// NotFoundError reports an entity that does not exist at the source.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string { return e.What + " not found" }

// TimeoutError reports a network call that exceeded its deadline.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("%s timed out: %v", e.Op, e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// IsRateLimit reports whether err (or anything it wraps) is a RateLimitError.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsTimeout reports whether err is a TimeoutError or a bare deadline expiry.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded)
}

// Classify wraps deadline expiry into a TimeoutError tagged with op.
// Other errors, including already classified ones, pass through unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TimeoutError
	if errors.As(err, &te) || IsRateLimit(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Err: err}
	}
	return err
}

// Retryable reports whether a failed call is worth repeating. Quota, auth,
// not-found and caller cancellation are terminal.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimit(err) || IsAuth(err) || IsNotFound(err) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
