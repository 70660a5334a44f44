// Package retry provides bounded exponential-backoff retries for transient
// network failures.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ahmednasr/firstcommit/indexer/internal/apperrors"
)

// ErrInvalidAttempts is returned when a Policy allows no attempts at all.
var ErrInvalidAttempts = errors.New("retry: attempts must be positive")

// Policy bounds how often and how patiently an operation is repeated.
type Policy struct {
	Attempts  int           // total tries, including the first
	BaseDelay time.Duration // doubled after every failed try
}

// Default is two retries after the first attempt, starting at 500ms.
var Default = Policy{Attempts: 3, BaseDelay: 500 * time.Millisecond}

// stopError marks an error that must not be retried.
type stopError struct{ err error }

func (s stopError) Error() string { return s.err.Error() }
func (s stopError) Unwrap() error { return s.err }

// Stop wraps err so Do returns it at once. Do strips the wrapper.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return stopError{err: err}
}

// Do runs op until it succeeds, returns a non-retryable error, the attempts
// are used up, or ctx is done. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	if p.Attempts <= 0 {
		return ErrInvalidAttempts
	}

	var lastErr error
	delay := p.BaseDelay
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		var stop stopError
		if errors.As(lastErr, &stop) {
			return stop.err
		}
		if !apperrors.Retryable(lastErr) || attempt == p.Attempts {
			break
		}

		slog.Debug("retrying after failure", "attempt", attempt, "max", p.Attempts, "delay", delay, "err", lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return lastErr
}
