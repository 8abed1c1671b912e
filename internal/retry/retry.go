// Package retry runs operations a bounded number of times with a fixed
// backoff between failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fruitsalade/nimbus/internal/logging"
)

// Policy holds retry configuration.
type Policy struct {
	MaxRetries int           // Total attempts, must be > 0
	Backoff    time.Duration // Sleep between failed attempts
}

// DefaultPolicy returns sensible defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 5,
		Backoff:    5 * time.Second,
	}
}

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d total tries: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsExhausted reports whether err came from a spent retry budget.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; DoWithResult returns it as is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Do executes fn with retries.
func Do(ctx context.Context, p Policy, fn func() error) error {
	_, err := DoWithResult(ctx, p, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult executes fn with retries and returns its result.
func DoWithResult[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	var zero T
	if p.MaxRetries <= 0 {
		return zero, fmt.Errorf("retry: max retries must be > 0, got %d", p.MaxRetries)
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		var permanent permanentError
		if errors.As(err, &permanent) {
			return zero, permanent.err
		}

		lastErr = err
		logging.Debug("retryable operation failed",
			logging.Int("attempt", attempt),
			logging.Int("max_retries", p.MaxRetries),
			logging.Err(err))

		if attempt == p.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(p.Backoff):
		}
	}

	return zero, &ExhaustedError{Attempts: p.MaxRetries, Err: lastErr}
}
