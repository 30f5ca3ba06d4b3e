// Package retry implements bounded retries with exponential backoff for
// calls to the code-generating service and other transient-failure-prone
// collaborators. Only errors explicitly marked recoverable are retried.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseWait   = 1 * time.Second
)

// RecoverableError marks an error as safe to retry.
type RecoverableError struct {
	err error
}

func (e *RecoverableError) Error() string { return e.err.Error() }

func (e *RecoverableError) Unwrap() error { return e.err }

// NewRecoverableError wraps err so Do will retry it.
func NewRecoverableError(err error) *RecoverableError {
	return &RecoverableError{err: err}
}

// IsRecoverable reports whether err is marked recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var recoverable *RecoverableError
	return errors.As(err, &recoverable)
}

type config struct {
	maxRetries int
	baseWait   time.Duration
}

// Option configures Do.
type Option func(*config)

// WithMaxRetries sets the total number of attempts.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithBaseWait sets the backoff base wait.
func WithBaseWait(d time.Duration) Option {
	return func(c *config) { c.baseWait = d }
}

// Do runs f up to the configured number of attempts, backing off
// exponentially with jitter between attempts. Non-recoverable errors stop
// retries immediately. The returned error is unwrapped from its
// recoverable marker.
func Do(ctx context.Context, f func() error, opts ...Option) error {
	c := &config{maxRetries: DefaultMaxRetries, baseWait: DefaultBaseWait}
	for _, opt := range opts {
		opt(c)
	}
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(float64(c.baseWait) * math.Pow(2, float64(attempt-1)))
			jitter := time.Duration(rand.Float64() * float64(backoff) * 0.1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}
		err := f()
		if err == nil {
			return nil
		}
		if !IsRecoverable(err) {
			return err
		}
		lastErr = err
	}
	var recoverable *RecoverableError
	if errors.As(lastErr, &recoverable) {
		return recoverable.Unwrap()
	}
	return lastErr
}
