// Package retry runs fallible calls with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultAttempts is the number of attempts used across the pipeline.
	DefaultAttempts = 3
	// DefaultBaseDelay is the wait after the first failed attempt. It doubles after every failure.
	DefaultBaseDelay = time.Second
)

type settings struct {
	baseDelay time.Duration
	notify    func(attempt int, err error, wait time.Duration)
}

// Option configures Do.
type Option func(*settings)

// WithBaseDelay sets the wait after the first failure.
func WithBaseDelay(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.baseDelay = d
		}
	}
}

// WithNotify registers a callback invoked before every wait.
// attempt is the 1-based number of the attempt that just failed.
func WithNotify(fn func(attempt int, err error, wait time.Duration)) Option {
	return func(s *settings) { s.notify = fn }
}

// Permanent marks err as not worth retrying. Do returns the unwrapped err immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do calls fn up to maxAttempts times, waiting baseDelay*2^n between attempts.
// The error of the last attempt is returned as-is so callers can classify the root cause.
// maxAttempts below 1 is treated as 1.
func Do[T any](ctx context.Context, fn func(ctx context.Context) (T, error), maxAttempts int, opts ...Option) (T, error) {
	s := settings{baseDelay: DefaultBaseDelay}
	for _, opt := range opts {
		opt(&s)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.baseDelay
	expo.Multiplier = 2
	expo.RandomizationFactor = 0
	expo.MaxInterval = s.baseDelay << maxAttempts
	expo.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(maxAttempts-1)), ctx)

	attempt := 0
	op := func() (T, error) {
		attempt++
		return fn(ctx)
	}

	var notify backoff.Notify
	if s.notify != nil {
		notify = func(err error, wait time.Duration) {
			s.notify(attempt, err, wait)
		}
	}

	return backoff.RetryNotifyWithData(op, b, notify)
}
