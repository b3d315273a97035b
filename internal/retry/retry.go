// Package retry runs bounded, fixed-backoff retries for read paths and commits.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrTransient marks an error as retryable. Wrap it with Transient or
// fmt.Errorf("...: %w", retry.ErrTransient).
var ErrTransient = errors.New("retry: transient failure")

// ErrExhausted is returned (wrapping the last error) when every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() []error {
	return []error{e.err, ErrTransient}
}

// Transient wraps err so IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err should be retried. Context cancellation is
// never transient; network timeouts are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Policy describes how many times to attempt an operation and how long to wait
// between attempts.
type Policy struct {
	attempts  int
	backoff   time.Duration
	classify  func(error) bool
	sleep     func(context.Context, time.Duration) error
	onAttempt func(attempt int, err error)
}

// New returns a policy with the given total attempt count and fixed backoff.
func New(attempts int, backoff time.Duration) *Policy {
	if attempts <= 0 {
		attempts = 1
	}
	if backoff < 0 {
		backoff = 0
	}
	return &Policy{
		attempts: attempts,
		backoff:  backoff,
		classify: IsTransient,
		sleep:    sleepContext,
	}
}

// WithClassifier overrides which errors are retried. Commit paths retry every
// failure, so they pass a classifier that always returns true.
func (p *Policy) WithClassifier(fn func(error) bool) *Policy {
	if fn != nil {
		p.classify = fn
	}
	return p
}

// WithSleep swaps the wait function; tests use it to avoid real delays.
func (p *Policy) WithSleep(fn func(context.Context, time.Duration) error) *Policy {
	if fn != nil {
		p.sleep = fn
	}
	return p
}

// WithObserver registers a callback invoked after every failed attempt.
func (p *Policy) WithObserver(fn func(attempt int, err error)) *Policy {
	p.onAttempt = fn
	return p
}

// Attempts returns the total number of attempts the policy makes.
func (p *Policy) Attempts() int {
	return p.attempts
}

// Do runs fn until it succeeds, returns a non-retryable error, the context is
// done, or the attempts run out.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w: %w", lastErr, err)
			}
			return err
		}
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if p.onAttempt != nil {
			p.onAttempt(attempt, err)
		}
		if !p.classify(err) {
			return err
		}
		if attempt < p.attempts {
			if err := p.sleep(ctx, p.backoff); err != nil {
				return fmt.Errorf("%w: %w", lastErr, err)
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.attempts, lastErr)
}

// Always classifies every error as retryable.
func Always(error) bool { return true }

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
