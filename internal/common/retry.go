package common

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryableFunc defines a function that can be retried.
// It should return an error if the operation failed and needs to be retried.
type RetryableFunc func() error

// Policy holds the configuration for retry behavior. A zero Policy is not
// usable; build one through Do's options or DefaultPolicy.
type Policy struct {
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	retryIf      func(error) bool
	onRetry      func(attempt int, err error)
}

// Option is a functional option for configuring retry behavior.
type Option func(*Policy)

// WithMaxRetries sets the maximum number of retry attempts after the initial
// call. Default is 3 retries.
func WithMaxRetries(n int) Option {
	return func(p *Policy) {
		if n >= 0 {
			p.maxRetries = n
		}
	}
}

// WithInitialDelay sets the initial delay before the first retry.
// Default is 1 second.
func WithInitialDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.initialDelay = d
		}
	}
}

// WithMaxDelay sets the maximum delay between retries.
// Default is 60 seconds.
func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.maxDelay = d
		}
	}
}

// WithMultiplier sets the exponential backoff multiplier.
// Default is 2.0 (doubles each retry).
func WithMultiplier(m float64) Option {
	return func(p *Policy) {
		if m > 0 {
			p.multiplier = m
		}
	}
}

// WithRetryIf restricts retries to errors the predicate accepts. By default
// every error is retried.
func WithRetryIf(fn func(error) bool) Option {
	return func(p *Policy) {
		if fn != nil {
			p.retryIf = fn
		}
	}
}

// WithOnRetry installs a hook invoked before each retry attempt, typically to
// count retries in a metrics collector.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(p *Policy) {
		p.onRetry = fn
	}
}

// DefaultPolicy returns the default retry configuration: 3 retries, 1s base
// delay doubling up to a 60s cap.
func DefaultPolicy() *Policy {
	return &Policy{
		maxRetries:   3,
		initialDelay: 1 * time.Second,
		maxDelay:     60 * time.Second,
		multiplier:   2.0,
	}
}

// Do executes the provided function with exponential backoff retry logic.
// It respects context cancellation and will stop retrying if the context is
// cancelled.
//
// The function will:
// - Execute immediately on the first attempt
// - Retry on failure with exponential backoff plus jitter
// - Stop early when the retryIf predicate rejects the error
// - Return nil if any attempt succeeds
// - Return the last error if all attempts fail
func Do(ctx context.Context, fn RetryableFunc, opts ...Option) error {
	if fn == nil {
		return errors.New("retry: function cannot be nil")
	}

	p := DefaultPolicy()
	for _, opt := range opts {
		opt(p)
	}
	return p.Do(ctx, fn)
}

// Do runs fn under the policy.
func (p *Policy) Do(ctx context.Context, fn RetryableFunc) error {
	var lastErr error

	// First attempt (attempt 0)
	if err := fn(); err == nil {
		return nil
	} else {
		lastErr = err
	}

	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		if p.retryIf != nil && !p.retryIf(lastErr) {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry aborted after %d attempts: %w", attempt, ctx.Err())
		default:
		}

		delay := p.delayFor(attempt)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted during backoff (attempt %d/%d): %w", attempt, p.maxRetries, ctx.Err())
		case <-timer.C:
		}

		if p.onRetry != nil {
			p.onRetry(attempt, lastErr)
		}

		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", p.maxRetries+1, lastErr)
}

// delayFor computes the backoff for the given attempt: initialDelay scaled
// exponentially, capped at maxDelay, with up to 25% random jitter added so
// concurrent units do not hammer the remote in lockstep.
func (p *Policy) delayFor(attempt int) time.Duration {
	delay := float64(p.initialDelay) * math.Pow(p.multiplier, float64(attempt-1))
	if time.Duration(delay) > p.maxDelay {
		delay = float64(p.maxDelay)
	}
	jitter := rand.Float64() * 0.25 * delay
	d := time.Duration(delay + jitter)
	if d > p.maxDelay {
		d = p.maxDelay
	}
	return d
}
