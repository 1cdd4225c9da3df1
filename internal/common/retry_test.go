package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOpts(extra ...Option) []Option {
	return append([]Option{
		WithInitialDelay(time.Millisecond),
		WithMaxDelay(5 * time.Millisecond),
	}, extra...)
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return nil
	}, fastOpts()...)
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	}, fastOpts(WithMaxRetries(5))...)
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return errors.New("always")
	}, fastOpts(WithMaxRetries(2))...)
	require.Error(t, err)
	assert.Equal(t, 3, calls) // initial attempt plus two retries
	assert.Contains(t, err.Error(), "retry failed after 3 attempts")
}

func TestDoStopsWhenPredicateRejects(t *testing.T) {
	calls := 0
	fatal := AuthError("nope", nil)
	err := Do(context.Background(), func() error {
		calls++
		return fatal
	}, fastOpts(WithRetryIf(Retryable))...)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsAuth(err))
}

func TestDoRetriesRetryableKinds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return TransientError("flaky", nil)
		}
		return nil
	}, fastOpts(WithRetryIf(Retryable))...)
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, func() error {
		calls++
		cancel()
		return errors.New("keep going")
	}, WithInitialDelay(time.Hour))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoInvokesOnRetryHook(t *testing.T) {
	var attempts []int
	_ = Do(context.Background(), func() error {
		return errors.New("always")
	}, fastOpts(
		WithMaxRetries(3),
		WithOnRetry(func(attempt int, err error) {
			attempts = append(attempts, attempt)
		}),
	)...)
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestDoNilFunction(t *testing.T) {
	err := Do(context.Background(), nil)
	assert.Error(t, err)
}

func TestDelayForGrowsAndCaps(t *testing.T) {
	p := DefaultPolicy()
	for _, opt := range []Option{
		WithInitialDelay(10 * time.Millisecond),
		WithMaxDelay(40 * time.Millisecond),
		WithMultiplier(2.0),
	} {
		opt(p)
	}

	d1 := p.delayFor(1)
	assert.GreaterOrEqual(t, d1, 10*time.Millisecond)
	assert.LessOrEqual(t, d1, time.Duration(float64(10*time.Millisecond)*1.25))

	// Far beyond the cap: jitter included, never exceeds maxDelay.
	d10 := p.delayFor(10)
	assert.LessOrEqual(t, d10, 40*time.Millisecond)
}
