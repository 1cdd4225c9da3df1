package common

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"auth", AuthError("bad token", nil), KindAuth},
		{"rate limit", RateLimitError(time.Now(), "exhausted"), KindRateLimit},
		{"not found", NotFoundError("gone", nil), KindNotFound},
		{"transient", TransientError("flaky", nil), KindTransient},
		{"parsing", ParsingError("garbage", nil), KindGenerationParsing},
		{"validation", ValidationError("bad record", nil), KindValidation},
		{"foreign", errors.New("plain"), KindInternal},
		{"nil cause wrapped", fmt.Errorf("outer: %w", NotFoundError("gone", nil)), KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(TransientError("flaky", nil)))
	assert.True(t, Retryable(RateLimitError(time.Now(), "exhausted")))
	assert.False(t, Retryable(AuthError("bad", nil)))
	assert.False(t, Retryable(NotFoundError("gone", nil)))
	assert.False(t, Retryable(ParsingError("garbage", nil)))
	assert.False(t, Retryable(errors.New("plain")))
}

func TestResetAt(t *testing.T) {
	reset := time.Date(2026, 8, 20, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, reset, ResetAt(RateLimitError(reset, "exhausted")))
	assert.True(t, ResetAt(TransientError("flaky", nil)).IsZero())
	assert.True(t, ResetAt(errors.New("plain")).IsZero())
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := TransientError("request failed", cause)
	assert.Contains(t, err.Error(), "transient")
	assert.Contains(t, err.Error(), "request failed")
	assert.Contains(t, err.Error(), "underlying")
	assert.ErrorIs(t, err, cause)

	bare := AuthError("no token", nil)
	assert.Contains(t, bare.Error(), "authentication")
	assert.NotContains(t, bare.Error(), "<nil>")
}
