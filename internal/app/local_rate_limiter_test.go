package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRateLimiter_FixedWindow(t *testing.T) {
	limiter := NewLocalRateLimiter()
	defer limiter.Stop()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		count, retryAfter, err := limiter.ConsumeRateLimit(ctx, "deposit_request", "acct", 2, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, count)
		assert.Equal(t, 60, retryAfter)
	}

	// Other subjects have their own window.
	count, _, err := limiter.ConsumeRateLimit(ctx, "deposit_request", "other", 2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	now = now.Add(45 * time.Second)
	count, retryAfter, err := limiter.ConsumeRateLimit(ctx, "deposit_request", "acct", 2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.Equal(t, 15, retryAfter)

	now = now.Add(15 * time.Second)
	count, _, err = limiter.ConsumeRateLimit(ctx, "deposit_request", "acct", 2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLocalRateLimiter_DisabledInputs(t *testing.T) {
	limiter := NewLocalRateLimiter()
	defer limiter.Stop()
	ctx := context.Background()

	count, _, err := limiter.ConsumeRateLimit(ctx, "deposit_request", "acct", 0, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, count)
	count, _, err = limiter.ConsumeRateLimit(ctx, " ", "acct", 5, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLocalRateLimiter_SweepDropsExpiredWindows(t *testing.T) {
	limiter := NewLocalRateLimiter()
	defer limiter.Stop()
	now := time.Now()
	limiter.now = func() time.Time { return now }

	_, _, err := limiter.ConsumeRateLimit(context.Background(), "deposit_request", "acct", 5, time.Minute)
	require.NoError(t, err)
	limiter.sweep()
	assert.Len(t, limiter.windows, 1)

	now = now.Add(2 * time.Minute)
	limiter.sweep()
	assert.Empty(t, limiter.windows)
	limiter.Stop()
}
