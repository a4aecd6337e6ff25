package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(capacity, refill int, interval time.Duration) (*MemoryLimiter, *time.Time) {
	l := NewMemoryLimiter(Config{Capacity: capacity, RefillRate: refill, RefillInterval: interval})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestMemoryLimiterExhaustsCapacity(t *testing.T) {
	l, _ := newTestLimiter(2, 1, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "1:tiktok")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := l.Allow(ctx, "1:tiktok")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryLimiterRefills(t *testing.T) {
	l, now := newTestLimiter(1, 1, time.Minute)
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "1:tiktok")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "1:tiktok")
	assert.False(t, ok)

	*now = now.Add(time.Minute)
	ok, _ = l.Allow(ctx, "1:tiktok")
	assert.True(t, ok)
}

func TestMemoryLimiterIsolatesKeys(t *testing.T) {
	l, _ := newTestLimiter(1, 1, time.Minute)
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "1:tiktok")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "1:tiktok")
	assert.False(t, ok)

	// A different org on the same platform has its own bucket.
	ok, _ = l.Allow(ctx, "2:tiktok")
	assert.True(t, ok)
}

func TestMemoryLimiterRefillDoesNotExceedCapacity(t *testing.T) {
	l, now := newTestLimiter(2, 5, time.Minute)
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "1:youtube")
	assert.True(t, ok)

	*now = now.Add(10 * time.Minute)
	for i := 0; i < 2; i++ {
		ok, _ = l.Allow(ctx, "1:youtube")
		assert.True(t, ok)
	}
	ok, _ = l.Allow(ctx, "1:youtube")
	assert.False(t, ok)
}
