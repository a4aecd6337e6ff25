package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryBucket struct {
	tokens     int
	refilledAt time.Time
}

// MemoryLimiter is a single-process token bucket with the same semantics as
// the Redis limiter. Suitable for tests and single-instance deployments.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
	config  Config
	now     func() time.Time
}

func NewMemoryLimiter(config Config) *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*memoryBucket),
		config:  config,
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &memoryBucket{tokens: l.config.Capacity, refilledAt: now}
		l.buckets[key] = b
	}

	if elapsed := now.Sub(b.refilledAt); elapsed >= l.config.RefillInterval {
		intervals := int(elapsed / l.config.RefillInterval)
		b.tokens = min(l.config.Capacity, b.tokens+intervals*l.config.RefillRate)
		b.refilledAt = b.refilledAt.Add(time.Duration(intervals) * l.config.RefillInterval)
	}

	if b.tokens <= 0 {
		return false, nil
	}
	b.tokens--
	return true, nil
}
