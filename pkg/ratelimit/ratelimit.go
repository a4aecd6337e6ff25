// Package ratelimit provides a token bucket shared across worker processes.
// Buckets are keyed per (organization, platform) so one organization's
// backlog cannot starve the rest, and platform rate ceilings hold globally
// rather than per worker.
package ratelimit

import (
	"context"
	"time"
)

type Config struct {
	Capacity       int
	RefillRate     int
	RefillInterval time.Duration
}

// Limiter answers whether one more call toward the keyed bucket may proceed.
// An exhausted bucket is not an error; callers treat it as a retryable
// condition.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
