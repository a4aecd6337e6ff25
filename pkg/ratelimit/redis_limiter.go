package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and takes in one atomic step. KEYS[1] holds the
// bucket hash {tokens, refilled_at}; ARGV: capacity, refill per interval,
// interval millis, now millis.
var tokenBucketScript = redis.NewScript(`
local bucket = redis.call('HMGET', KEYS[1], 'tokens', 'refilled_at')
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local tokens = tonumber(bucket[1])
local refilled_at = tonumber(bucket[2])
if tokens == nil then
	tokens = capacity
	refilled_at = now
end

local elapsed = now - refilled_at
if elapsed >= interval then
	local intervals = math.floor(elapsed / interval)
	tokens = math.min(capacity, tokens + intervals * refill)
	refilled_at = refilled_at + intervals * interval
end

local allowed = 0
if tokens > 0 then
	tokens = tokens - 1
	allowed = 1
end

redis.call('HMSET', KEYS[1], 'tokens', tokens, 'refilled_at', refilled_at)
redis.call('PEXPIRE', KEYS[1], interval * 2)
return allowed
`)

type RedisLimiter struct {
	client *redis.Client
	config Config
}

func NewRedisLimiter(client *redis.Client, config Config) *RedisLimiter {
	return &RedisLimiter{client: client, config: config}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now().UnixMilli()
	result, err := tokenBucketScript.Run(ctx, l.client, []string{"ratelimit:" + key},
		l.config.Capacity, l.config.RefillRate, l.config.RefillInterval.Milliseconds(), now).Int()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return result == 1, nil
}
