package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/plazadir/gatekeeper/pkg/domain"
)

// RedisRateLimits keeps per-key counters in a Redis hash. Lua scripts
// make each check-and-increment a single atomic server-side step, which
// holds the no-over-admission property across horizontally scaled
// instances the same way the Postgres upsert does.
type RedisRateLimits struct {
	client *redis.Client
}

func NewRedisRateLimits(client *redis.Client) *RedisRateLimits {
	return &RedisRateLimits{client: client}
}

const rateLimitKeyPrefix = "ratelimit:"

// Fields: count, window_start (unix ms), failed_attempts, blocked_until
// (unix ms, 0 when clear).
var incrementScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local ws = tonumber(redis.call('HGET', KEYS[1], 'window_start'))
local count
if not ws or now - ws >= window then
	redis.call('HSET', KEYS[1], 'window_start', now, 'count', 1)
	ws = now
	count = 1
else
	count = redis.call('HINCRBY', KEYS[1], 'count', 1)
end
local failed = tonumber(redis.call('HGET', KEYS[1], 'failed_attempts')) or 0
local blocked = tonumber(redis.call('HGET', KEYS[1], 'blocked_until')) or 0
local ttl = window
if blocked > now then
	ttl = blocked - now + window
end
redis.call('PEXPIRE', KEYS[1], ttl)
return {count, ws, failed, blocked}
`)

var recordFailureScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local maxFailures = tonumber(ARGV[2])
local blockFor = tonumber(ARGV[3])
local failed = redis.call('HINCRBY', KEYS[1], 'failed_attempts', 1)
local blocked = tonumber(redis.call('HGET', KEYS[1], 'blocked_until')) or 0
if failed >= maxFailures then
	blocked = now + blockFor
	redis.call('HSET', KEYS[1], 'blocked_until', blocked)
end
if redis.call('HEXISTS', KEYS[1], 'window_start') == 0 then
	redis.call('HSET', KEYS[1], 'window_start', now, 'count', 0)
end
local ttl = blockFor
if blocked > now then
	ttl = blocked - now
end
if ttl < 60000 then
	ttl = 60000
end
redis.call('PEXPIRE', KEYS[1], ttl)
local count = tonumber(redis.call('HGET', KEYS[1], 'count')) or 0
local ws = tonumber(redis.call('HGET', KEYS[1], 'window_start')) or now
return {count, ws, failed, blocked}
`)

func (r *RedisRateLimits) Increment(ctx context.Context, key string, now time.Time, window time.Duration) (*domain.RateLimitRecord, error) {
	result, err := incrementScript.Run(ctx, r.client,
		[]string{rateLimitKeyPrefix + key},
		now.UnixMilli(), window.Milliseconds(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("redis increment %q: %w", key, err)
	}
	return parseRecord(key, result)
}

func (r *RedisRateLimits) RecordFailure(ctx context.Context, key string, now time.Time, maxFailures int, blockFor time.Duration) (*domain.RateLimitRecord, error) {
	result, err := recordFailureScript.Run(ctx, r.client,
		[]string{rateLimitKeyPrefix + key},
		now.UnixMilli(), maxFailures, blockFor.Milliseconds(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("redis record failure %q: %w", key, err)
	}
	return parseRecord(key, result)
}

func (r *RedisRateLimits) ClearFailures(ctx context.Context, key string) error {
	err := r.client.HDel(ctx, rateLimitKeyPrefix+key, "failed_attempts", "blocked_until").Err()
	if err != nil {
		return fmt.Errorf("redis clear failures %q: %w", key, err)
	}
	return nil
}

func parseRecord(key string, result interface{}) (*domain.RateLimitRecord, error) {
	values, ok := result.([]interface{})
	if !ok || len(values) != 4 {
		return nil, fmt.Errorf("unexpected script reply for %q: %v", key, result)
	}
	nums := make([]int64, 4)
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected script reply element for %q: %v", key, v)
		}
		nums[i] = n
	}

	record := &domain.RateLimitRecord{
		Key:            key,
		Count:          int(nums[0]),
		WindowStart:    time.UnixMilli(nums[1]),
		FailedAttempts: int(nums[2]),
	}
	if nums[3] > 0 {
		blockedUntil := time.UnixMilli(nums[3])
		record.BlockedUntil = &blockedUntil
	}
	return record, nil
}
