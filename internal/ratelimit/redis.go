package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript runs the refill-then-consume step atomically server-side.
// The caller supplies "now" so a fleet of API instances with skewed
// clocks at least applies a consistent instant per call, and so tests
// can drive time deterministically.
//
// KEYS[1] = bucket key
// ARGV[1] = capacity
// ARGV[2] = refill per window
// ARGV[3] = window in milliseconds
// ARGV[4] = now in unix milliseconds
// ARGV[5] = key ttl in milliseconds
var takeScript = redis.NewScript(`
local data = redis.call('HMGET', KEYS[1], 'tokens', 'last_ms')
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local window_ms = tonumber(ARGV[3])
local now_ms = tonumber(ARGV[4])

local tokens = tonumber(data[1])
local last_ms = tonumber(data[2])
if tokens == nil then
  tokens = capacity
  last_ms = now_ms
end

local elapsed = now_ms - last_ms
if elapsed > 0 then
  tokens = math.min(capacity, tokens + elapsed / window_ms * refill)
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'last_ms', now_ms)
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return allowed
`)

// RedisStore shares buckets across API instances.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "ratelimit:"}
}

// OpenRedisStore connects from a redis URL and validates connectivity.
func OpenRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStore(client), nil
}

func (s *RedisStore) Take(ctx context.Context, key string, p Policy, now time.Time) (bool, error) {
	res, err := takeScript.Run(ctx, s.client, []string{s.prefix + key},
		p.Capacity,
		p.RefillPerWindow,
		p.Window.Milliseconds(),
		now.UnixMilli(),
		bucketTTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Close releases the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
