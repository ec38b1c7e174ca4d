package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// admitScript runs the window check atomically on the server, so concurrent
// processes sharing a key never over-admit. Keys expire with their window.
var admitScript = redis.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'count', 'reset')
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local count = tonumber(v[1])
local reset = tonumber(v[2])
if count == nil or reset == nil or now >= reset then
  reset = now + window
  redis.call('HSET', KEYS[1], 'count', 1, 'reset', reset)
  redis.call('PEXPIRE', KEYS[1], window)
  return {1, max - 1, reset}
end
if count < max then
  count = redis.call('HINCRBY', KEYS[1], 'count', 1)
  return {1, max - count, reset}
end
return {0, 0, reset}
`)

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
}

// RedisStore shares windows between processes through Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "sttbench:ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) Check(ctx context.Context, key string, p Policy, now time.Time) (Result, error) {
	vals, err := admitScript.Run(ctx, s.client, []string{s.prefix + key},
		now.UnixMilli(), p.Window.Milliseconds(), p.MaxRequests).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit script: %w", err)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("ratelimit script: unexpected reply %v", vals)
	}
	return Result{
		Allowed:   vals[0] == 1,
		Limit:     p.MaxRequests,
		Remaining: int(vals[1]),
		ResetAtMs: vals[2],
	}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
