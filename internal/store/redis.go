package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/leonardotrapani/sttbench/internal/session"
)

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis constructs a redis-backed result store.
func NewRedis(cfg Config) (Store, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis configuration missing")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "sttbench:session:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &redisStore{client: client, ttl: ttl, prefix: prefix}, nil
}

func (s *redisStore) key(id string) string {
	return s.prefix + id
}

func (s *redisStore) Save(ctx context.Context, res session.Result) error {
	if err := requireID(res); err != nil {
		return err
	}
	data, err := sonic.Marshal(res)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(res.Metadata.SessionID), data, s.ttl).Err()
}

func (s *redisStore) Get(ctx context.Context, id string) (session.Result, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return session.Result{}, notFound(id)
		}
		return session.Result{}, err
	}
	var res session.Result
	if err := sonic.Unmarshal(raw, &res); err != nil {
		return session.Result{}, err
	}
	return res, nil
}

func (s *redisStore) List(ctx context.Context) ([]Summary, error) {
	var (
		cursor uint64
		list   []Summary
	)
	pattern := s.prefix + "*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			res, err := s.Get(ctx, strings.TrimPrefix(key, s.prefix))
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			list = append(list, summarize(res))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sortSummaries(list)
	return list, nil
}

func (s *redisStore) Remove(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

func (s *redisStore) Close(context.Context) error {
	return s.client.Close()
}
