package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store using Redis, sharing completed upstream answers
// between gateway instances.
type RedisStore struct {
	client *redis.Client
	prefix string
}

type RedisConfig struct {
	Prefix string
}

func NewRedisStore(client *redis.Client, config RedisConfig) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: config.Prefix,
	}
}

// key builds the final Redis key with prefix.
func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

// Get retrieves a value from Redis.
// On Redis error, it returns (nil, false, err) so the caller can log and
// treat it as a miss.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("context error: %w", err)
	}

	res, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		// Key does not exist, a clean miss.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	return res, true, nil
}

// Set stores a value with TTL. If ttl <= 0, it does nothing (no caching).
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	if ttl <= 0 {
		return nil
	}

	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}
