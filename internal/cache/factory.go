package cache

import (
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Backend string // "memory" or "redis"
	Prefix  string
}

// NewStore returns the shared tier for the configured backend, or nil for
// the default in-process backend (the Coalescer's own entries are then the
// only tier).
func NewStore(cfg Config, redisClient *redis.Client) Store {
	switch cfg.Backend {
	case "redis":
		return NewLoggingStore(NewRedisStore(redisClient, RedisConfig{
			Prefix: cfg.Prefix,
		}))
	default:
		return nil
	}
}
