package cache

import (
	"context"
	"time"
)

// Store is an optional shared tier behind the Coalescer, holding completed
// values as raw JSON bytes keyed by the same delimiter-joined keys.
// Implemented by Redis for multi-instance deployments; a single instance
// runs without one.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
