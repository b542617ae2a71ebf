package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"fleetboard-backend/internal/metrics"
)

type entryState uint8

const (
	statePending entryState = iota
	stateReady
)

// entry is the tagged union behind one cache key. A pending entry holds the
// handle concurrent callers wait on; a ready entry holds the value and its
// absolute expiry. An entry transitions pending -> ready exactly once, or is
// deleted when its producer fails.
type entry struct {
	state     entryState
	done      chan struct{} // closed once the producer settles
	value     []byte
	err       error
	expiresAt time.Time
}

// Coalescer is a single-flight memoizing cache: at most one producer runs per
// key at any moment, and all concurrent callers for that key share its result.
// Expired entries are superseded on the next access, never swept.
//
// An optional shared Store (Redis in multi-instance deployments) holds ready
// values across processes; single-flight stays process-local either way.
type Coalescer struct {
	mu      sync.Mutex
	entries map[string]*entry
	shared  Store // may be nil
	logger  *zap.Logger
	now     func() time.Time
}

// NewCoalescer creates an empty cache. shared may be nil.
// Construct one per process at startup and inject it; tests instantiate
// their own isolated instance.
func NewCoalescer(shared Store, logger *zap.Logger) *Coalescer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coalescer{
		entries: make(map[string]*entry),
		shared:  shared,
		logger:  logger.Named("cache"),
		now:     time.Now,
	}
}

// Memoize returns the fresh cached value for key, or the result of the single
// in-flight producer if one is already running, or invokes produce itself.
// On producer failure the entry is removed so the next caller retries; errors
// are never cached. A ttl of 0 always revalidates but still coalesces callers
// that arrive while the producer runs.
//
// The producer is detached from the caller's cancellation: a client that goes
// away must not kill a fetch other callers are waiting on. Waiters honor
// their own ctx.
func (c *Coalescer) Memoize(ctx context.Context, key string, ttl time.Duration, produce func(context.Context) ([]byte, error)) ([]byte, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		switch e.state {
		case stateReady:
			if c.now().Before(e.expiresAt) {
				value := e.value
				c.mu.Unlock()
				metrics.CacheHitsTotal.Inc()
				return value, nil
			}
			// stale: fall through and supersede the entry
		case statePending:
			c.mu.Unlock()
			metrics.CacheCoalescedTotal.Inc()
			select {
			case <-e.done:
				return e.value, e.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	fresh := &entry{state: statePending, done: make(chan struct{})}
	c.entries[key] = fresh
	c.mu.Unlock()

	metrics.CacheMissesTotal.Inc()
	return c.fill(context.WithoutCancel(ctx), key, ttl, fresh, produce)
}

// fill runs the producer that owns fresh and settles the entry exactly once.
func (c *Coalescer) fill(ctx context.Context, key string, ttl time.Duration, fresh *entry, produce func(context.Context) ([]byte, error)) ([]byte, error) {
	if c.shared != nil {
		value, ok, err := c.shared.Get(ctx, key)
		if err != nil {
			c.logger.Warn("shared cache get failed",
				zap.String("resource", Resource(key)),
				zap.Error(err),
			)
		} else if ok {
			c.settle(key, fresh, value, ttl, nil)
			return value, nil
		}
	}

	value, err := runProducer(ctx, produce)
	if err != nil {
		c.settle(key, fresh, nil, 0, err)
		return nil, err
	}

	c.settle(key, fresh, value, ttl, nil)

	if c.shared != nil {
		if err := c.shared.Set(ctx, key, value, ttl); err != nil {
			c.logger.Warn("shared cache set failed",
				zap.String("resource", Resource(key)),
				zap.Error(err),
			)
		}
	}
	return value, nil
}

// runProducer converts a producer panic into an error so a throwing producer
// can never leave a permanently pending entry behind.
func runProducer(ctx context.Context, produce func(context.Context) ([]byte, error)) (value []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cache: producer panic: %v", r)
		}
	}()
	return produce(ctx)
}

func (c *Coalescer) settle(key string, e *entry, value []byte, ttl time.Duration, err error) {
	c.mu.Lock()
	if err != nil {
		// clear the in-flight marker unconditionally so the next caller retries
		if c.entries[key] == e {
			delete(c.entries, key)
		}
		e.err = err
	} else {
		e.state = stateReady
		e.value = value
		e.expiresAt = c.now().Add(ttl)
	}
	close(e.done)
	c.mu.Unlock()
}

// Len returns the number of entries currently held (pending and ready).
func (c *Coalescer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
