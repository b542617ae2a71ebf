// Package pool runs a fixed list of jobs with a bounded number of concurrent
// runners pull-claiming work from a shared cursor.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Run applies worker to every item with at most limit invocations in flight
// at any instant. Results are index-addressed: out[i] corresponds to items[i]
// no matter which runner finishes first.
//
// The first worker error cancels the remaining claims and is returned
// (fail-fast). Callers that want per-item resilience wrap worker to catch
// and substitute a zero result; the pool itself never swallows errors.
func Run[T, R any](ctx context.Context, items []T, limit int, worker func(ctx context.Context, item T, idx int) (R, error)) ([]R, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("pool: limit must be positive, got %d", limit)
	}

	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		cursor   atomic.Int64
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	runners := min(limit, len(items))
	wg.Add(runners)
	for i := 0; i < runners; i++ {
		go func() {
			defer wg.Done()
			for {
				idx := int(cursor.Add(1)) - 1
				if idx >= len(items) || runCtx.Err() != nil {
					return
				}
				res, err := worker(runCtx, items[idx], idx)
				if err != nil {
					errOnce.Do(func() {
						firstErr = err
						cancel()
					})
					return
				}
				results[idx] = res
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
