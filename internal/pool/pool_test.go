package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPreservesInputOrder(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}

	// later items finish first
	out, err := Run(context.Background(), items, 2, func(_ context.Context, item string, idx int) (string, error) {
		time.Sleep(time.Duration(len(items)-idx) * 5 * time.Millisecond)
		return item + "!", nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a!", "b!", "c!", "d!", "e!"}, out)
}

func TestRunConcurrencyCeiling(t *testing.T) {
	for _, limit := range []int{1, 2, 3, 10} {
		var active, peak atomic.Int64
		var mu sync.Mutex

		items := make([]int, 37)
		_, err := Run(context.Background(), items, limit, func(_ context.Context, _ int, _ int) (struct{}, error) {
			n := active.Add(1)
			mu.Lock()
			if n > peak.Load() {
				peak.Store(n)
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			active.Add(-1)
			return struct{}{}, nil
		})
		require.NoError(t, err)
		assert.LessOrEqual(t, peak.Load(), int64(limit), "limit %d exceeded", limit)
	}
}

func TestRunLimitAboveItemCount(t *testing.T) {
	out, err := Run(context.Background(), []int{1, 2}, 10, func(_ context.Context, item int, _ int) (int, error) {
		return item * 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, out)
}

func TestRunEmptyItems(t *testing.T) {
	out, err := Run(context.Background(), nil, 4, func(_ context.Context, item int, _ int) (int, error) {
		t.Error("worker must not run for empty input")
		return 0, nil
	})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRunFailFast(t *testing.T) {
	boom := errors.New("device unreachable")
	var started atomic.Int64

	items := make([]int, 100)
	_, err := Run(context.Background(), items, 2, func(ctx context.Context, _ int, idx int) (int, error) {
		started.Add(1)
		if idx == 3 {
			return 0, boom
		}
		select {
		case <-time.After(time.Millisecond):
		case <-ctx.Done():
		}
		return 0, nil
	})
	require.ErrorIs(t, err, boom)
	assert.Less(t, started.Load(), int64(100), "remaining claims must be abandoned after the first error")
}

func TestRunInvalidLimit(t *testing.T) {
	_, err := Run(context.Background(), []int{1}, 0, func(_ context.Context, item int, _ int) (int, error) {
		return item, nil
	})
	require.Error(t, err)
}

func TestRunParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := make([]int, 8)
	_, err := Run(ctx, items, 2, func(ctx context.Context, _ int, _ int) (int, error) {
		<-ctx.Done()
		return 0, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
