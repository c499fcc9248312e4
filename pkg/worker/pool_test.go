package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigraph/vg-server-sub000/metric"
	"github.com/vigraph/vg-server-sub000/tick"
)

var _ tick.Background = (*Background)(nil)

func TestNewPoolDefaults(t *testing.T) {
	noop := func(context.Context, int) error { return nil }

	pool := NewPool(5, 100, noop)
	assert.Equal(t, 5, pool.workers)
	assert.Equal(t, 100, pool.queueSize)

	pool = NewPool(0, 0, noop)
	assert.Equal(t, 4, pool.workers)
	assert.Equal(t, 256, pool.queueSize)

	assert.PanicsWithValue(t, ErrNilProcessor, func() { NewPool[int](1, 1, nil) })
}

func TestPoolLifecycle(t *testing.T) {
	var processed atomic.Int64
	pool := NewPool(2, 10, func(context.Context, int) error {
		processed.Add(1)
		return nil
	})

	assert.ErrorIs(t, pool.Submit(1), ErrPoolNotStarted)

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	assert.ErrorIs(t, pool.Start(ctx), ErrPoolAlreadyStarted)

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(i))
	}

	// Stop drains what was queued
	require.NoError(t, pool.Stop(5*time.Second))
	assert.Equal(t, int64(5), processed.Load())
	assert.ErrorIs(t, pool.Submit(6), ErrPoolStopped)
	assert.NoError(t, pool.Stop(time.Second))
}

func TestPoolQueueFull(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(1, 1, func(context.Context, int) error {
		<-release
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(1))
	// wait for the worker to take the first item
	require.Eventually(t, func() bool { return pool.Stats().QueueDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Submit(2))
	assert.ErrorIs(t, pool.Submit(3), ErrQueueFull)

	close(release)
	require.NoError(t, pool.Stop(5*time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(2), stats.Submitted)
	assert.Equal(t, int64(1), stats.Dropped)
}

func TestPoolErrorsAndPanics(t *testing.T) {
	var mu sync.Mutex
	var seen []error

	boom := errors.New("boom")
	pool := NewPool(1, 10, func(_ context.Context, n int) error {
		switch n {
		case 1:
			return boom
		case 2:
			panic("bad item")
		}
		return nil
	}, WithErrorHandler[int](func(err error) {
		mu.Lock()
		seen = append(seen, err)
		mu.Unlock()
	}))

	require.NoError(t, pool.Start(context.Background()))
	for _, n := range []int{1, 2, 3} {
		require.NoError(t, pool.Submit(n))
	}
	require.NoError(t, pool.Stop(5*time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.ErrorIs(t, seen[0], boom)
	assert.ErrorIs(t, seen[1], ErrWorkPanicked)

	stats := pool.Stats()
	assert.Equal(t, int64(3), stats.Processed)
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.Panicked)
}

func TestPoolCancellation(t *testing.T) {
	pool := NewPool(2, 10, func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pool.Start(ctx))
	require.NoError(t, pool.Submit(1))

	cancel()
	assert.NoError(t, pool.Stop(5*time.Second))
}

func TestBackgroundRunsJobs(t *testing.T) {
	bg := NewBackground(2, 8)
	require.NoError(t, bg.Start(context.Background()))

	done := make(chan string, 1)
	require.NoError(t, bg.Submit(func(context.Context) error {
		done <- "read"
		return nil
	}))

	select {
	case got := <-done:
		assert.Equal(t, "read", got)
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}

	assert.ErrorIs(t, bg.Submit(nil), ErrNilProcessor)
	require.NoError(t, bg.Stop(5*time.Second))
}

func TestPoolMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pool := NewPool(1, 4, func(context.Context, int) error { return nil },
		WithMetricsRegistry[int](registry, "test"))
	require.NotNil(t, pool.metrics)

	// a second pool under the same prefix still works, without metrics
	second := NewPool(1, 4, func(context.Context, int) error { return nil },
		WithMetricsRegistry[int](registry, "test"))
	assert.Nil(t, second.metrics)

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(1))
	require.NoError(t, pool.Stop(5*time.Second))

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "vigraph_test_submitted_total")
}
