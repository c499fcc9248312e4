package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/metric"
)

func TestCircularBufferBasicOperations(t *testing.T) {
	buf, err := NewCircularBuffer[string](3)
	require.NoError(t, err)
	defer buf.Close()

	assert.True(t, buf.IsEmpty())
	assert.Equal(t, 3, buf.Capacity())

	for _, s := range []string{"first", "second", "third"} {
		require.NoError(t, buf.Write(s))
	}
	assert.True(t, buf.IsFull())

	item, ok := buf.Peek()
	require.True(t, ok)
	assert.Equal(t, "first", item)
	assert.Equal(t, 3, buf.Size(), "peek must not remove")

	item, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, "first", item)
	assert.Equal(t, []string{"second", "third"}, buf.ReadBatch(10))

	_, ok = buf.Read()
	assert.False(t, ok)
	assert.Nil(t, buf.ReadBatch(0))
}

func TestOverflowPolicies(t *testing.T) {
	tests := []struct {
		policy  OverflowPolicy
		want    []int
		dropped []int
	}{
		{DropOldest, []int{3, 4, 5}, []int{1, 2}},
		{DropNewest, []int{1, 2, 3}, []int{4, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			var dropped []int
			buf, err := NewCircularBuffer[int](3,
				WithOverflowPolicy[int](tt.policy),
				WithDropCallback[int](func(i int) { dropped = append(dropped, i) }))
			require.NoError(t, err)

			for i := 1; i <= 5; i++ {
				require.NoError(t, buf.Write(i))
			}
			assert.Equal(t, tt.want, buf.Snapshot())
			assert.Equal(t, tt.dropped, dropped)
			assert.Equal(t, int64(2), buf.Stats().Drops())
			assert.InDelta(t, 0.4, buf.Stats().DropRate(), 1e-9)
		})
	}
}

func TestLastWrapsAround(t *testing.T) {
	buf, err := NewCircularBuffer[int](4)
	require.NoError(t, err)

	for i := 1; i <= 6; i++ {
		require.NoError(t, buf.Write(i))
	}
	assert.Equal(t, []int{3, 4, 5, 6}, buf.Snapshot())
	assert.Equal(t, []int{5, 6}, buf.Last(2))
	assert.Equal(t, []int{3, 4, 5, 6}, buf.Last(100))
	assert.Nil(t, buf.Last(0))
	assert.Equal(t, 4, buf.Size(), "snapshot must not remove")
}

func TestClearAndClose(t *testing.T) {
	var dropped []string
	buf, err := NewCircularBuffer[string](2, WithDropCallback[string](func(s string) {
		dropped = append(dropped, s)
	}))
	require.NoError(t, err)

	require.NoError(t, buf.Write("a"))
	require.NoError(t, buf.Write("b"))
	buf.Clear()
	assert.Equal(t, []string{"a", "b"}, dropped)
	assert.True(t, buf.IsEmpty())

	require.NoError(t, buf.Write("c"))
	require.NoError(t, buf.Close())
	err = buf.Write("d")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	item, ok := buf.Read()
	assert.True(t, ok)
	assert.Equal(t, "c", item)
}

func TestMinimumCapacity(t *testing.T) {
	buf, err := NewCircularBuffer[int](0)
	require.NoError(t, err)
	assert.Equal(t, 1, buf.Capacity())
}

func TestConcurrentWriters(t *testing.T) {
	buf, err := NewCircularBuffer[int](64)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = buf.Write(i)
				_ = buf.Last(4)
			}
		}()
	}
	wg.Wait()

	stats := buf.Stats().Summary()
	assert.Equal(t, int64(800), stats.Writes)
	assert.Equal(t, int64(800-64), stats.Drops)
	assert.Equal(t, int64(64), stats.MaxSize)
}

func TestBufferMetrics(t *testing.T) {
	reg := metric.NewMetricsRegistry()

	buf, err := NewCircularBuffer[int](2, WithMetrics[int](reg, "reports"))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, buf.Write(i))
	}

	families, err := reg.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["vigraph_buffer_writes_total"])
	assert.True(t, names["vigraph_buffer_drops_total"])

	_, err = NewCircularBuffer[int](2, WithMetrics[int](reg, "reports"))
	require.Error(t, err, "duplicate metrics registration")
	assert.True(t, errors.IsInvalid(err))
}
