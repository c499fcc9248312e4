package buffer

import (
	"sync"

	"github.com/vigraph/vg-server-sub000/errors"
)

type circularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // next write
	tail     int // next read
	stats    *Statistics
	metrics  *bufferMetrics
	opts     *bufferOptions[T]
	closed   bool
}

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) (*circularBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.Wrap(err, "Buffer", "New", "metrics registration")
		}
	}

	return &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}, nil
}

func (cb *circularBuffer[T]) Write(item T) error {
	var dropped T
	var hasDropped bool

	cb.mu.Lock()
	if cb.closed {
		cb.mu.Unlock()
		return errors.WrapInvalid(errors.ErrShuttingDown, "Buffer", "Write", "buffer closed")
	}
	cb.stats.call()

	if cb.size == cb.capacity {
		cb.stats.drop()
		if cb.metrics != nil {
			cb.metrics.recordDrop()
		}
		if cb.opts.overflowPolicy == DropNewest {
			cb.mu.Unlock()
			if cb.opts.dropCallback != nil {
				cb.opts.dropCallback(item)
			}
			return nil
		}
		dropped, hasDropped = cb.items[cb.tail], true
		cb.tail = (cb.tail + 1) % cb.capacity
		cb.size--
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++

	cb.stats.write()
	cb.stats.setSize(cb.size)
	if cb.metrics != nil {
		cb.metrics.recordWrite(cb.size)
	}
	cb.mu.Unlock()

	if hasDropped && cb.opts.dropCallback != nil {
		cb.opts.dropCallback(dropped)
	}
	return nil
}

func (cb *circularBuffer[T]) Read() (T, bool) {
	items := cb.ReadBatch(1)
	if len(items) == 0 {
		var zero T
		return zero, false
	}
	return items[0], true
}

func (cb *circularBuffer[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	n := min(max, cb.size)
	if n == 0 {
		return nil
	}

	var zero T
	out := make([]T, n)
	for i := range out {
		out[i] = cb.items[cb.tail]
		cb.items[cb.tail] = zero
		cb.tail = (cb.tail + 1) % cb.capacity
	}
	cb.size -= n

	cb.stats.read(n)
	cb.stats.setSize(cb.size)
	if cb.metrics != nil {
		cb.metrics.recordRead(n, cb.size)
	}
	return out
}

func (cb *circularBuffer[T]) Peek() (T, bool) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.size == 0 {
		var zero T
		return zero, false
	}
	return cb.items[cb.tail], true
}

func (cb *circularBuffer[T]) Snapshot() []T {
	return cb.Last(cb.capacity)
}

func (cb *circularBuffer[T]) Last(n int) []T {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	n = min(n, cb.size)
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	first := cb.tail + cb.size - n
	for i := range out {
		out[i] = cb.items[(first+i)%cb.capacity]
	}
	return out
}

func (cb *circularBuffer[T]) Size() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size
}

func (cb *circularBuffer[T]) Capacity() int {
	return cb.capacity
}

func (cb *circularBuffer[T]) IsFull() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == cb.capacity
}

func (cb *circularBuffer[T]) IsEmpty() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == 0
}

// Clear drops every held item, passing each to the drop callback.
func (cb *circularBuffer[T]) Clear() {
	cb.mu.Lock()
	var dropped []T
	if cb.opts.dropCallback != nil {
		dropped = make([]T, cb.size)
		for i := range dropped {
			dropped[i] = cb.items[(cb.tail+i)%cb.capacity]
		}
	}
	clear(cb.items)
	cb.head, cb.tail, cb.size = 0, 0, 0
	cb.stats.setSize(0)
	if cb.metrics != nil {
		cb.metrics.size.Set(0)
	}
	cb.mu.Unlock()

	for _, item := range dropped {
		cb.opts.dropCallback(item)
	}
}

func (cb *circularBuffer[T]) Stats() *Statistics {
	return cb.stats
}

// Close rejects further writes. Held items stay readable.
func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.closed = true
	return nil
}
