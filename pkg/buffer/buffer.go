// Package buffer provides a generic, thread-safe ring buffer used to keep a
// bounded history of recent items, such as the engine's tick reports.
package buffer

// Buffer is a bounded FIFO of items of type T.
type Buffer[T any] interface {
	// Write appends an item. When the buffer is full the overflow policy decides
	// which item is lost.
	Write(item T) error

	// Read removes and returns the oldest item.
	Read() (T, bool)

	// ReadBatch removes up to max items, oldest first.
	ReadBatch(max int) []T

	// Peek returns the oldest item without removing it.
	Peek() (T, bool)

	// Snapshot copies the held items, oldest first, without removing them.
	Snapshot() []T

	// Last returns up to n of the newest items, oldest first.
	Last(n int) []T

	Size() int
	Capacity() int
	IsFull() bool
	IsEmpty() bool
	Clear()

	// Stats returns counters that are always collected.
	Stats() *Statistics

	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the item being written.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called, outside the buffer lock, with every item the buffer
// discards.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a ring buffer with the given capacity. A capacity
// below one is raised to one. An error is returned only when metrics were
// requested and could not be registered.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
