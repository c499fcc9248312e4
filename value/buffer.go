package value

import (
	"slices"
	"sync/atomic"
)

// Buffer is a reference-counted sample or pixel store shared between Values.
// A bitmap is Width x Height RGBA pixels (4 samples each); a waveform is Width
// samples on Height channels. Buffers are never modified after construction.
type Buffer struct {
	refs   atomic.Int32
	width  int
	height int
	data   []float32
}

// NewBuffer creates a buffer owning data. The caller must not modify data after
// the call. The returned buffer holds no references until wrapped in a Value.
func NewBuffer(width, height int, data []float32) *Buffer {
	return &Buffer{width: width, height: height, data: data}
}

// Width returns the buffer's first dimension
func (b *Buffer) Width() int { return b.width }

// Height returns the buffer's second dimension
func (b *Buffer) Height() int { return b.height }

// Data returns the samples. The slice is shared and must be treated as read-only.
func (b *Buffer) Data() []float32 { return b.data }

// Refs returns the number of Values currently holding the buffer
func (b *Buffer) Refs() int { return int(b.refs.Load()) }

// Retain adds a reference
func (b *Buffer) Retain() { b.refs.Add(1) }

// Release drops a reference. Releasing an unreferenced buffer is a no-op.
func (b *Buffer) Release() {
	for {
		n := b.refs.Load()
		if n <= 0 || b.refs.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// Copy returns an independent buffer with the same dimensions and samples and
// one reference.
func (b *Buffer) Copy() *Buffer {
	c := &Buffer{width: b.width, height: b.height, data: slices.Clone(b.data)}
	c.refs.Store(1)
	return c
}

// Equal compares dimensions and samples
func (b *Buffer) Equal(o *Buffer) bool {
	if b == o {
		return true
	}
	if b == nil || o == nil {
		return false
	}
	return b.width == o.width && b.height == o.height && slices.Equal(b.data, o.data)
}
