package buffer

import (
	"sync/atomic"
	"time"
)

// Statistics counts buffer operations. All methods are safe for concurrent use.
type Statistics struct {
	calls   atomic.Int64
	writes  atomic.Int64
	reads   atomic.Int64
	drops   atomic.Int64
	size    atomic.Int64
	maxSize atomic.Int64
	start   time.Time
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{start: time.Now()}
}

func (s *Statistics) call()      { s.calls.Add(1) }
func (s *Statistics) write()     { s.writes.Add(1) }
func (s *Statistics) read(n int) { s.reads.Add(int64(n)) }
func (s *Statistics) drop()      { s.drops.Add(1) }

func (s *Statistics) setSize(size int) {
	v := int64(size)
	s.size.Store(v)
	for {
		cur := s.maxSize.Load()
		if v <= cur || s.maxSize.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Writes returns the number of accepted writes.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the number of items removed by reads.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Drops returns the number of items lost to the overflow policy.
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// CurrentSize returns the last observed size.
func (s *Statistics) CurrentSize() int64 { return s.size.Load() }

// MaxSize returns the largest observed size.
func (s *Statistics) MaxSize() int64 { return s.maxSize.Load() }

// DropRate returns drops as a fraction of Write calls.
func (s *Statistics) DropRate() float64 {
	calls := s.calls.Load()
	if calls == 0 {
		return 0
	}
	return float64(s.Drops()) / float64(calls)
}

// Uptime returns the time since the statistics were created.
func (s *Statistics) Uptime() time.Duration {
	return time.Since(s.start)
}

// StatsSummary is a point-in-time copy of the counters.
type StatsSummary struct {
	Writes      int64   `json:"writes"`
	Reads       int64   `json:"reads"`
	Drops       int64   `json:"drops"`
	CurrentSize int64   `json:"current_size"`
	MaxSize     int64   `json:"max_size"`
	DropRate    float64 `json:"drop_rate"`
}

// Summary returns a copy of all counters.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Writes:      s.Writes(),
		Reads:       s.Reads(),
		Drops:       s.Drops(),
		CurrentSize: s.CurrentSize(),
		MaxSize:     s.MaxSize(),
		DropRate:    s.DropRate(),
	}
}
