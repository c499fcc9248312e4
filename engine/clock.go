package engine

import (
	"sync"
	"time"
)

// Clock is the engine's time source. C delivers wall-clock tick signals; a
// nil channel means ticks only happen through Engine.Step.
type Clock interface {
	Now() time.Time
	Start(interval time.Duration)
	C() <-chan time.Time
	Stop()
}

// WallClock ticks on a time.Ticker
type WallClock struct {
	mu     sync.Mutex
	ticker *time.Ticker
}

// NewWallClock returns a stopped wall clock
func NewWallClock() *WallClock { return &WallClock{} }

// Now returns the current time
func (c *WallClock) Now() time.Time { return time.Now() }

// Start begins ticking every interval, restarting any previous ticker
func (c *WallClock) Start(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticker != nil {
		c.ticker.Reset(interval)
		return
	}
	c.ticker = time.NewTicker(interval)
}

// C returns the ticker channel, nil before Start
func (c *WallClock) C() <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticker == nil {
		return nil
	}
	return c.ticker.C
}

// Stop stops the ticker
func (c *WallClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

// ManualClock is logical time. It never ticks by itself; each Engine.Step
// advances it by the tick interval.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a logical clock starting at start
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the logical time
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves logical time forward
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *ManualClock) Start(time.Duration) {}
func (c *ManualClock) C() <-chan time.Time { return nil }
func (c *ManualClock) Stop()               {}

type advancer interface {
	Advance(d time.Duration)
}
