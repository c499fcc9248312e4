// Package tick defines the per-tick execution environment handed to elements and
// the report a tick produces.
package tick

import (
	"context"
	"log/slog"
	"time"

	"github.com/vigraph/vg-server-sub000/value"
)

// Router is the channel service seen by elements. Reads and publishes carry the
// caller's tick Position so that delivery follows tick order.
type Router interface {
	Publish(pos Position, channel string, v value.Value) error
	Read(pos Position, channel string) (value.Value, error)
	// Discard drops every publish made from pos during the current tick
	Discard(pos Position)
}

// Spawner lets an element request structural changes to the running graph.
// Requests are queued and applied between ticks, so a request made on one
// tick has taken effect or been refused by the next.
type Spawner interface {
	// Spawn clones the sub-graph template under a new name, as a sibling of
	// the template
	Spawn(template, name string) error
	// Despawn removes a clone that Spawn made from template under name.
	// Sub-graphs not created by Spawn are never removed.
	Despawn(template, name string) error
	// Spawned reports whether the clone of template named name is live
	Spawned(template, name string) bool
}

// Background runs blocking work off the tick path. Elements stage network or
// file reads here and poll the result on later ticks.
type Background interface {
	Submit(job func(context.Context) error) error
}

// Context is rebuilt for every tick and never retained across ticks.
type Context struct {
	// Ctx is cancelled when the engine stops
	Ctx context.Context

	// Tick is the tick number, starting at 1
	Tick uint64
	// Start is the tick's start time according to the engine clock
	Start time.Time
	// Interval is the configured tick interval
	Interval time.Duration

	Router     Router
	Spawner    Spawner
	Background Background
	Logger     *slog.Logger

	// Position is the element's place in the global tick order
	Position Position
	// ElementID is the path of the element being ticked
	ElementID string
}

// At returns a copy of c positioned for one element
func (c *Context) At(pos Position, elementID string) *Context {
	cp := *c
	cp.Position = pos
	cp.ElementID = elementID
	if c.Logger != nil {
		cp.Logger = c.Logger.With("element", elementID)
	}
	return &cp
}

// Publish sends v on a router channel from the current position
func (c *Context) Publish(channel string, v value.Value) error {
	if c.Router == nil {
		return nil
	}
	return c.Router.Publish(c.Position, channel, v)
}

// Receive reads the latest value visible on a channel at the current position.
// Without a router it reads None.
func (c *Context) Receive(channel string) (value.Value, error) {
	if c.Router == nil {
		return value.None(), nil
	}
	return c.Router.Read(c.Position, channel)
}

// Seconds returns the tick start as seconds since the engine's first tick
// started, for elements computing time-based output.
func (c *Context) Seconds(origin time.Time) float64 {
	return c.Start.Sub(origin).Seconds()
}

// Log returns the context logger, never nil
func (c *Context) Log() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
