// Package router delivers values between elements that are not directly
// connected, through named typed channels.
//
// Delivery is ordered by tick position. A read at position p sees the latest
// value published this tick from a position before p; otherwise it sees the
// value committed at the end of the previous tick. When several publishers
// write the same channel in one tick, the one latest in tick order wins.
// Delivery therefore does not depend on how a tick's batches were scheduled.
package router

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/tick"
	"github.com/vigraph/vg-server-sub000/value"
)

// Receiver is called with a channel's committed value at the end of each tick
// in which the channel was published. v is only valid during the call; Clone
// it to keep it.
type Receiver func(channel string, v value.Value)

// Subscription is a push subscription returned by Subscribe
type Subscription struct {
	id      uint64
	channel string
	fn      Receiver
}

// Channel returns the subscribed channel name
func (s *Subscription) Channel() string { return s.channel }

// Source injects values at the start of a tick
type Source interface {
	Inject(r *Router)
}

type write struct {
	pos tick.Position
	v   value.Value
}

type channel struct {
	name      string
	typ       value.Type
	committed value.Value
	writes    []write

	publishers  map[string]struct{}
	readers     map[string]struct{}
	subscribers map[uint64]*Subscription
}

func (c *channel) referenced() bool {
	return len(c.publishers) > 0 || len(c.readers) > 0 || len(c.subscribers) > 0
}

// latestBefore returns the write with the greatest position before pos
func (c *channel) latestBefore(pos tick.Position) (write, bool) {
	var best write
	found := false
	for _, w := range c.writes {
		if pos != nil && !w.pos.Before(pos) {
			continue
		}
		if !found || best.pos.Before(w.pos) {
			best = w
			found = true
		}
	}
	return best, found
}

// Router owns the channel table. It survives graph reloads.
type Router struct {
	mu       sync.Mutex
	channels map[string]*channel
	nextID   uint64
	sources  []Source
	commits  []Receiver
	logger   *slog.Logger
}

// Option configures a Router
type Option func(*Router)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// New creates an empty Router
func New(opts ...Option) *Router {
	r := &Router{
		channels: make(map[string]*channel),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// channelLocked returns the named channel, creating it with type t. An
// existing channel of another type fails with ErrChannelTypeMismatch.
func (r *Router) channelLocked(name string, t value.Type) (*channel, error) {
	if name == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Router", "channel", "empty channel name")
	}
	c, ok := r.channels[name]
	if !ok {
		c = &channel{
			name:        name,
			typ:         t,
			publishers:  make(map[string]struct{}),
			readers:     make(map[string]struct{}),
			subscribers: make(map[uint64]*Subscription),
		}
		r.channels[name] = c
		return c, nil
	}
	if c.typ != t {
		return nil, errors.Errorf(errors.ErrChannelTypeMismatch, "channel %q carries %s, not %s", name, c.typ, t)
	}
	return c, nil
}

// Publish writes v to a channel from the given tick position. The first
// publish to an unknown channel creates it with v's type.
func (r *Router) Publish(pos tick.Position, name string, v value.Value) error {
	if v.IsNone() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.channelLocked(name, v.Type())
	if err != nil {
		return err
	}
	for i, w := range c.writes {
		if w.pos.Compare(pos) == 0 {
			w.v.Release()
			c.writes[i].v = v.Clone()
			return nil
		}
	}
	c.writes = append(c.writes, write{pos: slices.Clone(pos), v: v.Clone()})
	return nil
}

// Discard drops the publishes made from pos this tick. The graph calls it for
// a faulted element so that nothing it sent before failing is read or
// committed.
func (r *Router) Discard(pos tick.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.channels {
		c.writes = slices.DeleteFunc(c.writes, func(w write) bool {
			if w.pos.Compare(pos) != 0 {
				return false
			}
			w.v.Release()
			return true
		})
	}
}

// Read returns the value visible at pos. Unknown channels read as None.
// A nil position sees every publish made so far this tick.
func (r *Router) Read(pos tick.Position, name string) (value.Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.channels[name]
	if !ok {
		return value.None(), nil
	}
	if w, ok := c.latestBefore(pos); ok {
		return w.v.Clone(), nil
	}
	return c.committed.Clone(), nil
}

// Type returns a channel's value type
func (r *Router) Type(name string) (value.Type, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[name]
	if !ok {
		return value.TypeNone, false
	}
	return c.typ, true
}

// Advertise records that publisher will publish on the channel
func (r *Router) Advertise(name string, t value.Type, publisher string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.channelLocked(name, t)
	if err != nil {
		return err
	}
	c.publishers[publisher] = struct{}{}
	return nil
}

// Listen records that reader pulls from the channel with Read
func (r *Router) Listen(name string, t value.Type, reader string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.channelLocked(name, t)
	if err != nil {
		return err
	}
	c.readers[reader] = struct{}{}
	return nil
}

// Compatible reports whether the channel could be bound with type t once the
// references of the released holders are dropped. A channel of another type
// fails with ErrChannelTypeMismatch while anything else still references it.
func (r *Router) Compatible(name string, t value.Type, released func(holder string) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.channels[name]
	if !ok || c.typ == t {
		return nil
	}
	if len(c.subscribers) > 0 {
		return errors.Errorf(errors.ErrChannelTypeMismatch, "channel %q carries %s for %d subscribers, not %s", name, c.typ, len(c.subscribers), t)
	}
	for _, holders := range []map[string]struct{}{c.publishers, c.readers} {
		for h := range holders {
			if released == nil || !released(h) {
				return errors.Errorf(errors.ErrChannelTypeMismatch, "channel %q carries %s for %s, not %s", name, c.typ, h, t)
			}
		}
	}
	return nil
}

// Release drops every publisher and reader reference held by holder
func (r *Router) Release(holder string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.channels {
		delete(c.publishers, holder)
		delete(c.readers, holder)
	}
}

// Subscribe registers fn for a channel's committed values
func (r *Router) Subscribe(name string, t value.Type, fn Receiver) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.channelLocked(name, t)
	if err != nil {
		return nil, err
	}
	r.nextID++
	sub := &Subscription{id: r.nextID, channel: name, fn: fn}
	c.subscribers[sub.id] = sub
	return sub, nil
}

// Unsubscribe removes a subscription
func (r *Router) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.channels[sub.channel]; ok {
		delete(c.subscribers, sub.id)
	}
}

// AddSource registers a source that injects values at the start of each tick
func (r *Router) AddSource(s Source) {
	r.mu.Lock()
	r.sources = append(r.sources, s)
	r.mu.Unlock()
}

// OnCommit registers fn to see every committed value, after subscribers
func (r *Router) OnCommit(fn Receiver) {
	r.mu.Lock()
	r.commits = append(r.commits, fn)
	r.mu.Unlock()
}

// BeginTick lets registered sources inject values. Injected values publish at
// the root position, before every element.
func (r *Router) BeginTick() {
	r.mu.Lock()
	sources := slices.Clone(r.sources)
	r.mu.Unlock()

	for _, s := range sources {
		s.Inject(r)
	}
}

type delivery struct {
	channel string
	v       value.Value
	fns     []Receiver
}

// EndTick commits the winning publish of every channel written this tick,
// delivers it to subscribers and returns publish counts per channel.
func (r *Router) EndTick() map[string]int {
	r.mu.Lock()

	var activity map[string]int
	var deliveries []delivery
	for name, c := range r.channels {
		if len(c.writes) == 0 {
			continue
		}
		if activity == nil {
			activity = make(map[string]int)
		}
		activity[name] = len(c.writes)

		last, _ := c.latestBefore(nil)
		c.committed.Release()
		c.committed = last.v.Clone()
		for _, w := range c.writes {
			w.v.Release()
		}
		c.writes = c.writes[:0]

		d := delivery{channel: name, v: c.committed}
		for _, id := range sortedIDs(c.subscribers) {
			d.fns = append(d.fns, c.subscribers[id].fn)
		}
		d.fns = append(d.fns, r.commits...)
		deliveries = append(deliveries, d)
	}
	r.mu.Unlock()

	sort.Slice(deliveries, func(i, j int) bool { return deliveries[i].channel < deliveries[j].channel })
	for _, d := range deliveries {
		for _, fn := range d.fns {
			r.deliver(fn, d.channel, d.v)
		}
	}
	return activity
}

func (r *Router) deliver(fn Receiver, name string, v value.Value) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("channel receiver panicked", "channel", name, "panic", fmt.Sprint(p))
		}
	}()
	fn(name, v)
}

// Collect removes channels with no publisher, reader or subscriber and
// returns their names
func (r *Router) Collect() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for name, c := range r.channels {
		if c.referenced() || len(c.writes) > 0 {
			continue
		}
		c.committed.Release()
		delete(r.channels, name)
		removed = append(removed, name)
	}
	sort.Strings(removed)
	if len(removed) > 0 {
		r.logger.Debug("collected channels", "channels", removed)
	}
	return removed
}

// Channels returns channel names, sorted
func (r *Router) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info describes a channel
type Info struct {
	Name        string     `json:"name"`
	Type        value.Type `json:"type"`
	Publishers  []string   `json:"publishers,omitempty"`
	Readers     []string   `json:"readers,omitempty"`
	Subscribers int        `json:"subscribers"`
}

// Describe returns information about every channel, sorted by name
func (r *Router) Describe() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, len(r.channels))
	for _, c := range r.channels {
		out = append(out, Info{
			Name:        c.name,
			Type:        c.typ,
			Publishers:  sortedKeys(c.publishers),
			Readers:     sortedKeys(c.readers),
			Subscribers: len(c.subscribers),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var _ tick.Router = (*Router)(nil)

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedIDs(m map[uint64]*Subscription) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
