// Package multigraph composes named sub-graphs into one tickable unit and
// exposes selected internal pins as boundary pins of the composition.
// A MultiGraph is itself a graph.Unit, so compositions nest to any depth.
package multigraph

import (
	"container/heap"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vigraph/vg-server-sub000/element"
	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/graph"
	"github.com/vigraph/vg-server-sub000/tick"
	"github.com/vigraph/vg-server-sub000/value"
)

// Sub is a named sub-graph
type Sub struct {
	Name string
	Unit graph.Unit
}

// Boundary maps a pin visible on the MultiGraph to a pin inside a sub-graph
type Boundary struct {
	Name     string     `json:"name"`
	Subgraph string     `json:"subgraph"`
	Internal string     `json:"internal"`
	Type     value.Type `json:"type"`

	pin *element.Pin
}

// MultiGraph owns named sub-graphs, typed connections between their pins, and
// boundary pins. Connections at this level follow the same rules as inside a
// Graph: matching types, one source per input, no cycles between sub-graphs.
type MultiGraph struct {
	mu          sync.RWMutex
	subs        map[string]graph.Unit
	names       []string
	boundary    map[string]*Boundary
	exposed     []string
	connections []graph.Connection

	order  []string
	logger *slog.Logger
}

// Option configures a MultiGraph
type Option func(*MultiGraph)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *MultiGraph) { m.logger = logger }
}

// New creates an empty MultiGraph
func New(opts ...Option) *MultiGraph {
	m := &MultiGraph{
		subs:     make(map[string]graph.Unit),
		boundary: make(map[string]*Boundary),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddSubgraph adds a unit under a name
func (m *MultiGraph) AddSubgraph(name string, unit graph.Unit) error {
	if err := element.ValidateID(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subs[name]; exists {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "MultiGraph", "AddSubgraph", fmt.Sprintf("duplicate sub-graph %q", name))
	}
	m.subs[name] = unit
	m.names = append(m.names, name)
	m.order = nil
	return nil
}

// RemoveSubgraph detaches a sub-graph together with its connections and
// boundary pins. The unit is returned unclosed.
func (m *MultiGraph) RemoveSubgraph(name string) (graph.Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	unit, ok := m.subs[name]
	if !ok {
		return nil, errors.Errorf(errors.ErrUnknownPin, "no sub-graph %q", name)
	}

	m.connections = slices.DeleteFunc(m.connections, func(c graph.Connection) bool {
		if c.From.Element != name && c.To.Element != name {
			return false
		}
		if dst, err := m.resolveLocked(c.To); err == nil {
			dst.Unlink()
		}
		return true
	})
	for _, b := range m.boundary {
		if b.Subgraph == name {
			delete(m.boundary, b.Name)
		}
	}
	m.exposed = slices.DeleteFunc(m.exposed, func(n string) bool { _, ok := m.boundary[n]; return !ok })

	delete(m.subs, name)
	m.names = slices.DeleteFunc(m.names, func(n string) bool { return n == name })
	m.order = nil
	return unit, nil
}

// ReplaceSubgraph swaps the unit behind a name. Connections and boundary pins
// that still resolve with the same types are re-linked to the new unit; the
// rest are dropped and returned. The old unit is returned unclosed.
func (m *MultiGraph) ReplaceSubgraph(name string, unit graph.Unit) (graph.Unit, []graph.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.subs[name]
	if !ok {
		return nil, nil, errors.Errorf(errors.ErrUnknownPin, "no sub-graph %q", name)
	}

	for _, c := range m.connections {
		if c.From.Element == name || c.To.Element == name {
			if dst, err := m.resolveLocked(c.To); err == nil {
				dst.Unlink()
			}
		}
	}
	m.subs[name] = unit
	return old, m.relinkLocked(), nil
}

// ExposePin makes an internal pin of a sub-graph visible as a boundary pin
func (m *MultiGraph) ExposePin(boundary, subgraph, internal string) error {
	if err := element.ValidateID(boundary); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.boundary[boundary]; exists {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "MultiGraph", "ExposePin", fmt.Sprintf("duplicate boundary pin %q", boundary))
	}
	unit, ok := m.subs[subgraph]
	if !ok {
		return errors.Errorf(errors.ErrUnknownPin, "no sub-graph %q", subgraph)
	}
	pin, err := unit.Pin(internal)
	if err != nil {
		return err
	}
	m.boundary[boundary] = &Boundary{Name: boundary, Subgraph: subgraph, Internal: internal, Type: pin.Type(), pin: pin}
	m.exposed = append(m.exposed, boundary)
	return nil
}

// Connect links an output pin of one sub-graph to an input pin of another.
// Paths are "subgraph.internal-path", e.g. "voice.osc.output".
func (m *MultiGraph) Connect(from, to string) error {
	src, err := splitPath(from)
	if err != nil {
		return err
	}
	dst, err := splitPath(to)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	srcPin, err := m.resolveDirLocked(src, element.DirectionOutput)
	if err != nil {
		return err
	}
	dstPin, err := m.resolveDirLocked(dst, element.DirectionInput)
	if err != nil {
		return err
	}
	if srcPin.Type() != dstPin.Type() {
		return errors.Errorf(errors.ErrTypeMismatch, "cannot connect %s (%s) to %s (%s)", from, srcPin.Type(), to, dstPin.Type())
	}
	if dstPin.Source() != nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "MultiGraph", "Connect", fmt.Sprintf("input %s already connected", to))
	}
	if src.Element == dst.Element || m.reachableLocked(dst.Element, src.Element) {
		return errors.Errorf(errors.ErrCyclicGraph, "connecting %s to %s closes a cycle between sub-graphs", from, to)
	}

	if err := dstPin.Link(srcPin); err != nil {
		return err
	}
	m.connections = append(m.connections, graph.Connection{From: src, To: dst})
	m.order = nil
	return nil
}

// Disconnect removes a connection between sub-graphs
func (m *MultiGraph) Disconnect(from, to string) error {
	src, err := splitPath(from)
	if err != nil {
		return err
	}
	dst, err := splitPath(to)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i := slices.Index(m.connections, graph.Connection{From: src, To: dst})
	if i < 0 {
		return errors.Errorf(errors.ErrUnknownPin, "no connection %s -> %s", from, to)
	}
	if p, err := m.resolveLocked(dst); err == nil {
		p.Unlink()
	}
	m.connections = slices.Delete(m.connections, i, i+1)
	m.order = nil
	return nil
}

// Refresh re-resolves every connection and boundary pin after the inside of a
// sub-graph changed. Connections whose pins vanished or changed are unlinked,
// dropped and returned.
func (m *MultiGraph) Refresh() []graph.Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.relinkLocked()
}

func (m *MultiGraph) relinkLocked() []graph.Connection {
	var dropped []graph.Connection
	kept := m.connections[:0]
	for _, c := range m.connections {
		src, serr := m.resolveDirLocked(c.From, element.DirectionOutput)
		dst, derr := m.resolveDirLocked(c.To, element.DirectionInput)
		switch {
		case serr != nil || derr != nil || src.Type() != dst.Type():
			if derr == nil && (serr != nil || dst.Source() == src) {
				dst.Unlink()
			}
			dropped = append(dropped, c)
			continue
		case dst.Source() == nil:
			if err := dst.Link(src); err != nil {
				dropped = append(dropped, c)
				continue
			}
		case dst.Source() != src:
			dst.Unlink()
			if err := dst.Link(src); err != nil {
				dropped = append(dropped, c)
				continue
			}
		}
		kept = append(kept, c)
	}
	m.connections = kept

	for _, name := range m.exposed {
		b := m.boundary[name]
		pin, err := m.subs[b.Subgraph].Pin(b.Internal)
		if err != nil || pin.Type() != b.Type {
			delete(m.boundary, name)
			continue
		}
		b.pin = pin
	}
	m.exposed = slices.DeleteFunc(m.exposed, func(n string) bool { _, ok := m.boundary[n]; return !ok })

	m.order = nil
	for _, c := range dropped {
		m.logger.Info("dropped sub-graph connection", "connection", c.String())
	}
	return dropped
}

// Pin resolves a path relative to this MultiGraph: either a boundary pin name
// or "subgraph.internal-path".
func (m *MultiGraph) Pin(path string) (*element.Pin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if b, ok := m.boundary[path]; ok {
		return b.pin, nil
	}
	ref, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	return m.resolveLocked(ref)
}

// Subgraph returns a sub-graph by name
func (m *MultiGraph) Subgraph(name string) (graph.Unit, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.subs[name]
	return u, ok
}

// Names returns sub-graph names in insertion order
func (m *MultiGraph) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.names)
}

// Connections returns the connections between sub-graphs
func (m *MultiGraph) Connections() []graph.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.connections)
}

// Boundary returns the boundary pins in the order they were exposed
func (m *MultiGraph) Boundary() []Boundary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Boundary, len(m.exposed))
	for i, name := range m.exposed {
		out[i] = *m.boundary[name]
	}
	return out
}

// View runs fn against a consistent view. No tick or structural edit of this
// level runs until fn returns.
func (m *MultiGraph) View(fn func(subs []Sub, connections []graph.Connection, boundary []Boundary) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subs := make([]Sub, len(m.names))
	for i, name := range m.names {
		subs[i] = Sub{Name: name, Unit: m.subs[name]}
	}
	boundary := make([]Boundary, len(m.exposed))
	for i, name := range m.exposed {
		boundary[i] = *m.boundary[name]
	}
	return fn(subs, slices.Clone(m.connections), boundary)
}

// Order returns sub-graph names in tick order
func (m *MultiGraph) Order() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.orderLocked())
}

// Tick ticks every sub-graph once, sources before the sub-graphs they feed,
// and merges their reports with element ids prefixed by sub-graph name.
func (m *MultiGraph) Tick(ctx *tick.Context) tick.Report {
	started := time.Now()
	report := tick.Report{Tick: ctx.Tick, Start: ctx.Start}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, name := range m.orderLocked() {
		sub := m.subs[name].Tick(ctx.At(ctx.Position.Child(i), joinPath(ctx.ElementID, name)))
		report.Merge(sub, name)
	}
	report.Duration = time.Since(started)
	return report
}

// Close closes every sub-graph and empties the MultiGraph
func (m *MultiGraph) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, name := range m.names {
		if err := m.subs[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	m.subs = make(map[string]graph.Unit)
	m.names = nil
	m.boundary = make(map[string]*Boundary)
	m.exposed = nil
	m.connections = nil
	m.order = nil

	if len(errs) > 0 {
		return errors.Wrap(errors.Join(errs...), "MultiGraph", "Close", "sub-graph close")
	}
	return nil
}

func (m *MultiGraph) resolveLocked(ref graph.PinRef) (*element.Pin, error) {
	unit, ok := m.subs[ref.Element]
	if !ok {
		return nil, errors.Errorf(errors.ErrUnknownPin, "no sub-graph %q", ref.Element)
	}
	return unit.Pin(ref.Pin)
}

func (m *MultiGraph) resolveDirLocked(ref graph.PinRef, dir element.Direction) (*element.Pin, error) {
	p, err := m.resolveLocked(ref)
	if err != nil {
		return nil, err
	}
	if p.Direction() != dir {
		return nil, errors.Errorf(errors.ErrUnknownPin, "%s is not an %s pin", ref, dir)
	}
	return p, nil
}

func (m *MultiGraph) reachableLocked(from, to string) bool {
	succ := make(map[string][]string)
	for _, c := range m.connections {
		succ[c.From.Element] = append(succ[c.From.Element], c.To.Element)
	}
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}
		for _, next := range succ[n] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// orderLocked sorts sub-graphs topologically, earliest inserted first among
// those ready. Connect keeps this level acyclic.
func (m *MultiGraph) orderLocked() []string {
	if m.order != nil {
		return m.order
	}

	rank := make(map[string]int, len(m.names))
	for i, name := range m.names {
		rank[name] = i
	}
	indegree := make(map[string]int)
	succ := make(map[string][]string)
	for _, c := range m.connections {
		succ[c.From.Element] = append(succ[c.From.Element], c.To.Element)
		indegree[c.To.Element]++
	}

	ready := &rankHeap{rank: rank}
	for _, name := range m.names {
		if indegree[name] == 0 {
			heap.Push(ready, name)
		}
	}
	order := make([]string, 0, len(m.names))
	for ready.Len() > 0 {
		name := heap.Pop(ready).(string)
		order = append(order, name)
		for _, next := range succ[name] {
			indegree[next]--
			if indegree[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}
	m.order = order
	return order
}

func splitPath(path string) (graph.PinRef, error) {
	sub, rest, ok := strings.Cut(path, ".")
	if !ok || sub == "" || rest == "" {
		return graph.PinRef{}, errors.Errorf(errors.ErrUnknownPin, "malformed sub-graph pin path %q", path)
	}
	return graph.PinRef{Element: sub, Pin: rest}, nil
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

type rankHeap struct {
	names []string
	rank  map[string]int
}

func (h *rankHeap) Len() int           { return len(h.names) }
func (h *rankHeap) Less(i, j int) bool { return h.rank[h.names[i]] < h.rank[h.names[j]] }
func (h *rankHeap) Swap(i, j int)      { h.names[i], h.names[j] = h.names[j], h.names[i] }
func (h *rankHeap) Push(x any)         { h.names = append(h.names, x.(string)) }
func (h *rankHeap) Pop() any {
	old := h.names
	n := len(old)
	x := old[n-1]
	h.names = old[:n-1]
	return x
}
