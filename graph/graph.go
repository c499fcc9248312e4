// Package graph owns a set of elements and the direct connections between them,
// computes their tick order and executes ticks.
package graph

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/vigraph/vg-server-sub000/element"
	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/tick"
	"github.com/vigraph/vg-server-sub000/value"
)

// Unit is anything that can be ticked as one step of a parent: a Graph or a
// MultiGraph. Pin resolves a path relative to the unit.
type Unit interface {
	Tick(ctx *tick.Context) tick.Report
	Pin(path string) (*element.Pin, error)
	Close() error
}

// Node is an element together with its graph-local id
type Node struct {
	ID      string
	Element element.Element
}

// Option configures a Graph
type Option func(*Graph)

// WithParallelism sets the maximum number of element ticks run concurrently
// within one batch. Values below 2 tick sequentially.
func WithParallelism(n int) Option {
	return func(g *Graph) { g.parallelism = n }
}

// WithLogger sets the logger used for fault reporting
func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) { g.logger = logger }
}

// Graph owns elements and the direct connections among them. Structural edits,
// ticks and snapshots are mutually exclusive.
type Graph struct {
	mu          sync.RWMutex
	nodes       map[string]element.Element
	ids         []string
	connections []Connection

	// cached schedule, nil when structure changed since it was computed
	schedule *schedule

	// elements faulted on the previous tick
	faulted map[string]bool

	parallelism int
	logger      *slog.Logger
}

// New creates an empty graph
func New(opts ...Option) *Graph {
	g := &Graph{
		nodes:       make(map[string]element.Element),
		parallelism: 1,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Parallelism returns the configured batch concurrency
func (g *Graph) Parallelism() int {
	return g.parallelism
}

// Len returns the number of elements
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.ids)
}

// AddElement adds an element under a graph-local id
func (g *Graph) AddElement(id string, e element.Element) error {
	if err := element.ValidateID(id); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Graph", "AddElement", fmt.Sprintf("duplicate id %q", id))
	}
	g.nodes[id] = e
	g.ids = append(g.ids, id)
	g.schedule = nil
	return nil
}

// RemoveElement detaches an element and every connection touching it. The
// element is returned unclosed so the caller can close it or put it back.
func (g *Graph) RemoveElement(id string) (element.Element, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.nodes[id]
	if !ok {
		return nil, errors.Errorf(errors.ErrUnknownPin, "no element %q", id)
	}

	kept := g.connections[:0]
	for _, c := range g.connections {
		if c.From.Element == id || c.To.Element == id {
			if dst, err := g.pinLocked(c.To, element.DirectionInput); err == nil {
				dst.Unlink()
			}
			continue
		}
		kept = append(kept, c)
	}
	g.connections = kept

	delete(g.nodes, id)
	g.ids = slices.DeleteFunc(g.ids, func(s string) bool { return s == id })
	g.schedule = nil
	return e, nil
}

// Connect adds a direct connection. Pin types must match, the input must be
// free, and the edge must not close a cycle. On failure the graph is unchanged.
func (g *Graph) Connect(from, to PinRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	src, err := g.pinLocked(from, element.DirectionOutput)
	if err != nil {
		return err
	}
	dst, err := g.pinLocked(to, element.DirectionInput)
	if err != nil {
		return err
	}
	if src.Type() != dst.Type() {
		return errors.Errorf(errors.ErrTypeMismatch, "cannot connect %s (%s) to %s (%s)", from, src.Type(), to, dst.Type())
	}
	if dst.Source() != nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Graph", "Connect", fmt.Sprintf("input %s already connected", to))
	}
	if from.Element == to.Element || g.reachableLocked(to.Element, from.Element) {
		return errors.Errorf(errors.ErrCyclicGraph, "connecting %s to %s closes a cycle", from, to)
	}

	if err := dst.Link(src); err != nil {
		return err
	}
	g.connections = append(g.connections, Connection{From: from, To: to})
	g.schedule = nil
	return nil
}

// Disconnect removes a direct connection
func (g *Graph) Disconnect(from, to PinRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	i := slices.Index(g.connections, Connection{From: from, To: to})
	if i < 0 {
		return errors.Errorf(errors.ErrUnknownPin, "no connection %s -> %s", from, to)
	}
	if dst, err := g.pinLocked(to, element.DirectionInput); err == nil {
		dst.Unlink()
	}
	g.connections = slices.Delete(g.connections, i, i+1)
	g.schedule = nil
	return nil
}

// SetProperty updates a property of one element between ticks
func (g *Graph) SetProperty(id, name string, v value.Value) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.nodes[id]
	if !ok {
		return errors.Errorf(errors.ErrUnknownPin, "no element %q", id)
	}
	return e.SetProperty(name, v)
}

// Element returns an element by id
func (g *Graph) Element(id string) (element.Element, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.nodes[id]
	return e, ok
}

// IDs returns element ids in insertion order
func (g *Graph) IDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.ids)
}

// Connections returns the direct connections in insertion order
func (g *Graph) Connections() []Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.connections)
}

// ConnectionsOf returns the connections touching one element
func (g *Graph) ConnectionsOf(id string) []Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Connection
	for _, c := range g.connections {
		if c.From.Element == id || c.To.Element == id {
			out = append(out, c)
		}
	}
	return out
}

// Pin resolves "element.pin" to a pin of either direction
func (g *Graph) Pin(path string) (*element.Pin, error) {
	ref, err := ParsePinRef(path)
	if err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pinLocked(ref, "")
}

// View runs fn against a consistent view of the graph. No tick or structural
// edit runs until fn returns.
func (g *Graph) View(fn func(nodes []Node, connections []Connection) error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make([]Node, len(g.ids))
	for i, id := range g.ids {
		nodes[i] = Node{ID: id, Element: g.nodes[id]}
	}
	return fn(nodes, slices.Clone(g.connections))
}

// Close closes every element holding resources and empties the graph
func (g *Graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for _, id := range g.ids {
		if c, ok := g.nodes[id].(element.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
			}
		}
	}
	for _, c := range g.connections {
		if dst, err := g.pinLocked(c.To, element.DirectionInput); err == nil {
			dst.Unlink()
		}
	}
	g.nodes = make(map[string]element.Element)
	g.ids = nil
	g.connections = nil
	g.schedule = nil

	if len(errs) > 0 {
		return errors.Wrap(errors.Join(errs...), "Graph", "Close", "element close")
	}
	return nil
}

func (g *Graph) pinLocked(ref PinRef, dir element.Direction) (*element.Pin, error) {
	e, ok := g.nodes[ref.Element]
	if !ok {
		return nil, errors.Errorf(errors.ErrUnknownPin, "no element %q", ref.Element)
	}
	p, err := e.Pin(ref.Pin)
	if err != nil {
		return nil, err
	}
	if dir != "" && p.Direction() != dir {
		return nil, errors.Errorf(errors.ErrUnknownPin, "%s is not an %s pin", ref, dir)
	}
	return p, nil
}

// reachableLocked reports whether to can be reached from from along connections
func (g *Graph) reachableLocked(from, to string) bool {
	succ := make(map[string][]string)
	for _, c := range g.connections {
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
