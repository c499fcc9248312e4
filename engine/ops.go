package engine

import (
	"fmt"
	"strings"

	"github.com/vigraph/vg-server-sub000/clone"
	"github.com/vigraph/vg-server-sub000/description"
	"github.com/vigraph/vg-server-sub000/element"
	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/graph"
	"github.com/vigraph/vg-server-sub000/multigraph"
)

// Op is one edit in a transaction. Graph fields are sub-graph paths such as
// "voices/v1"; the empty path is the root of the description.
type Op interface {
	// Kind names the operation for logs and results
	Kind() string
	// edit applies the operation to a description
	edit(d *description.Graph) error
	// apply applies the operation to the live structure and returns its undo
	apply(l *live) (undo func(), err error)
}

// live is the running structure as seen by a transaction
type live struct {
	b        *builder
	root     *multigraph.MultiGraph
	leafRoot bool
	// retired units and elements are closed once the transaction commits
	retired []func() error
}

func (l *live) retire(close func() error) {
	l.retired = append(l.retired, close)
}

func (l *live) unit(path string) (graph.Unit, error) {
	var cur graph.Unit = l.root
	if l.leafRoot {
		main, ok := l.root.Subgraph(MainGraph)
		if !ok {
			return nil, errors.Errorf(errors.ErrUnknownPin, "no %s graph", MainGraph)
		}
		cur = main
	}
	if path == "" {
		return cur, nil
	}
	for _, name := range strings.Split(path, "/") {
		m, ok := cur.(*multigraph.MultiGraph)
		if !ok {
			return nil, errors.Errorf(errors.ErrUnknownPin, "%q in path %q is not a composition", name, path)
		}
		if cur, ok = m.Subgraph(name); !ok {
			return nil, errors.Errorf(errors.ErrUnknownPin, "no sub-graph %q in path %q", name, path)
		}
	}
	return cur, nil
}

func (l *live) leaf(path string) (*graph.Graph, error) {
	u, err := l.unit(path)
	if err != nil {
		return nil, err
	}
	g, ok := u.(*graph.Graph)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Engine", "leaf", fmt.Sprintf("%s holds sub-graphs", orRoot(path)))
	}
	return g, nil
}

func (l *live) composition(path string) (*multigraph.MultiGraph, error) {
	u, err := l.unit(path)
	if err != nil {
		return nil, err
	}
	m, ok := u.(*multigraph.MultiGraph)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Engine", "composition", fmt.Sprintf("%s holds elements", orRoot(path)))
	}
	return m, nil
}

// at is the live path prefix of a description path, used for element paths
func (l *live) at(path string) string {
	if l.leafRoot {
		return joinPath(MainGraph, path)
	}
	return path
}

// refresh re-resolves connections between sub-graphs after inner edits
func (l *live) refresh() {
	for _, m := range compositions(l.root) {
		m.Refresh()
	}
}

// AddElement adds an element to a leaf graph
type AddElement struct {
	Graph   string              `json:"graph,omitempty"`
	Element description.Element `json:"element"`
}

func (op AddElement) Kind() string { return "add_element" }

func (op AddElement) edit(d *description.Graph) error {
	g, err := d.Find(op.Graph)
	if err != nil {
		return err
	}
	return g.AddElement(op.Element)
}

func (op AddElement) apply(l *live) (func(), error) {
	g, err := l.leaf(op.Graph)
	if err != nil {
		return nil, err
	}
	e, err := l.b.element(l.at(op.Graph), op.Element)
	if err != nil {
		return nil, err
	}
	if err := g.AddElement(op.Element.ID, e); err != nil {
		_ = closeElement(e)
		return nil, err
	}
	return func() {
		if removed, err := g.RemoveElement(op.Element.ID); err == nil {
			_ = closeElement(removed)
		}
	}, nil
}

// RemoveElement removes an element and its connections
type RemoveElement struct {
	Graph string `json:"graph,omitempty"`
	ID    string `json:"id"`
}

func (op RemoveElement) Kind() string { return "remove_element" }

func (op RemoveElement) edit(d *description.Graph) error {
	g, err := d.Find(op.Graph)
	if err != nil {
		return err
	}
	return g.RemoveElement(op.ID)
}

func (op RemoveElement) apply(l *live) (func(), error) {
	g, err := l.leaf(op.Graph)
	if err != nil {
		return nil, err
	}
	conns := g.ConnectionsOf(op.ID)
	e, err := g.RemoveElement(op.ID)
	if err != nil {
		return nil, err
	}
	l.retire(func() error { return closeElement(e) })
	return func() {
		if err := g.AddElement(op.ID, e); err != nil {
			return
		}
		for _, c := range conns {
			_ = g.Connect(c.From, c.To)
		}
	}, nil
}

// Connect links an output pin to an input pin. In a leaf graph pins are
// "element.pin"; in a composition "subgraph.internal-path".
type Connect struct {
	Graph string `json:"graph,omitempty"`
	From  string `json:"from"`
	To    string `json:"to"`
}

func (op Connect) Kind() string { return "connect" }

func (op Connect) edit(d *description.Graph) error {
	g, err := d.Find(op.Graph)
	if err != nil {
		return err
	}
	return g.Connect(description.Connection{From: op.From, To: op.To})
}

func (op Connect) apply(l *live) (func(), error) {
	u, err := l.unit(op.Graph)
	if err != nil {
		return nil, err
	}
	c := description.Connection{From: op.From, To: op.To}
	switch unit := u.(type) {
	case *graph.Graph:
		if err := connectLeaf(unit, c); err != nil {
			return nil, err
		}
		return func() { _ = disconnectLeaf(unit, c) }, nil
	case *multigraph.MultiGraph:
		if err := unit.Connect(op.From, op.To); err != nil {
			return nil, err
		}
		return func() { _ = unit.Disconnect(op.From, op.To) }, nil
	}
	return nil, errors.WrapInvalid(errors.ErrUnknownType, "Engine", "Connect", fmt.Sprintf("unit %T", u))
}

// Disconnect removes a connection
type Disconnect struct {
	Graph string `json:"graph,omitempty"`
	From  string `json:"from"`
	To    string `json:"to"`
}

func (op Disconnect) Kind() string { return "disconnect" }

func (op Disconnect) edit(d *description.Graph) error {
	g, err := d.Find(op.Graph)
	if err != nil {
		return err
	}
	return g.Disconnect(description.Connection{From: op.From, To: op.To})
}

func (op Disconnect) apply(l *live) (func(), error) {
	u, err := l.unit(op.Graph)
	if err != nil {
		return nil, err
	}
	c := description.Connection{From: op.From, To: op.To}
	switch unit := u.(type) {
	case *graph.Graph:
		if err := disconnectLeaf(unit, c); err != nil {
			return nil, err
		}
		return func() { _ = connectLeaf(unit, c) }, nil
	case *multigraph.MultiGraph:
		if err := unit.Disconnect(op.From, op.To); err != nil {
			return nil, err
		}
		return func() { _ = unit.Connect(op.From, op.To) }, nil
	}
	return nil, errors.WrapInvalid(errors.ErrUnknownType, "Engine", "Disconnect", fmt.Sprintf("unit %T", u))
}

// SetProperty changes one property of a live element. Value is a description
// literal converted with the element type's property schema.
type SetProperty struct {
	Graph   string `json:"graph,omitempty"`
	Element string `json:"element"`
	Name    string `json:"name"`
	Value   any    `json:"value"`
}

func (op SetProperty) Kind() string { return "set_property" }

func (op SetProperty) edit(d *description.Graph) error {
	g, err := d.Find(op.Graph)
	if err != nil {
		return err
	}
	return g.SetProperty(op.Element, op.Name, op.Value)
}

func (op SetProperty) apply(l *live) (func(), error) {
	g, err := l.leaf(op.Graph)
	if err != nil {
		return nil, err
	}
	e, ok := g.Element(op.Element)
	if !ok {
		return nil, errors.Errorf(errors.ErrUnknownPin, "no element %q", op.Element)
	}
	props, err := l.b.registry.ConvertProperties(e.Type(), map[string]any{op.Name: op.Value})
	if err != nil {
		return nil, err
	}
	old, _ := e.Property(op.Name)
	old = old.Clone()
	if err := g.SetProperty(op.Element, op.Name, props[op.Name]); err != nil {
		old.Release()
		return nil, err
	}
	return func() {
		_ = g.SetProperty(op.Element, op.Name, old)
		old.Release()
	}, nil
}

// AddSubgraph adds a sub-graph to a composition
type AddSubgraph struct {
	Graph    string              `json:"graph,omitempty"`
	Subgraph description.Subgraph `json:"subgraph"`
}

func (op AddSubgraph) Kind() string { return "add_subgraph" }

func (op AddSubgraph) edit(d *description.Graph) error {
	g, err := d.Find(op.Graph)
	if err != nil {
		return err
	}
	return g.AddSubgraph(op.Subgraph)
}

func (op AddSubgraph) apply(l *live) (func(), error) {
	m, err := l.composition(op.Graph)
	if err != nil {
		return nil, err
	}
	u, err := l.b.unit(joinPath(l.at(op.Graph), op.Subgraph.Name), &op.Subgraph.Graph)
	if err != nil {
		return nil, err
	}
	if err := m.AddSubgraph(op.Subgraph.Name, u); err != nil {
		_ = u.Close()
		return nil, err
	}
	return func() {
		if removed, err := m.RemoveSubgraph(op.Subgraph.Name); err == nil {
			_ = removed.Close()
		}
	}, nil
}

// RemoveSubgraph removes a sub-graph with its connections and boundary pins
type RemoveSubgraph struct {
	Graph string `json:"graph,omitempty"`
	Name  string `json:"name"`
}

func (op RemoveSubgraph) Kind() string { return "remove_subgraph" }

func (op RemoveSubgraph) edit(d *description.Graph) error {
	g, err := d.Find(op.Graph)
	if err != nil {
		return err
	}
	return g.RemoveSubgraph(op.Name)
}

func (op RemoveSubgraph) apply(l *live) (func(), error) {
	m, err := l.composition(op.Graph)
	if err != nil {
		return nil, err
	}
	var conns []graph.Connection
	for _, c := range m.Connections() {
		if c.From.Element == op.Name || c.To.Element == op.Name {
			conns = append(conns, c)
		}
	}
	var boundary []multigraph.Boundary
	for _, b := range m.Boundary() {
		if b.Subgraph == op.Name {
			boundary = append(boundary, b)
		}
	}

	u, err := m.RemoveSubgraph(op.Name)
	if err != nil {
		return nil, err
	}
	l.retire(u.Close)
	return func() { restoreSubgraph(m, op.Name, u, conns, boundary) }, nil
}

func restoreSubgraph(m *multigraph.MultiGraph, name string, u graph.Unit, conns []graph.Connection, boundary []multigraph.Boundary) {
	if err := m.AddSubgraph(name, u); err != nil {
		return
	}
	for _, b := range boundary {
		_ = m.ExposePin(b.Name, b.Subgraph, b.Internal)
	}
	for _, c := range conns {
		_ = m.Connect(c.From.String(), c.To.String())
	}
}

// SwapSubgraph replaces the graph behind a sub-graph name. Connections and
// boundary pins that still resolve with the same types are kept.
type SwapSubgraph struct {
	Graph       string            `json:"graph,omitempty"`
	Name        string            `json:"name"`
	Replacement description.Graph `json:"replacement"`
}

func (op SwapSubgraph) Kind() string { return "swap_subgraph" }

func (op SwapSubgraph) edit(d *description.Graph) error {
	g, err := d.Find(op.Graph)
	if err != nil {
		return err
	}
	return g.ReplaceSubgraph(op.Name, *op.Replacement.Copy())
}

func (op SwapSubgraph) apply(l *live) (func(), error) {
	m, err := l.composition(op.Graph)
	if err != nil {
		return nil, err
	}
	u, err := l.b.unit(joinPath(l.at(op.Graph), op.Name), &op.Replacement)
	if err != nil {
		return nil, err
	}
	old, dropped, err := m.ReplaceSubgraph(op.Name, u)
	if err != nil {
		_ = u.Close()
		return nil, err
	}
	l.retire(old.Close)
	return func() {
		if swapped, _, err := m.ReplaceSubgraph(op.Name, old); err == nil {
			_ = swapped.Close()
		}
		for _, c := range dropped {
			_ = m.Connect(c.From.String(), c.To.String())
		}
	}, nil
}

// Subscribe taps a router channel from outside the graph. Committed values
// are readable with Engine.Latest under the subscription id.
type Subscribe struct {
	Subscription description.Subscription `json:"subscription"`
}

func (op Subscribe) Kind() string { return "subscribe" }

func (op Subscribe) edit(d *description.Graph) error {
	return d.AddSubscription(op.Subscription)
}

// Subscriptions are bound with the rest of the channel references at commit
func (op Subscribe) apply(*live) (func(), error) { return func() {}, nil }

// Unsubscribe removes an external channel tap
type Unsubscribe struct {
	ID string `json:"id"`
}

func (op Unsubscribe) Kind() string { return "unsubscribe" }

func (op Unsubscribe) edit(d *description.Graph) error {
	return d.RemoveSubscription(op.ID)
}

func (op Unsubscribe) apply(*live) (func(), error) { return func() {}, nil }

// spawnOp clones a live sub-graph under a new sibling name, carrying element
// state into the clone
type spawnOp struct {
	template string
	name     string
}

func (op spawnOp) Kind() string { return "spawn" }

func (op spawnOp) edit(d *description.Graph) error {
	parent, tmpl := splitParent(op.template)
	g, err := d.Find(parent)
	if err != nil {
		return err
	}
	i := g.SubgraphIndex(tmpl)
	if i < 0 {
		return errors.Errorf(errors.ErrUnknownPin, "no template sub-graph %q", op.template)
	}
	if err := element.ValidateID(op.name); err != nil {
		return err
	}
	return g.AddSubgraph(description.Subgraph{Name: op.name, Graph: *g.Subgraphs[i].Graph.Copy()})
}

func (op spawnOp) apply(l *live) (func(), error) {
	parent, tmpl := splitParent(op.template)
	m, err := l.composition(parent)
	if err != nil {
		return nil, err
	}
	src, ok := m.Subgraph(tmpl)
	if !ok {
		return nil, errors.Errorf(errors.ErrUnknownPin, "no template sub-graph %q", op.template)
	}
	u, err := clone.Unit(l.b.registry, src)
	if err != nil {
		return nil, err
	}
	if err := m.AddSubgraph(op.name, u); err != nil {
		_ = u.Close()
		return nil, err
	}
	return func() {
		if removed, err := m.RemoveSubgraph(op.name); err == nil {
			_ = removed.Close()
		}
	}, nil
}

// despawnOp removes a sub-graph created by a spawnOp
type despawnOp struct {
	RemoveSubgraph
}

func newDespawnOp(path string) despawnOp {
	parent, name := splitParent(path)
	return despawnOp{RemoveSubgraph{Graph: parent, Name: name}}
}

func (op despawnOp) Kind() string { return "despawn" }
