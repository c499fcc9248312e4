package description

import (
	"fmt"
	"slices"
	"strings"

	"github.com/vigraph/vg-server-sub000/errors"
)

// AddElement appends an element to a leaf graph
func (g *Graph) AddElement(e Element) error {
	if g.IsComposition() {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "description", "AddElement", "graph holds sub-graphs")
	}
	if g.ElementIndex(e.ID) >= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "description", "AddElement", fmt.Sprintf("duplicate element %q", e.ID))
	}
	g.Elements = append(g.Elements, e)
	return nil
}

// RemoveElement removes an element and the connections touching it
func (g *Graph) RemoveElement(id string) error {
	i := g.ElementIndex(id)
	if i < 0 {
		return errors.Errorf(errors.ErrUnknownPin, "no element %q", id)
	}
	g.Elements = slices.Delete(g.Elements, i, i+1)
	g.Connections = slices.DeleteFunc(g.Connections, func(c Connection) bool {
		return ownerOf(c.From) == id || ownerOf(c.To) == id
	})
	return nil
}

// SetProperty records a property value on an element
func (g *Graph) SetProperty(id, name string, v any) error {
	i := g.ElementIndex(id)
	if i < 0 {
		return errors.Errorf(errors.ErrUnknownPin, "no element %q", id)
	}
	props := make(map[string]any, len(g.Elements[i].Properties)+1)
	for k, old := range g.Elements[i].Properties {
		props[k] = old
	}
	props[name] = v
	g.Elements[i].Properties = props
	return nil
}

// Connect appends a connection
func (g *Graph) Connect(c Connection) error {
	if slices.Contains(g.Connections, c) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "description", "Connect", fmt.Sprintf("duplicate connection %s -> %s", c.From, c.To))
	}
	g.Connections = append(g.Connections, c)
	return nil
}

// Disconnect removes a connection
func (g *Graph) Disconnect(c Connection) error {
	i := slices.Index(g.Connections, c)
	if i < 0 {
		return errors.Errorf(errors.ErrUnknownPin, "no connection %s -> %s", c.From, c.To)
	}
	g.Connections = slices.Delete(g.Connections, i, i+1)
	return nil
}

// AddSubgraph appends a sub-graph to a composition. An empty graph becomes
// a composition on its first sub-graph.
func (g *Graph) AddSubgraph(s Subgraph) error {
	if len(g.Elements) > 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "description", "AddSubgraph", "graph holds elements")
	}
	if g.SubgraphIndex(s.Name) >= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "description", "AddSubgraph", fmt.Sprintf("duplicate sub-graph %q", s.Name))
	}
	g.Subgraphs = append(g.Subgraphs, s)
	return nil
}

// RemoveSubgraph removes a sub-graph with its connections and boundary pins
func (g *Graph) RemoveSubgraph(name string) error {
	i := g.SubgraphIndex(name)
	if i < 0 {
		return errors.Errorf(errors.ErrUnknownPin, "no sub-graph %q", name)
	}
	g.Subgraphs = slices.Delete(g.Subgraphs, i, i+1)
	g.Connections = slices.DeleteFunc(g.Connections, func(c Connection) bool {
		return subgraphOf(c.From) == name || subgraphOf(c.To) == name
	})
	g.Boundary = slices.DeleteFunc(g.Boundary, func(b Boundary) bool { return b.Subgraph == name })
	return nil
}

// ReplaceSubgraph swaps the graph behind a sub-graph name
func (g *Graph) ReplaceSubgraph(name string, replacement Graph) error {
	i := g.SubgraphIndex(name)
	if i < 0 {
		return errors.Errorf(errors.ErrUnknownPin, "no sub-graph %q", name)
	}
	g.Subgraphs[i].Graph = replacement
	return nil
}

// AddSubscription adds an external channel tap
func (g *Graph) AddSubscription(s Subscription) error {
	if slices.ContainsFunc(g.Subscriptions, func(o Subscription) bool { return o.ID == s.ID }) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "description", "AddSubscription", fmt.Sprintf("duplicate subscription %q", s.ID))
	}
	g.Subscriptions = append(g.Subscriptions, s)
	return nil
}

// RemoveSubscription removes an external channel tap
func (g *Graph) RemoveSubscription(id string) error {
	i := slices.IndexFunc(g.Subscriptions, func(o Subscription) bool { return o.ID == id })
	if i < 0 {
		return errors.Errorf(errors.ErrUnknownPin, "no subscription %q", id)
	}
	g.Subscriptions = slices.Delete(g.Subscriptions, i, i+1)
	return nil
}

// Prune drops connections and boundary pins of compositions whose ends no
// longer name an existing element, sub-graph or boundary pin, and returns
// what it dropped. Pin names are not checked here.
func (g *Graph) Prune() []string {
	var dropped []string
	for i := range g.Subgraphs {
		for _, d := range g.Subgraphs[i].Graph.Prune() {
			dropped = append(dropped, g.Subgraphs[i].Name+"/"+d)
		}
	}
	if !g.IsComposition() {
		return dropped
	}

	g.Boundary = slices.DeleteFunc(g.Boundary, func(b Boundary) bool {
		if g.resolves(b.Subgraph + "." + b.Pin) {
			return false
		}
		dropped = append(dropped, "boundary "+b.Name)
		return true
	})
	g.Connections = slices.DeleteFunc(g.Connections, func(c Connection) bool {
		if g.resolves(c.From) && g.resolves(c.To) {
			return false
		}
		dropped = append(dropped, c.From+" -> "+c.To)
		return true
	})
	return dropped
}

// resolves reports whether a composition path "sub.rest" names something
func (g *Graph) resolves(path string) bool {
	sub, rest, ok := strings.Cut(path, ".")
	if !ok {
		return false
	}
	i := g.SubgraphIndex(sub)
	if i < 0 {
		return false
	}
	inner := &g.Subgraphs[i].Graph
	if inner.IsComposition() {
		if slices.ContainsFunc(inner.Boundary, func(b Boundary) bool { return b.Name == rest }) {
			return true
		}
		return inner.resolves(rest)
	}
	return inner.ElementIndex(ownerOf(rest)) >= 0
}

func ownerOf(pinPath string) string {
	if i := strings.LastIndex(pinPath, "."); i >= 0 {
		return pinPath[:i]
	}
	return pinPath
}

func subgraphOf(path string) string {
	sub, _, _ := strings.Cut(path, ".")
	return sub
}
