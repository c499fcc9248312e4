// Package clone makes independently owned copies of elements and graphs for
// runtime instancing. Copies get fresh element identities, the same property
// values and wiring, and their own copies of every buffer.
//
// Cloning reads the source under its read lock, so it never observes a
// half-finished tick and is safe while the source keeps ticking.
package clone

import (
	"fmt"

	"github.com/vigraph/vg-server-sub000/element"
	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/graph"
	"github.com/vigraph/vg-server-sub000/multigraph"
	"github.com/vigraph/vg-server-sub000/value"
)

// Element returns a copy of src created through the registry. Pin values and
// property buffers are deep-copied and Cloner state is carried over.
func Element(reg *element.Registry, src element.Element) (element.Element, error) {
	dst, err := reg.Create(src.Type(), Values(src.Properties()))
	if err != nil {
		return nil, errors.Wrap(err, "Clone", "Element", fmt.Sprintf("create %s", src.Type()))
	}

	if err := copyPins(src.Inputs(), dst); err != nil {
		return nil, err
	}
	if err := copyPins(src.Outputs(), dst); err != nil {
		return nil, err
	}

	if c, ok := src.(element.Cloner); ok {
		if err := c.CloneState(dst); err != nil {
			return nil, errors.Wrap(err, "Clone", "Element", fmt.Sprintf("clone state of %s", src.Type()))
		}
	}
	return dst, nil
}

func copyPins(pins []*element.Pin, dst element.Element) error {
	for _, sp := range pins {
		dp, err := dst.Pin(sp.Name())
		if err != nil {
			return err
		}
		v, set := sp.Snapshot()
		own := v.DeepClone()
		v.Release()
		dp.Restore(own, set)
	}
	return nil
}

// Graph returns a copy of g with the same element ids and connections.
// The copy keeps g's parallelism; opts apply on top.
func Graph(reg *element.Registry, g *graph.Graph, opts ...graph.Option) (*graph.Graph, error) {
	out := graph.New(append([]graph.Option{graph.WithParallelism(g.Parallelism())}, opts...)...)

	err := g.View(func(nodes []graph.Node, connections []graph.Connection) error {
		for _, n := range nodes {
			e, err := Element(reg, n.Element)
			if err != nil {
				return fmt.Errorf("%s: %w", n.ID, err)
			}
			if err := out.AddElement(n.ID, e); err != nil {
				return err
			}
		}
		for _, c := range connections {
			if err := out.Connect(c.From, c.To); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	return out, nil
}

// MultiGraph returns a copy of m, cloning every sub-graph recursively
func MultiGraph(reg *element.Registry, m *multigraph.MultiGraph, opts ...multigraph.Option) (*multigraph.MultiGraph, error) {
	out := multigraph.New(opts...)

	err := m.View(func(subs []multigraph.Sub, connections []graph.Connection, boundary []multigraph.Boundary) error {
		for _, s := range subs {
			u, err := Unit(reg, s.Unit)
			if err != nil {
				return fmt.Errorf("%s: %w", s.Name, err)
			}
			if err := out.AddSubgraph(s.Name, u); err != nil {
				_ = u.Close()
				return err
			}
		}
		for _, c := range connections {
			if err := out.Connect(c.From.String(), c.To.String()); err != nil {
				return err
			}
		}
		for _, b := range boundary {
			if err := out.ExposePin(b.Name, b.Subgraph, b.Internal); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	return out, nil
}

// Unit clones either kind of tickable unit
func Unit(reg *element.Registry, u graph.Unit) (graph.Unit, error) {
	switch src := u.(type) {
	case *graph.Graph:
		return Graph(reg, src)
	case *multigraph.MultiGraph:
		return MultiGraph(reg, src)
	default:
		return nil, errors.WrapInvalid(errors.ErrUnknownType, "Clone", "Unit", fmt.Sprintf("unit %T", u))
	}
}

// Values deep-copies a property map
func Values(props map[string]value.Value) map[string]value.Value {
	out := make(map[string]value.Value, len(props))
	for k, v := range props {
		out[k] = v.DeepClone()
	}
	return out
}
