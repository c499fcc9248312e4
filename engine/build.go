package engine

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/vigraph/vg-server-sub000/description"
	"github.com/vigraph/vg-server-sub000/element"
	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/generator"
	"github.com/vigraph/vg-server-sub000/graph"
	"github.com/vigraph/vg-server-sub000/multigraph"
	"github.com/vigraph/vg-server-sub000/value"
)

// MainGraph names the sub-graph holding the elements of a description whose
// root is a leaf graph. The live root is always a MultiGraph.
const MainGraph = "main"

// subscriptionHolder prefixes router holder names of description subscriptions
const subscriptionHolder = "subscription/"

// builder turns descriptions into live units
type builder struct {
	registry    *element.Registry
	gen         *generator.Generator
	parallelism int
	logger      *slog.Logger
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func closeElement(e element.Element) error {
	if c, ok := e.(element.Closer); ok {
		return c.Close()
	}
	return nil
}

// element validates the description's properties against the type's schema
// and creates the element
func (b *builder) element(at string, d description.Element) (element.Element, error) {
	if err := b.gen.ValidateProperties(d.Type, d.Properties); err != nil {
		return nil, fmt.Errorf("element %s: %w", joinPath(at, d.ID), err)
	}
	props, err := b.registry.ConvertProperties(d.Type, d.Properties)
	if err != nil {
		return nil, fmt.Errorf("element %s: %w", joinPath(at, d.ID), err)
	}
	e, err := b.registry.Create(d.Type, props)
	if err != nil {
		return nil, fmt.Errorf("element %s: %w", joinPath(at, d.ID), err)
	}
	return e, nil
}

func (b *builder) unit(at string, d *description.Graph) (graph.Unit, error) {
	if d.IsComposition() {
		return b.composition(at, d)
	}
	return b.leaf(at, d)
}

func (b *builder) leaf(at string, d *description.Graph) (*graph.Graph, error) {
	parallelism := d.Parallelism
	if parallelism == 0 {
		parallelism = b.parallelism
	}
	g := graph.New(graph.WithParallelism(parallelism), graph.WithLogger(b.logger))

	fail := func(err error) (*graph.Graph, error) {
		_ = g.Close()
		return nil, err
	}
	for _, ed := range d.Elements {
		e, err := b.element(at, ed)
		if err != nil {
			return fail(err)
		}
		if err := g.AddElement(ed.ID, e); err != nil {
			_ = closeElement(e)
			return fail(fmt.Errorf("element %s: %w", joinPath(at, ed.ID), err))
		}
	}
	for _, c := range d.Connections {
		if err := connectLeaf(g, c); err != nil {
			return fail(fmt.Errorf("%s: %w", orRoot(at), err))
		}
	}
	return g, nil
}

func connectLeaf(g *graph.Graph, c description.Connection) error {
	from, err := graph.ParsePinRef(c.From)
	if err != nil {
		return err
	}
	to, err := graph.ParsePinRef(c.To)
	if err != nil {
		return err
	}
	return g.Connect(from, to)
}

func disconnectLeaf(g *graph.Graph, c description.Connection) error {
	from, err := graph.ParsePinRef(c.From)
	if err != nil {
		return err
	}
	to, err := graph.ParsePinRef(c.To)
	if err != nil {
		return err
	}
	return g.Disconnect(from, to)
}

func (b *builder) composition(at string, d *description.Graph) (*multigraph.MultiGraph, error) {
	m := multigraph.New(multigraph.WithLogger(b.logger))

	fail := func(err error) (*multigraph.MultiGraph, error) {
		_ = m.Close()
		return nil, err
	}
	for i := range d.Subgraphs {
		s := &d.Subgraphs[i]
		u, err := b.unit(joinPath(at, s.Name), &s.Graph)
		if err != nil {
			return fail(err)
		}
		if err := m.AddSubgraph(s.Name, u); err != nil {
			_ = u.Close()
			return fail(fmt.Errorf("%s: %w", orRoot(at), err))
		}
	}
	for _, bd := range d.Boundary {
		if err := m.ExposePin(bd.Name, bd.Subgraph, bd.Pin); err != nil {
			return fail(fmt.Errorf("%s: boundary %s: %w", orRoot(at), bd.Name, err))
		}
	}
	for _, c := range d.Connections {
		if err := m.Connect(c.From, c.To); err != nil {
			return fail(fmt.Errorf("%s: %w", orRoot(at), err))
		}
	}
	return m, nil
}

// root builds the live root for a description. A leaf description becomes
// the MainGraph sub-graph of an otherwise empty root.
func (b *builder) root(d *description.Graph) (*multigraph.MultiGraph, error) {
	if d.IsComposition() {
		return b.composition("", d)
	}
	g, err := b.leaf(MainGraph, d)
	if err != nil {
		return nil, err
	}
	m := multigraph.New(multigraph.WithLogger(b.logger))
	if err := m.AddSubgraph(MainGraph, g); err != nil {
		_ = g.Close()
		return nil, err
	}
	return m, nil
}

func orRoot(at string) string {
	if at == "" {
		return "root"
	}
	return at
}

// walk visits every element below u with its path, in insertion order
func walk(u graph.Unit, at string, fn func(path string, e element.Element)) {
	switch unit := u.(type) {
	case *graph.Graph:
		for _, id := range unit.IDs() {
			if e, ok := unit.Element(id); ok {
				fn(joinPath(at, id), e)
			}
		}
	case *multigraph.MultiGraph:
		for _, name := range unit.Names() {
			if sub, ok := unit.Subgraph(name); ok {
				walk(sub, joinPath(at, name), fn)
			}
		}
	}
}

// compositions returns every MultiGraph below and including u, deepest first
func compositions(u graph.Unit) []*multigraph.MultiGraph {
	m, ok := u.(*multigraph.MultiGraph)
	if !ok {
		return nil
	}
	var out []*multigraph.MultiGraph
	for _, name := range m.Names() {
		if sub, ok := m.Subgraph(name); ok {
			out = append(out, compositions(sub)...)
		}
	}
	return append(out, m)
}

// binding is one router channel reference with the holder that owns it
type binding struct {
	holder string
	element.ChannelBinding
}

// collectBindings gathers the channel references of every element below root
// and of the description's subscriptions
func collectBindings(root graph.Unit, subs []description.Subscription) ([]binding, error) {
	var out []binding
	walk(root, "", func(path string, e element.Element) {
		if cu, ok := e.(element.ChannelUser); ok {
			for _, cb := range cu.Channels() {
				out = append(out, binding{holder: path, ChannelBinding: cb})
			}
		}
	})
	for _, s := range subs {
		t, err := value.ParseType(s.Type)
		if err != nil {
			return nil, fmt.Errorf("subscription %s: %w", s.ID, err)
		}
		out = append(out, binding{
			holder:         subscriptionHolder + s.ID,
			ChannelBinding: element.ChannelBinding{Channel: s.Channel, Type: t, Role: element.RoleSubscribe},
		})
	}
	return out, nil
}

// channelTypes checks that every binding of a channel agrees on its type
func channelTypes(bindings []binding) (map[string]value.Type, error) {
	types := make(map[string]value.Type)
	owners := make(map[string]string)
	for _, b := range bindings {
		if t, ok := types[b.Channel]; ok && t != b.Type {
			return nil, errors.Errorf(errors.ErrChannelTypeMismatch,
				"channel %q is %s for %s but %s for %s", b.Channel, t, owners[b.Channel], b.Type, b.holder)
		}
		types[b.Channel] = b.Type
		owners[b.Channel] = b.holder
	}
	return types, nil
}

func sortedChannels(types map[string]value.Type) []string {
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func holders(bindings []binding) []string {
	var out []string
	for _, b := range bindings {
		if !slices.Contains(out, b.holder) {
			out = append(out, b.holder)
		}
	}
	return out
}

// splitParent splits "a/b/c" into "a/b" and "c"
func splitParent(path string) (string, string) {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i], path[i+1:]
	}
	return "", path
}

// Check validates a description and builds it against a registry without
// running it. It reports the same errors Start would, plus warnings for
// elements that neither connect to anything nor use a router channel.
func Check(registry *element.Registry, d *description.Graph, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := description.Validate(d); err != nil {
		return nil, err
	}
	b := &builder{registry: registry, gen: generator.New(registry), parallelism: 1, logger: logger}
	root, err := b.root(d)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Engine", "Check", "build graph")
	}
	defer root.Close()

	bindings, err := collectBindings(root, d.Subscriptions)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Engine", "Check", "channel bindings")
	}
	if _, err := channelTypes(bindings); err != nil {
		return nil, errors.WrapInvalid(err, "Engine", "Check", "channel bindings")
	}
	return isolated(root, ""), nil
}

// isolated lists the paths of disconnected elements in every leaf graph
// below u. Channel users are skipped since the router is their wiring.
func isolated(u graph.Unit, at string) []string {
	var out []string
	switch unit := u.(type) {
	case *graph.Graph:
		result := unit.Analyze()
		if result.ValidationStatus != "warnings" {
			return nil
		}
		for _, id := range result.DisconnectedElements {
			if e, ok := unit.Element(id); ok {
				if cu, ok := e.(element.ChannelUser); ok && len(cu.Channels()) > 0 {
					continue
				}
			}
			out = append(out, fmt.Sprintf("element %s has no connections", joinPath(at, id)))
		}
	case *multigraph.MultiGraph:
		for _, name := range unit.Names() {
			if sub, ok := unit.Subgraph(name); ok {
				out = append(out, isolated(sub, joinPath(at, name))...)
			}
		}
	}
	return out
}
