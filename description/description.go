// Package description holds the declarative form of a graph: the YAML or JSON
// document the engine is started, reloaded and edited from.
//
// A description is either a leaf graph (elements and the connections between
// them) or a composition (named sub-graphs, the connections between their
// pins, and boundary pins). Compositions nest.
package description

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vigraph/vg-server-sub000/errors"
)

// Graph describes one tickable unit
type Graph struct {
	// Parallelism bounds concurrent element ticks in a leaf graph
	Parallelism int `json:"parallelism,omitempty" yaml:"parallelism,omitempty" validate:"gte=0,lte=256"`

	Elements    []Element    `json:"elements,omitempty" yaml:"elements,omitempty" validate:"dive"`
	Connections []Connection `json:"connections,omitempty" yaml:"connections,omitempty" validate:"dive"`

	Subgraphs []Subgraph `json:"subgraphs,omitempty" yaml:"subgraphs,omitempty" validate:"dive"`
	Boundary  []Boundary `json:"boundary,omitempty" yaml:"boundary,omitempty" validate:"dive"`

	// Subscriptions are external taps on router channels, root only
	Subscriptions []Subscription `json:"subscriptions,omitempty" yaml:"subscriptions,omitempty" validate:"dive"`
}

// Element describes one element instance
type Element struct {
	ID         string         `json:"id" yaml:"id" validate:"required,element_id"`
	Type       string         `json:"type" yaml:"type" validate:"required"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Connection links an output pin to an input pin. In a leaf graph pins are
// "element.pin"; in a composition they are "subgraph.internal-path".
type Connection struct {
	From string `json:"from" yaml:"from" validate:"required,pin_path"`
	To   string `json:"to" yaml:"to" validate:"required,pin_path"`
}

// Subgraph is a named nested unit
type Subgraph struct {
	Name  string `json:"name" yaml:"name" validate:"required,element_id"`
	Graph `yaml:",inline"`
}

// Boundary exposes a pin of a sub-graph on the composition
type Boundary struct {
	Name     string `json:"name" yaml:"name" validate:"required,element_id"`
	Subgraph string `json:"subgraph" yaml:"subgraph" validate:"required,element_id"`
	Pin      string `json:"pin" yaml:"pin" validate:"required"`
}

// Subscription taps a router channel from outside the graph
type Subscription struct {
	ID      string `json:"id" yaml:"id" validate:"required,element_id"`
	Channel string `json:"channel" yaml:"channel" validate:"required"`
	Type    string `json:"type" yaml:"type" validate:"required,value_type"`
}

// IsComposition reports whether g describes sub-graphs rather than elements
func (g *Graph) IsComposition() bool {
	return len(g.Subgraphs) > 0 || len(g.Boundary) > 0
}

// Parse decodes a description. Format is "json" or "yaml".
func Parse(data []byte, format string) (*Graph, error) {
	var g Graph
	switch strings.ToLower(format) {
	case "json":
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, errors.WrapInvalid(err, "description", "Parse", "decode JSON")
		}
	case "yaml", "yml", "":
		if err := yaml.Unmarshal(data, &g); err != nil {
			return nil, errors.WrapInvalid(err, "description", "Parse", "decode YAML")
		}
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("unknown format %q", format), "description", "Parse", "format check")
	}
	return &g, nil
}

// Load reads a description file, choosing the format by extension
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "description", "Load", "read file")
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return Parse(data, format)
}

// Marshal encodes g in the given format
func Marshal(g *Graph, format string) ([]byte, error) {
	if strings.EqualFold(format, "json") {
		return json.MarshalIndent(g, "", "  ")
	}
	return yaml.Marshal(g)
}

// Copy returns a deep copy of g's structure. Property values are shared;
// edits replace them rather than mutate them.
func (g *Graph) Copy() *Graph {
	out := *g
	out.Elements = make([]Element, len(g.Elements))
	for i, e := range g.Elements {
		out.Elements[i] = e
		if e.Properties != nil {
			out.Elements[i].Properties = make(map[string]any, len(e.Properties))
			for k, v := range e.Properties {
				out.Elements[i].Properties[k] = v
			}
		}
	}
	out.Connections = slices.Clone(g.Connections)
	out.Subgraphs = make([]Subgraph, len(g.Subgraphs))
	for i, s := range g.Subgraphs {
		out.Subgraphs[i] = Subgraph{Name: s.Name, Graph: *s.Graph.Copy()}
	}
	out.Boundary = slices.Clone(g.Boundary)
	out.Subscriptions = slices.Clone(g.Subscriptions)
	return &out
}

// Find returns the unit at a sub-graph path such as "voices/v1". The empty
// path is g itself.
func (g *Graph) Find(path string) (*Graph, error) {
	cur := g
	if path == "" {
		return cur, nil
	}
	for _, name := range strings.Split(path, "/") {
		i := cur.SubgraphIndex(name)
		if i < 0 {
			return nil, errors.Errorf(errors.ErrUnknownPin, "no sub-graph %q in path %q", name, path)
		}
		cur = &cur.Subgraphs[i].Graph
	}
	return cur, nil
}

// ElementIndex returns the index of an element or -1
func (g *Graph) ElementIndex(id string) int {
	return slices.IndexFunc(g.Elements, func(e Element) bool { return e.ID == id })
}

// SubgraphIndex returns the index of a sub-graph or -1
func (g *Graph) SubgraphIndex(name string) int {
	return slices.IndexFunc(g.Subgraphs, func(s Subgraph) bool { return s.Name == name })
}
