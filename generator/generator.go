// Package generator describes registered element types: their pins, property
// schema and default values. Descriptions drive configuration validation before
// a graph is built and feed external introspection tooling.
package generator

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/vigraph/vg-server-sub000/element"
	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/value"
)

// PinDescription describes one pin of an element type
type PinDescription struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// PropertyDescription describes one property of an element type
type PropertyDescription struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Default     any      `json:"default,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Description is the introspection record of an element type
type Description struct {
	Type        string                         `json:"type"`
	Category    string                         `json:"category,omitempty"`
	Description string                         `json:"description,omitempty"`
	Version     string                         `json:"version,omitempty"`
	Inputs      []PinDescription               `json:"inputs"`
	Outputs     []PinDescription               `json:"outputs"`
	Properties  map[string]PropertyDescription `json:"properties"`
}

// Generator answers describe queries against an element registry
type Generator struct {
	registry *element.Registry

	// compiled JSON schemas per type; registrations are never removed
	schemas sync.Map
}

// New creates a generator over a registry
func New(registry *element.Registry) *Generator {
	return &Generator{registry: registry}
}

// Registry returns the registry the generator describes
func (g *Generator) Registry() *element.Registry {
	return g.registry
}

// Describe returns the pins, property schema and defaults of a type. It fails
// with ErrUnknownType for unregistered types.
func (g *Generator) Describe(typ string) (Description, error) {
	reg, err := g.registry.Lookup(typ)
	if err != nil {
		return Description{}, err
	}

	desc := Description{
		Type:        reg.Type,
		Category:    reg.Category,
		Description: reg.Description,
		Version:     reg.Version,
		Inputs:      describePins(reg.Inputs),
		Outputs:     describePins(reg.Outputs),
		Properties:  make(map[string]PropertyDescription, len(reg.Properties)),
	}
	for name, prop := range reg.Properties {
		desc.Properties[name] = PropertyDescription{
			Type:        prop.Type.String(),
			Description: prop.Description,
			Default:     propertyDefault(prop).Interface(),
			Required:    prop.Required,
			Minimum:     prop.Minimum,
			Maximum:     prop.Maximum,
			Enum:        prop.Enum,
		}
	}
	return desc, nil
}

// List describes every registered type, sorted by type name
func (g *Generator) List() []Description {
	types := g.registry.Types()
	out := make([]Description, 0, len(types))
	for _, typ := range types {
		if desc, err := g.Describe(typ); err == nil {
			out = append(out, desc)
		}
	}
	return out
}

// Defaults returns the default value of every property of a type
func (g *Generator) Defaults(typ string) (map[string]value.Value, error) {
	reg, err := g.registry.Lookup(typ)
	if err != nil {
		return nil, err
	}
	out := make(map[string]value.Value, len(reg.Properties))
	for name, prop := range reg.Properties {
		out[name] = propertyDefault(prop)
	}
	return out, nil
}

// Sample returns a representative value for every output pin of a type, used
// to populate UIs before the element has ticked.
func (g *Generator) Sample(typ string) (map[string]value.Value, error) {
	reg, err := g.registry.Lookup(typ)
	if err != nil {
		return nil, err
	}
	out := make(map[string]value.Value, len(reg.Outputs))
	for _, spec := range reg.Outputs {
		if !spec.Default.IsNone() {
			out[spec.Name] = spec.Default
		} else {
			out[spec.Name] = value.Zero(spec.Type)
		}
	}
	return out, nil
}

// PinType returns the declared type and direction of a pin of a type
func (g *Generator) PinType(typ, pin string) (value.Type, element.Direction, error) {
	reg, err := g.registry.Lookup(typ)
	if err != nil {
		return value.TypeNone, "", err
	}
	for _, spec := range reg.Inputs {
		if spec.Name == pin {
			return spec.Type, element.DirectionInput, nil
		}
	}
	for _, spec := range reg.Outputs {
		if spec.Name == pin {
			return spec.Type, element.DirectionOutput, nil
		}
	}
	return value.TypeNone, "", errors.Errorf(errors.ErrUnknownPin, "%s has no pin %q", typ, pin)
}

// ValidateProperties checks decoded description literals against the type's
// JSON schema. Undeclared properties fail with ErrUnknownPin, wrongly typed
// ones with ErrTypeMismatch, and constraint violations with ErrInvalidConfig.
func (g *Generator) ValidateProperties(typ string, raw map[string]any) error {
	schema, err := g.compiled(typ)
	if err != nil {
		return err
	}
	if raw == nil {
		raw = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return errors.WrapInvalid(err, "Generator", "ValidateProperties", "schema evaluation")
	}
	if result.Valid() {
		return nil
	}

	resultErrs := result.Errors()
	sort.Slice(resultErrs, func(i, j int) bool { return resultErrs[i].String() < resultErrs[j].String() })

	kind := errors.ErrInvalidConfig
	msgs := make([]string, 0, len(resultErrs))
	for _, re := range resultErrs {
		msgs = append(msgs, re.String())
		switch re.Type() {
		case "additional_property_not_allowed":
			kind = errors.ErrUnknownPin
		case "invalid_type":
			if kind == errors.ErrInvalidConfig {
				kind = errors.ErrTypeMismatch
			}
		}
	}
	return errors.Errorf(kind, "%s properties: %s", typ, strings.Join(msgs, "; "))
}

func (g *Generator) compiled(typ string) (*gojsonschema.Schema, error) {
	if cached, ok := g.schemas.Load(typ); ok {
		return cached.(*gojsonschema.Schema), nil
	}
	doc, err := g.JSONSchema(typ)
	if err != nil {
		return nil, err
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, errors.WrapFatal(err, "Generator", "compiled", fmt.Sprintf("schema compile for %q", typ))
	}
	g.schemas.Store(typ, schema)
	return schema, nil
}

func describePins(specs []element.PinSpec) []PinDescription {
	out := make([]PinDescription, len(specs))
	for i, spec := range specs {
		def := spec.Default
		if def.IsNone() {
			def = value.Zero(spec.Type)
		}
		out[i] = PinDescription{
			Name:        spec.Name,
			Type:        spec.Type.String(),
			Default:     def.Interface(),
			Description: spec.Description,
		}
	}
	return out
}

func propertyDefault(prop element.PropertySchema) value.Value {
	if !prop.Default.IsNone() {
		return prop.Default
	}
	return value.Zero(prop.Type)
}
