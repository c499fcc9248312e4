// Package element defines the contract every processing node implements, its
// typed pins and properties, and the registry that creates elements by type name.
package element

import (
	"maps"
	"slices"
	"sync"

	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/tick"
	"github.com/vigraph/vg-server-sub000/value"
)

// Element is a node with fixed typed pins and a per-tick processing step.
// The engine calls Tick exactly once per tick, after every element feeding its
// inputs. Tick must not block on I/O.
type Element interface {
	// Type returns the registered type name
	Type() string
	// UID returns the instance identity, unique across clones
	UID() string
	// Pin returns a pin by name, failing with ErrUnknownPin
	Pin(name string) (*Pin, error)
	// Inputs and Outputs return pins in declaration order
	Inputs() []*Pin
	Outputs() []*Pin
	// Property returns the current value of a property
	Property(name string) (value.Value, bool)
	// Properties returns a copy of all property values
	Properties() map[string]value.Value
	// SetProperty updates a property, validating it against the type's schema
	SetProperty(name string, v value.Value) error
	// Tick reads inputs, computes and writes outputs
	Tick(ctx *tick.Context) error
}

// Closer is implemented by elements holding resources released on removal
type Closer interface {
	Close() error
}

// Cloner is implemented by elements with internal state beyond properties and
// pin values. CloneState copies that state into dst, a fresh element of the
// same type, without sharing resources.
type Cloner interface {
	CloneState(dst Element) error
}

// ChannelRole is how an element uses a router channel
type ChannelRole string

// Channel roles
const (
	RolePublish   ChannelRole = "publish"
	RoleSubscribe ChannelRole = "subscribe"
)

// ChannelBinding declares one router channel used by an element
type ChannelBinding struct {
	Channel string      `json:"channel"`
	Type    value.Type  `json:"type"`
	Role    ChannelRole `json:"role"`
}

// ChannelUser is implemented by elements that send or receive on router
// channels. Bindings may depend on property values and are re-read after
// SetProperty.
type ChannelUser interface {
	Channels() []ChannelBinding
}

// Base implements everything in Element except Tick. Leaf modules embed *Base
// and add their Tick.
type Base struct {
	typ     string
	uid     string
	inputs  []*Pin
	outputs []*Pin
	byName  map[string]*Pin
	schema  map[string]PropertySchema

	mu    sync.RWMutex
	props map[string]value.Value
}

// NewBase builds the pins and default properties declared by a registration
func NewBase(reg *Registration, uid string) *Base {
	b := &Base{
		typ:    reg.Type,
		uid:    uid,
		byName: make(map[string]*Pin, len(reg.Inputs)+len(reg.Outputs)),
		schema: reg.Properties,
		props:  make(map[string]value.Value, len(reg.Properties)),
	}
	for _, spec := range reg.Inputs {
		p := NewPin(spec, DirectionInput)
		b.inputs = append(b.inputs, p)
		b.byName[spec.Name] = p
	}
	for _, spec := range reg.Outputs {
		p := NewPin(spec, DirectionOutput)
		b.outputs = append(b.outputs, p)
		b.byName[spec.Name] = p
	}
	for name, prop := range reg.Properties {
		if !prop.Default.IsNone() {
			b.props[name] = prop.Default
		} else {
			b.props[name] = value.Zero(prop.Type)
		}
	}
	return b
}

// Type returns the registered type name
func (b *Base) Type() string { return b.typ }

// UID returns the instance identity
func (b *Base) UID() string { return b.uid }

// Pin returns a pin by name
func (b *Base) Pin(name string) (*Pin, error) {
	if p, ok := b.byName[name]; ok {
		return p, nil
	}
	return nil, errors.Errorf(errors.ErrUnknownPin, "%s has no pin %q", b.typ, name)
}

// Inputs returns the input pins in declaration order
func (b *Base) Inputs() []*Pin { return slices.Clone(b.inputs) }

// Outputs returns the output pins in declaration order
func (b *Base) Outputs() []*Pin { return slices.Clone(b.outputs) }

// Property returns the current value of a property
func (b *Base) Property(name string) (value.Value, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.props[name]
	return v, ok
}

// Properties returns a copy of all property values
func (b *Base) Properties() map[string]value.Value {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.props)
}

// SetProperty validates and stores a property value
func (b *Base) SetProperty(name string, v value.Value) error {
	prop, ok := b.schema[name]
	if !ok {
		return errors.Errorf(errors.ErrUnknownPin, "%s has no property %q", b.typ, name)
	}
	if verrs := validateProperty(name, v, prop); len(verrs) > 0 {
		if verrs[0].Code == "type" {
			return errors.Errorf(errors.ErrTypeMismatch, "%s", verrs[0].Error())
		}
		return errors.WrapInvalid(errors.ErrInvalidConfig, b.typ, "SetProperty", verrs[0].Error())
	}
	b.mu.Lock()
	b.props[name] = v
	b.mu.Unlock()
	return nil
}

// In reads an input pin by name. Unknown pins read None.
func (b *Base) In(name string) value.Value {
	if p, ok := b.byName[name]; ok {
		return p.Read()
	}
	return value.None()
}

// Out writes an output pin by name
func (b *Base) Out(name string, v value.Value) error {
	p, err := b.Pin(name)
	if err != nil {
		return err
	}
	return p.Write(v)
}

// Number reads a number property, returning 0 if it is unset or not a number
func (b *Base) Number(name string) float64 {
	v, _ := b.Property(name)
	n, _ := v.AsNumber()
	return n
}

// Text reads a text property, returning "" if it is unset or not text
func (b *Base) Text(name string) string {
	v, _ := b.Property(name)
	s, _ := v.AsText()
	return s
}
