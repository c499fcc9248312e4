package element

import (
	"encoding/json"
	"sync"

	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/value"
)

// Direction for data flow
type Direction string

// Direction constants for pin data flow
const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// PinSpec declares a pin in a Registration
type PinSpec struct {
	Name        string      `json:"name"`
	Type        value.Type  `json:"type"`
	Default     value.Value `json:"-"`
	Description string      `json:"description,omitempty"`
}

// Pin is a typed slot on an element. Output pins hold the value written on the
// most recent successful tick. Input pins read through their linked output pin
// or, when unlinked, the value last Set on them or their default.
type Pin struct {
	name string
	dir  Direction
	typ  value.Type
	def  value.Value

	mu      sync.RWMutex
	current value.Value
	set     bool
	source  *Pin
}

// NewPin creates an unlinked pin. A default that does not fit the type is
// replaced by the type's zero value.
func NewPin(spec PinSpec, dir Direction) *Pin {
	def := spec.Default
	if def.IsNone() || !def.Fits(spec.Type) {
		def = value.Zero(spec.Type)
	}
	return &Pin{name: spec.Name, dir: dir, typ: spec.Type, def: def}
}

// Name returns the pin name
func (p *Pin) Name() string { return p.name }

// Direction returns whether the pin is an input or an output
func (p *Pin) Direction() Direction { return p.dir }

// Type returns the declared value type
func (p *Pin) Type() value.Type { return p.typ }

// Default returns the value an unconnected input reads
func (p *Pin) Default() value.Value { return p.def }

// Read returns the pin's current value. An unconnected input without a Set
// value reads its default; this is never an error.
func (p *Pin) Read() value.Value {
	p.mu.RLock()
	src, cur, set := p.source, p.current, p.set
	p.mu.RUnlock()

	if src != nil {
		return src.Read()
	}
	if p.dir == DirectionInput && !set {
		return p.def
	}
	return cur
}

// Write replaces an output pin's value. Writing an input or a value of the
// wrong type fails with ErrTypeMismatch and leaves the pin unchanged.
func (p *Pin) Write(v value.Value) error {
	if p.dir != DirectionOutput {
		return errors.Errorf(errors.ErrTypeMismatch, "pin %q is an input", p.name)
	}
	return p.store(v)
}

// Set stores a value on an input pin, used while the pin is unconnected
func (p *Pin) Set(v value.Value) error {
	if p.dir != DirectionInput {
		return errors.Errorf(errors.ErrTypeMismatch, "pin %q is an output", p.name)
	}
	return p.store(v)
}

func (p *Pin) store(v value.Value) error {
	if !v.Fits(p.typ) {
		return errors.Errorf(errors.ErrTypeMismatch, "pin %q is %s, got %s", p.name, p.typ, v.Type())
	}
	p.mu.Lock()
	old := p.current
	p.current = v
	p.set = true
	p.mu.Unlock()
	old.Release()
	return nil
}

// Snapshot returns the held value without following links, for fault rollback
// and cloning. The returned value shares any buffer.
func (p *Pin) Snapshot() (value.Value, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.Clone(), p.set
}

// Restore puts back a value taken with Snapshot
func (p *Pin) Restore(v value.Value, set bool) {
	p.mu.Lock()
	old := p.current
	p.current = v
	p.set = set
	p.mu.Unlock()
	old.Release()
}

// Source returns the output pin this input is linked to, or nil
func (p *Pin) Source() *Pin {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.source
}

// Link connects this input to an output pin. Types must match and the input
// must not already be linked. Graphs call this while holding their write lock.
func (p *Pin) Link(src *Pin) error {
	if p.dir != DirectionInput || src.dir != DirectionOutput {
		return errors.Errorf(errors.ErrTypeMismatch, "cannot link %s %q to %s %q", src.dir, src.name, p.dir, p.name)
	}
	if src.typ != p.typ {
		return errors.Errorf(errors.ErrTypeMismatch, "cannot connect %s output %q to %s input %q", src.typ, src.name, p.typ, p.name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.source != nil {
		return errors.Errorf(errors.ErrInvalidConfig, "input %q already connected", p.name)
	}
	p.source = src
	return nil
}

// Unlink disconnects the input from its source
func (p *Pin) Unlink() {
	p.mu.Lock()
	p.source = nil
	p.mu.Unlock()
}

// MarshalJSON renders the pin's declaration for introspection
func (p *Pin) MarshalJSON() ([]byte, error) {
	out := struct {
		Name      string     `json:"name"`
		Direction Direction  `json:"direction"`
		Type      value.Type `json:"type"`
		Default   any        `json:"default,omitempty"`
	}{
		Name:      p.name,
		Direction: p.dir,
		Type:      p.typ,
		Default:   p.def.Interface(),
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, errors.Wrap(err, "Pin", "MarshalJSON", "pin marshaling")
	}
	return data, nil
}
