package element

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/value"
)

// MaxTypeNameLength bounds registered type names
const MaxTypeNameLength = 128

// Factory wraps a Base built from the registration into a concrete element
type Factory func(base *Base) (Element, error)

// Registration is everything a module supplies to the engine: its type name,
// its declared pins and properties, and a factory.
type Registration struct {
	Type        string                    `json:"type"`
	Category    string                    `json:"category,omitempty"`
	Description string                    `json:"description,omitempty"`
	Version     string                    `json:"version,omitempty"`
	Inputs      []PinSpec                 `json:"inputs,omitempty"`
	Outputs     []PinSpec                 `json:"outputs,omitempty"`
	Properties  map[string]PropertySchema `json:"properties,omitempty"`
	Factory     Factory                   `json:"-"`
}

// Registry maps type names to registrations. It is consulted at graph build,
// transaction validation and clone time.
type Registry struct {
	mu            sync.RWMutex
	registrations map[string]*Registration
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{registrations: make(map[string]*Registration)}
}

// Register adds an element type. Pin names must be unique across inputs and
// outputs.
func (r *Registry) Register(reg Registration) error {
	if err := ValidateTypeName(reg.Type); err != nil {
		return err
	}
	if reg.Factory == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Registry", "Register",
			fmt.Sprintf("factory for %q", reg.Type))
	}

	seen := make(map[string]bool)
	for _, spec := range append(append([]PinSpec{}, reg.Inputs...), reg.Outputs...) {
		if spec.Name == "" || seen[spec.Name] {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register",
				fmt.Sprintf("pin name %q on %q", spec.Name, reg.Type))
		}
		if spec.Type == value.TypeNone {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register",
				fmt.Sprintf("pin %q on %q has no type", spec.Name, reg.Type))
		}
		seen[spec.Name] = true
	}
	for name, prop := range reg.Properties {
		if !prop.Default.Fits(prop.Type) {
			return errors.WrapInvalid(errors.ErrTypeMismatch, "Registry", "Register",
				fmt.Sprintf("default of property %q on %q", name, reg.Type))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.registrations[reg.Type]; exists {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register",
			fmt.Sprintf("type %q already registered", reg.Type))
	}
	r.registrations[reg.Type] = &reg
	return nil
}

// Lookup returns the registration for a type, failing with ErrUnknownType
func (r *Registry) Lookup(typ string) (*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.registrations[typ]
	if !ok {
		return nil, errors.Errorf(errors.ErrUnknownType, "element type %q not registered", typ)
	}
	return reg, nil
}

// Types returns all registered type names, sorted
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.registrations))
	for name := range r.registrations {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// Create builds a new element of the given type with a fresh identity and
// applies props over the declared defaults.
func (r *Registry) Create(typ string, props map[string]value.Value) (Element, error) {
	reg, err := r.Lookup(typ)
	if err != nil {
		return nil, err
	}

	elem, err := reg.Factory(NewBase(reg, uuid.NewString()))
	if err != nil {
		return nil, errors.WrapInvalid(err, "Registry", "Create", fmt.Sprintf("factory for %q", typ))
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := elem.SetProperty(name, props[name]); err != nil {
			return nil, err
		}
	}
	return elem, nil
}

// ConvertProperties turns decoded description literals into typed values using
// the type's property schema.
func (r *Registry) ConvertProperties(typ string, raw map[string]any) (map[string]value.Value, error) {
	reg, err := r.Lookup(typ)
	if err != nil {
		return nil, err
	}
	props := make(map[string]value.Value, len(raw))
	for name, literal := range raw {
		prop, ok := reg.Properties[name]
		if !ok {
			return nil, errors.Errorf(errors.ErrUnknownPin, "%s has no property %q", typ, name)
		}
		v, err := value.FromAny(prop.Type, literal)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		props[name] = v
	}
	return props, nil
}

// ValidateTypeName checks a type name is non-empty and limited to
// alphanumerics, dash, underscore, dot and slash.
func ValidateTypeName(name string) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "ValidateTypeName", "empty name")
	}
	if len(name) > MaxTypeNameLength {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "ValidateTypeName", "name too long")
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.' || c == '/') {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "ValidateTypeName",
				"invalid name characters")
		}
	}
	return nil
}

// ValidateID checks an element or sub-graph id. Ids appear in pin paths
// ("element.pin") and report paths ("subgraph/element"), so dots and slashes
// are not allowed.
func ValidateID(id string) error {
	if id == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "ValidateID", "empty id")
	}
	if len(id) > MaxTypeNameLength {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "ValidateID", "id too long")
	}
	for _, c := range id {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_') {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "ValidateID",
				fmt.Sprintf("invalid characters in %q", id))
		}
	}
	return nil
}
