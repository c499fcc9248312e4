package element

import (
	"fmt"
	"slices"
	"sort"

	"github.com/vigraph/vg-server-sub000/value"
)

// PropertySchema describes one configurable property of an element type
type PropertySchema struct {
	Type        value.Type  `json:"type"`
	Description string      `json:"description,omitempty"`
	Default     value.Value `json:"-"`
	Required    bool        `json:"required,omitempty"`
	Minimum     *float64    `json:"minimum,omitempty"`
	Maximum     *float64    `json:"maximum,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
}

// Bounds is a helper for declaring numeric limits
func Bounds(lo, hi float64) (*float64, *float64) {
	return &lo, &hi
}

// ValidationError describes one property that failed validation.
//
// Codes:
//   - "required": property is required but missing
//   - "unknown": property is not declared by the type
//   - "type": value type differs from the declared type
//   - "min", "max": number outside its bounds
//   - "enum": text not in the allowed values
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateProperties checks typed property values against a schema. Errors are
// returned in field order.
func ValidateProperties(props map[string]value.Value, schema map[string]PropertySchema) []ValidationError {
	var errs []ValidationError

	for name, prop := range schema {
		if _, ok := props[name]; !ok && prop.Required {
			errs = append(errs, ValidationError{Field: name, Message: "required property missing", Code: "required"})
		}
	}

	for name, v := range props {
		prop, ok := schema[name]
		if !ok {
			errs = append(errs, ValidationError{Field: name, Message: "no such property", Code: "unknown"})
			continue
		}
		errs = append(errs, validateProperty(name, v, prop)...)
	}

	sort.Slice(errs, func(i, j int) bool {
		if errs[i].Field != errs[j].Field {
			return errs[i].Field < errs[j].Field
		}
		return errs[i].Code < errs[j].Code
	})
	return errs
}

func validateProperty(name string, v value.Value, prop PropertySchema) []ValidationError {
	if !v.Fits(prop.Type) {
		return []ValidationError{{
			Field:   name,
			Message: fmt.Sprintf("expected %s, got %s", prop.Type, v.Type()),
			Code:    "type",
		}}
	}

	var errs []ValidationError
	if n, err := v.AsNumber(); err == nil {
		if prop.Minimum != nil && n < *prop.Minimum {
			errs = append(errs, ValidationError{Field: name, Message: fmt.Sprintf("%g below minimum %g", n, *prop.Minimum), Code: "min"})
		}
		if prop.Maximum != nil && n > *prop.Maximum {
			errs = append(errs, ValidationError{Field: name, Message: fmt.Sprintf("%g above maximum %g", n, *prop.Maximum), Code: "max"})
		}
	}
	if s, err := v.AsText(); err == nil && len(prop.Enum) > 0 && !slices.Contains(prop.Enum, s) {
		errs = append(errs, ValidationError{Field: name, Message: fmt.Sprintf("%q not one of %v", s, prop.Enum), Code: "enum"})
	}
	return errs
}
