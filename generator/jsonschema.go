package generator

import (
	"sort"

	"github.com/vigraph/vg-server-sub000/value"
)

// JSONSchemaDraft is the dialect of generated schemas
const JSONSchemaDraft = "http://json-schema.org/draft-07/schema#"

// JSONSchema renders a type's property schema as a JSON Schema document that
// accepts the literal forms value.FromAny understands.
func (g *Generator) JSONSchema(typ string) (map[string]any, error) {
	reg, err := g.registry.Lookup(typ)
	if err != nil {
		return nil, err
	}

	props := make(map[string]any, len(reg.Properties))
	required := []string{}
	for name, prop := range reg.Properties {
		s := literalSchema(prop.Type)
		if prop.Description != "" {
			s["description"] = prop.Description
		}
		if prop.Minimum != nil {
			s["minimum"] = *prop.Minimum
		}
		if prop.Maximum != nil {
			s["maximum"] = *prop.Maximum
		}
		if len(prop.Enum) > 0 {
			enum := make([]any, len(prop.Enum))
			for i, e := range prop.Enum {
				enum[i] = e
			}
			s["enum"] = enum
		}
		props[name] = s
		if prop.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	doc := map[string]any{
		"$schema":              JSONSchemaDraft,
		"title":                reg.Type,
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc, nil
}

func literalSchema(t value.Type) map[string]any {
	switch t {
	case value.TypeNumber:
		return map[string]any{"type": "number"}
	case value.TypeTrigger:
		return map[string]any{"type": []any{"boolean", "null"}}
	case value.TypeText:
		return map[string]any{"type": "string"}
	case value.TypeColour:
		return map[string]any{"anyOf": []any{
			map[string]any{"type": "string", "pattern": "^#?([0-9a-fA-F]{6}|[0-9a-fA-F]{8})$"},
			map[string]any{"type": "object"},
			map[string]any{"type": "array", "minItems": 3, "maxItems": 4, "items": map[string]any{"type": "number"}},
		}}
	case value.TypeVector:
		return map[string]any{"anyOf": []any{
			map[string]any{"type": "object"},
			map[string]any{"type": "array", "minItems": 2, "maxItems": 3, "items": map[string]any{"type": "number"}},
		}}
	case value.TypeBinary:
		return map[string]any{"type": "string", "contentEncoding": "base64"}
	default:
		return map[string]any{"type": "object"}
	}
}
