package description

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vigraph/vg-server-sub000/element"
	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/value"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	_ = v.RegisterValidation("element_id", func(fl validator.FieldLevel) bool {
		return element.ValidateID(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("pin_path", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		i := strings.LastIndex(s, ".")
		return i > 0 && i < len(s)-1
	})
	_ = v.RegisterValidation("value_type", func(fl validator.FieldLevel) bool {
		_, err := value.ParseType(fl.Field().String())
		return err == nil
	})

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Problem is one structural issue found in a description
type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Problems is the full list of issues found by Validate
type Problems []Problem

func (p Problems) Error() string {
	parts := make([]string, len(p))
	for i, pr := range p {
		parts[i] = pr.Field + ": " + pr.Message
	}
	return strings.Join(parts, "; ")
}

// Validate checks field formats and the references inside the description.
// Element types, pin names and pin types are checked later, when the
// description is built against a registry.
func Validate(g *Graph) error {
	var problems Problems

	if err := validate.Struct(g); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				problems = append(problems, Problem{Field: trimRoot(fe.Namespace()), Message: message(fe)})
			}
		} else {
			return errors.WrapInvalid(err, "description", "Validate", "struct validation")
		}
	}

	problems = append(problems, check(g, "", true)...)
	if len(problems) > 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, problems), "description", "Validate", "graph description")
	}
	return nil
}

func check(g *Graph, at string, root bool) Problems {
	var problems Problems
	add := func(field, format string, args ...any) {
		problems = append(problems, Problem{Field: at + field, Message: fmt.Sprintf(format, args...)})
	}

	if !root && len(g.Subscriptions) > 0 {
		add("subscriptions", "only allowed at the root")
	}
	if len(g.Elements) > 0 && g.IsComposition() {
		add("elements", "a graph holds either elements or sub-graphs, not both")
	}

	if g.IsComposition() {
		names := make(map[string]bool, len(g.Subgraphs))
		for i, s := range g.Subgraphs {
			if names[s.Name] {
				add(fmt.Sprintf("subgraphs[%d].name", i), "duplicate sub-graph %q", s.Name)
			}
			names[s.Name] = true
			problems = append(problems, check(&s.Graph, fmt.Sprintf("%ssubgraphs[%d].", at, i), false)...)
		}
		for i, c := range g.Connections {
			for _, end := range []string{c.From, c.To} {
				sub, _, _ := strings.Cut(end, ".")
				if !names[sub] {
					add(fmt.Sprintf("connections[%d]", i), "unknown sub-graph %q", sub)
				}
			}
		}
		exposed := make(map[string]bool, len(g.Boundary))
		for i, b := range g.Boundary {
			if exposed[b.Name] {
				add(fmt.Sprintf("boundary[%d].name", i), "duplicate boundary pin %q", b.Name)
			}
			exposed[b.Name] = true
			if !names[b.Subgraph] {
				add(fmt.Sprintf("boundary[%d].subgraph", i), "unknown sub-graph %q", b.Subgraph)
			}
		}
	} else {
		ids := make(map[string]bool, len(g.Elements))
		for i, e := range g.Elements {
			if ids[e.ID] {
				add(fmt.Sprintf("elements[%d].id", i), "duplicate element %q", e.ID)
			}
			ids[e.ID] = true
		}
		for i, c := range g.Connections {
			for _, end := range []string{c.From, c.To} {
				if dot := strings.LastIndex(end, "."); dot > 0 && !ids[end[:dot]] {
					add(fmt.Sprintf("connections[%d]", i), "unknown element %q", end[:dot])
				}
			}
		}
	}

	subs := make(map[string]bool, len(g.Subscriptions))
	for i, s := range g.Subscriptions {
		if subs[s.ID] {
			add(fmt.Sprintf("subscriptions[%d].id", i), "duplicate subscription %q", s.ID)
		}
		subs[s.ID] = true
	}
	return problems
}

func trimRoot(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "element_id":
		return "must contain only letters, digits, '-' and '_'"
	case "pin_path":
		return "must be of the form \"element.pin\""
	case "value_type":
		return fmt.Sprintf("unknown value type %q", fe.Value())
	case "gte", "lte":
		return fmt.Sprintf("must be %s %s", fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("validation failed: %s", fe.Tag())
	}
}
