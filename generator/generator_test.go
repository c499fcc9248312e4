package generator

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigraph/vg-server-sub000/element"
	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/tick"
	"github.com/vigraph/vg-server-sub000/value"
)

type gain struct{ *element.Base }

func (g *gain) Tick(_ *tick.Context) error { return nil }

func newTestGenerator(t *testing.T) *Generator {
	t.Helper()
	lo, hi := element.Bounds(-10, 10)
	reg := element.NewRegistry()
	require.NoError(t, reg.Register(element.Registration{
		Type:        "test/gain",
		Category:    "math",
		Description: "Multiplies its input by a factor",
		Version:     "1.0.0",
		Inputs:      []element.PinSpec{{Name: "input", Type: value.TypeNumber, Default: value.Number(1), Description: "signal in"}},
		Outputs:     []element.PinSpec{{Name: "output", Type: value.TypeNumber}},
		Properties: map[string]element.PropertySchema{
			"factor": {Type: value.TypeNumber, Description: "multiplier", Default: value.Number(2), Minimum: lo, Maximum: hi},
			"mode":   {Type: value.TypeText, Default: value.Text("linear"), Enum: []string{"linear", "db"}},
		},
		Factory: func(b *element.Base) (element.Element, error) { return &gain{Base: b}, nil },
	}))
	require.NoError(t, reg.Register(element.Registration{
		Type:       "test/sink",
		Inputs:     []element.PinSpec{{Name: "trigger", Type: value.TypeTrigger}},
		Properties: map[string]element.PropertySchema{"colour": {Type: value.TypeColour}, "channel": {Type: value.TypeText, Required: true}},
		Factory:    func(b *element.Base) (element.Element, error) { return &gain{Base: b}, nil },
	}))
	return New(reg)
}

func TestDescribeGolden(t *testing.T) {
	g := newTestGenerator(t)

	desc, err := g.Describe("test/gain")
	require.NoError(t, err)

	data, err := json.MarshalIndent(desc, "", "  ")
	require.NoError(t, err)

	gold := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	gold.Assert(t, "describe_gain", append(data, '\n'))
}

func TestDescribeUnknownType(t *testing.T) {
	g := newTestGenerator(t)

	_, err := g.Describe("oscillator")
	assert.ErrorIs(t, err, errors.ErrUnknownType)

	_, err = g.JSONSchema("oscillator")
	assert.ErrorIs(t, err, errors.ErrUnknownType)

	assert.ErrorIs(t, g.ValidateProperties("oscillator", nil), errors.ErrUnknownType)
}

func TestDescribeIsPure(t *testing.T) {
	g := newTestGenerator(t)

	first, err := g.Describe("test/gain")
	require.NoError(t, err)
	first.Properties["factor"] = PropertyDescription{Type: "text"}

	second, err := g.Describe("test/gain")
	require.NoError(t, err)
	assert.Equal(t, "number", second.Properties["factor"].Type)
}

func TestListAndDefaults(t *testing.T) {
	g := newTestGenerator(t)

	list := g.List()
	require.Len(t, list, 2)
	assert.Equal(t, "test/gain", list[0].Type)
	assert.Equal(t, "test/sink", list[1].Type)

	defaults, err := g.Defaults("test/gain")
	require.NoError(t, err)
	assert.True(t, defaults["factor"].Equal(value.Number(2)))

	sample, err := g.Sample("test/gain")
	require.NoError(t, err)
	assert.True(t, sample["output"].Equal(value.Number(0)))

	typ, dir, err := g.PinType("test/sink", "trigger")
	require.NoError(t, err)
	assert.Equal(t, value.TypeTrigger, typ)
	assert.Equal(t, element.DirectionInput, dir)

	_, _, err = g.PinType("test/sink", "nope")
	assert.ErrorIs(t, err, errors.ErrUnknownPin)
}

func TestValidateProperties(t *testing.T) {
	g := newTestGenerator(t)

	tests := []struct {
		name string
		typ  string
		raw  map[string]any
		kind error
	}{
		{"valid", "test/gain", map[string]any{"factor": 3, "mode": "db"}, nil},
		{"empty", "test/gain", nil, nil},
		{"unknown property", "test/gain", map[string]any{"gain": 3}, errors.ErrUnknownPin},
		{"wrong type", "test/gain", map[string]any{"factor": "three"}, errors.ErrTypeMismatch},
		{"above maximum", "test/gain", map[string]any{"factor": 30}, errors.ErrInvalidConfig},
		{"not in enum", "test/gain", map[string]any{"mode": "log"}, errors.ErrInvalidConfig},
		{"missing required", "test/sink", map[string]any{}, errors.ErrInvalidConfig},
		{"hex colour", "test/sink", map[string]any{"channel": "a", "colour": "#00ff00"}, nil},
		{"list colour", "test/sink", map[string]any{"channel": "a", "colour": []any{1, 0, 0}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.ValidateProperties(tt.typ, tt.raw)
			if tt.kind == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestJSONSchemaDocument(t *testing.T) {
	g := newTestGenerator(t)

	doc, err := g.JSONSchema("test/sink")
	require.NoError(t, err)
	assert.Equal(t, JSONSchemaDraft, doc["$schema"])
	assert.Equal(t, []string{"channel"}, doc["required"])
	assert.Equal(t, false, doc["additionalProperties"])
}
