package modules

import (
	"github.com/vigraph/vg-server-sub000/element"
	"github.com/vigraph/vg-server-sub000/tick"
	"github.com/vigraph/vg-server-sub000/value"
)

func numberPin(name string) element.PinSpec {
	return element.PinSpec{Name: name, Type: value.TypeNumber}
}

// Constant outputs its "value" property every tick
type Constant struct {
	*element.Base
}

func constantRegistration() element.Registration {
	return element.Registration{
		Type:        "constant",
		Category:    "core",
		Description: "Outputs a fixed number",
		Version:     "1.0.0",
		Outputs:     []element.PinSpec{numberPin("output")},
		Properties: map[string]element.PropertySchema{
			"value": {Type: value.TypeNumber, Description: "number to output", Default: value.Number(0)},
		},
		Factory: func(b *element.Base) (element.Element, error) { return &Constant{Base: b}, nil },
	}
}

// Tick writes the configured value
func (c *Constant) Tick(_ *tick.Context) error {
	return c.Out("output", value.Number(c.Number("value")))
}

// Scale multiplies its input by the "factor" property, 2 by default
type Scale struct {
	*element.Base
}

func scaleRegistration() element.Registration {
	return element.Registration{
		Type:        "scale",
		Category:    "core",
		Description: "Multiplies its input by a factor",
		Version:     "1.0.0",
		Inputs:      []element.PinSpec{numberPin("input")},
		Outputs:     []element.PinSpec{numberPin("output")},
		Properties: map[string]element.PropertySchema{
			"factor": {Type: value.TypeNumber, Description: "multiplier", Default: value.Number(2)},
		},
		Factory: func(b *element.Base) (element.Element, error) { return &Scale{Base: b}, nil },
	}
}

// Tick writes input * factor
func (s *Scale) Tick(_ *tick.Context) error {
	in, err := s.In("input").AsNumber()
	if err != nil {
		return err
	}
	return s.Out("output", value.Number(in*s.Number("factor")))
}

// Add sums its two inputs
type Add struct {
	*element.Base
}

func addRegistration() element.Registration {
	return element.Registration{
		Type:        "add",
		Category:    "core",
		Description: "Adds two numbers",
		Version:     "1.0.0",
		Inputs:      []element.PinSpec{numberPin("a"), numberPin("b")},
		Outputs:     []element.PinSpec{numberPin("output")},
		Factory:     func(b *element.Base) (element.Element, error) { return &Add{Base: b}, nil },
	}
}

// Tick writes a + b
func (a *Add) Tick(_ *tick.Context) error {
	x, err := a.In("a").AsNumber()
	if err != nil {
		return err
	}
	y, err := a.In("b").AsNumber()
	if err != nil {
		return err
	}
	return a.Out("output", value.Number(x+y))
}

// Counter counts triggers on its input, adding "step" per trigger. A trigger on
// "reset" sets the count back to zero.
type Counter struct {
	*element.Base
	count float64
}

func counterRegistration() element.Registration {
	return element.Registration{
		Type:        "counter",
		Category:    "core",
		Description: "Counts triggers",
		Version:     "1.0.0",
		Inputs: []element.PinSpec{
			{Name: "trigger", Type: value.TypeTrigger},
			{Name: "reset", Type: value.TypeTrigger},
		},
		Outputs: []element.PinSpec{numberPin("count")},
		Properties: map[string]element.PropertySchema{
			"step": {Type: value.TypeNumber, Description: "increment per trigger", Default: value.Number(1)},
		},
		Factory: func(b *element.Base) (element.Element, error) { return &Counter{Base: b}, nil },
	}
}

// Tick applies reset then trigger and writes the count
func (c *Counter) Tick(_ *tick.Context) error {
	if c.In("reset").Fired() {
		c.count = 0
	}
	if c.In("trigger").Fired() {
		c.count += c.Number("step")
	}
	return c.Out("count", value.Number(c.count))
}

// Count returns the current count
func (c *Counter) Count() float64 {
	return c.count
}

// CloneState copies the count into another counter
func (c *Counter) CloneState(dst element.Element) error {
	if other, ok := dst.(*Counter); ok {
		other.count = c.count
	}
	return nil
}

// Pulse fires a trigger every "every" ticks, starting on the first tick
type Pulse struct {
	*element.Base
	ticks int
}

func pulseRegistration() element.Registration {
	lo, _ := element.Bounds(1, 0)
	return element.Registration{
		Type:        "pulse",
		Category:    "core",
		Description: "Fires a trigger at a fixed tick interval",
		Version:     "1.0.0",
		Outputs:     []element.PinSpec{{Name: "output", Type: value.TypeTrigger}},
		Properties: map[string]element.PropertySchema{
			"every": {Type: value.TypeNumber, Description: "ticks between triggers", Default: value.Number(1), Minimum: lo},
		},
		Factory: func(b *element.Base) (element.Element, error) { return &Pulse{Base: b}, nil },
	}
}

// Tick writes a trigger on firing ticks and no value otherwise
func (p *Pulse) Tick(_ *tick.Context) error {
	every := max(int(p.Number("every")), 1)
	fire := p.ticks%every == 0
	p.ticks++
	if fire {
		return p.Out("output", value.Trigger())
	}
	return p.Out("output", value.None())
}
