package modules

import (
	"fmt"

	"github.com/vigraph/vg-server-sub000/element"
	"github.com/vigraph/vg-server-sub000/tick"
	"github.com/vigraph/vg-server-sub000/value"
)

// Spawn asks the engine to clone a sub-graph template each time its trigger
// fires. Clones are named "<prefix><n>". A trigger on "clear" removes every
// clone this element spawned. A request the engine refuses, or a clone removed
// by other means, is dropped from the count on the following tick.
type Spawn struct {
	*element.Base
	next    int
	spawned []spawnedClone
}

type spawnedClone struct {
	template string
	name     string
}

func spawnRegistration() element.Registration {
	return element.Registration{
		Type:        "spawn",
		Category:    "control",
		Description: "Clones a sub-graph template on trigger",
		Version:     "1.0.0",
		Inputs: []element.PinSpec{
			{Name: "trigger", Type: value.TypeTrigger},
			{Name: "clear", Type: value.TypeTrigger},
		},
		Outputs: []element.PinSpec{numberPin("count")},
		Properties: map[string]element.PropertySchema{
			"template": {Type: value.TypeText, Description: "sub-graph to clone", Required: true},
			"prefix":   {Type: value.TypeText, Description: "name prefix for clones", Default: value.Text("spawn")},
		},
		Factory: func(b *element.Base) (element.Element, error) { return &Spawn{Base: b}, nil },
	}
}

// Tick requests spawns and despawns and outputs the number of live clones
func (s *Spawn) Tick(ctx *tick.Context) error {
	if ctx.Spawner == nil {
		return s.Out("count", value.Number(0))
	}

	live := s.spawned[:0]
	for _, c := range s.spawned {
		if ctx.Spawner.Spawned(c.template, c.name) {
			live = append(live, c)
			continue
		}
		ctx.Log().Warn("spawned sub-graph not live", "template", c.template, "name", c.name)
	}
	s.spawned = live

	if s.In("clear").Fired() {
		for i, c := range s.spawned {
			if err := ctx.Spawner.Despawn(c.template, c.name); err != nil {
				s.spawned = s.spawned[i:]
				return err
			}
		}
		s.spawned = nil
	}

	if s.In("trigger").Fired() {
		template := s.Text("template")
		name := fmt.Sprintf("%s%d", s.Text("prefix"), s.next+1)
		if err := ctx.Spawner.Spawn(template, name); err != nil {
			return err
		}
		s.next++
		s.spawned = append(s.spawned, spawnedClone{template: template, name: name})
	}
	return s.Out("count", value.Number(float64(len(s.spawned))))
}
