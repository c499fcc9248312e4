package modules

import (
	"github.com/vigraph/vg-server-sub000/element"
	"github.com/vigraph/vg-server-sub000/tick"
	"github.com/vigraph/vg-server-sub000/value"
)

func channelProperty() map[string]element.PropertySchema {
	return map[string]element.PropertySchema{
		"channel": {Type: value.TypeText, Description: "router channel name", Required: true},
	}
}

// Send publishes its input on a router channel every tick
type Send struct {
	*element.Base
}

func sendRegistration() element.Registration {
	return element.Registration{
		Type:        "send",
		Category:    "router",
		Description: "Publishes a number on a named channel",
		Version:     "1.0.0",
		Inputs:      []element.PinSpec{numberPin("input")},
		Properties:  channelProperty(),
		Factory:     func(b *element.Base) (element.Element, error) { return &Send{Base: b}, nil },
	}
}

// Channels declares the published channel
func (s *Send) Channels() []element.ChannelBinding {
	if s.Text("channel") == "" {
		return nil
	}
	return []element.ChannelBinding{{Channel: s.Text("channel"), Type: value.TypeNumber, Role: element.RolePublish}}
}

// Tick publishes the input value
func (s *Send) Tick(ctx *tick.Context) error {
	return ctx.Publish(s.Text("channel"), s.In("input"))
}

// Receive outputs the latest value visible on a router channel. Until anything
// has been published it outputs 0.
type Receive struct {
	*element.Base
}

func receiveRegistration() element.Registration {
	return element.Registration{
		Type:        "receive",
		Category:    "router",
		Description: "Reads a number from a named channel",
		Version:     "1.0.0",
		Outputs:     []element.PinSpec{numberPin("output")},
		Properties:  channelProperty(),
		Factory:     func(b *element.Base) (element.Element, error) { return &Receive{Base: b}, nil },
	}
}

// Channels declares the subscribed channel
func (r *Receive) Channels() []element.ChannelBinding {
	if r.Text("channel") == "" {
		return nil
	}
	return []element.ChannelBinding{{Channel: r.Text("channel"), Type: value.TypeNumber, Role: element.RoleSubscribe}}
}

// Tick copies the channel value to the output
func (r *Receive) Tick(ctx *tick.Context) error {
	v, err := ctx.Receive(r.Text("channel"))
	if err != nil {
		return err
	}
	if v.IsNone() {
		v = value.Number(0)
	}
	return r.Out("output", v)
}
