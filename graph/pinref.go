package graph

import (
	"strings"

	"github.com/vigraph/vg-server-sub000/errors"
)

// PinRef addresses a pin as element id plus pin name, written "element.pin"
type PinRef struct {
	Element string `json:"element" yaml:"element"`
	Pin     string `json:"pin" yaml:"pin"`
}

// ParsePinRef parses "element.pin". The element part may itself contain dots
// when addressing through nested units ("sub.element.pin"); the pin is always
// the last segment.
func ParsePinRef(path string) (PinRef, error) {
	i := strings.LastIndexByte(path, '.')
	if i <= 0 || i == len(path)-1 {
		return PinRef{}, errors.Errorf(errors.ErrUnknownPin, "malformed pin path %q", path)
	}
	return PinRef{Element: path[:i], Pin: path[i+1:]}, nil
}

func (r PinRef) String() string {
	return r.Element + "." + r.Pin
}

// Connection is a direct edge from an output pin to an input pin
type Connection struct {
	From PinRef `json:"from" yaml:"from"`
	To   PinRef `json:"to" yaml:"to"`
}

func (c Connection) String() string {
	return c.From.String() + " -> " + c.To.String()
}
