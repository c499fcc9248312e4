// Package modules registers the built-in element types: the small set of core
// numeric, channel, spawn and file elements the engine and its tools rely on.
// Hardware and protocol modules register themselves from their own packages.
package modules

import (
	"errors"

	"github.com/vigraph/vg-server-sub000/element"
	pkgerrors "github.com/vigraph/vg-server-sub000/errors"
)

// Register registers all built-in element types with the provided registry:
//
//   - constant, scale, add: numeric sources and arithmetic
//   - counter: counts triggers, carrying its count into clones
//   - pulse: fires a trigger every n ticks
//   - send, receive: router channel endpoints
//   - spawn: clones a sub-graph template on trigger
//   - file-reader: reads a file off the tick path
func Register(registry *element.Registry) error {
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"Modules", "Register", "registry validation")
	}

	for _, reg := range []element.Registration{
		constantRegistration(),
		scaleRegistration(),
		addRegistration(),
		counterRegistration(),
		pulseRegistration(),
		sendRegistration(),
		receiveRegistration(),
		spawnRegistration(),
		fileReaderRegistration(),
	} {
		if err := registry.Register(reg); err != nil {
			return pkgerrors.WrapInvalid(err, "Modules", "Register", reg.Type+" registration")
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-in types
func NewRegistry() (*element.Registry, error) {
	registry := element.NewRegistry()
	if err := Register(registry); err != nil {
		return nil, err
	}
	return registry, nil
}
