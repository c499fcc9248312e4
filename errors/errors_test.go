package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{"nil", nil, nil},
		{"plain", fmt.Errorf("boom"), nil},
		{"type mismatch", Errorf(ErrTypeMismatch, "number vs trigger"), ErrTypeMismatch},
		{"wrapped unknown type", Wrap(Errorf(ErrUnknownType, "osc"), "Graph", "AddElement", "create"), ErrUnknownType},
		{"rejected reports cause", fmt.Errorf("%w: %w", ErrTransactionRejected, Errorf(ErrCyclicGraph, "a->b->a")), ErrCyclicGraph},
		{"bare rejection", ErrTransactionRejected, ErrTransactionRejected},
		{"channel mismatch beats type mismatch", fmt.Errorf("%w: %w", ErrChannelTypeMismatch, ErrTypeMismatch), ErrChannelTypeMismatch},
		{"classified fault", WrapTransient(ErrElementFault, "Graph", "Tick", "element tick"), ErrElementFault},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Kind(test.err); got != test.expected {
				t.Errorf("expected %v, got %v", test.expected, got)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"storage unavailable", ErrStorageUnavailable, true},
		{"context canceled", context.Canceled, true},
		{"network in message", fmt.Errorf("network connection failed"), true},
		{"unknown pin", ErrUnknownPin, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := IsTransient(test.err); result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"cycle", Errorf(ErrCyclicGraph, "x"), true},
		{"rejected", ErrTransactionRejected, true},
		{"element fault", ErrElementFault, false},
		{"wrapped invalid", WrapInvalid(fmt.Errorf("bad"), "Router", "Publish", "type check"), true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := IsInvalid(test.err); result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"engine fatal", ErrEngineFatal, ErrorFatal},
		{"resource exhausted", fmt.Errorf("pool: %w", ErrResourceExhausted), ErrorFatal},
		{"unknown type", ErrUnknownType, ErrorInvalid},
		{"timeout", ErrConnectionTimeout, ErrorTransient},
		{"unclassified", fmt.Errorf("something odd"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := Classify(test.err); result != test.expected {
				t.Errorf("expected %v, got %v", test.expected, result)
			}
		})
	}
}

func TestWrapFormat(t *testing.T) {
	base := errors.New("bucket gone")
	err := WrapFatal(base, "Engine", "Step", "tick")

	if !strings.Contains(err.Error(), "Engine.Step: tick failed: bucket gone") {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if !errors.Is(err, base) {
		t.Error("expected wrapped error to unwrap to base")
	}
	if !IsFatal(err) {
		t.Error("expected fatal classification")
	}

	var ce *ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatal("expected ClassifiedError")
	}
	if ce.Component != "Engine" || ce.Operation != "Step" {
		t.Errorf("unexpected context %s.%s", ce.Component, ce.Operation)
	}

	if Wrap(nil, "a", "b", "c") != nil || WrapInvalid(nil, "a", "b", "c") != nil {
		t.Error("wrapping nil must return nil")
	}
}
