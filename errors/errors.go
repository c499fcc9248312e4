// Package errors provides the error classification and the dataflow error
// taxonomy shared by every vg-server package.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input, configuration or structure
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop the engine
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Dataflow taxonomy. Every validation, routing and runtime failure raised by the
// engine wraps exactly one of these.
var (
	// ErrTypeMismatch is a value or pin type disagreement
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrUnknownType is a registry lookup failure for an element type
	ErrUnknownType = errors.New("unknown element type")
	// ErrUnknownPin is a pin, element or sub-graph lookup failure
	ErrUnknownPin = errors.New("unknown pin")
	// ErrCyclicGraph is an illegal cycle of direct connections
	ErrCyclicGraph = errors.New("cyclic graph")
	// ErrChannelTypeMismatch is a router channel used with a different value type
	ErrChannelTypeMismatch = errors.New("channel type mismatch")
	// ErrTransactionRejected is an aggregate rejection of a control transaction
	ErrTransactionRejected = errors.New("transaction rejected")
	// ErrElementFault is a failed element tick
	ErrElementFault = errors.New("element fault")
	// ErrEngineFatal is a failure of the engine's own scheduling loop
	ErrEngineFatal = errors.New("engine fatal")
)

// Standard error variables for common conditions
var (
	// Lifecycle errors
	ErrAlreadyStarted = errors.New("already started")
	ErrNotStarted     = errors.New("not started")
	ErrShuttingDown   = errors.New("shutting down")

	// Connection and storage errors
	ErrNoConnection       = errors.New("no connection available")
	ErrConnectionLost     = errors.New("connection lost")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrKeyNotFound        = errors.New("key not found")
	ErrVersionConflict    = errors.New("version conflict")

	// Data and configuration errors
	ErrInvalidData   = errors.New("invalid data format")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Resource errors
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrRateLimited       = errors.New("rate limited")
)

// taxonomy lists the dataflow sentinels from most to least specific.
var taxonomy = []error{
	ErrEngineFatal,
	ErrElementFault,
	ErrChannelTypeMismatch,
	ErrTypeMismatch,
	ErrUnknownType,
	ErrUnknownPin,
	ErrCyclicGraph,
	ErrTransactionRejected,
}

// Kind returns the most specific taxonomy sentinel found in err's chain, or nil
// when err carries none. A rejected transaction reports its cause, not
// ErrTransactionRejected itself, while a faulted element reports
// ErrElementFault whatever its cause.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range taxonomy {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "network", "temporary", "unavailable"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// IsFatal checks if an error is fatal and should stop the engine
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrEngineFatal) ||
		errors.Is(err, ErrResourceExhausted)
}

// IsInvalid checks if an error is due to invalid input or structure
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	if errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) {
		return true
	}
	switch Kind(err) {
	case ErrTypeMismatch, ErrUnknownType, ErrUnknownPin, ErrCyclicGraph,
		ErrChannelTypeMismatch, ErrTransactionRejected:
		return true
	}
	return false
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}
	return ErrorTransient
}

func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// Errorf builds an error wrapping one of the taxonomy sentinels with detail,
// e.g. Errorf(ErrUnknownPin, "element %q has no pin %q", id, name).
func Errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// Join combines several errors, as the standard library's errors.Join
func Join(errs ...error) error {
	return errors.Join(errs...)
}
