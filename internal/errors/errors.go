// Package errors defines the error taxonomy shared by the agent components.
// Every classified error unwraps to one of the sentinel kinds so callers can
// branch with errors.Is.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel kinds
var (
	// ErrInitialization means a model, cipher or transport failed to reach a ready state
	ErrInitialization = errors.New("initialization failed")
	// ErrInvalidInput means a feature vector or batch cannot be used for inference
	ErrInvalidInput = errors.New("invalid input")
	// ErrTransmission means a channel was unreachable or a transmit attempt failed
	ErrTransmission = errors.New("transmission failed")
	// ErrRetryExhausted means a queued packet reached the retry limit and was dropped
	ErrRetryExhausted = errors.New("retries exhausted")

	ErrQueueFull    = errors.New("retry queue full")
	ErrNotConnected = errors.New("channel not connected")
	ErrNotReady     = errors.New("component not ready")
)

// Error carries the component and operation that produced a classified failure.
type Error struct {
	Kind      error
	Component string
	Operation string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s.%s: %s", e.Component, e.Operation, e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil && e.Err != e.Kind {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil || e.Err == e.Kind {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap classifies err under kind. err may be nil.
func Wrap(kind error, err error, component, operation, message string) error {
	return &Error{
		Kind:      kind,
		Component: component,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// WrapInvalid classifies err as invalid input.
func WrapInvalid(err error, component, operation, message string) error {
	return Wrap(ErrInvalidInput, err, component, operation, message)
}

// WrapInit classifies err as an initialization failure.
func WrapInit(err error, component, operation, message string) error {
	return Wrap(ErrInitialization, err, component, operation, message)
}

// WrapTransmission classifies err as a transmission failure.
func WrapTransmission(err error, component, operation, message string) error {
	return Wrap(ErrTransmission, err, component, operation, message)
}

// IsInvalid reports whether err is an invalid input error.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsTransmission reports whether err is a transmission error.
func IsTransmission(err error) bool {
	return errors.Is(err, ErrTransmission)
}

// IsQueueFull reports whether err is retry queue backpressure.
func IsQueueFull(err error) bool {
	return errors.Is(err, ErrQueueFull)
}
