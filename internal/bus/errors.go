package bus

import (
	"errors"
	"fmt"
)

var (
	// ErrBusClosed is returned by Subscribe after Close.
	ErrBusClosed = errors.New("event bus is closed")

	// ErrNilHandler is returned when a nil handler is provided.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrEmptyTopic is returned when subscribing to "".
	ErrEmptyTopic = errors.New("topic cannot be empty")

	// ErrHandlerPanic matches any *PanicError via errors.Is.
	ErrHandlerPanic = errors.New("handler panicked")
)

// HandlerError wraps an error returned by a handler.
type HandlerError struct {
	Topic          Topic
	SubscriptionID uint64
	Err            error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %d on topic %q: %v", e.SubscriptionID, e.Topic, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Topic          Topic
	SubscriptionID uint64
	Value          any
	Stack          string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler %d on topic %q panicked: %v", e.SubscriptionID, e.Topic, e.Value)
}

// Is allows errors.Is(err, ErrHandlerPanic).
func (e *PanicError) Is(target error) bool { return target == ErrHandlerPanic }

// IsHandlerFault reports whether err came from a faulty handler.
func IsHandlerFault(err error) bool {
	var he *HandlerError
	var pe *PanicError
	return errors.As(err, &he) || errors.As(err, &pe)
}

// FieldError reports a missing or mistyped payload field.
type FieldError struct {
	Topic Topic
	Key   string
	Msg   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("event %q field %q: %s", e.Topic, e.Key, e.Msg)
}
