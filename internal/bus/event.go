package bus

import "fmt"

// Topic names a channel in the publish/subscribe namespace. Topics are
// hierarchical by convention ("dataset/capture/complete") but the bus treats
// them as opaque strings; there is no wildcard matching.
type Topic string

// Event is a published message: a topic plus named payload fields.
// Handlers must treat Fields as read-only; Publish hands every handler the
// same map.
type Event struct {
	Topic  Topic
	Fields map[string]any
}

// Handler receives events. A returned error or a panic is a handler fault:
// it is logged and counted, and delivery continues with the next handler.
type Handler func(Event) error

// Get returns the raw field value.
func (e Event) Get(key string) (any, bool) {
	v, ok := e.Fields[key]
	return v, ok
}

// Int returns an integer field. Any Go integer type is accepted.
func (e Event) Int(key string) (int, error) {
	v, ok := e.Fields[key]
	if !ok {
		return 0, missingField(e.Topic, key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	default:
		return 0, fieldType(e.Topic, key, "int", v)
	}
}

// Float returns a floating point field. Integers are widened.
func (e Event) Float(key string) (float64, error) {
	v, ok := e.Fields[key]
	if !ok {
		return 0, missingField(e.Topic, key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	default:
		return 0, fieldType(e.Topic, key, "float", v)
	}
}

// Str returns a string field.
func (e Event) Str(key string) (string, error) {
	v, ok := e.Fields[key]
	if !ok {
		return "", missingField(e.Topic, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fieldType(e.Topic, key, "string", v)
	}
	return s, nil
}

func missingField(t Topic, key string) error {
	return &FieldError{Topic: t, Key: key, Msg: "missing"}
}

func fieldType(t Topic, key, want string, got any) error {
	return &FieldError{Topic: t, Key: key, Msg: fmt.Sprintf("want %s, got %T", want, got)}
}
