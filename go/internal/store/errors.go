package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable wraps transport and backend failures. Nothing was written.
	ErrUnavailable = errors.New("store unavailable")
	// ErrPinTaken is returned by CreateSession when a live session holds the pin.
	ErrPinTaken = errors.New("pin held by a live session")
	// ErrNoChange may be returned by a mutator to skip the write without failing.
	ErrNoChange = errors.New("no change")
)

// Unavailable wraps a backend error so callers can match ErrUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// DeserializationError reports a stored record that does not fit the schema.
type DeserializationError struct {
	Entity string
	Key    string
	Field  string
	Err    error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("malformed %s %s: field %s: %v", e.Entity, e.Key, e.Field, e.Err)
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}

// IsDeserialization reports whether err carries a DeserializationError.
func IsDeserialization(err error) bool {
	var de *DeserializationError
	return errors.As(err, &de)
}
