// Package change provides an explicit per-field change set for partial
// updates, separating "field omitted" from "field explicitly cleared".
package change

import (
	"bytes"
	"encoding/json"
)

type state uint8

const (
	unset state = iota
	null
	value
)

// Field is one entry of a change set: Unset, SetNull or SetValue(v).
//
// When marshalled with the `omitzero` option an unset field disappears from
// the JSON document, a null field is written as null.
type Field[T any] struct {
	state state
	value T
}

// Unset returns a field that leaves the target untouched.
func Unset[T any]() Field[T] { return Field[T]{} }

// Null returns a field that clears the target.
func Null[T any]() Field[T] { return Field[T]{state: null} }

// Value returns a field that sets the target to v.
func Value[T any](v T) Field[T] { return Field[T]{state: value, value: v} }

// FromPtr maps nil to Null and anything else to Value.
func FromPtr[T any](v *T) Field[T] {
	if v == nil {
		return Null[T]()
	}
	return Value(*v)
}

// IsZero reports whether the field is unset.
func (f Field[T]) IsZero() bool { return f.state == unset }

// IsSet reports whether the field carries a change (null or value).
func (f Field[T]) IsSet() bool { return f.state != unset }

// IsNull reports whether the field explicitly clears the target.
func (f Field[T]) IsNull() bool { return f.state == null }

// Get returns the value and whether the field is SetValue.
func (f Field[T]) Get() (T, bool) {
	return f.value, f.state == value
}

// Ptr returns nil for unset and null fields.
func (f Field[T]) Ptr() *T {
	if f.state != value {
		return nil
	}
	v := f.value
	return &v
}

// Apply writes the change into a gorm-style update map under column.
func (f Field[T]) Apply(updates map[string]any, column string) {
	switch f.state {
	case null:
		updates[column] = nil
	case value:
		updates[column] = f.value
	}
}

// ApplyTo writes the change into dst. Null resets dst to the zero value.
func (f Field[T]) ApplyTo(dst *T) {
	switch f.state {
	case null:
		var zero T
		*dst = zero
	case value:
		*dst = f.value
	}
}

// ApplyToPtr writes the change into a nullable destination.
func (f Field[T]) ApplyToPtr(dst **T) {
	switch f.state {
	case null:
		*dst = nil
	case value:
		v := f.value
		*dst = &v
	}
}

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.state != value {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

func (f *Field[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = Null[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Value(v)
	return nil
}
