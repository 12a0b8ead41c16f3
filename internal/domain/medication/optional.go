package medication

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Opt is a value that is either known (Some) or not yet determined (None).
// A known empty string is distinct from an unknown one.
type Opt[T any] struct {
	value T
	set   bool
}

// Some wraps a known value.
func Some[T any](v T) Opt[T] {
	return Opt[T]{value: v, set: true}
}

// None returns the unknown value.
func None[T any]() Opt[T] {
	return Opt[T]{}
}

// IsSet reports whether the value is known.
func (o Opt[T]) IsSet() bool { return o.set }

// Get returns the value and whether it is known.
func (o Opt[T]) Get() (T, bool) { return o.value, o.set }

// OrElse returns the value, or def when unknown.
func (o Opt[T]) OrElse(def T) T {
	if !o.set {
		return def
	}
	return o.value
}

// MarshalJSON encodes an unknown value as null.
func (o Opt[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON decodes null as unknown.
func (o *Opt[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = None[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

// Text is a known string only when it is non-blank.
func Text(s string) Opt[string] {
	s = strings.TrimSpace(s)
	if s == "" {
		return None[string]()
	}
	return Some(s)
}
