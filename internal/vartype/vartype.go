// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package vartype provides optional values that track whether they were ever set.
package vartype

import (
	"encoding/json"
	"fmt"
	"time"
)

type (
	// VarFloat64 is an optional float64, used for bounds and sample fields that may be absent.
	VarFloat64 = Variable[float64]

	// VarDuration is an optional time.Duration.
	VarDuration = Variable[time.Duration]
)

// Variable holds a value of T and whether it has been set.
type Variable[T any] struct {
	value T
	isset bool
}

// NewVariable returns a set Variable holding value.
func NewVariable[T any](value T) Variable[T] {
	return Variable[T]{
		isset: true,
		value: value,
	}
}

// Reset clears the value and marks the Variable as unset.
func (v *Variable[T]) Reset() {
	var zero T
	v.value = zero
	v.isset = false
}

// Value returns the stored value, or the zero value of T when unset.
func (v Variable[T]) Value() T {
	return v.value
}

// ValueOr returns the stored value, or fallback when unset.
func (v Variable[T]) ValueOr(fallback T) T {
	if !v.isset {
		return fallback
	}
	return v.value
}

// Set stores val and marks the Variable as set.
func (v *Variable[T]) Set(val T) {
	v.value = val
	v.isset = true
}

// IsSet reports whether the Variable holds a value.
func (v Variable[T]) IsSet() bool {
	return v.isset
}

// String returns the value or "unset".
func (v Variable[T]) String() string {
	if !v.isset {
		return "unset"
	}
	return fmt.Sprint(v.value)
}

// MarshalJSON encodes an unset Variable as null.
func (v Variable[T]) MarshalJSON() ([]byte, error) {
	if !v.isset {
		return []byte("null"), nil
	}
	return json.Marshal(v.value)
}

// UnmarshalJSON decodes null as unset.
func (v *Variable[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		v.Reset()
		return nil
	}
	var val T
	if err := json.Unmarshal(data, &val); err != nil {
		return err
	}
	v.Set(val)
	return nil
}
