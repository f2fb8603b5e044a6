// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package vartype

import (
	"encoding/json"
	"testing"
)

func TestVariable(t *testing.T) {
	t.Run("unset variable", func(t *testing.T) {
		var v VarFloat64
		if v.IsSet() {
			t.Error("expected variable to be unset")
		}
		if got := v.ValueOr(42); got != 42 {
			t.Errorf("expected fallback value, got %f", got)
		}
		if v.String() != "unset" {
			t.Errorf("expected string to be unset, got %s", v.String())
		}
	})
	t.Run("set and reset", func(t *testing.T) {
		v := NewVariable(1.5)
		if !v.IsSet() || v.Value() != 1.5 {
			t.Errorf("expected set variable with 1.5, got %s", v.String())
		}
		v.Reset()
		if v.IsSet() || v.Value() != 0 {
			t.Error("expected variable to be reset")
		}
	})
	t.Run("json encoding", func(t *testing.T) {
		type payload struct {
			A VarFloat64 `json:"a"`
			B VarFloat64 `json:"b"`
		}
		data, err := json.Marshal(payload{A: NewVariable(2.5)})
		if err != nil {
			t.Fatalf("failed to encode: %s", err)
		}
		if string(data) != `{"a":2.5,"b":null}` {
			t.Errorf("unexpected encoding: %s", data)
		}

		var decoded payload
		if err = json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("failed to decode: %s", err)
		}
		if !decoded.A.IsSet() || decoded.A.Value() != 2.5 {
			t.Errorf("expected a to be 2.5, got %s", decoded.A)
		}
		if decoded.B.IsSet() {
			t.Error("expected b to be unset")
		}
	})
}
