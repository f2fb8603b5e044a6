// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package locerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Is(t *testing.T) {
	t.Run("annotated sentinel matches by code", func(t *testing.T) {
		err := ErrUnauthorized.WithOp("startPositionWatch")
		if !errors.Is(err, ErrUnauthorized) {
			t.Error("expected annotated error to match sentinel")
		}
		if errors.Is(err, ErrBackgroundUnauthorized) {
			t.Error("expected error not to match a different code")
		}
	})
	t.Run("wrapped error still matches", func(t *testing.T) {
		err := fmt.Errorf("failed to start: %w", ErrBackgroundUnauthorized)
		if !errors.Is(err, ErrBackgroundUnauthorized) {
			t.Error("expected wrapped error to match sentinel")
		}
	})
}

func TestSubstrate(t *testing.T) {
	t.Run("nil error stays nil", func(t *testing.T) {
		if err := Substrate("register", nil); err != nil {
			t.Errorf("expected nil error, got: %s", err)
		}
	})
	t.Run("original error is kept", func(t *testing.T) {
		orig := errors.New("intentionally failing")
		err := Substrate("register", orig)
		if !errors.Is(err, orig) {
			t.Error("expected substrate error to wrap the original error")
		}
		if CodeOf(err) != CodeSubstrate {
			t.Errorf("expected code %s, got %s", CodeSubstrate, CodeOf(err))
		}
	})
}

func TestUnavailable(t *testing.T) {
	err := Unavailable("queryForeground", "Permissions")
	if !errors.Is(err, ErrModuleUnavailable) {
		t.Error("expected error to match ErrModuleUnavailable")
	}
	if !strings.Contains(err.Error(), "Permissions") {
		t.Errorf("expected error to name the missing capability, got: %s", err)
	}
}

func TestMessageOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain error", errors.New("boom"), "boom"},
		{"location error", ErrUnauthorized.WithOp("op"), ErrUnauthorized.Message},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := MessageOf(tc.err); got != tc.want {
				t.Errorf("expected message %q, got %q", tc.want, got)
			}
		})
	}
}
