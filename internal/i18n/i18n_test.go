// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package i18n

import (
	"errors"
	"testing"

	"github.com/wneessen/geowatch/internal/locerr"
)

func TestNew(t *testing.T) {
	t.Run("new i18n provider with empty locale string succeeds", func(t *testing.T) {
		provider, err := New("")
		if err != nil {
			t.Fatalf("failed to create i18n provider: %s", err)
		}
		if provider == nil {
			t.Fatal("expected i18n provider to be non-nil")
		}
	})
	t.Run("new i18n provider with unknown locale falls back", func(t *testing.T) {
		provider, err := New("xx")
		if err != nil {
			t.Fatalf("failed to create i18n provider: %s", err)
		}
		if provider == nil {
			t.Fatal("expected i18n provider to be non-nil")
		}
	})
}

func TestMessage(t *testing.T) {
	t.Run("german translation", func(t *testing.T) {
		loc, err := New("de")
		if err != nil {
			t.Fatalf("failed to create i18n provider: %s", err)
		}
		want := "Ortungsdienste sind deaktiviert"
		if got := Message(loc, locerr.ErrServicesDisabled.WithOp("getCurrentPosition")); got != want {
			t.Errorf("expected message %q, got %q", want, got)
		}
	})
	t.Run("english source language", func(t *testing.T) {
		loc, err := New("en")
		if err != nil {
			t.Fatalf("failed to create i18n provider: %s", err)
		}
		want := locerr.ErrUnauthorized.Message
		if got := Message(loc, locerr.ErrUnauthorized); got != want {
			t.Errorf("expected message %q, got %q", want, got)
		}
	})
	t.Run("untranslated message is kept", func(t *testing.T) {
		loc, err := New("de")
		if err != nil {
			t.Fatalf("failed to create i18n provider: %s", err)
		}
		want := "gps module is not available, check that it is configured"
		if got := Message(loc, locerr.Unavailable("start", "gps")); got != want {
			t.Errorf("expected message %q, got %q", want, got)
		}
	})
	t.Run("plain error", func(t *testing.T) {
		if got := Message(nil, errors.New("boom")); got != "boom" {
			t.Errorf("expected plain error text, got %q", got)
		}
	})
}
