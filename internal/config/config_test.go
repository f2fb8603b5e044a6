// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/wneessen/geowatch/internal/permission"
)

func TestNew(t *testing.T) {
	const (
		expectLogLevel        = slog.LevelInfo
		expectAPILevel        = 33
		expectPollInterval    = time.Millisecond * 60
		expectDefaultInterval = time.Minute
		expectListen          = "127.0.0.1:8765"
	)
	t.Run("new config with all defaults set", func(t *testing.T) {
		conf, err := New()
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		if conf.LogLevel != expectLogLevel {
			t.Errorf("expected log level to be: %s, got %s", expectLogLevel, conf.LogLevel)
		}
		if conf.Platform.APILevel != expectAPILevel {
			t.Errorf("expected api level to be: %d, got %d", expectAPILevel, conf.Platform.APILevel)
		}
		if conf.Heading.PollInterval != expectPollInterval {
			t.Errorf("expected heading poll interval to be: %s, got %s", expectPollInterval,
				conf.Heading.PollInterval)
		}
		if conf.Heading.Declination != DeclinationWMM {
			t.Errorf("expected declination model to be: %s, got %s", DeclinationWMM, conf.Heading.Declination)
		}
		if conf.Tasks.DefaultInterval != expectDefaultInterval {
			t.Errorf("expected default task interval to be: %s, got %s", expectDefaultInterval,
				conf.Tasks.DefaultInterval)
		}
		if conf.Server.Listen != expectListen {
			t.Errorf("expected listen address to be: %s, got %s", expectListen, conf.Server.Listen)
		}
		if conf.Providers.GPSD.Port != 2947 {
			t.Errorf("expected gpsd port to be: 2947, got %d", conf.Providers.GPSD.Port)
		}
		if conf.Providers.GeolocationFile.Path == "" {
			t.Error("expected geolocation file path to be set")
		}
		if !conf.BackgroundDeclared() {
			t.Error("expected background permission to be declared by default")
		}
	})
	t.Run("background declaration can be switched off", func(t *testing.T) {
		t.Setenv("GEOWATCH_PERMISSIONS_BACKGROUND_UNDECLARED", "true")
		conf, err := New()
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		if conf.BackgroundDeclared() {
			t.Error("expected background permission to be undeclared")
		}
	})
	t.Run("new config with invalid values from env", func(t *testing.T) {
		t.Setenv("GEOWATCH_LOGLEVEL", "invalid")
		_, err := New()
		if err == nil {
			t.Error("expected config to fail, but didn't")
		}
	})
	t.Run("config validate api level", func(t *testing.T) {
		t.Setenv("GEOWATCH_PLATFORM_API_LEVEL", "0")
		_, err := New()
		if err == nil {
			t.Error("expected config to fail, but didn't")
		}
	})
	t.Run("config validate permission status", func(t *testing.T) {
		t.Setenv("GEOWATCH_PERMISSIONS_BACKGROUND", "maybe")
		_, err := New()
		if err == nil {
			t.Error("expected config to fail, but didn't")
		}
	})
	t.Run("config validate declination model", func(t *testing.T) {
		t.Setenv("GEOWATCH_HEADING_DECLINATION", "igrf")
		_, err := New()
		if err == nil {
			t.Error("expected config to fail, but didn't")
		}
	})
	t.Run("config validate settings auto result", func(t *testing.T) {
		t.Setenv("GEOWATCH_SETTINGS_AUTO_RESULT", "perhaps")
		_, err := New()
		if err == nil {
			t.Error("expected config to fail, but didn't")
		}
		t.Setenv("GEOWATCH_SETTINGS_AUTO_RESULT", "unchanged")
		if _, err = New(); err != nil {
			t.Errorf("expected config to succeed, got: %s", err)
		}
	})
}

func TestConfig_PermissionResponses(t *testing.T) {
	t.Setenv("GEOWATCH_PERMISSIONS_COARSE", "denied")
	conf, err := New()
	if err != nil {
		t.Fatalf("failed to load config: %s", err)
	}
	responses := conf.PermissionResponses()
	if got := responses.Get(permission.Fine); got.Status != permission.StatusGranted || !got.CanAskAgain {
		t.Errorf("expected fine permission to be granted, got %+v", got)
	}
	if got := responses.Get(permission.Coarse); got.Status != permission.StatusDenied || got.CanAskAgain {
		t.Errorf("expected coarse permission to be denied for good, got %+v", got)
	}
	if got := responses.Get(permission.Background); got.Status != permission.StatusUndetermined {
		t.Errorf("expected background permission to be undetermined, got %+v", got)
	}
}

func TestNewFromFile(t *testing.T) {
	const (
		expectLogLevel = slog.LevelInfo
		expectAPILevel = 33
	)
	t.Run("reading config from valid file succeeds", func(t *testing.T) {
		conf, err := NewFromFile("../../etc", "config.toml")
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		if conf.LogLevel != expectLogLevel {
			t.Errorf("expected log level to be: %s, got %s", expectLogLevel, conf.LogLevel)
		}
		if conf.Platform.APILevel != expectAPILevel {
			t.Errorf("expected api level to be: %d, got %d", expectAPILevel, conf.Platform.APILevel)
		}
		if !conf.BackgroundDeclared() {
			t.Error("expected background permission to be declared")
		}
	})
	t.Run("reading config from non-existent file fails", func(t *testing.T) {
		_, err := NewFromFile("../../etc", "non-existent.toml")
		if err == nil {
			t.Error("expected config to fail, but didn't")
		}
	})
	t.Run("reading invalid config file fails", func(t *testing.T) {
		_, err := NewFromFile("../../testdata", "invalid.toml")
		if err == nil {
			t.Error("expected config to fail, but didn't")
		}
	})
}
