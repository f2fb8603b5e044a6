// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkyr/fig"

	"github.com/wneessen/geowatch/internal/permission"
	"github.com/wneessen/geowatch/internal/settings"
)

const (
	configEnv = "GEOWATCH"

	// MinAPILevel is the lowest platform API level geowatch emulates.
	MinAPILevel = 1

	DeclinationWMM   = "wmm"
	DeclinationFixed = "fixed"
)

// Config represents the application's configuration structure.
type Config struct {
	Locale   string     `fig:"locale"`
	LogLevel slog.Level `fig:"loglevel" default:"0"`

	Platform struct {
		// Background permission exists from 29 on, separate requests from 30 on
		APILevel int `fig:"api_level" default:"33"`
	} `fig:"platform"`

	Permissions struct {
		// Allowed values: granted, denied, undetermined
		Fine       string `fig:"fine" default:"granted"`
		Coarse     string `fig:"coarse" default:"granted"`
		Background string `fig:"background" default:"undetermined"`
		// Zero value means the permission is declared in the manifest
		BackgroundUndeclared bool `fig:"background_undeclared"`
	} `fig:"permissions"`

	Providers struct {
		GPSD struct {
			Host    string `fig:"host" default:"localhost"`
			Port    uint   `fig:"port" default:"2947"`
			Disable bool   `fig:"disable"`
		} `fig:"gpsd"`
		ICHNAEA struct {
			Endpoint string `fig:"endpoint"`
			Disable  bool   `fig:"disable"`
		} `fig:"ichnaea"`
		GeolocationFile struct {
			Path    string `fig:"path"`
			Disable bool   `fig:"disable"`
		} `fig:"geolocation_file"`
		CitynameFile struct {
			Path    string `fig:"path"`
			Disable bool   `fig:"disable"`
		} `fig:"cityname_file"`
		GeoAPI struct {
			Disable bool `fig:"disable"`
		} `fig:"geoapi"`
	} `fig:"providers"`

	Heading struct {
		SensorRoot   string        `fig:"sensor_root" default:"/sys/bus/iio/devices"`
		PollInterval time.Duration `fig:"poll_interval" default:"60ms"`
		// Allowed values: wmm, fixed
		Declination      string  `fig:"declination" default:"wmm"`
		FixedDeclination float64 `fig:"fixed_declination"`
	} `fig:"heading"`

	Tasks struct {
		UniformPermissionGate bool          `fig:"uniform_permission_gate"`
		DefaultInterval       time.Duration `fig:"default_interval" default:"1m"`
	} `fig:"tasks"`

	Server struct {
		Listen string `fig:"listen" default:"127.0.0.1:8765"`
	} `fig:"server"`

	Settings struct {
		// Allowed values: ok, canceled, unchanged. Empty forwards the prompt to clients.
		AutoResult string        `fig:"auto_result"`
		AutoDelay  time.Duration `fig:"auto_delay"`
	} `fig:"settings"`
}

func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read Config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func (c *Config) Validate() error {
	if c.Locale == "" {
		c.Locale = getLocale()
	}
	if c.Platform.APILevel < MinAPILevel {
		return fmt.Errorf("invalid api level: %d", c.Platform.APILevel)
	}
	for _, status := range []string{c.Permissions.Fine, c.Permissions.Coarse, c.Permissions.Background} {
		if _, err := permission.ParseStatus(status); err != nil {
			return err
		}
	}
	if c.Heading.PollInterval <= 0 {
		return fmt.Errorf("invalid heading poll interval: %s", c.Heading.PollInterval)
	}
	switch c.Heading.Declination {
	case DeclinationWMM, DeclinationFixed:
	default:
		return fmt.Errorf("invalid declination model: %s", c.Heading.Declination)
	}
	if c.Tasks.DefaultInterval <= 0 {
		return fmt.Errorf("invalid default task interval: %s", c.Tasks.DefaultInterval)
	}
	if c.Settings.AutoResult != "" {
		if _, err := settings.ParseResultCode(c.Settings.AutoResult); err != nil {
			return err
		}
	}
	if c.Settings.AutoDelay < 0 {
		return fmt.Errorf("invalid settings auto delay: %s", c.Settings.AutoDelay)
	}
	if c.Providers.GeolocationFile.Path == "" {
		home, _ := os.UserHomeDir()
		c.Providers.GeolocationFile.Path = filepath.Join(home, ".config", "geowatch", "geolocation")
	}
	if c.Providers.CitynameFile.Path == "" {
		home, _ := os.UserHomeDir()
		c.Providers.CitynameFile.Path = filepath.Join(home, ".config", "geowatch", "cityname")
	}

	return nil
}

// BackgroundDeclared reports whether the background location permission counts as declared
// in the application manifest.
func (c *Config) BackgroundDeclared() bool {
	return !c.Permissions.BackgroundUndeclared
}

// PermissionResponses returns the static permission responses the configuration describes.
func (c *Config) PermissionResponses() permission.Responses {
	resp := func(s string) permission.Response {
		status, _ := permission.ParseStatus(s)
		return permission.Response{Status: status, CanAskAgain: status != permission.StatusDenied}
	}
	return permission.Responses{
		permission.Fine:       resp(c.Permissions.Fine),
		permission.Coarse:     resp(c.Permissions.Coarse),
		permission.Background: resp(c.Permissions.Background),
	}
}

func getLocale() string {
	locale := os.Getenv("LC_MESSAGES")
	if idx := strings.Index(locale, "."); idx != -1 {
		lang := locale[:idx]
		return strings.ReplaceAll(lang, "_", "-")
	}
	return locale
}
