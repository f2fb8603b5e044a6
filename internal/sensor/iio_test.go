// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package sensor

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/wneessen/geowatch/internal/heading"
)

type recordingListener struct {
	mu       sync.Mutex
	readings map[heading.SensorKind][][3]float64
	tiers    map[heading.SensorKind]heading.AccuracyTier
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		readings: make(map[heading.SensorKind][][3]float64),
		tiers:    make(map[heading.SensorKind]heading.AccuracyTier),
	}
}

func (r *recordingListener) SensorChanged(kind heading.SensorKind, values [3]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings[kind] = append(r.readings[kind], values)
}

func (r *recordingListener) AccuracyChanged(kind heading.SensorKind, tier heading.AccuracyTier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiers[kind] = tier
}

func (r *recordingListener) count(kind heading.SensorKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.readings[kind])
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create directory: %s", err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content+"\n"), 0o644); err != nil {
			t.Fatalf("failed to write %s: %s", name, err)
		}
	}
}

// newSysfs creates an IIO tree with an accelerometer and a calibrated magnetometer.
func newSysfs(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFiles(t, filepath.Join(root, "iio:device0"), map[string]string{
		"name":           "accel_3d",
		"in_accel_x_raw": "0",
		"in_accel_y_raw": "0",
		"in_accel_z_raw": "1000",
		"in_accel_scale": "0.00981",
	})
	writeFiles(t, filepath.Join(root, "iio:device1"), map[string]string{
		"name":                "magn_3d",
		"in_magn_x_raw":       "-150",
		"in_magn_y_raw":       "300",
		"in_magn_z_raw":       "-400",
		"in_magn_scale":       "0.001",
		"in_magn_x_calibbias": "0",
	})
	writeFiles(t, filepath.Join(root, "trigger0"), map[string]string{"name": "trigger"})
	return root
}

func TestIIO_find(t *testing.T) {
	root := newSysfs(t)
	s := NewIIO(t.Context(), root, 0, nil, nil)
	t.Run("accelerometer is scaled to m/s²", func(t *testing.T) {
		dev, err := s.find(heading.Accelerometer)
		if err != nil {
			t.Fatalf("failed to find accelerometer: %s", err)
		}
		values, err := dev.read()
		if err != nil {
			t.Fatalf("failed to read accelerometer: %s", err)
		}
		if math.Abs(values[2]-9.81) > 1e-9 {
			t.Errorf("expected z axis 9.81, got %f", values[2])
		}
		if dev.tier != heading.AccuracyLow {
			t.Errorf("expected uncalibrated tier, got %d", dev.tier)
		}
	})
	t.Run("magnetometer is scaled to µT", func(t *testing.T) {
		dev, err := s.find(heading.Magnetometer)
		if err != nil {
			t.Fatalf("failed to find magnetometer: %s", err)
		}
		values, err := dev.read()
		if err != nil {
			t.Fatalf("failed to read magnetometer: %s", err)
		}
		want := [3]float64{-15, 30, -40}
		for i := range want {
			if math.Abs(values[i]-want[i]) > 1e-9 {
				t.Errorf("expected axis %d to be %f, got %f", i, want[i], values[i])
			}
		}
		if dev.tier != heading.AccuracyHigh {
			t.Errorf("expected calibrated tier, got %d", dev.tier)
		}
	})
	t.Run("missing sensor", func(t *testing.T) {
		empty := NewIIO(t.Context(), t.TempDir(), 0, nil, nil)
		if _, err := empty.find(heading.Magnetometer); !errors.Is(err, ErrNoSensor) {
			t.Errorf("expected ErrNoSensor, got %v", err)
		}
		if empty.Available(heading.Accelerometer) {
			t.Error("expected accelerometer to be unavailable")
		}
	})
	t.Run("missing sysfs root", func(t *testing.T) {
		broken := NewIIO(t.Context(), filepath.Join(t.TempDir(), "missing"), 0, nil, nil)
		if err := broken.Subscribe(heading.Accelerometer, newRecordingListener()); err == nil {
			t.Error("expected subscribe to fail")
		}
	})
}

func TestIIO_Subscribe(t *testing.T) {
	t.Run("readings are polled while subscribed", func(t *testing.T) {
		root := newSysfs(t)
		synctest.Test(t, func(t *testing.T) {
			s := NewIIO(t.Context(), root, 100*time.Millisecond, nil, nil)
			defer s.Close()

			l := newRecordingListener()
			if err := s.Subscribe(heading.Accelerometer, l); err != nil {
				t.Fatalf("failed to subscribe: %s", err)
			}
			if err := s.Subscribe(heading.Magnetometer, l); err != nil {
				t.Fatalf("failed to subscribe: %s", err)
			}
			synctest.Wait()
			if l.count(heading.Accelerometer) != 1 || l.count(heading.Magnetometer) != 1 {
				t.Fatalf("expected an immediate reading per sensor, got %d and %d",
					l.count(heading.Accelerometer), l.count(heading.Magnetometer))
			}
			if l.tiers[heading.Magnetometer] != heading.AccuracyHigh {
				t.Errorf("expected magnetometer tier to be reported")
			}

			time.Sleep(250 * time.Millisecond)
			synctest.Wait()
			if got := l.count(heading.Accelerometer); got != 3 {
				t.Errorf("expected 3 readings, got %d", got)
			}

			s.Unsubscribe(l)
			synctest.Wait()
			before := l.count(heading.Accelerometer)
			time.Sleep(time.Second)
			synctest.Wait()
			if got := l.count(heading.Accelerometer); got != before {
				t.Errorf("expected polling to stop, got %d more readings", got-before)
			}
			if len(s.pollers) != 0 {
				t.Errorf("expected no pollers, got %d", len(s.pollers))
			}
		})
	})
	t.Run("polling stops with the last listener only", func(t *testing.T) {
		root := newSysfs(t)
		synctest.Test(t, func(t *testing.T) {
			s := NewIIO(t.Context(), root, 100*time.Millisecond, nil, nil)
			defer s.Close()

			first, second := newRecordingListener(), newRecordingListener()
			_ = s.Subscribe(heading.Accelerometer, first)
			_ = s.Subscribe(heading.Accelerometer, second)
			synctest.Wait()
			s.Unsubscribe(first)

			time.Sleep(150 * time.Millisecond)
			synctest.Wait()
			if got := second.count(heading.Accelerometer); got != 2 {
				t.Errorf("expected the remaining listener to get 2 readings, got %d", got)
			}
		})
	})
}
