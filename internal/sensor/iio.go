// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package sensor reads motion sensors exposed through the Linux Industrial I/O subsystem.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geowatch/internal/heading"
	"github.com/wneessen/geowatch/internal/job"
	"github.com/wneessen/geowatch/internal/logger"
)

const (
	// DefaultRoot is the sysfs directory holding the IIO devices.
	DefaultRoot = "/sys/bus/iio/devices"

	// DefaultInterval is the polling interval, matching a UI rate sensor.
	DefaultInterval = 60 * time.Millisecond

	// gaussToMicroTesla converts IIO magnetometer readings into the unit the fusion expects.
	gaussToMicroTesla = 100
)

// ErrNoSensor is returned when no IIO device provides the requested sensor.
var ErrNoSensor = errors.New("no such motion sensor")

// channel is the sysfs channel prefix per sensor kind.
var channel = map[heading.SensorKind]string{
	heading.Accelerometer: "in_accel",
	heading.Magnetometer:  "in_magn",
}

// device is an IIO device providing one sensor kind.
type device struct {
	path   string
	prefix string
	scale  float64
	tier   heading.AccuracyTier
}

// read returns the scaled x, y and z readings.
func (d device) read() ([3]float64, error) {
	var values [3]float64
	for i, axis := range []string{"x", "y", "z"} {
		raw, err := readFloat(filepath.Join(d.path, d.prefix+"_"+axis+"_raw"))
		if err != nil {
			return values, err
		}
		values[i] = raw * d.scale
	}
	return values, nil
}

// IIO implements heading.Sensors on top of the IIO sysfs interface. A device is polled only
// while at least one listener is subscribed to its sensor kind.
type IIO struct {
	root     string
	interval time.Duration
	clock    clockwork.Clock
	logger   *logger.Logger
	ctx      context.Context

	mu        sync.Mutex
	listeners map[heading.SensorKind]map[heading.SensorListener]struct{}
	pollers   map[heading.SensorKind]context.CancelFunc
	wg        sync.WaitGroup
}

// NewIIO returns an IIO sensor backend. Polling goroutines are bound to ctx.
func NewIIO(ctx context.Context, root string, interval time.Duration, clock clockwork.Clock, log *logger.Logger) *IIO {
	if root == "" {
		root = DefaultRoot
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &IIO{
		root:      root,
		interval:  interval,
		clock:     clock,
		logger:    log.With(logger.Component("iio")),
		ctx:       ctx,
		listeners: make(map[heading.SensorKind]map[heading.SensorListener]struct{}),
		pollers:   make(map[heading.SensorKind]context.CancelFunc),
	}
}

// Available reports whether a device for the sensor kind exists.
func (s *IIO) Available(kind heading.SensorKind) bool {
	_, err := s.find(kind)
	return err == nil
}

// Subscribe registers the listener for readings of the sensor kind. The listener is told the
// accuracy tier of the device right away.
func (s *IIO) Subscribe(kind heading.SensorKind, l heading.SensorListener) error {
	dev, err := s.find(kind)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners[kind] == nil {
		s.listeners[kind] = make(map[heading.SensorListener]struct{})
	}
	s.listeners[kind][l] = struct{}{}
	l.AccuracyChanged(kind, dev.tier)

	if _, ok := s.pollers[kind]; !ok {
		ctx, cancel := context.WithCancel(s.ctx)
		s.pollers[kind] = cancel
		poll := job.New(s.interval, func(context.Context) { s.poll(kind, dev) },
			job.WithClock(s.clock), job.Immediately())
		s.wg.Go(func() { poll.Start(ctx) })
		s.logger.Debug("started sensor polling", slog.String("sensor", kind.String()),
			slog.String("device", dev.path))
	}
	return nil
}

// Unsubscribe removes the listener from every sensor kind.
func (s *IIO) Unsubscribe(l heading.SensorListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for kind, set := range s.listeners {
		delete(set, l)
		if len(set) > 0 {
			continue
		}
		delete(s.listeners, kind)
		if cancel, ok := s.pollers[kind]; ok {
			cancel()
			delete(s.pollers, kind)
			s.logger.Debug("stopped sensor polling", slog.String("sensor", kind.String()))
		}
	}
}

// Close stops all polling and waits for it to finish.
func (s *IIO) Close() {
	s.mu.Lock()
	for kind, cancel := range s.pollers {
		cancel()
		delete(s.pollers, kind)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *IIO) poll(kind heading.SensorKind, dev device) {
	values, err := dev.read()
	if err != nil {
		s.logger.Debug("failed to read sensor", slog.String("sensor", kind.String()), logger.Err(err))
		return
	}

	s.mu.Lock()
	targets := make([]heading.SensorListener, 0, len(s.listeners[kind]))
	for l := range s.listeners[kind] {
		targets = append(targets, l)
	}
	s.mu.Unlock()

	for _, l := range targets {
		l.SensorChanged(kind, values)
	}
}

// find returns the first IIO device exposing all three axes of the sensor kind.
func (s *IIO) find(kind heading.SensorKind) (device, error) {
	prefix, ok := channel[kind]
	if !ok {
		return device{}, fmt.Errorf("%w: %s", ErrNoSensor, kind)
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return device{}, fmt.Errorf("failed to list IIO devices: %w", err)
	}
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "iio:device") {
			continue
		}
		path := filepath.Join(s.root, entry.Name())
		if !hasAxes(path, prefix) {
			continue
		}
		return probe(path, prefix, kind), nil
	}
	return device{}, fmt.Errorf("%w: %s", ErrNoSensor, kind)
}

func hasAxes(path, prefix string) bool {
	for _, axis := range []string{"x", "y", "z"} {
		if _, err := os.Stat(filepath.Join(path, prefix+"_"+axis+"_raw")); err != nil {
			return false
		}
	}
	return true
}

// probe reads the scale of the device. Devices exposing a calibration bias are reported as
// calibrated.
func probe(path, prefix string, kind heading.SensorKind) device {
	dev := device{path: path, prefix: prefix, scale: 1, tier: heading.AccuracyLow}
	if scale, err := readFloat(filepath.Join(path, prefix+"_scale")); err == nil && scale > 0 {
		dev.scale = scale
	}
	if kind == heading.Magnetometer {
		dev.scale *= gaussToMicroTesla
	}
	if _, err := os.Stat(filepath.Join(path, prefix+"_x_calibbias")); err == nil {
		dev.tier = heading.AccuracyHigh
	}
	return dev
}

func readFloat(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %q: %w", path, err)
	}
	return value, nil
}
