// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package heading fuses accelerometer and magnetometer readings into a compass heading stream.
package heading

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geowatch/internal/events"
	"github.com/wneessen/geowatch/internal/logger"
)

const (
	// DegreeDelta is the azimuth change in radians (about 2 degrees) a new heading must differ
	// from the last emitted one.
	DegreeDelta = 0.0355

	// TimeDelta is the minimum time between two heading events.
	TimeDelta = 50 * time.Millisecond

	// Unavailable is reported as true heading when it cannot be computed.
	Unavailable = -1.0
)

// SensorKind identifies a motion sensor.
type SensorKind int

const (
	Accelerometer SensorKind = iota
	Magnetometer
)

func (k SensorKind) String() string {
	switch k {
	case Accelerometer:
		return "accelerometer"
	case Magnetometer:
		return "magnetometer"
	default:
		return fmt.Sprintf("sensor(%d)", int(k))
	}
}

// AccuracyTier is the calibration state reported by a sensor.
type AccuracyTier int

const (
	AccuracyNone AccuracyTier = iota
	AccuracyLow
	AccuracyMedium
	AccuracyHigh
)

func clampTier(t AccuracyTier) AccuracyTier {
	return min(max(t, AccuracyNone), AccuracyHigh)
}

// SensorListener receives raw sensor readings.
type SensorListener interface {
	SensorChanged(kind SensorKind, values [3]float64)
	AccuracyChanged(kind SensorKind, tier AccuracyTier)
}

// Sensors is the motion sensor backend.
type Sensors interface {
	Subscribe(kind SensorKind, l SensorListener) error
	Unsubscribe(l SensorListener)
}

// PermissionChecker answers whether foreground location permission is granted.
type PermissionChecker interface {
	HasForeground() bool
}

// Event is the payload of the headingChanged event.
type Event struct {
	WatchID     int          `json:"watchId"`
	TrueHeading float64      `json:"trueHeading"`
	MagHeading  float64      `json:"magHeading"`
	Accuracy    AccuracyTier `json:"accuracy"`
}

type fix struct {
	lat, lon, alt float64
	at            time.Time
}

// fusionState holds everything the engine caches between samples. It is replaced as a whole
// on teardown.
type fusionState struct {
	watchID int
	active  bool

	gravity         [3]float64
	geomagnetic     [3]float64
	haveGravity     bool
	haveGeomagnetic bool

	lastAzimuth float64
	lastEmit    time.Time
	accuracy    AccuracyTier

	fix *fix
}

// observe caches the reading and reports the new azimuth if it passes both the angular and
// the temporal gate. On success the gate state is advanced in the same step.
func (s *fusionState) observe(kind SensorKind, values [3]float64, now time.Time) (float64, bool) {
	switch kind {
	case Accelerometer:
		s.gravity, s.haveGravity = values, true
	case Magnetometer:
		s.geomagnetic, s.haveGeomagnetic = values, true
	default:
		return 0, false
	}
	if !s.haveGravity || !s.haveGeomagnetic {
		return 0, false
	}

	r, ok := rotationMatrix(s.gravity, s.geomagnetic)
	if !ok {
		return 0, false
	}
	az := azimuth(r)
	if math.Abs(az-s.lastAzimuth) <= DegreeDelta || now.Sub(s.lastEmit) <= TimeDelta {
		return 0, false
	}
	s.lastAzimuth, s.lastEmit = az, now
	return az, true
}

// sensorLink is the listener registered with the sensor backend.
type sensorLink struct {
	engine *Engine
}

// SensorChanged implements SensorListener.
func (l *sensorLink) SensorChanged(kind SensorKind, values [3]float64) {
	l.engine.dispatch(func() { l.engine.onSensor(l, kind, values) })
}

// AccuracyChanged implements SensorListener.
func (l *sensorLink) AccuracyChanged(kind SensorKind, tier AccuracyTier) {
	l.engine.dispatch(func() { l.engine.onAccuracy(l, kind, tier) })
}

// Engine turns raw sensor readings into heading events. It moves between Idle and Watching;
// it watches only while a heading watch is active and the host is in the foreground. The
// engine is not safe for concurrent use; sensor callbacks are handed to post.
type Engine struct {
	sensors     Sensors
	perms       PermissionChecker
	declination DeclinationModel
	emitter     events.Emitter
	clock       clockwork.Clock
	post        func(func()) bool
	logger      *logger.Logger

	state  fusionState
	paused bool
	link   *sensorLink
}

// NewEngine returns an idle Engine. post may be nil, in which case sensor callbacks are
// processed on the calling goroutine.
func NewEngine(sensors Sensors, perms PermissionChecker, declination DeclinationModel, emitter events.Emitter,
	clock clockwork.Clock, post func(func()) bool, log *logger.Logger,
) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if declination == nil {
		declination = WMMModel{}
	}
	if emitter == nil {
		emitter = events.Fanout{}
	}
	return &Engine{
		sensors:     sensors,
		perms:       perms,
		declination: declination,
		emitter:     emitter,
		clock:       clock,
		post:        post,
		logger:      log.With(logger.Component("heading")),
	}
}

// Start begins a heading watch. A running watch is replaced. While the host is paused the
// sensors are subscribed on the next Resume.
func (e *Engine) Start(watchID int) {
	if e.state.active {
		last := e.state.fix
		e.reset()
		e.state.fix = last
	}
	e.state.watchID, e.state.active = watchID, true
	e.logger.Debug("heading watch started", slog.Int("watch_id", watchID), slog.Bool("paused", e.paused))
	if !e.paused {
		e.subscribe()
	}
}

// Stop ends the heading watch and clears all cached state.
func (e *Engine) Stop() {
	e.reset()
}

// Pause unsubscribes the sensors and clears all cached state.
func (e *Engine) Pause() {
	e.paused = true
	e.reset()
}

// Resume subscribes the sensors for a watch started while the host was paused.
func (e *Engine) Resume() {
	e.paused = false
	if e.state.active && e.link == nil {
		e.subscribe()
	}
}

// Destroy unsubscribes the sensors and clears all cached state.
func (e *Engine) Destroy() {
	e.paused = false
	e.reset()
}

// WatchID returns the id of the active heading watch.
func (e *Engine) WatchID() (int, bool) {
	return e.state.watchID, e.state.active
}

// Watching reports whether the engine is subscribed to the sensors.
func (e *Engine) Watching() bool {
	return e.link != nil
}

// UpdateFix records the most recent position fix as declination source.
func (e *Engine) UpdateFix(lat, lon, alt float64, at time.Time) {
	e.state.fix = &fix{lat: lat, lon: lon, alt: alt, at: at}
}

func (e *Engine) subscribe() {
	if e.sensors == nil {
		e.logger.Warn("no motion sensors available, heading watch stays idle")
		return
	}
	link := &sensorLink{engine: e}
	for _, kind := range []SensorKind{Accelerometer, Magnetometer} {
		if err := e.sensors.Subscribe(kind, link); err != nil {
			e.logger.Error("failed to subscribe to sensor", slog.String("sensor", kind.String()), logger.Err(err))
			e.sensors.Unsubscribe(link)
			return
		}
	}
	e.link = link
}

// reset unsubscribes and replaces the fusion state in one step.
func (e *Engine) reset() {
	if e.link != nil {
		e.sensors.Unsubscribe(e.link)
		e.link = nil
	}
	e.state = fusionState{}
}

func (e *Engine) dispatch(fn func()) {
	if e.post == nil {
		fn()
		return
	}
	e.post(fn)
}

func (e *Engine) onSensor(link *sensorLink, kind SensorKind, values [3]float64) {
	if link != e.link || !e.state.active {
		return
	}
	az, ok := e.state.observe(kind, values, e.clock.Now())
	if !ok {
		return
	}

	mag := magneticHeading(az)
	e.emitter.Emit(events.HeadingChanged, Event{
		WatchID:     e.state.watchID,
		TrueHeading: e.trueHeading(mag),
		MagHeading:  mag,
		Accuracy:    e.state.accuracy,
	})
}

func (e *Engine) onAccuracy(link *sensorLink, kind SensorKind, tier AccuracyTier) {
	if link != e.link {
		return
	}
	e.state.accuracy = clampTier(tier)
	e.logger.Debug("sensor accuracy changed", slog.String("sensor", kind.String()), slog.Int("tier", int(tier)))
}

// trueHeading corrects the magnetic heading by the declination at the last fix.
func (e *Engine) trueHeading(mag float64) float64 {
	if e.state.fix == nil || e.perms == nil || !e.perms.HasForeground() {
		return Unavailable
	}
	f := e.state.fix
	return normalizeDegrees(mag + e.declination.Declination(f.lat, f.lon, f.alt, f.at))
}
