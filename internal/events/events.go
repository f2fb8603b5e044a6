// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package events implements the outbound event sink of the location service.
package events

import (
	"log/slog"
	"sync"

	"github.com/wneessen/geowatch/internal/logger"
)

// Event names published by the location service.
const (
	LocationChanged = "locationChanged"
	HeadingChanged  = "headingChanged"
	LocationError   = "locationError"
	TaskLocations   = "taskLocations"
	TaskGeofencing  = "taskGeofencing"

	SettingsRequired = "settingsRequired"
)

// Emitter publishes a named event. Implementations must not block the caller for long, since
// Emit is called from the event loop.
type Emitter interface {
	Emit(name string, payload any)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(name string, payload any)

// Emit implements Emitter.
func (f EmitterFunc) Emit(name string, payload any) {
	f(name, payload)
}

// Fanout delivers every event to all of its emitters in order.
type Fanout []Emitter

// Emit implements Emitter.
func (f Fanout) Emit(name string, payload any) {
	for _, e := range f {
		if e != nil {
			e.Emit(name, payload)
		}
	}
}

// LogSink writes every event to the logger at debug level.
type LogSink struct {
	Logger *logger.Logger
}

// Emit implements Emitter.
func (l LogSink) Emit(name string, payload any) {
	if l.Logger == nil {
		return
	}
	l.Logger.Debug("event emitted", slog.String("event", name), slog.Any("payload", payload))
}

// Record is an emitted event as captured by Recorder.
type Record struct {
	Name    string
	Payload any
}

// Recorder keeps every emitted event in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Record
}

// Emit implements Emitter.
func (r *Recorder) Emit(name string, payload any) {
	r.mu.Lock()
	r.events = append(r.events, Record{Name: name, Payload: payload})
	r.mu.Unlock()
}

// Events returns a copy of the recorded events, optionally filtered by name.
func (r *Recorder) Events(names ...string) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.events))
	for _, ev := range r.events {
		if len(names) == 0 {
			out = append(out, ev)
			continue
		}
		for _, n := range names {
			if ev.Name == n {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
