// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wneessen/geowatch/internal/logger"
	"github.com/wneessen/geowatch/internal/watch"
)

const forwardBuffer = 8

type listenerKey struct {
	listener watch.Listener
	kind     watch.ProviderKind
}

// forwarder relays bus results of one provider kind to a listener, honoring the listener's
// minimum interval and distance.
type forwarder struct {
	listener watch.Listener
	unsub    func()

	mu       sync.Mutex
	interval time.Duration
	distance float64
	last     Result
	haveLast bool
}

func (f *forwarder) setParams(interval time.Duration, distance float64) {
	f.mu.Lock()
	f.interval, f.distance = interval, distance
	f.mu.Unlock()
}

// admit reports whether r satisfies both the time and the distance constraint relative to the
// last forwarded result.
func (f *forwarder) admit(r Result) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.haveLast {
		if r.At.Sub(f.last.At) < f.interval {
			return false
		}
		from := Coordinate{Lat: f.last.Lat, Lon: f.last.Lon}
		if from.DistanceTo(Coordinate{Lat: r.Lat, Lon: r.Lon}) < f.distance {
			return false
		}
	}
	f.last, f.haveLast = r, true
	return true
}

func (f *forwarder) run(results <-chan Result) {
	for r := range results {
		if f.admit(r) {
			f.listener.LocationChanged(r.Sample())
		}
	}
}

// Source serves location updates from the configured providers. Providers of a kind run only
// while at least one listener is registered for that kind.
type Source struct {
	ctx    context.Context
	orch   *Orchestrator
	logger *logger.Logger

	mu         sync.Mutex
	forwarders map[listenerKey]*forwarder
	running    map[watch.ProviderKind]context.CancelFunc
	wg         sync.WaitGroup
}

// NewSource returns a Source driven by the orchestrator. Provider tracking is bound to ctx.
func NewSource(ctx context.Context, orch *Orchestrator, log *logger.Logger) *Source {
	if log == nil {
		log = logger.Discard()
	}
	return &Source{
		ctx:        ctx,
		orch:       orch,
		logger:     log.With(logger.Component("location-source")),
		forwarders: make(map[listenerKey]*forwarder),
		running:    make(map[watch.ProviderKind]context.CancelFunc),
	}
}

// IsProviderEnabled reports whether a provider of the kind is configured and reachable.
func (s *Source) IsProviderEnabled(kind watch.ProviderKind) bool {
	for _, p := range s.orch.ProvidersOf(kind) {
		if a, ok := p.(Availability); ok && !a.Enabled() {
			continue
		}
		return true
	}
	return false
}

// RequestUpdates registers the listener for results of the given provider kind. A listener
// that is already registered for the kind gets its parameters replaced.
func (s *Source) RequestUpdates(kind watch.ProviderKind, minInterval time.Duration, minDistance float64,
	l watch.Listener,
) error {
	if len(s.orch.ProvidersOf(kind)) == 0 {
		return &UnknownKindError{Kind: kind}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := listenerKey{listener: l, kind: kind}
	if f, ok := s.forwarders[key]; ok {
		f.setParams(minInterval, minDistance)
		s.logger.Debug("updated listener parameters", slog.String("provider", string(kind)),
			slog.Duration("interval", minInterval), slog.Float64("distance", minDistance))
		return nil
	}

	results, unsub := s.orch.Bus.Subscribe(string(kind), forwardBuffer)
	f := &forwarder{listener: l, unsub: unsub, interval: minInterval, distance: minDistance}
	s.forwarders[key] = f
	s.wg.Go(func() { f.run(results) })

	if _, ok := s.running[kind]; !ok {
		ctx, cancel := context.WithCancel(s.ctx)
		s.running[kind] = cancel
		s.wg.Go(func() { s.orch.Track(ctx, kind) })
		s.logger.Info("started location provider", slog.String("provider", string(kind)))
	}
	return nil
}

// RemoveUpdates unregisters the listener from every provider kind. Providers without
// listeners are stopped.
func (s *Source) RemoveUpdates(l watch.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, f := range s.forwarders {
		if key.listener != l {
			continue
		}
		f.unsub()
		delete(s.forwarders, key)
		if !s.inUse(key.kind) {
			s.stop(key.kind)
		}
	}
}

// Close stops every provider and waits for all goroutines of the source to finish.
func (s *Source) Close() {
	s.mu.Lock()
	for key, f := range s.forwarders {
		f.unsub()
		delete(s.forwarders, key)
	}
	for kind := range s.running {
		s.stop(kind)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Source) inUse(kind watch.ProviderKind) bool {
	for key := range s.forwarders {
		if key.kind == kind {
			return true
		}
	}
	return false
}

func (s *Source) stop(kind watch.ProviderKind) {
	if cancel, ok := s.running[kind]; ok {
		cancel()
		delete(s.running, kind)
		s.logger.Info("stopped location provider", slog.String("provider", string(kind)))
	}
}

// UnknownKindError is returned when updates are requested for a provider kind without
// configured providers.
type UnknownKindError struct {
	Kind watch.ProviderKind
}

func (e *UnknownKindError) Error() string {
	return "no location provider configured for " + string(e.Kind)
}
