// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geowatch/internal/logger"
	"github.com/wneessen/geowatch/internal/vartype"
	"github.com/wneessen/geowatch/internal/watch"
)

const (
	accuracyEpsilon = 1e-6
	initialBackoff  = time.Second
	maxBackoff      = 30 * time.Second
)

const (
	AccuracyCountry = 300000
	AccuracyRegion  = 100000
	AccuracyCity    = 15000
	AccuracyZip     = 3000
	AccuracyUnknown = 1000000
	TruncPrecision  = 4
)

// Provider defines an interface for geolocation service providers of one provider kind.
// It supports retrieving streamed results for a given key.
type Provider interface {
	Name() string
	Kind() watch.ProviderKind
	LookupStream(ctx context.Context, key string) <-chan Result
}

// Availability is implemented by providers that can tell whether their backend is reachable.
// Providers without it are considered enabled once configured.
type Availability interface {
	Enabled() bool
}

// GeoBus coordinates the publishing and subscribing of geolocation results between providers and consumers.
type GeoBus struct {
	mu          sync.RWMutex
	logger      *logger.Logger
	best        map[string]Result
	subscribers map[string]map[chan Result]struct{}
}

// Result represents a geolocation result with associated metadata.
type Result struct {
	Key              string
	Lat, Lon         float64
	Alt              float64
	AccuracyMeters   float64
	VerticalAccuracy vartype.VarFloat64
	Bearing          float64
	Speed            float64
	Mocked           bool
	Source           string
	At               time.Time
	TTL              time.Duration
}

// BetterThan compares two Result objects to determine if the current instance is better than the provided one.
// Returns true if the current Result is more accurate and not older than the other.
func (r Result) BetterThan(prev Result) bool {
	if prev.Key == "" {
		return true
	}
	if r.At.Before(prev.At) {
		return false
	}
	if r.AccuracyMeters < prev.AccuracyMeters-accuracyEpsilon {
		return true
	}
	return false
}

// IsExpired checks if the Result has exceeded its time-to-live (TTL) based on the current time and the timestamp.
func (r Result) IsExpired() bool {
	return r.TTL > 0 && time.Since(r.At) > r.TTL
}

// Sample converts the result into a position fix of the provider kind named by its key.
func (r Result) Sample() watch.Sample {
	return watch.Sample{
		Latitude:         r.Lat,
		Longitude:        r.Lon,
		Altitude:         r.Alt,
		Accuracy:         r.AccuracyMeters,
		Bearing:          r.Bearing,
		Speed:            r.Speed,
		VerticalAccuracy: r.VerticalAccuracy,
		Mocked:           r.Mocked,
		Timestamp:        r.At,
		Provider:         watch.ProviderKind(r.Key),
	}
}

// New initializes and returns a new instance of GeoBus to handle geolocation result coordination.
func New(log *logger.Logger) *GeoBus {
	if log == nil {
		log = logger.Discard()
	}
	return &GeoBus{
		logger:      log.With(logger.Component("geobus")),
		best:        make(map[string]Result),
		subscribers: make(map[string]map[chan Result]struct{}),
	}
}

// NewOrchestrator returns an Orchestrator publishing the results of the given providers to the bus.
func (b *GeoBus) NewOrchestrator(providers []Provider, clock clockwork.Clock) *Orchestrator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		Bus:       b,
		Providers: providers,
		clock:     clock,
		logger:    b.logger,
	}
}

// Subscribe adds a subscriber for updates associated with the given key and buffer size, returning a result
// channel and an unsubscribe function.
func (b *GeoBus) Subscribe(key string, size int) (<-chan Result, func()) {
	resultChan := make(chan Result, size)
	b.mu.Lock()
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[chan Result]struct{})
	}

	b.subscribers[key][resultChan] = struct{}{}
	if best, ok := b.best[key]; ok && !best.IsExpired() && size > 0 {
		resultChan <- best
	}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			if subs, ok := b.subscribers[key]; ok {
				delete(subs, resultChan)
				if len(subs) == 0 {
					delete(b.subscribers, key)
				}
			}
			b.mu.Unlock()
			close(resultChan)
		})
	}

	return resultChan, unsub
}

// Publish broadcasts a result to the subscribers of its key. Results without accuracy are dropped.
// The best result per key is kept for late subscribers.
func (b *GeoBus) Publish(r Result) {
	if r.AccuracyMeters == 0 {
		return
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	prev, have := b.best[r.Key]
	if !have || prev.IsExpired() || prev.Source == r.Source || r.BetterThan(prev) {
		b.best[r.Key] = r
	}
	b.broadcastResult(r)
}

func (b *GeoBus) broadcastResult(r Result) {
	if subs, ok := b.subscribers[r.Key]; ok {
		for ch := range subs {
			select {
			case ch <- r:
			default:
				b.logger.Debug("subscriber is lagging behind, dropping result", "key", r.Key)
			}
		}
	}
}

// Best returns the best known, unexpired result for the key.
func (b *GeoBus) Best(key string) (Result, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.best[key]
	return r, ok && !r.IsExpired()
}

func sleepOrDone(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	t := clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Truncate cuts x to the given number of decimal places.
func Truncate(x float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Trunc(x*p) / p
}
