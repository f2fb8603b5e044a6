// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wneessen/geowatch/internal/events"
	"github.com/wneessen/geowatch/internal/geobus"
	"github.com/wneessen/geowatch/internal/logger"
	"github.com/wneessen/geowatch/internal/watch"
)

// LocationTaskType is the task type of location tracking consumers.
const LocationTaskType = "location"

// Fetcher returns the current position.
type Fetcher interface {
	Fetch(ctx context.Context) (watch.Sample, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) (watch.Sample, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context) (watch.Sample, error) {
	return f(ctx)
}

// LocationsEvent is the payload of the taskLocations event.
type LocationsEvent struct {
	TaskName  string           `json:"taskName"`
	Locations []watch.Location `json:"locations"`
}

// LocationConsumer fetches the position on every execution and reports batches of positions.
// With deferred updates configured, positions are held back until both the deferred interval
// and distance have been covered since the last report.
type LocationConsumer struct {
	fetcher         Fetcher
	emitter         events.Emitter
	logger          *logger.Logger
	defaultInterval time.Duration

	mu           sync.Mutex
	task         Task
	options      TrackingOptions
	deferred     []watch.Sample
	lastReported *watch.Sample
}

// NewLocationConsumer returns a LocationConsumer. defaultInterval is used for tasks without a
// time interval.
func NewLocationConsumer(fetcher Fetcher, emitter events.Emitter, defaultInterval time.Duration,
	log *logger.Logger,
) *LocationConsumer {
	if log == nil {
		log = logger.Discard()
	}
	return &LocationConsumer{
		fetcher:         fetcher,
		emitter:         emitter,
		logger:          log.With(logger.Component("location-task")),
		defaultInterval: defaultInterval,
	}
}

// TaskType implements Consumer.
func (c *LocationConsumer) TaskType() string {
	return LocationTaskType
}

// Interval implements Consumer.
func (c *LocationConsumer) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.options.TimeInterval > 0 {
		return c.options.TimeInterval
	}
	return c.defaultInterval
}

// OnRegistered implements Consumer.
func (c *LocationConsumer) OnRegistered(t Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.task = t
	if opts, ok := t.Options.(TrackingOptions); ok {
		c.options = opts
	}
	c.deferred = nil
	c.lastReported = nil
	c.logger.Debug("location task registered", slog.String("task", t.Name))
}

// OnUnregistered implements Consumer. Positions that were still deferred are dropped.
func (c *LocationConsumer) OnUnregistered() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Debug("location task unregistered", slog.String("task", c.task.Name),
		slog.Int("dropped", len(c.deferred)))
	c.deferred = nil
	c.lastReported = nil
}

// Execute implements Consumer.
func (c *LocationConsumer) Execute(ctx context.Context) {
	if c.fetcher == nil {
		return
	}
	sample, err := c.fetcher.Fetch(ctx)
	if err != nil {
		c.logger.Warn("failed to fetch position for location task", logger.Err(err))
		return
	}

	c.mu.Lock()
	c.deferred = append(c.deferred, sample)
	if !c.shouldReport() {
		c.mu.Unlock()
		return
	}
	batch := c.deferred
	c.deferred = nil
	last := batch[len(batch)-1]
	c.lastReported = &last
	name := c.task.Name
	c.mu.Unlock()

	locations := make([]watch.Location, 0, len(batch))
	for _, s := range batch {
		locations = append(locations, s.Location())
	}
	if c.emitter != nil {
		c.emitter.Emit(events.TaskLocations, LocationsEvent{TaskName: name, Locations: locations})
	}
}

// shouldReport must be called with c.mu held.
func (c *LocationConsumer) shouldReport() bool {
	if len(c.deferred) == 0 {
		return false
	}
	oldest := c.deferred[0]
	if c.lastReported != nil {
		oldest = *c.lastReported
	}
	newest := c.deferred[len(c.deferred)-1]

	from := geobus.Coordinate{Lat: oldest.Latitude, Lon: oldest.Longitude}
	to := geobus.Coordinate{Lat: newest.Latitude, Lon: newest.Longitude}
	return newest.Timestamp.Sub(oldest.Timestamp) >= c.options.DeferredUpdatesInterval &&
		from.DistanceTo(to) >= c.options.DeferredUpdatesDistance
}

// GeofencingConsumer is the registration shell of geofencing tasks. Region monitoring is left
// to the substrate; the consumer declares no task type and is never executed.
type GeofencingConsumer struct {
	logger *logger.Logger

	mu      sync.Mutex
	regions []Region
}

// NewGeofencingConsumer returns a GeofencingConsumer.
func NewGeofencingConsumer(log *logger.Logger) *GeofencingConsumer {
	if log == nil {
		log = logger.Discard()
	}
	return &GeofencingConsumer{logger: log.With(logger.Component("geofencing-task"))}
}

// TaskType implements Consumer.
func (c *GeofencingConsumer) TaskType() string {
	return ""
}

// Interval implements Consumer.
func (c *GeofencingConsumer) Interval() time.Duration {
	return 0
}

// OnRegistered implements Consumer.
func (c *GeofencingConsumer) OnRegistered(t Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if opts, ok := t.Options.(GeofencingOptions); ok {
		c.regions = opts.Regions
	}
	c.logger.Debug("geofencing task registered", slog.String("task", t.Name), slog.Int("regions", len(c.regions)))
}

// OnUnregistered implements Consumer.
func (c *GeofencingConsumer) OnUnregistered() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regions = nil
}

// Regions returns the regions of the registered task.
func (c *GeofencingConsumer) Regions() []Region {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Region(nil), c.regions...)
}

// Execute implements Consumer.
func (c *GeofencingConsumer) Execute(context.Context) {}
