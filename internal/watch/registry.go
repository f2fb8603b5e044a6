// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package watch

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geowatch/internal/events"
	"github.com/wneessen/geowatch/internal/locerr"
	"github.com/wneessen/geowatch/internal/logger"
	"github.com/wneessen/geowatch/internal/settings"
	"github.com/wneessen/geowatch/internal/vartype"
)

// Collaborators are the components a Registry works with. Source, Permissions and Emitter
// are required for position watches; the others are optional.
type Collaborators struct {
	Source      ProviderSource
	Permissions PermissionChecker
	Heading     HeadingEngine
	Settings    SettingsRequester
	Emitter     events.Emitter
	Clock       clockwork.Clock

	// Post hands provider callbacks to the goroutine that owns the registry. When nil,
	// callbacks are processed on the calling goroutine.
	Post func(func()) bool
}

// providerLink is the listener registered with the provider source for one provider kind.
type providerLink struct {
	kind     ProviderKind
	registry *Registry
	interval time.Duration
	distance float64
}

// LocationChanged implements Listener.
func (l *providerLink) LocationChanged(s Sample) {
	r := l.registry
	if r.post == nil {
		r.deliver(l, s)
		return
	}
	r.post(func() { r.deliver(l, s) })
}

type oneShot struct {
	sub      *Subscription
	callback func(Sample, error)
}

// Registry is the watch table. It is not safe for concurrent use; every method, including
// provider callbacks, runs on the goroutine that owns it.
type Registry struct {
	source   ProviderSource
	perms    PermissionChecker
	heading  HeadingEngine
	settings SettingsRequester
	emitter  events.Emitter
	clock    clockwork.Clock
	post     func(func()) bool
	logger   *logger.Logger

	watches  map[int]*Subscription
	oneShots map[int]*oneShot
	nextOnce int
	refs     map[ProviderKind]int
	links    map[ProviderKind]*providerLink
	paused   bool

	lastKnown Sample
	haveLast  bool
}

// NewRegistry returns an empty Registry.
func NewRegistry(c Collaborators, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Discard()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Emitter == nil {
		c.Emitter = events.Fanout{}
	}
	return &Registry{
		source:   c.Source,
		perms:    c.Permissions,
		heading:  c.Heading,
		settings: c.Settings,
		emitter:  c.Emitter,
		clock:    c.Clock,
		post:     c.Post,
		logger:   log.With(logger.Component("watch")),
		watches:  make(map[int]*Subscription),
		oneShots: make(map[int]*oneShot),
		refs:     make(map[ProviderKind]int),
		links:    make(map[ProviderKind]*providerLink),
	}
}

// StartPositionWatch starts delivering locationChanged events for id. It requires foreground
// permission.
func (r *Registry) StartPositionWatch(id int, opts Options) error {
	const op = "watchPosition"
	if r.source == nil {
		return locerr.Unavailable(op, "Location provider")
	}
	if r.perms == nil || !r.perms.HasForeground() {
		return locerr.ErrUnauthorized.WithOp(op)
	}
	if r.idInUse(id) {
		return locerr.ErrWatchExists.WithOp(op)
	}

	sub := &Subscription{
		ID:        id,
		Kind:      KindPosition,
		Options:   opts.normalized(),
		CreatedAt: r.clock.Now(),
	}
	r.watches[id] = sub
	r.logger.Debug("position watch started", slog.Int("watch_id", id),
		slog.String("accuracy", sub.Options.Accuracy.String()))

	if r.needsSettings(sub.Options) {
		sub.parked = true
		r.settings.Request(sub.Options.settingsSpec(id), func(code settings.ResultCode) {
			r.watchSettingsResolved(sub, code)
		})
		return nil
	}
	if err := r.activate(sub); err != nil {
		delete(r.watches, id)
		return locerr.ProviderFailure(op, err)
	}
	return nil
}

// StartHeadingWatch starts the heading stream for id. Any previous heading watch is replaced.
func (r *Registry) StartHeadingWatch(id int) error {
	const op = "watchDeviceHeading"
	if r.heading == nil {
		return locerr.Unavailable(op, "Heading")
	}
	if _, ok := r.watches[id]; ok {
		return locerr.ErrWatchExists.WithOp(op)
	}
	r.heading.Start(id)
	return nil
}

// Stop removes the watch with the given id. Stopping an unknown id is a no-op.
func (r *Registry) Stop(id int) {
	if r.heading != nil {
		if headingID, ok := r.heading.WatchID(); ok && headingID == id {
			r.heading.Stop()
			r.logger.Debug("heading watch stopped", slog.Int("watch_id", id))
			return
		}
	}

	sub, ok := r.watches[id]
	if !ok {
		return
	}
	delete(r.watches, id)
	r.release(sub)
	r.logger.Debug("position watch stopped", slog.Int("watch_id", id))
}

// CurrentPosition resolves callback with a single sample. A cached fix that satisfies the
// options is used right away; otherwise the first delivered sample that does is returned.
// There is no timeout; callers bound the wait themselves and hand the returned id to
// CancelCurrentPosition when they give up. The id is 0 if callback already ran.
func (r *Registry) CurrentPosition(opts Options, callback func(Sample, error)) (int, error) {
	const op = "getCurrentPosition"
	if r.source == nil {
		return 0, locerr.Unavailable(op, "Location provider")
	}
	if r.perms == nil || !r.perms.HasForeground() {
		return 0, locerr.ErrUnauthorized.WithOp(op)
	}
	if !r.HasServicesEnabled() {
		return 0, locerr.ErrServicesDisabled.WithOp(op)
	}

	opts = opts.normalized()
	if r.haveLast && IsLocationValid(r.lastKnown, opts.MaxAge, opts.RequiredAccuracy, r.clock.Now()) {
		callback(r.lastKnown, nil)
		return 0, nil
	}

	r.nextOnce--
	req := &oneShot{
		sub: &Subscription{
			ID:        r.nextOnce,
			Kind:      KindPosition,
			Options:   opts,
			CreatedAt: r.clock.Now(),
		},
		callback: callback,
	}
	r.oneShots[req.sub.ID] = req

	if r.needsSettings(opts) {
		req.sub.parked = true
		r.settings.Request(opts.settingsSpec(req.sub.ID), func(code settings.ResultCode) {
			r.oneShotSettingsResolved(req, code)
		})
		return req.sub.ID, nil
	}
	if err := r.activate(req.sub); err != nil {
		delete(r.oneShots, req.sub.ID)
		return 0, locerr.ProviderFailure(op, err)
	}
	return req.sub.ID, nil
}

// CancelCurrentPosition drops a pending one-shot request and its provider references. The
// callback of a cancelled request is never called. Unknown ids are ignored.
func (r *Registry) CancelCurrentPosition(id int) {
	req, ok := r.oneShots[id]
	if !ok {
		return
	}
	delete(r.oneShots, id)
	r.release(req.sub)
	r.logger.Debug("one-shot position request cancelled", slog.Int("request_id", id))
}

// LastKnownPosition returns the most recent fix if it satisfies the bounds.
func (r *Registry) LastKnownPosition(maxAge vartype.VarDuration, requiredAccuracy vartype.VarFloat64) (Sample, bool) {
	if !r.haveLast || !IsLocationValid(r.lastKnown, maxAge, requiredAccuracy, r.clock.Now()) {
		return Sample{}, false
	}
	return r.lastKnown, true
}

// HasServicesEnabled reports whether at least one provider is enabled.
func (r *Registry) HasServicesEnabled() bool {
	if r.source == nil {
		return false
	}
	return r.source.IsProviderEnabled(ProviderGPS) || r.source.IsProviderEnabled(ProviderNetwork)
}

// ProviderStatus reports the availability of the providers.
func (r *Registry) ProviderStatus() ProviderStatus {
	if r.source == nil {
		return ProviderStatus{}
	}
	gps := r.source.IsProviderEnabled(ProviderGPS)
	network := r.source.IsProviderEnabled(ProviderNetwork)
	return ProviderStatus{
		LocationServicesEnabled: gps || network,
		GPSAvailable:            gps,
		NetworkAvailable:        network,
		BackgroundModeEnabled:   gps || network,
	}
}

// Subscriptions returns the active position watches in ascending id order.
func (r *Registry) Subscriptions() []Subscription {
	out := make([]Subscription, 0, len(r.watches))
	for _, id := range slices.Sorted(maps.Keys(r.watches)) {
		out = append(out, *r.watches[id])
	}
	return out
}

// Registered reports whether updates of the provider kind are currently requested.
func (r *Registry) Registered(kind ProviderKind) bool {
	_, ok := r.links[kind]
	return ok
}

// Pause removes every provider registration while keeping the subscriptions.
func (r *Registry) Pause() {
	if r.paused {
		return
	}
	r.paused = true
	r.unregisterAll()
	r.logger.Debug("watches paused", slog.Int("watches", len(r.watches)))
}

// Resume restores the provider registrations of all subscriptions. Without foreground
// permission the registry stays idle.
func (r *Registry) Resume() {
	r.paused = false
	if r.perms == nil || !r.perms.HasForeground() {
		r.logger.Debug("not resuming watches without foreground permission")
		return
	}
	for _, kind := range slices.Sorted(maps.Keys(r.refs)) {
		if err := r.register(kind); err != nil {
			r.logger.Error("failed to re-register provider", slog.String("provider", string(kind)),
				logger.Err(err))
		}
	}
	r.logger.Debug("watches resumed", slog.Int("watches", len(r.watches)))
}

// Destroy drops every subscription and registration. Pending one-shot requests fail.
func (r *Registry) Destroy() {
	r.unregisterAll()
	pending := r.oneShots
	r.watches = make(map[int]*Subscription)
	r.oneShots = make(map[int]*oneShot)
	r.refs = make(map[ProviderKind]int)
	r.paused = false
	r.haveLast = false
	r.lastKnown = Sample{}

	for _, id := range slices.Sorted(maps.Keys(pending)) {
		pending[id].callback(Sample{}, locerr.ErrLocationUnavailable.WithOp("getCurrentPosition"))
	}
	r.logger.Debug("watch registry destroyed")
}

func (r *Registry) idInUse(id int) bool {
	if _, ok := r.watches[id]; ok {
		return true
	}
	if r.heading != nil {
		if headingID, ok := r.heading.WatchID(); ok && headingID == id {
			return true
		}
	}
	return false
}

// needsSettings reports whether the request has to wait for the user to enable the satellite
// provider.
func (r *Registry) needsSettings(opts Options) bool {
	return r.settings != nil && opts.MayShowUserSettingsDialog && opts.highAccuracy() &&
		!r.source.IsProviderEnabled(ProviderGPS)
}

func (r *Registry) watchSettingsResolved(sub *Subscription, code settings.ResultCode) {
	if r.watches[sub.ID] != sub {
		return
	}
	if code != settings.ResultOK {
		delete(r.watches, sub.ID)
		r.emitError(sub.ID, locerr.ErrSettingsUnsatisfied)
		return
	}
	sub.parked = false
	if err := r.activate(sub); err != nil {
		delete(r.watches, sub.ID)
		r.emitError(sub.ID, locerr.ProviderFailure("watchPosition", err))
	}
}

func (r *Registry) oneShotSettingsResolved(req *oneShot, code settings.ResultCode) {
	if r.oneShots[req.sub.ID] != req {
		return
	}
	if code != settings.ResultOK {
		delete(r.oneShots, req.sub.ID)
		req.callback(Sample{}, locerr.ErrSettingsUnsatisfied.WithOp("getCurrentPosition"))
		return
	}
	req.sub.parked = false
	if err := r.activate(req.sub); err != nil {
		delete(r.oneShots, req.sub.ID)
		req.callback(Sample{}, locerr.ProviderFailure("getCurrentPosition", err))
	}
}

// activate takes a reference on every provider kind of the subscription.
func (r *Registry) activate(sub *Subscription) error {
	kinds := sub.Options.providers()
	for i, kind := range kinds {
		r.refs[kind]++
		if r.paused {
			continue
		}
		if err := r.register(kind); err != nil {
			sub.providers = kinds[:i+1]
			r.release(sub)
			return err
		}
	}
	sub.providers = kinds
	return nil
}

// release drops the subscription's provider references and unregisters providers without
// subscribers. Providers that keep subscribers are relaxed to the parameters those still need.
func (r *Registry) release(sub *Subscription) {
	for _, kind := range sub.providers {
		r.refs[kind]--
		if r.refs[kind] > 0 {
			r.relax(kind)
			continue
		}
		delete(r.refs, kind)
		if link, ok := r.links[kind]; ok {
			r.source.RemoveUpdates(link)
			delete(r.links, kind)
			r.logger.Debug("provider unregistered", slog.String("provider", string(kind)))
		}
	}
	sub.providers = nil
}

// register requests updates for the provider kind, or tightens the parameters of an existing
// registration.
func (r *Registry) register(kind ProviderKind) error {
	interval, distance, _ := r.updateParams(kind)
	link, ok := r.links[kind]
	if ok && link.interval <= interval && link.distance <= distance {
		return nil
	}
	if !ok {
		link = &providerLink{kind: kind, registry: r}
	}
	if err := r.source.RequestUpdates(kind, interval, distance, link); err != nil {
		return fmt.Errorf("failed to request %s updates: %w", kind, err)
	}
	link.interval, link.distance = interval, distance
	r.links[kind] = link
	if !ok {
		r.logger.Debug("provider registered", slog.String("provider", string(kind)),
			slog.Duration("interval", interval), slog.Float64("distance", distance))
	}
	return nil
}

// relax re-requests updates for kind when the remaining subscribers accept a larger interval
// or distance than the current registration.
func (r *Registry) relax(kind ProviderKind) {
	link, ok := r.links[kind]
	if !ok {
		return
	}
	interval, distance, found := r.updateParams(kind)
	if !found || (link.interval == interval && link.distance == distance) {
		return
	}
	if err := r.source.RequestUpdates(kind, interval, distance, link); err != nil {
		r.logger.Error("failed to relax provider parameters", slog.String("provider", string(kind)),
			logger.Err(err))
		return
	}
	link.interval, link.distance = interval, distance
}

// updateParams returns the smallest interval and distance among the active subscribers of
// kind. found is false if there are none.
func (r *Registry) updateParams(kind ProviderKind) (interval time.Duration, distance float64, found bool) {
	first := true
	consider := func(sub *Subscription) {
		if sub.parked {
			return
		}
		if !slices.Contains(sub.Options.providers(), kind) {
			return
		}
		if first || sub.Options.TimeInterval < interval {
			interval = sub.Options.TimeInterval
		}
		if first || sub.Options.DistanceInterval < distance {
			distance = sub.Options.DistanceInterval
		}
		first = false
	}
	for _, sub := range r.watches {
		consider(sub)
	}
	for _, req := range r.oneShots {
		consider(req.sub)
	}
	return interval, distance, !first
}

func (r *Registry) unregisterAll() {
	for _, kind := range slices.Sorted(maps.Keys(r.links)) {
		r.source.RemoveUpdates(r.links[kind])
		delete(r.links, kind)
	}
}

// deliver fans one provider sample out to every subscriber of its provider kind.
func (r *Registry) deliver(link *providerLink, s Sample) {
	if r.links[link.kind] != link {
		return
	}
	s.Provider = link.kind
	r.lastKnown, r.haveLast = s, true
	if r.heading != nil {
		r.heading.UpdateFix(s.Latitude, s.Longitude, s.Altitude, s.Timestamp)
	}

	loc := s.Location()
	for _, id := range slices.Sorted(maps.Keys(r.watches)) {
		if !r.watches[id].uses(link.kind) {
			continue
		}
		r.emitter.Emit(events.LocationChanged, LocationEvent{WatchID: id, Location: loc})
	}

	now := r.clock.Now()
	for _, id := range slices.Sorted(maps.Keys(r.oneShots)) {
		req := r.oneShots[id]
		if !req.sub.uses(link.kind) {
			continue
		}
		if !IsLocationValid(s, req.sub.Options.MaxAge, req.sub.Options.RequiredAccuracy, now) {
			continue
		}
		delete(r.oneShots, id)
		r.release(req.sub)
		req.callback(s, nil)
	}
}

func (r *Registry) emitError(id int, err error) {
	r.logger.Warn("position watch failed", slog.Int("watch_id", id), logger.Err(err))
	r.emitter.Emit(events.LocationError, ErrorEvent{
		WatchID: id,
		Code:    string(locerr.CodeOf(err)),
		Message: locerr.MessageOf(err),
	})
}
