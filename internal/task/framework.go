// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package task

import (
	"context"
	"log/slog"
	"strings"

	"github.com/wneessen/geowatch/internal/locerr"
	"github.com/wneessen/geowatch/internal/logger"
)

// Policy decides whether an operation needs background permission.
type Policy func() bool

// Always requires background permission.
func Always() bool { return true }

// Never skips the background permission check.
func Never() bool { return false }

// unlessForegroundService requires background permission unless the task runs as a
// foreground service.
func unlessForegroundService(opts TrackingOptions) Policy {
	return func() bool { return opts.ForegroundService == nil }
}

// Framework validates preconditions of background task operations and forwards them to the
// substrate.
type Framework struct {
	substrate   Substrate
	perms       PermissionChecker
	uniformGate bool
	logger      *logger.Logger
}

// NewFramework returns a Framework. With uniformGate set, stopping and querying tracking tasks
// requires background permission like the geofencing variants do.
func NewFramework(substrate Substrate, perms PermissionChecker, uniformGate bool, log *logger.Logger) *Framework {
	if log == nil {
		log = logger.Discard()
	}
	return &Framework{
		substrate:   substrate,
		perms:       perms,
		uniformGate: uniformGate,
		logger:      log.With(logger.Component("task")),
	}
}

// gated runs fn against the substrate after the policy's permission check. Substrate errors
// are returned as rejected outcomes that carry the original error.
func gated[T any](ctx context.Context, f *Framework, op string, policy Policy,
	fn func(context.Context, Substrate) (T, error),
) (T, error) {
	var zero T
	if f.substrate == nil {
		return zero, locerr.Unavailable(op, "Task manager")
	}
	if policy() && (f.perms == nil || !f.perms.HasBackground()) {
		return zero, locerr.ErrBackgroundUnauthorized.WithOp(op)
	}
	val, err := fn(ctx, f.substrate)
	if err != nil {
		f.logger.Error("task substrate failed", slog.String("op", op), logger.Err(err))
		return zero, locerr.Substrate(op, err)
	}
	return val, nil
}

func (f *Framework) trackingQueryPolicy() Policy {
	if f.uniformGate {
		return Always
	}
	return Never
}

// StartLocationUpdates registers a location tracking task.
func (f *Framework) StartLocationUpdates(ctx context.Context, name string, opts TrackingOptions) error {
	const op = "startLocationUpdates"
	if err := validName(op, name); err != nil {
		return err
	}
	_, err := gated(ctx, f, op, unlessForegroundService(opts), func(ctx context.Context, s Substrate) (struct{}, error) {
		return struct{}{}, s.Register(ctx, name, KindLocationTracking, opts)
	})
	if err == nil {
		f.logger.Debug("location updates started", slog.String("task", name),
			slog.Bool("foreground_service", opts.ForegroundService != nil))
	}
	return err
}

// StopLocationUpdates unregisters a location tracking task.
func (f *Framework) StopLocationUpdates(ctx context.Context, name string) error {
	_, err := gated(ctx, f, "stopLocationUpdates", f.trackingQueryPolicy(),
		func(ctx context.Context, s Substrate) (struct{}, error) {
			return struct{}{}, s.Unregister(ctx, name, KindLocationTracking)
		})
	return err
}

// HasStartedLocationUpdates reports whether a location tracking task is registered.
func (f *Framework) HasStartedLocationUpdates(ctx context.Context, name string) (bool, error) {
	return gated(ctx, f, "hasStartedLocationUpdates", f.trackingQueryPolicy(),
		func(ctx context.Context, s Substrate) (bool, error) {
			return s.HasConsumerOfKind(ctx, name, KindLocationTracking)
		})
}

// StartGeofencing registers a geofencing task.
func (f *Framework) StartGeofencing(ctx context.Context, name string, opts GeofencingOptions) error {
	const op = "startGeofencing"
	if err := validName(op, name); err != nil {
		return err
	}
	if len(opts.Regions) == 0 {
		return locerr.Invalid(op, "Regions must be provided")
	}
	_, err := gated(ctx, f, op, Always, func(ctx context.Context, s Substrate) (struct{}, error) {
		return struct{}{}, s.Register(ctx, name, KindGeofencing, opts)
	})
	if err == nil {
		f.logger.Debug("geofencing started", slog.String("task", name), slog.Int("regions", len(opts.Regions)))
	}
	return err
}

// StopGeofencing unregisters a geofencing task.
func (f *Framework) StopGeofencing(ctx context.Context, name string) error {
	_, err := gated(ctx, f, "stopGeofencing", Always, func(ctx context.Context, s Substrate) (struct{}, error) {
		return struct{}{}, s.Unregister(ctx, name, KindGeofencing)
	})
	return err
}

// HasStartedGeofencing reports whether a geofencing task is registered.
func (f *Framework) HasStartedGeofencing(ctx context.Context, name string) (bool, error) {
	return gated(ctx, f, "hasStartedGeofencing", Always, func(ctx context.Context, s Substrate) (bool, error) {
		return s.HasConsumerOfKind(ctx, name, KindGeofencing)
	})
}

func validName(op, name string) error {
	if strings.TrimSpace(name) == "" {
		return locerr.Invalid(op, "Task name must not be empty")
	}
	return nil
}
