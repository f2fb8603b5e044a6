// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/wneessen/geowatch/internal/events"
	"github.com/wneessen/geowatch/internal/i18n"
	"github.com/wneessen/geowatch/internal/locerr"
	"github.com/wneessen/geowatch/internal/logger"
	"github.com/wneessen/geowatch/internal/loop"
	"github.com/wneessen/geowatch/internal/permission"
	"github.com/wneessen/geowatch/internal/settings"
	"github.com/wneessen/geowatch/internal/task"
	"github.com/wneessen/geowatch/internal/vartype"
	"github.com/wneessen/geowatch/internal/watch"
)

const codeInternal = "E_INTERNAL"

// commandFunc executes a single client command and returns its JSON-encodable result.
type commandFunc func(ctx context.Context, args json.RawMessage) (any, error)

// positionOptions are the client options of a position request. Durations are milliseconds.
type positionOptions struct {
	Accuracy                  int                `json:"accuracy"`
	TimeInterval              int64              `json:"timeInterval"`
	DistanceInterval          float64            `json:"distanceInterval"`
	MaxAge                    *int64             `json:"maxAge"`
	RequiredAccuracy          vartype.VarFloat64 `json:"requiredAccuracy"`
	MayShowUserSettingsDialog bool               `json:"mayShowUserSettingsDialog"`
	Timeout                   int64              `json:"timeout"`
}

func (o positionOptions) options() watch.Options {
	return watch.Options{
		Accuracy:                  watch.Accuracy(o.Accuracy),
		TimeInterval:              time.Duration(o.TimeInterval) * time.Millisecond,
		DistanceInterval:          o.DistanceInterval,
		MaxAge:                    maxAge(o.MaxAge),
		RequiredAccuracy:          o.RequiredAccuracy,
		MayShowUserSettingsDialog: o.MayShowUserSettingsDialog,
	}
}

type watchArgs struct {
	WatchID int             `json:"watchId"`
	Options positionOptions `json:"options"`
}

type lastKnownArgs struct {
	MaxAge           *int64             `json:"maxAge"`
	RequiredAccuracy vartype.VarFloat64 `json:"requiredAccuracy"`
}

type trackingArgs struct {
	TaskName string `json:"taskName"`
	Options  struct {
		Accuracy                int                     `json:"accuracy"`
		TimeInterval            int64                   `json:"timeInterval"`
		DistanceInterval        float64                 `json:"distanceInterval"`
		DeferredUpdatesInterval int64                   `json:"deferredUpdatesInterval"`
		DeferredUpdatesDistance float64                 `json:"deferredUpdatesDistance"`
		ForegroundService       *task.ForegroundService `json:"foregroundService"`
	} `json:"options"`
}

type geofencingArgs struct {
	TaskName string        `json:"taskName"`
	Regions  []task.Region `json:"regions"`
}

type taskNameArgs struct {
	TaskName string `json:"taskName"`
}

type settingsResultArgs struct {
	Token  string `json:"token"`
	Result string `json:"result"`
}

type setPermissionArgs struct {
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	CanAskAgain *bool  `json:"canAskAgain"`
}

type settingsResultReply struct {
	Delivered bool `json:"delivered"`
}

func maxAge(ms *int64) vartype.VarDuration {
	var age vartype.VarDuration
	if ms != nil {
		age.Set(time.Duration(*ms) * time.Millisecond)
	}
	return age
}

// decode unmarshals the command arguments. Missing arguments leave T at its zero value.
func decode[T any](op string, raw json.RawMessage) (T, error) {
	var args T
	if len(raw) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, locerr.Invalid(op, "malformed arguments")
	}
	return args, nil
}

// onLoop runs fn on the event loop and returns its result.
func onLoop[T any](ctx context.Context, s *Service, fn func() (T, error)) (T, error) {
	var result T
	err := s.loop.Call(ctx, func() error {
		var err error
		result, err = fn()
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// HandleCommand implements events.CommandHandler.
func (s *Service) HandleCommand(ctx context.Context, cmd events.Command) events.Reply {
	reply := events.Reply{ID: cmd.ID, Op: cmd.Op}
	fn, ok := s.commands[cmd.Op]
	if !ok {
		reply.Error = s.errorBody(locerr.Invalid(cmd.Op, "unknown command"))
		return reply
	}

	result, err := fn(ctx, cmd.Args)
	if err != nil {
		s.logger.Debug("command failed", slog.String("op", cmd.Op), logger.Err(err))
		reply.Error = s.errorBody(err)
		return reply
	}
	reply.Result = result
	return reply
}

func (s *Service) errorBody(err error) *events.ErrorBody {
	code := string(locerr.CodeOf(err))
	if code == "" {
		code = codeInternal
	}
	msg := err.Error()
	if s.localizer != nil {
		msg = i18n.Message(s.localizer, err)
	}
	return &events.ErrorBody{Code: code, Message: msg}
}

func (s *Service) commandTable() map[string]commandFunc {
	return map[string]commandFunc{
		"getForegroundPermissions": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return s.gateway.QueryForeground(ctx)
		},
		"requestForegroundPermissions": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return s.gateway.RequestForeground(ctx)
		},
		"getBackgroundPermissions": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return s.gateway.QueryBackground(ctx)
		},
		"requestBackgroundPermissions": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return s.gateway.RequestBackground(ctx)
		},
		"getPermissions": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return s.gateway.QueryLocation(ctx)
		},
		"requestPermissions": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return s.gateway.RequestLocation(ctx)
		},
		"setPermission": s.setPermission,

		"watchPosition":        s.watchPosition,
		"watchHeading":         s.watchHeading,
		"removeWatch":          s.removeWatch,
		"getCurrentPosition":   s.currentPosition,
		"getLastKnownPosition": s.lastKnownPosition,
		"hasServicesEnabled": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return onLoop(ctx, s, func() (bool, error) { return s.registry.HasServicesEnabled(), nil })
		},
		"getProviderStatus": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return onLoop(ctx, s, func() (watch.ProviderStatus, error) { return s.registry.ProviderStatus(), nil })
		},
		"settingsResult": s.settingsResult,

		"startLocationUpdates":      s.startLocationUpdates,
		"stopLocationUpdates":       s.stopLocationUpdates,
		"hasStartedLocationUpdates": s.hasStartedLocationUpdates,
		"startGeofencing":           s.startGeofencing,
		"stopGeofencing":            s.stopGeofencing,
		"hasStartedGeofencing":      s.hasStartedGeofencing,
	}
}

func (s *Service) watchPosition(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[watchArgs]("watchPosition", raw)
	if err != nil {
		return nil, err
	}
	return onLoop(ctx, s, func() (int, error) {
		return args.WatchID, s.registry.StartPositionWatch(args.WatchID, args.Options.options())
	})
}

func (s *Service) watchHeading(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[watchArgs]("watchHeading", raw)
	if err != nil {
		return nil, err
	}
	return onLoop(ctx, s, func() (int, error) {
		return args.WatchID, s.registry.StartHeadingWatch(args.WatchID)
	})
}

func (s *Service) removeWatch(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[watchArgs]("removeWatch", raw)
	if err != nil {
		return nil, err
	}
	return onLoop(ctx, s, func() (int, error) {
		s.registry.Stop(args.WatchID)
		return args.WatchID, nil
	})
}

type positionResult struct {
	sample watch.Sample
	err    error
}

// currentPosition waits for a single fix. The request itself has no timeout; a client may
// bound the wait with the timeout option. A request that is given up is cancelled in the
// registry.
func (s *Service) currentPosition(ctx context.Context, raw json.RawMessage) (any, error) {
	const op = "getCurrentPosition"
	args, err := decode[positionOptions](op, raw)
	if err != nil {
		return nil, err
	}
	if args.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(args.Timeout)*time.Millisecond)
		defer cancel()
	}

	// id is only touched on the loop, so the cancellation always runs after the request.
	var id int
	results := make(chan positionResult, 1)
	if !s.loop.Post(func() {
		var err error
		id, err = s.registry.CurrentPosition(args.options(), func(sample watch.Sample, err error) {
			results <- positionResult{sample: sample, err: err}
		})
		if err != nil {
			results <- positionResult{err: err}
		}
	}) {
		return nil, loop.ErrStopped
	}

	select {
	case res := <-results:
		if res.err != nil {
			return nil, res.err
		}
		return res.sample.Location(), nil
	case <-ctx.Done():
		s.loop.Post(func() {
			if id != 0 {
				s.registry.CancelCurrentPosition(id)
			}
		})
		return nil, locerr.ProviderFailure(op, ctx.Err())
	}
}

func (s *Service) lastKnownPosition(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[lastKnownArgs]("getLastKnownPosition", raw)
	if err != nil {
		return nil, err
	}
	return onLoop(ctx, s, func() (*watch.Location, error) {
		sample, ok := s.registry.LastKnownPosition(maxAge(args.MaxAge), args.RequiredAccuracy)
		if !ok {
			return nil, nil
		}
		loc := sample.Location()
		return &loc, nil
	})
}

func (s *Service) settingsResult(_ context.Context, raw json.RawMessage) (any, error) {
	const op = "settingsResult"
	args, err := decode[settingsResultArgs](op, raw)
	if err != nil {
		return nil, err
	}
	if args.Token == "" {
		return nil, locerr.Invalid(op, "token is required")
	}
	code, err := settings.ParseResultCode(args.Result)
	if err != nil {
		return nil, locerr.Invalid(op, err.Error())
	}
	return settingsResultReply{Delivered: s.dispatcher.Deliver(args.Token, code)}, nil
}

// setPermission changes the answer the permission substrate gives for a permission kind.
func (s *Service) setPermission(ctx context.Context, raw json.RawMessage) (any, error) {
	const op = "setPermission"
	args, err := decode[setPermissionArgs](op, raw)
	if err != nil {
		return nil, err
	}
	kind, err := permission.ParseKind(args.Kind)
	if err != nil {
		return nil, locerr.Invalid(op, err.Error())
	}
	status, err := permission.ParseStatus(args.Status)
	if err != nil {
		return nil, locerr.Invalid(op, err.Error())
	}
	resp := permission.Response{Status: status, CanAskAgain: status != permission.StatusDenied}
	if args.CanAskAgain != nil {
		resp.CanAskAgain = *args.CanAskAgain
	}
	s.substrate.Set(kind, resp)
	s.logger.Info("permission changed", slog.String("kind", kind.String()), slog.String("status", string(status)))

	return s.gateway.QueryLocation(ctx)
}

func (s *Service) startLocationUpdates(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[trackingArgs]("startLocationUpdates", raw)
	if err != nil {
		return nil, err
	}
	opts := task.TrackingOptions{
		Accuracy:                args.Options.Accuracy,
		TimeInterval:            time.Duration(args.Options.TimeInterval) * time.Millisecond,
		DistanceInterval:        args.Options.DistanceInterval,
		DeferredUpdatesInterval: time.Duration(args.Options.DeferredUpdatesInterval) * time.Millisecond,
		DeferredUpdatesDistance: args.Options.DeferredUpdatesDistance,
		ForegroundService:       args.Options.ForegroundService,
	}
	return nil, s.tasks.StartLocationUpdates(ctx, args.TaskName, opts)
}

func (s *Service) stopLocationUpdates(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[taskNameArgs]("stopLocationUpdates", raw)
	if err != nil {
		return nil, err
	}
	return nil, s.tasks.StopLocationUpdates(ctx, args.TaskName)
}

func (s *Service) hasStartedLocationUpdates(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[taskNameArgs]("hasStartedLocationUpdates", raw)
	if err != nil {
		return nil, err
	}
	return s.tasks.HasStartedLocationUpdates(ctx, args.TaskName)
}

func (s *Service) startGeofencing(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[geofencingArgs]("startGeofencing", raw)
	if err != nil {
		return nil, err
	}
	return nil, s.tasks.StartGeofencing(ctx, args.TaskName, task.GeofencingOptions{Regions: args.Regions})
}

func (s *Service) stopGeofencing(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[taskNameArgs]("stopGeofencing", raw)
	if err != nil {
		return nil, err
	}
	return nil, s.tasks.StopGeofencing(ctx, args.TaskName)
}

func (s *Service) hasStartedGeofencing(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[taskNameArgs]("hasStartedGeofencing", raw)
	if err != nil {
		return nil, err
	}
	return s.tasks.HasStartedGeofencing(ctx, args.TaskName)
}
