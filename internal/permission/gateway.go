// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package permission

import (
	"context"
	"log/slog"

	"github.com/wneessen/geowatch/internal/locerr"
	"github.com/wneessen/geowatch/internal/logger"
)

// LevelCombined is the platform level on which background location is a separate permission,
// but the OS still answers fine, coarse and background in a single round-trip. Below it,
// foreground permission implies background permission.
const LevelCombined = 29

// Gateway answers permission queries and requests for the location service.
type Gateway struct {
	substrate Substrate
	level     int
	logger    *logger.Logger
}

// NewGateway returns a Gateway for the given substrate and platform level. A nil substrate is
// allowed; every call then fails with a module unavailable error.
func NewGateway(substrate Substrate, level int, log *logger.Logger) *Gateway {
	if log == nil {
		log = logger.Discard()
	}
	return &Gateway{
		substrate: substrate,
		level:     level,
		logger:    log.With(logger.Component("permission")),
	}
}

// Level returns the platform level the gateway was configured for.
func (g *Gateway) Level() int {
	return g.level
}

// separateBackground reports whether background location is asked for independently.
func (g *Gateway) separateBackground() bool {
	return g.level >= LevelCombined
}

// combinedRoundTrip reports whether the platform answers all three permissions at once.
func (g *Gateway) combinedRoundTrip() bool {
	return g.level == LevelCombined
}

// QueryForeground returns the current foreground permission state.
func (g *Gateway) QueryForeground(ctx context.Context) (Result, error) {
	return g.foreground(ctx, "getForegroundPermissions", g.query)
}

// RequestForeground prompts for foreground permission.
func (g *Gateway) RequestForeground(ctx context.Context) (Result, error) {
	return g.foreground(ctx, "requestForegroundPermissions", g.request)
}

// QueryBackground returns the current background permission state.
func (g *Gateway) QueryBackground(ctx context.Context) (Result, error) {
	return g.background(ctx, "getBackgroundPermissions", g.query)
}

// RequestBackground prompts for background permission.
func (g *Gateway) RequestBackground(ctx context.Context) (Result, error) {
	return g.background(ctx, "requestBackgroundPermissions", g.request)
}

// QueryLocation is the legacy combined query. On the combined platform level it issues one
// query for all three permissions; elsewhere it queries foreground and background separately.
func (g *Gateway) QueryLocation(ctx context.Context) (Legacy, error) {
	return g.legacy(ctx, "getPermissions", g.query)
}

// RequestLocation is the legacy combined request, see QueryLocation.
func (g *Gateway) RequestLocation(ctx context.Context) (Legacy, error) {
	return g.legacy(ctx, "requestPermissions", g.request)
}

// HasForeground reports whether fine or coarse location is granted.
func (g *Gateway) HasForeground() bool {
	if g.substrate == nil {
		return false
	}
	return g.substrate.IsGranted(Fine) || g.substrate.IsGranted(Coarse)
}

// HasBackground reports whether location may be used while the host is in the background.
func (g *Gateway) HasBackground() bool {
	if g.substrate == nil {
		return false
	}
	if !g.separateBackground() {
		return true
	}
	return g.substrate.IsGranted(Background)
}

type roundTrip func(ctx context.Context, kinds ...Kind) (Responses, error)

func (g *Gateway) query(ctx context.Context, kinds ...Kind) (Responses, error) {
	return g.substrate.Query(ctx, kinds...)
}

func (g *Gateway) request(ctx context.Context, kinds ...Kind) (Responses, error) {
	return g.substrate.Request(ctx, kinds...)
}

func (g *Gateway) foreground(ctx context.Context, op string, rt roundTrip) (Result, error) {
	if g.substrate == nil {
		return Result{}, locerr.Unavailable(op, "Permissions")
	}
	responses, err := rt(ctx, Fine, Coarse)
	if err != nil {
		return Result{}, locerr.Substrate(op, err)
	}
	result := foregroundResult(responses)
	g.logger.Debug("resolved foreground permission", slog.String("op", op),
		slog.String("status", string(result.Status)), slog.String("accuracy", string(result.Accuracy)))
	return result, nil
}

func (g *Gateway) background(ctx context.Context, op string, rt roundTrip) (Result, error) {
	if g.substrate == nil {
		return Result{}, locerr.Unavailable(op, "Permissions")
	}
	if !g.separateBackground() {
		return g.foreground(ctx, op, rt)
	}
	if !g.substrate.IsDeclared(Background) {
		return Result{}, locerr.ErrManifestMissing.WithOp(op)
	}
	responses, err := rt(ctx, Background)
	if err != nil {
		return Result{}, locerr.Substrate(op, err)
	}
	return backgroundResult(responses), nil
}

func (g *Gateway) legacy(ctx context.Context, op string, rt roundTrip) (Legacy, error) {
	if g.substrate == nil {
		return Legacy{}, locerr.Unavailable(op, "Permissions")
	}
	if !g.combinedRoundTrip() {
		fg, err := g.foreground(ctx, op, rt)
		if err != nil {
			return Legacy{}, err
		}
		if !g.separateBackground() {
			return Legacy{Foreground: fg, Background: fg}, nil
		}
		if !g.substrate.IsDeclared(Background) {
			return Legacy{Foreground: fg, Background: backgroundUnavailable()}, nil
		}
		bg, err := g.background(ctx, op, rt)
		if err != nil {
			return Legacy{}, err
		}
		return Legacy{Foreground: fg, Background: bg}, nil
	}

	responses, err := rt(ctx, Fine, Coarse, Background)
	if err != nil {
		return Legacy{}, locerr.Substrate(op, err)
	}
	return decomposeLegacy(responses), nil
}

// decomposeLegacy splits a combined answer into the foreground and background shapes. A
// denied foreground permission denies background as well.
func decomposeLegacy(responses Responses) Legacy {
	fg := foregroundResult(responses)
	bg := backgroundResult(responses)
	if fg.Status == StatusDenied {
		bg = Result{
			Status:      StatusDenied,
			CanAskAgain: fg.CanAskAgain,
			Expires:     ExpiresNever,
		}
	}
	return Legacy{Foreground: fg, Background: bg}
}

func backgroundUnavailable() Result {
	return Result{Status: StatusDenied, CanAskAgain: false, Expires: ExpiresNever}
}
