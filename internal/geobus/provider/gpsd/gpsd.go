// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpsd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/geowatch/internal/geobus"
	"github.com/wneessen/geowatch/internal/gpspoll"
	"github.com/wneessen/geowatch/internal/logger"
	"github.com/wneessen/geowatch/internal/vartype"
	"github.com/wneessen/geowatch/internal/watch"
)

const (
	name        = "gpsd"
	DefaultHost = "localhost"
	DefaultPort = "2947"
)

// streamFunc connects to gpsd and hands every TPV report to report until the session ends
// or the context is cancelled.
type streamFunc func(ctx context.Context, addr string, report func(*gpsd.TPVReport)) error

// GeolocationGPSDProvider streams satellite fixes from a gpsd daemon.
type GeolocationGPSDProvider struct {
	name     string
	addr     string
	period   time.Duration
	ttl      time.Duration
	logger   *logger.Logger
	streamFn streamFunc

	unreachable atomic.Bool
}

// NewGeolocationGPSDProvider returns a provider for the gpsd daemon at host:port.
func NewGeolocationGPSDProvider(host, port string, log *logger.Logger) *GeolocationGPSDProvider {
	if host == "" {
		host = DefaultHost
	}
	if port == "" {
		port = DefaultPort
	}
	if log == nil {
		log = logger.Discard()
	}
	return &GeolocationGPSDProvider{
		name:     name,
		addr:     net.JoinHostPort(host, port),
		period:   time.Second * 30,
		ttl:      time.Minute * 2,
		logger:   log.With(logger.Component("gpsd")),
		streamFn: stream,
	}
}

// Name returns the provider name.
func (p *GeolocationGPSDProvider) Name() string {
	return p.name
}

// Kind returns the provider kind served by gpsd.
func (p *GeolocationGPSDProvider) Kind() watch.ProviderKind {
	return watch.ProviderGPS
}

// Enabled reports false after a gpsd session failed, until the next report arrives.
func (p *GeolocationGPSDProvider) Enabled() bool {
	return !p.unreachable.Load()
}

// LookupStream streams every 2D or better fix gpsd reports. Lost sessions are re-established
// after the provider period.
func (p *GeolocationGPSDProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)

	go func() {
		defer close(out)
		var last geobus.Coordinate
		reports := make(chan *gpsd.TPVReport)

		for {
			if ctx.Err() != nil {
				return
			}

			sessionDone := make(chan error, 1)
			go func() {
				sessionDone <- p.streamFn(ctx, p.addr, func(tpv *gpsd.TPVReport) {
					select {
					case <-ctx.Done():
					case reports <- tpv:
					}
				})
			}()

		session:
			for {
				select {
				case <-ctx.Done():
					return
				case tpv := <-reports:
					p.unreachable.Store(false)
					if tpv.Mode < gpsd.Mode2D {
						continue
					}
					res := p.createResult(key, tpv)
					coord := geobus.Coordinate{Lat: res.Lat, Lon: res.Lon, Acc: res.AccuracyMeters}
					if coord == last {
						continue
					}
					last = coord

					select {
					case <-ctx.Done():
						return
					case out <- res:
					}
				case err := <-sessionDone:
					if err != nil {
						p.unreachable.Store(true)
						p.logger.Warn("failed to stream from gpsd", slog.String("addr", p.addr), logger.Err(err))
					}
					break session
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(p.period):
			}
		}
	}()

	return out
}

// createResult composes a Result from a TPV report.
func (p *GeolocationGPSDProvider) createResult(key string, tpv *gpsd.TPVReport) geobus.Result {
	at := tpv.Time
	if at.IsZero() {
		at = time.Now()
	}
	res := geobus.Result{
		Key:            key,
		Lat:            geobus.Truncate(tpv.Lat, geobus.TruncPrecision+2),
		Lon:            geobus.Truncate(tpv.Lon, geobus.TruncPrecision+2),
		Alt:            tpv.Alt,
		AccuracyMeters: gpspoll.HorizontalAccuracy(int(tpv.Mode), 0, tpv.Epx, tpv.Epy),
		Bearing:        tpv.Track,
		Speed:          tpv.Speed,
		Source:         p.name,
		At:             at,
		TTL:            p.ttl,
	}
	if tpv.Epv > 0 {
		res.VerticalAccuracy = vartype.NewVariable(tpv.Epv)
	}
	return res
}

// stream runs a single gpsd session. go-gpsd has no way to close a session, so on context
// cancellation the session goroutine ends with the connection.
func stream(ctx context.Context, addr string, report func(*gpsd.TPVReport)) error {
	session, err := gpsd.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to gpsd at %q: %w", addr, err)
	}

	session.AddFilter("TPV", func(r interface{}) {
		if tpv, ok := r.(*gpsd.TPVReport); ok {
			report(tpv)
		}
	})

	done := session.Watch()
	select {
	case <-ctx.Done():
	case <-done:
	}
	return nil
}
