// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package gpspoll implements a one-shot gpsd client for callers that need a single fix.
package gpspoll

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/wneessen/geowatch/internal/vartype"
	"github.com/wneessen/geowatch/internal/watch"
)

const (
	fallbackAccuracy3DFix = 10  // ~10 m typical consumer GPS in open sky
	fallbackAccuracy2DFix = 25  // worse than 3D, but still accurate enough
	fallbackAccuracyNoFix = 1e6 // effectively unusable
	watchTimeout          = time.Second * 2
)

// ErrNoFix is returned by Fetch when gpsd reports no 2D fix.
var ErrNoFix = errors.New("gpsd has no 2D fix")

// Client is a minimal GPSd client
type Client struct {
	Addr string
}

// Fix represents a single GPS fix from gpsd.
type Fix struct {
	Lat   float64
	Lon   float64
	Alt   float64
	Acc   float64
	Epv   float64
	Track float64
	Speed float64
	Time  time.Time
	Mode  int
}

// gpsdPollResponse matches the subset of gpsd's TPV report we care about.
type gpsdPollResponse struct {
	Class string    `json:"class"`
	Time  time.Time `json:"time"`
	Lat   float64   `json:"lat"`
	Lon   float64   `json:"lon"`
	Alt   float64   `json:"alt"`
	Mode  int       `json:"mode"`
	Epx   float64   `json:"epx"`
	Epy   float64   `json:"epy"`
	Eph   float64   `json:"eph"`
	Epv   float64   `json:"epv"`
	Track float64   `json:"track"`
	Speed float64   `json:"speed"`
}

// New constructs a new Client for the given host and port.
func New(host, port string) *Client {
	return &Client{
		Addr: net.JoinHostPort(host, port),
	}
}

// Poll connects to gpsd, enables a WATCH and returns the first TPV report. The connection
// is closed before returning.
func (c *Client) Poll(ctx context.Context) (Fix, error) {
	var zero Fix

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return zero, fmt.Errorf("gpspoll: dial gpsd: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	// Respect context deadline if present, otherwise we add a safety net so we don't hang
	// forever if ctx has no deadline.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(watchTimeout))
	}

	if _, err = fmt.Fprint(conn, `?WATCH={"enable":true,"json":true}`+"\n"); err != nil {
		return zero, fmt.Errorf("gpspoll: write WATCH: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var resp gpsdPollResponse

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if err = json.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.Class != "TPV" {
			continue
		}

		return Fix{
			Lat:   resp.Lat,
			Lon:   resp.Lon,
			Alt:   resp.Alt,
			Acc:   HorizontalAccuracy(resp.Mode, resp.Eph, resp.Epx, resp.Epy),
			Epv:   resp.Epv,
			Track: resp.Track,
			Speed: resp.Speed,
			Time:  resp.Time,
			Mode:  resp.Mode,
		}, nil
	}

	if err = scanner.Err(); err != nil {
		return zero, fmt.Errorf("failed to scan GPSd response: %w", err)
	}

	return zero, fmt.Errorf("no TPV response received from GPSd")
}

// Fetch polls gpsd for a single position fix.
func (c *Client) Fetch(ctx context.Context) (watch.Sample, error) {
	fix, err := c.Poll(ctx)
	if err != nil {
		return watch.Sample{}, err
	}
	if !fix.Has2DFix() {
		return watch.Sample{}, ErrNoFix
	}
	return fix.Sample(), nil
}

// Has2DFix reports whether the fix has at least a 2D fix.
func (f Fix) Has2DFix() bool {
	return f.Mode >= 2
}

// Sample converts the fix into a GPS position sample. A fix without time is stamped now.
func (f Fix) Sample() watch.Sample {
	at := f.Time
	if at.IsZero() {
		at = time.Now()
	}
	s := watch.Sample{
		Latitude:  f.Lat,
		Longitude: f.Lon,
		Altitude:  f.Alt,
		Accuracy:  f.Acc,
		Bearing:   f.Track,
		Speed:     f.Speed,
		Timestamp: at,
		Provider:  watch.ProviderGPS,
	}
	if f.Epv > 0 {
		s.VerticalAccuracy = vartype.NewVariable(f.Epv)
	}
	return s
}

// HorizontalAccuracy returns the horizontal error estimate in meters for a TPV report. It
// prefers eph, then the combined epx/epy, and falls back to a typical value per fix mode.
func HorizontalAccuracy(mode int, eph, epx, epy float64) float64 {
	switch {
	case eph > 0:
		return eph
	case epx > 0 && epy > 0:
		// sqrt(epx² + epy²)
		return math.Hypot(epx, epy)
	default:
		return horizontalAccuracyFallback(mode)
	}
}

func horizontalAccuracyFallback(mode int) float64 {
	switch mode {
	case 3:
		return fallbackAccuracy3DFix
	case 2:
		return fallbackAccuracy2DFix
	default:
		return fallbackAccuracyNoFix
	}
}
