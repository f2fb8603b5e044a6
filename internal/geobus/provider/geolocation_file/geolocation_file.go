// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geolocation_file

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/geowatch/internal/geobus"
	"github.com/wneessen/geowatch/internal/watch"
)

const (
	name = "geolocation_file"
)

var ErrNoCoordinates = fmt.Errorf("no valid coordinates found in geolocation file")

// GeolocationFileProvider serves a fixed position read from a file as network provider. The
// file holds one "latitude,longitude[,accuracy]" line; lines starting with # are ignored.
// Results are flagged as mocked.
type GeolocationFileProvider struct {
	name     string
	path     string
	period   time.Duration
	ttl      time.Duration
	locateFn func() (geobus.Coordinate, error)
}

// NewGeolocationFileProvider initializes a GeolocationFileProvider with a file path and default update
// interval and TTL settings.
func NewGeolocationFileProvider(path string) *GeolocationFileProvider {
	provider := &GeolocationFileProvider{
		name:   name,
		path:   path,
		period: time.Minute * 2,
		ttl:    time.Hour * 1,
	}
	provider.locateFn = provider.readFile
	return provider
}

// Name returns the name of the GeolocationFileProvider instance.
func (p *GeolocationFileProvider) Name() string {
	return p.name
}

// Kind returns the provider kind the file stands in for.
func (p *GeolocationFileProvider) Kind() watch.ProviderKind {
	return watch.ProviderNetwork
}

// Enabled reports whether the geolocation file is present.
func (p *GeolocationFileProvider) Enabled() bool {
	_, err := os.Stat(p.path)
	return err == nil
}

// LookupStream periodically re-reads the file and emits a result whenever the position changed
// significantly or on the first successful read.
func (p *GeolocationFileProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	go func() {
		defer close(out)
		state := geobus.GeolocationState{}
		firstRun := true

		for {
			if !firstRun {
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.period):
				}
			}
			firstRun = false

			coord, err := p.locateFn()
			if err != nil {
				continue
			}

			if state.HasChanged(coord) {
				state.Update(coord)
				r := p.createResult(key, coord)

				select {
				case <-ctx.Done():
					return
				case out <- r:
				}
			}
		}
	}()
	return out
}

// createResult composes and returns a Result using provided geolocation data and metadata.
func (p *GeolocationFileProvider) createResult(key string, coord geobus.Coordinate) geobus.Result {
	return geobus.Result{
		Key:            key,
		Lat:            coord.Lat,
		Lon:            coord.Lon,
		AccuracyMeters: coord.Acc,
		Mocked:         true,
		Source:         p.name,
		At:             time.Now(),
		TTL:            p.ttl,
	}
}

// readFile reads the first valid coordinate line from the file at the configured path. Lines
// without an accuracy column get zip code accuracy.
func (p *GeolocationFileProvider) readFile() (geobus.Coordinate, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to read geolocation file %q: %w", p.path, err)
	}
	for line := range strings.SplitSeq(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			continue
		}
		if coord, ok := parseLine(line); ok {
			return coord, nil
		}
	}
	return geobus.Coordinate{}, ErrNoCoordinates
}

func parseLine(line string) (geobus.Coordinate, bool) {
	fields := strings.Split(line, ",")
	if len(fields) < 2 || len(fields) > 3 {
		return geobus.Coordinate{}, false
	}
	values := make([]float64, len(fields))
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return geobus.Coordinate{}, false
		}
		values[i] = v
	}
	coord := geobus.Coordinate{Lat: values[0], Lon: values[1], Acc: geobus.AccuracyZip}
	if len(values) == 3 && values[2] > 0 {
		coord.Acc = values[2]
	}
	if !coord.Valid() {
		return geobus.Coordinate{}, false
	}
	return coord, true
}
