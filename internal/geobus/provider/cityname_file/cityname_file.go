// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package cityname_file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wneessen/geowatch/internal/geobus"
	"github.com/wneessen/geowatch/internal/geocode"
	"github.com/wneessen/geowatch/internal/logger"
	"github.com/wneessen/geowatch/internal/watch"
)

const (
	name     = "cityname_file"
	ttlTime  = time.Hour * 12
	pollTime = time.Minute * 5
)

var ErrNoCoordinates = errors.New("no valid city name found in cityname file")

// CitynameFileProvider resolves the first place name listed in a file through a geocoder. The
// file is re-read every period and a result is emitted whenever the resolved position changes.
type CitynameFileProvider struct {
	name     string
	path     string
	period   time.Duration
	ttl      time.Duration
	coder    geocode.Searcher
	logger   *logger.Logger
	locateFn func(ctx context.Context) (geobus.Coordinate, error)
}

// NewCitynameFileProvider returns a provider reading place names from path.
func NewCitynameFileProvider(path string, coder geocode.Searcher, log *logger.Logger) (*CitynameFileProvider, error) {
	if coder == nil {
		return nil, errors.New("geocoder is required")
	}
	if log == nil {
		log = logger.Discard()
	}
	provider := &CitynameFileProvider{
		coder:  coder,
		name:   name,
		path:   path,
		period: pollTime,
		ttl:    ttlTime,
		logger: log.With(logger.Component(name)),
	}
	provider.locateFn = provider.readFile
	return provider, nil
}

// Name returns the name of the CitynameFileProvider instance.
func (p *CitynameFileProvider) Name() string {
	return p.name
}

// Kind returns the provider kind served by the cityname file.
func (p *CitynameFileProvider) Kind() watch.ProviderKind {
	return watch.ProviderNetwork
}

// Enabled reports whether the cityname file exists.
func (p *CitynameFileProvider) Enabled() bool {
	_, err := os.Stat(p.path)
	return err == nil
}

// LookupStream emits the resolved position on start and whenever it changes.
func (p *CitynameFileProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
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

			coords, err := p.locateFn(ctx)
			if err != nil {
				p.logger.Debug("cityname lookup failed", logger.Err(err))
				continue
			}
			if coords.Acc == 0 {
				coords.Acc = geobus.AccuracyCity
			}
			if !state.HasChanged(coords) {
				continue
			}
			state.Update(coords)

			select {
			case <-ctx.Done():
				return
			case out <- p.createResult(key, coords):
			}
		}
	}()
	return out
}

// createResult composes and returns a Result using provided geolocation data and metadata.
func (p *CitynameFileProvider) createResult(key string, coord geobus.Coordinate) geobus.Result {
	return geobus.Result{
		Key:            key,
		Lat:            coord.Lat,
		Lon:            coord.Lon,
		AccuracyMeters: coord.Acc,
		Source:         p.name,
		At:             time.Now(),
		TTL:            p.ttl,
		Mocked:         true,
	}
}

// readFile resolves the first non-comment line of the file that the geocoder knows.
func (p *CitynameFileProvider) readFile(ctx context.Context) (geobus.Coordinate, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to read cityname file %q: %w", p.path, err)
	}
	for line := range strings.SplitSeq(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		place, err := p.coder.Search(ctx, line)
		if err != nil || !place.Found {
			continue
		}
		return place.Coordinate, nil
	}
	return geobus.Coordinate{}, ErrNoCoordinates
}
