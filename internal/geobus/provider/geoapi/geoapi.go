// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geoapi

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/wneessen/geowatch/internal/geobus"
	"github.com/wneessen/geowatch/internal/http"
	"github.com/wneessen/geowatch/internal/logger"
	"github.com/wneessen/geowatch/internal/watch"
)

const (
	apiEndpoint   = "https://geoapi.info/api/geo"
	lookupTimeout = time.Second * 5
	name          = "geoapi"
)

// GeolocationGeoAPIProvider resolves a coarse position from the public IP address.
type GeolocationGeoAPIProvider struct {
	name     string
	http     *http.Client
	logger   *logger.Logger
	period   time.Duration
	ttl      time.Duration
	locateFn func(ctx context.Context) (geobus.Coordinate, error)
}

type APIResult struct {
	IP       string `json:"ip"`
	Location struct {
		CountryCode string `json:"country,omitempty"`
		Country     string `json:"countryName,omitempty"`
		Region      string `json:"region,omitempty"`
		City        string `json:"city,omitempty"`
		ZipCode     string `json:"postalCode,omitempty"`
		TimeZone    string `json:"timezone"`
		Coordinates struct {
			Latitude  string `json:"latitude"`
			Longitude string `json:"longitude"`
		} `json:"coordinates"`
	} `json:"location"`
}

func NewGeolocationGeoAPIProvider(client *http.Client, log *logger.Logger) (*GeolocationGeoAPIProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	if log == nil {
		log = logger.Discard()
	}
	provider := &GeolocationGeoAPIProvider{
		name:   name,
		http:   client,
		logger: log.With(logger.Component(name)),
		period: time.Minute * 10,
		ttl:    time.Hour * 2,
	}
	provider.locateFn = provider.locate
	return provider, nil
}

func (p *GeolocationGeoAPIProvider) Name() string {
	return p.name
}

// Kind returns the provider kind served by the IP lookup.
func (p *GeolocationGeoAPIProvider) Kind() watch.ProviderKind {
	return watch.ProviderNetwork
}

// LookupStream looks up the position once per period and emits it whenever it changed
// significantly.
func (p *GeolocationGeoAPIProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
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

			coord, err := p.locateFn(ctx)
			if err != nil {
				p.logger.Debug("ip geolocation lookup failed", logger.Err(err))
				continue
			}
			if !state.HasChanged(coord) {
				continue
			}
			state.Update(coord)

			select {
			case <-ctx.Done():
				return
			case out <- p.createResult(key, coord):
			}
		}
	}()
	return out
}

// createResult composes and returns a Result using provided geolocation data and metadata.
func (p *GeolocationGeoAPIProvider) createResult(key string, coord geobus.Coordinate) geobus.Result {
	return geobus.Result{
		Key:            key,
		Lat:            coord.Lat,
		Lon:            coord.Lon,
		AccuracyMeters: coord.Acc,
		Source:         p.name,
		At:             time.Now(),
		TTL:            p.ttl,
	}
}

func (p *GeolocationGeoAPIProvider) locate(ctx context.Context) (geobus.Coordinate, error) {
	result := new(APIResult)
	if _, err := p.http.GetJSON(ctx, apiEndpoint, nil, result, lookupTimeout); err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}

	acc := float64(geobus.AccuracyUnknown)
	if result.Location.CountryCode != "" {
		acc = geobus.AccuracyCountry
	}
	if result.Location.Region != "" {
		acc = geobus.AccuracyRegion
	}
	if result.Location.City != "" {
		acc = geobus.AccuracyCity
	}
	if result.Location.ZipCode != "" {
		acc = geobus.AccuracyZip
	}

	lat, err := strconv.ParseFloat(result.Location.Coordinates.Latitude, 64)
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to parse latitude from API response: %w", err)
	}
	lon, err := strconv.ParseFloat(result.Location.Coordinates.Longitude, 64)
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to parse longitude from API response: %w", err)
	}

	return geobus.Coordinate{
		Lat: geobus.Truncate(lat, geobus.TruncPrecision),
		Lon: geobus.Truncate(lon, geobus.TruncPrecision),
		Acc: geobus.Truncate(acc, geobus.TruncPrecision),
	}, nil
}
