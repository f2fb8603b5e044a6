// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/text/language"

	"github.com/wneessen/geowatch/internal/geobus"
	"github.com/wneessen/geowatch/internal/geobus/provider/cityname_file"
	"github.com/wneessen/geowatch/internal/geobus/provider/geoapi"
	"github.com/wneessen/geowatch/internal/geobus/provider/geolocation_file"
	"github.com/wneessen/geowatch/internal/geobus/provider/gpsd"
	"github.com/wneessen/geowatch/internal/geobus/provider/ichnaea"
	"github.com/wneessen/geowatch/internal/geocode"
	nominatim "github.com/wneessen/geowatch/internal/geocode/provider/osm-nominatim"
	"github.com/wneessen/geowatch/internal/http"
	"github.com/wneessen/geowatch/internal/logger"
)

const (
	cacheHitTTL  = 24 * time.Hour
	cacheMissTTL = 10 * time.Minute
)

// selectGeobusProviders returns the configured position providers. Providers that fail to
// initialize are logged and skipped.
func (s *Service) selectGeobusProviders() []geobus.Provider {
	httpClient := http.New(s.logger)
	var provider []geobus.Provider

	if !s.config.Providers.GPSD.Disable {
		provider = append(provider, gpsd.NewGeolocationGPSDProvider(s.config.Providers.GPSD.Host,
			fmt.Sprint(s.config.Providers.GPSD.Port), s.logger))
	}

	if !s.config.Providers.GeolocationFile.Disable {
		provider = append(provider, geolocation_file.NewGeolocationFileProvider(
			s.config.Providers.GeolocationFile.Path))
	}

	if !s.config.Providers.CitynameFile.Disable {
		searcher := geocode.NewCachedSearcher(nominatim.New(httpClient, s.language()), cacheHitTTL,
			cacheMissTTL, s.clock)
		cnp, err := cityname_file.NewCitynameFileProvider(s.config.Providers.CitynameFile.Path, searcher,
			s.logger)
		if err != nil {
			s.logger.Error("failed to create cityname file provider", logger.Err(err))
		} else {
			provider = append(provider, cnp)
		}
	}

	if !s.config.Providers.ICHNAEA.Disable {
		mls, err := ichnaea.NewGeolocationICHNAEAProvider(httpClient, s.config.Providers.ICHNAEA.Endpoint,
			s.logger)
		if err != nil {
			s.logger.Error("failed to create ICHNAEA provider", logger.Err(err))
		} else {
			provider = append(provider, mls)
		}
	}

	if !s.config.Providers.GeoAPI.Disable {
		gap, err := geoapi.NewGeolocationGeoAPIProvider(httpClient, s.logger)
		if err != nil {
			s.logger.Error("failed to create GeoAPI provider", logger.Err(err))
		} else {
			provider = append(provider, gap)
		}
	}

	for _, p := range provider {
		s.logger.Debug("position provider enabled", slog.String("provider", p.Name()),
			slog.String("kind", string(p.Kind())))
	}
	return provider
}

// language returns the configured locale as language tag for geocoding lookups.
func (s *Service) language() language.Tag {
	tag, err := language.Parse(s.config.Locale)
	if err != nil {
		return language.English
	}
	return tag
}
