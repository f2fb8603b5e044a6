// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package nominatim

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/text/language"

	"github.com/wneessen/geowatch/internal/geobus"
	"github.com/wneessen/geowatch/internal/geocode"
	"github.com/wneessen/geowatch/internal/http"
)

const (
	APISearchEndpoint = "https://nominatim.openstreetmap.org/search"
	APITimeout        = time.Second * 10
	name              = "osm-nominatim"
)

type Nominatim struct {
	http     *http.Client
	lang     language.Tag
	endpoint string
}

type SearchResult struct {
	APILat      string `json:"lat"`
	APILon      string `json:"lon"`
	DisplayName string `json:"display_name"`
	AddressType string `json:"addresstype"`
}

func New(client *http.Client, lang language.Tag) *Nominatim {
	return &Nominatim{
		lang:     lang,
		http:     client,
		endpoint: APISearchEndpoint,
	}
}

func (n *Nominatim) Name() string {
	return name
}

// Search returns the best match for the query. A query without matches is not an error; the
// returned place is marked as not found.
func (n *Nominatim) Search(ctx context.Context, query string) (geocode.Place, error) {
	var result []SearchResult

	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("limit", "1")
	params.Set("q", query)
	params.Set("accept-language", n.lang.String())

	if _, err := n.http.GetJSON(ctx, n.endpoint, params, &result, APITimeout); err != nil {
		return geocode.Place{}, fmt.Errorf("failed to fetch address details from Nominatim API: %w", err)
	}
	if len(result) < 1 {
		return geocode.Place{}, nil
	}

	lat, err := strconv.ParseFloat(result[0].APILat, 64)
	if err != nil {
		return geocode.Place{}, fmt.Errorf("failed to parse latitude from Nominatim API response: %w", err)
	}
	lon, err := strconv.ParseFloat(result[0].APILon, 64)
	if err != nil {
		return geocode.Place{}, fmt.Errorf("failed to parse longitude from Nominatim API response: %w", err)
	}

	return geocode.Place{
		Coordinate:  geobus.Coordinate{Lat: lat, Lon: lon, Acc: accuracyFor(result[0].AddressType)},
		DisplayName: result[0].DisplayName,
		Found:       true,
	}, nil
}

// accuracyFor maps the Nominatim address type to a coarse accuracy radius.
func accuracyFor(addressType string) float64 {
	switch addressType {
	case "country":
		return geobus.AccuracyCountry
	case "state", "region", "province", "county":
		return geobus.AccuracyRegion
	case "postcode", "suburb", "quarter", "neighbourhood", "road", "building", "house":
		return geobus.AccuracyZip
	default:
		return geobus.AccuracyCity
	}
}
