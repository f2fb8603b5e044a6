// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package ichnaea

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mdlayher/wifi"

	"github.com/wneessen/geowatch/internal/geobus"
	"github.com/wneessen/geowatch/internal/http"
	"github.com/wneessen/geowatch/internal/logger"
	"github.com/wneessen/geowatch/internal/watch"
)

const (
	DefaultEndpoint = "https://api.beacondb.net/v1/geolocate"
	lookupTimeout   = time.Second * 5
	wifiScanTime    = time.Minute * 2
	name            = "ichnaea"
)

// wlan is the subset of the nl80211 client used for access point scans.
type wlan interface {
	Interfaces() ([]*wifi.Interface, error)
	AccessPoints(ifi *wifi.Interface) ([]*wifi.BSS, error)
}

// GeolocationICHNAEAProvider resolves the position through an Ichnaea compatible geolocation
// API, using nearby WiFi access points when available. It serves the network provider kind.
type GeolocationICHNAEAProvider struct {
	name     string
	endpoint string
	http     *http.Client
	wlan     wlan
	logger   *logger.Logger
	period   time.Duration
	ttl      time.Duration
	locateFn func(ctx context.Context) (lat, lon, acc float64, err error)

	apLock sync.RWMutex
	aps    []WirelessNetwork
}

type APIResult struct {
	Location struct {
		Latitude  float64 `json:"lat"`
		Longitude float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
}

type WirelessNetwork struct {
	LastSeen       int64  `json:"age"`
	MACAddress     string `json:"macAddress"`
	SignalStrength int32  `json:"signalStrength"`
}

// NewGeolocationICHNAEAProvider returns a provider querying endpoint. Without WiFi support the
// provider falls back to IP based lookups.
func NewGeolocationICHNAEAProvider(client *http.Client, endpoint string, log *logger.Logger) (*GeolocationICHNAEAProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if log == nil {
		log = logger.Discard()
	}

	provider := &GeolocationICHNAEAProvider{
		name:     name,
		endpoint: endpoint,
		http:     client,
		logger:   log.With(logger.Component("ichnaea")),
		period:   time.Minute * 5,
		ttl:      time.Hour * 1,
	}
	wlanClient, err := wifi.New()
	if err != nil {
		provider.logger.Info("no WiFi support, using IP based lookups only", logger.Err(err))
	} else {
		provider.wlan = wlanClient
	}
	provider.locateFn = provider.locate
	return provider, nil
}

func (p *GeolocationICHNAEAProvider) Name() string {
	return p.name
}

// Kind returns the provider kind served by the geolocation API.
func (p *GeolocationICHNAEAProvider) Kind() watch.ProviderKind {
	return watch.ProviderNetwork
}

// LookupStream periodically queries the geolocation API and emits a result whenever the position
// changed significantly or on the first successful lookup.
func (p *GeolocationICHNAEAProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	if p.wlan != nil {
		go p.monitorWifiAccessPoints(ctx)
	}
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

			lat, lon, acc, err := p.locateFn(ctx)
			if err != nil {
				p.logger.Debug("geolocation lookup failed", logger.Err(err))
				continue
			}
			coord := geobus.Coordinate{Lat: lat, Lon: lon, Acc: acc}

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
func (p *GeolocationICHNAEAProvider) createResult(key string, coord geobus.Coordinate) geobus.Result {
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

func (p *GeolocationICHNAEAProvider) monitorWifiAccessPoints(ctx context.Context) {
	firstRun := true
	for {
		if !firstRun {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wifiScanTime):
			}
		}
		firstRun = false

		list, err := p.wifiAccessPoints()
		if err != nil {
			p.logger.Debug("failed to scan WiFi access points", logger.Err(err))
			continue
		}
		p.apLock.Lock()
		p.aps = list
		p.apLock.Unlock()
	}
}

func (p *GeolocationICHNAEAProvider) wifiAccessPoints() ([]WirelessNetwork, error) {
	var checkIfaces []*wifi.Interface
	var list []WirelessNetwork

	ifaces, err := p.wlan.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Type != wifi.InterfaceTypeStation {
			continue
		}
		checkIfaces = append(checkIfaces, iface)
	}
	if len(checkIfaces) == 0 {
		return nil, nil
	}

	for _, iface := range checkIfaces {
		aps, err := p.wlan.AccessPoints(iface)
		if err != nil {
			p.logger.Debug("failed to list access points", slog.String("interface", iface.Name), logger.Err(err))
			continue
		}
		for _, ap := range aps {
			if ap.SSID == "" || ap.SSID[0] == '\x00' || strings.HasSuffix(ap.SSID, "_nomap") {
				continue
			}
			list = append(list, WirelessNetwork{
				SignalStrength: ap.Signal / 100,
				MACAddress:     ap.BSSID.String(),
				LastSeen:       ap.LastSeen.Milliseconds(),
			})
		}
	}

	return list, nil
}

func (p *GeolocationICHNAEAProvider) locate(ctx context.Context) (lat, lon, acc float64, err error) {
	p.apLock.RLock()
	wifiList := p.aps
	p.apLock.RUnlock()

	type request struct {
		ConsiderIP   bool              `json:"considerIp"`
		Accesspoints []WirelessNetwork `json:"wifiAccessPoints,omitempty"`
	}
	req := request{
		ConsiderIP:   true,
		Accesspoints: wifiList,
	}
	result := new(APIResult)
	if _, err = p.http.PostJSON(ctx, p.endpoint, req, result, lookupTimeout); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}

	return geobus.Truncate(result.Location.Latitude, geobus.TruncPrecision),
		geobus.Truncate(result.Location.Longitude, geobus.TruncPrecision),
		geobus.Truncate(result.Accuracy, geobus.TruncPrecision), nil
}
