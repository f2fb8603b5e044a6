// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package ichnaea

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	stdhttp "net/http"
	"os"
	"strings"
	"testing"
	"testing/synctest"
	"time"

	"github.com/mdlayher/wifi"

	"github.com/wneessen/geowatch/internal/geobus"
	"github.com/wneessen/geowatch/internal/http"
	"github.com/wneessen/geowatch/internal/logger"
	"github.com/wneessen/geowatch/internal/testhelper"
	"github.com/wneessen/geowatch/internal/watch"
)

const (
	testFile = "../../../../testdata/beacondb.json"
	testLat  = 40.7185
	testLon  = -74.0025
	testAcc  = 2000
)

type fakeWLAN struct {
	ifaces []*wifi.Interface
	aps    []*wifi.BSS
	err    error
}

func (f *fakeWLAN) Interfaces() ([]*wifi.Interface, error) {
	return f.ifaces, f.err
}

func (f *fakeWLAN) AccessPoints(*wifi.Interface) ([]*wifi.BSS, error) {
	return f.aps, nil
}

func fileResponder(t *testing.T) testhelper.MockRoundTripper {
	return testhelper.MockRoundTripper{Fn: func(req *stdhttp.Request) (*stdhttp.Response, error) {
		data, err := os.Open(testFile)
		if err != nil {
			t.Fatalf("failed to open JSON response file: %s", err)
		}
		return &stdhttp.Response{
			StatusCode: 200,
			Body:       data,
			Header:     make(stdhttp.Header),
		}, nil
	}}
}

func newTestProvider(t *testing.T, rt testhelper.MockRoundTripper) *GeolocationICHNAEAProvider {
	t.Helper()
	client := http.New(nil)
	client.Transport = rt
	provider := &GeolocationICHNAEAProvider{
		name:     name,
		endpoint: DefaultEndpoint,
		http:     client,
		logger:   logger.Discard(),
		period:   time.Minute * 5,
		ttl:      time.Hour * 1,
	}
	provider.locateFn = provider.locate
	return provider
}

func TestNewGeolocationICHNAEAProvider(t *testing.T) {
	t.Run("new ICHNAEA provider succeeds", func(t *testing.T) {
		provider, err := NewGeolocationICHNAEAProvider(http.New(nil), "", nil)
		if err != nil {
			t.Fatalf("failed to create ICHNAEA provider: %s", err)
		}
		if provider == nil {
			t.Fatal("expected provider to be non-nil")
		}
		if provider.endpoint != DefaultEndpoint {
			t.Errorf("expected default endpoint, got %s", provider.endpoint)
		}
	})
	t.Run("ICHNAEA without http client fails ", func(t *testing.T) {
		provider, err := NewGeolocationICHNAEAProvider(nil, "", nil)
		if err == nil {
			t.Fatal("expected provider to fail")
		}
		if provider != nil {
			t.Fatal("expected provider to be nil")
		}
	})
}

func TestGeolocationICHNAEAProvider_Name(t *testing.T) {
	provider := newTestProvider(t, fileResponder(t))
	if !strings.EqualFold(provider.Name(), name) {
		t.Errorf("expected provider name to be %s, got %s", name, provider.Name())
	}
	if provider.Kind() != watch.ProviderNetwork {
		t.Errorf("expected provider kind network, got %s", provider.Kind())
	}
}

func TestGeolocationICHNAEAProvider_wifiAccessPoints(t *testing.T) {
	bssid, err := net.ParseMAC("00:11:22:33:44:55")
	if err != nil {
		t.Fatalf("failed to parse MAC: %s", err)
	}
	provider := newTestProvider(t, fileResponder(t))
	t.Run("hidden and opted out networks are skipped", func(t *testing.T) {
		provider.wlan = &fakeWLAN{
			ifaces: []*wifi.Interface{
				{Name: "wlan0", Type: wifi.InterfaceTypeStation},
				{Name: "ap0", Type: wifi.InterfaceTypeAP},
			},
			aps: []*wifi.BSS{
				{SSID: "home", BSSID: bssid, Signal: -6500, LastSeen: time.Second},
				{SSID: "", BSSID: bssid},
				{SSID: "cafe_nomap", BSSID: bssid},
			},
		}
		list, err := provider.wifiAccessPoints()
		if err != nil {
			t.Fatalf("failed to get WiFi list: %s", err)
		}
		if len(list) != 1 {
			t.Fatalf("expected one access point, got %d", len(list))
		}
		if list[0].MACAddress != "00:11:22:33:44:55" || list[0].SignalStrength != -65 || list[0].LastSeen != 1000 {
			t.Errorf("unexpected access point: %+v", list[0])
		}
	})
	t.Run("no station interface yields an empty list", func(t *testing.T) {
		provider.wlan = &fakeWLAN{ifaces: []*wifi.Interface{{Name: "ap0", Type: wifi.InterfaceTypeAP}}}
		list, err := provider.wifiAccessPoints()
		if err != nil || len(list) != 0 {
			t.Errorf("expected empty list, got %v, %v", list, err)
		}
	})
	t.Run("interface listing fails", func(t *testing.T) {
		provider.wlan = &fakeWLAN{err: errors.New("intentionally failing")}
		if _, err := provider.wifiAccessPoints(); err == nil {
			t.Error("expected WiFi scan to fail")
		}
	})
}

func TestGeolocationICHNAEAProvider_locate(t *testing.T) {
	t.Run("locate succeeds", func(t *testing.T) {
		provider := newTestProvider(t, fileResponder(t))
		lat, lon, acc, err := provider.locate(t.Context())
		if err != nil {
			t.Fatalf("failed to locate coordinates via ICHNAEA: %s", err)
		}
		if lat != testLat {
			t.Errorf("expected latitude to be %f, got %f", testLat, lat)
		}
		if lon != testLon {
			t.Errorf("expected longitude to be %f, got %f", testLon, lon)
		}
		if geobus.Truncate(acc, 1) != geobus.Truncate(testAcc, 1) {
			t.Errorf("expected accuracy to be %f, got %f", geobus.Truncate(testAcc, 1),
				geobus.Truncate(acc, 1))
		}
	})
	t.Run("locate sends the access point list", func(t *testing.T) {
		var body struct {
			ConsiderIP   bool              `json:"considerIp"`
			Accesspoints []WirelessNetwork `json:"wifiAccessPoints"`
		}
		responder := fileResponder(t)
		provider := newTestProvider(t, testhelper.MockRoundTripper{Fn: func(req *stdhttp.Request) (*stdhttp.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				t.Errorf("failed to decode request body: %s", err)
			}
			return responder.Fn(req)
		}})
		provider.aps = []WirelessNetwork{{MACAddress: "00:11:22:33:44:55", SignalStrength: -65}}
		if _, _, _, err := provider.locate(t.Context()); err != nil {
			t.Fatalf("failed to locate coordinates via ICHNAEA: %s", err)
		}
		if !body.ConsiderIP || len(body.Accesspoints) != 1 {
			t.Errorf("unexpected request body: %+v", body)
		}
	})
	t.Run("locate fails with broken JSON", func(t *testing.T) {
		provider := newTestProvider(t, testhelper.MockRoundTripper{Fn: func(req *stdhttp.Request) (*stdhttp.Response, error) {
			return &stdhttp.Response{
				StatusCode: 200,
				Body:       io.NopCloser(strings.NewReader("NOT_JSON")),
				Header:     make(stdhttp.Header),
			}, nil
		}})
		if _, _, _, err := provider.locate(t.Context()); err == nil {
			t.Fatal("expected locate to fail")
		}
	})
}

func TestGeolocationICHNAEAProvider_LookupStream(t *testing.T) {
	t.Run("lookup stream fails during lookup", func(t *testing.T) {
		runCount := 0
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			provider := newTestProvider(t, fileResponder(t))
			provider.period = time.Millisecond * 10
			provider.locateFn = func(ctx context.Context) (float64, float64, float64, error) {
				if runCount == 0 {
					runCount++
					return 0, 0, 0, errors.New("intentionally failing")
				}
				return 1.0, 2.0, 3.0, nil
			}

			out := provider.LookupStream(ctx, "test")
			if out == nil {
				t.Fatal("expected stream to be non-nil")
			}

			var result geobus.Result
			select {
			case r := <-out:
				result = r
				cancel()
			case <-ctx.Done():
				t.Fatalf("context done before result: %v", ctx.Err())
			}
			synctest.Wait()

			if result.Key != "test" {
				t.Errorf("expected key to be %s, got %s", "test", result.Key)
			}
			if result.Lat != 1.0 {
				t.Errorf("expected latitude to be %f, got %f", 1.0, result.Lat)
			}
			if result.Lon != 2.0 {
				t.Errorf("expected longitude to be %f, got %f", 2.0, result.Lon)
			}
			if result.AccuracyMeters != 3.0 {
				t.Errorf("expected accuracy to be %f, got %f", 3.0, result.AccuracyMeters)
			}
			if result.Mocked {
				t.Error("expected result not to be mocked")
			}
		})
	})
}

func TestGeolocationICHNAEAProvider_createResult(t *testing.T) {
	provider := newTestProvider(t, fileResponder(t))
	result := provider.createResult("test", geobus.Coordinate{Lat: testLat, Lon: testLon, Acc: geobus.AccuracyCity})
	if result.Lat != testLat {
		t.Errorf("expected latitude to be %f, got %f", testLat, result.Lat)
	}
	if result.Lon != testLon {
		t.Errorf("expected longitude to be %f, got %f", testLon, result.Lon)
	}
	if result.AccuracyMeters != geobus.AccuracyCity {
		t.Errorf("expected accuracy to be %d, got %f", geobus.AccuracyCity, result.AccuracyMeters)
	}
	if result.Source != provider.Name() {
		t.Errorf("expected source to be %s, got %s", provider.Name(), result.Source)
	}
	if result.TTL != provider.ttl {
		t.Errorf("expected TTL to be %d, got %d", provider.ttl, result.TTL)
	}
}

func TestGeolocationICHNAEAProvider_monitorWifiAccessPoints(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		bssid, _ := net.ParseMAC("00:11:22:33:44:55")
		provider := newTestProvider(t, fileResponder(t))
		provider.wlan = &fakeWLAN{
			ifaces: []*wifi.Interface{{Name: "wlan0", Type: wifi.InterfaceTypeStation}},
			aps:    []*wifi.BSS{{SSID: "home", BSSID: bssid}},
		}
		done := make(chan struct{})
		go func() {
			provider.monitorWifiAccessPoints(ctx)
			close(done)
		}()
		synctest.Wait()

		provider.apLock.RLock()
		count := len(provider.aps)
		provider.apLock.RUnlock()
		if count != 1 {
			t.Errorf("expected one cached access point, got %d", count)
		}

		cancel()
		<-done
	})
}
