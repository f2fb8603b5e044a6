// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"math"
	"testing"
	"time"

	"github.com/wneessen/geowatch/internal/watch"
)

func TestGeolocationState_HasChanged(t *testing.T) {
	t.Run("empty state always returns true", func(t *testing.T) {
		state := GeolocationState{}
		if !state.HasChanged(Coordinate{Lat: 1, Lon: 1, Acc: AccuracyZip}) {
			t.Error("expected state to have changed")
		}
	})
	t.Run("same coordinate return false", func(t *testing.T) {
		state := GeolocationState{}
		state.Update(Coordinate{Lat: 1, Lon: 1, Acc: AccuracyZip})
		if state.HasChanged(Coordinate{Lat: 1, Lon: 1, Acc: AccuracyZip}) {
			t.Error("expected state to not have changed")
		}
	})
	t.Run("different coordinate return true", func(t *testing.T) {
		tests := []struct {
			name    string
			lat     float64
			lon     float64
			acc     float64
			changed bool
		}{
			{"lat changes", 2, 1, AccuracyZip, true},
			{"lon changes", 1, 2, AccuracyZip, true},
			// an accuracy change is not considered a significant positional change
			{"acc changes", 1, 1, AccuracyCity, false},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				state := GeolocationState{}
				state.Update(Coordinate{Lat: 1, Lon: 1, Acc: AccuracyZip})
				if state.HasChanged(Coordinate{Lat: tc.lat, Lon: tc.lon, Acc: tc.acc}) != tc.changed {
					t.Error("expected state change to be", tc.changed, "but it wasn't")
				}
			})
		}
	})
}

func TestGeoBus_Publish(t *testing.T) {
	t.Run("every result reaches the subscribers of its key", func(t *testing.T) {
		bus := New(nil)
		results, unsub := bus.Subscribe("gps", 4)
		defer unsub()
		other, unsubOther := bus.Subscribe("network", 4)
		defer unsubOther()

		bus.Publish(Result{Key: "gps", Lat: 1, Lon: 1, AccuracyMeters: 10, Source: "gpsd"})
		bus.Publish(Result{Key: "gps", Lat: 1.0001, Lon: 1, AccuracyMeters: 10, Source: "gpsd"})
		if got := len(results); got != 2 {
			t.Errorf("expected 2 results, got %d", got)
		}
		if got := len(other); got != 0 {
			t.Errorf("expected no results for other key, got %d", got)
		}
	})
	t.Run("results without accuracy are dropped", func(t *testing.T) {
		bus := New(nil)
		results, unsub := bus.Subscribe("gps", 1)
		defer unsub()
		bus.Publish(Result{Key: "gps", Lat: 1, Lon: 1})
		if len(results) != 0 {
			t.Error("expected result without accuracy to be dropped")
		}
		if _, ok := bus.Best("gps"); ok {
			t.Error("expected no best result")
		}
	})
	t.Run("best result is replayed to late subscribers", func(t *testing.T) {
		bus := New(nil)
		bus.Publish(Result{Key: "gps", Lat: 1, Lon: 1, AccuracyMeters: 10, Source: "gpsd"})
		bus.Publish(Result{Key: "gps", Lat: 2, Lon: 2, AccuracyMeters: 500, Source: "other"})
		results, unsub := bus.Subscribe("gps", 1)
		defer unsub()
		r := <-results
		if r.Lat != 1 {
			t.Errorf("expected the more accurate result to be replayed, got %+v", r)
		}
	})
	t.Run("unsubscribe closes the channel once", func(t *testing.T) {
		bus := New(nil)
		results, unsub := bus.Subscribe("gps", 1)
		unsub()
		unsub()
		if _, ok := <-results; ok {
			t.Error("expected channel to be closed")
		}
	})
}

func TestResult_Sample(t *testing.T) {
	at := time.Now()
	r := Result{Key: "gps", Lat: 1, Lon: 2, Alt: 3, AccuracyMeters: 4, Bearing: 5, Speed: 6, Mocked: true, At: at}
	s := r.Sample()
	if s.Provider != watch.ProviderGPS || s.Latitude != 1 || s.Longitude != 2 || s.Altitude != 3 ||
		s.Accuracy != 4 || s.Bearing != 5 || s.Speed != 6 || !s.Mocked || !s.Timestamp.Equal(at) {
		t.Errorf("unexpected sample: %+v", s)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate(52.123456, 4); got != 52.1234 {
		t.Errorf("expected 52.1234, got %f", got)
	}
}

func TestCoordinate_DistanceTo(t *testing.T) {
	a := Coordinate{Lat: 0, Lon: 0}
	b := Coordinate{Lat: 0, Lon: 1}
	if got := a.DistanceTo(b); math.Abs(got-111195) > 10 {
		t.Errorf("expected about 111195m, got %f", got)
	}
	if got := a.DistanceTo(a); got != 0 {
		t.Errorf("expected zero distance, got %f", got)
	}
}
