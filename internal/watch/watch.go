// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package watch keeps track of position and heading subscriptions and shares the underlying
// provider registrations between them.
package watch

import (
	"fmt"
	"time"

	"github.com/wneessen/geowatch/internal/settings"
	"github.com/wneessen/geowatch/internal/vartype"
)

// ProviderKind identifies a physical location provider.
type ProviderKind string

const (
	ProviderGPS     ProviderKind = "gps"
	ProviderNetwork ProviderKind = "network"
)

// Kind is the kind of a subscription.
type Kind int

const (
	KindPosition Kind = iota
	KindHeading
)

func (k Kind) String() string {
	if k == KindHeading {
		return "heading"
	}
	return "position"
}

// Accuracy is the accuracy level a client asks for.
type Accuracy int

const (
	AccuracyLowest Accuracy = iota + 1
	AccuracyLow
	AccuracyBalanced
	AccuracyHigh
	AccuracyHighest
	AccuracyBestForNavigation
)

// String returns the lower camel case name of the accuracy level.
func (a Accuracy) String() string {
	switch a {
	case AccuracyLowest:
		return "lowest"
	case AccuracyLow:
		return "low"
	case AccuracyBalanced:
		return "balanced"
	case AccuracyHigh:
		return "high"
	case AccuracyHighest:
		return "highest"
	case AccuracyBestForNavigation:
		return "bestForNavigation"
	default:
		return fmt.Sprintf("accuracy(%d)", int(a))
	}
}

// Options are the client options of a position request.
type Options struct {
	Accuracy                  Accuracy
	TimeInterval              time.Duration
	DistanceInterval          float64
	MaxAge                    vartype.VarDuration
	RequiredAccuracy          vartype.VarFloat64
	MayShowUserSettingsDialog bool
}

// normalized returns the options with defaults applied.
func (o Options) normalized() Options {
	if o.Accuracy < AccuracyLowest || o.Accuracy > AccuracyBestForNavigation {
		o.Accuracy = AccuracyBalanced
	}
	if o.TimeInterval < 0 {
		o.TimeInterval = 0
	}
	if o.DistanceInterval < 0 {
		o.DistanceInterval = 0
	}
	return o
}

// highAccuracy reports whether the request needs the satellite provider.
func (o Options) highAccuracy() bool {
	return o.Accuracy >= AccuracyHigh
}

// providers returns the provider kinds serving the options. The lowest accuracy level is served
// by the network provider only.
func (o Options) providers() []ProviderKind {
	if o.Accuracy == AccuracyLowest {
		return []ProviderKind{ProviderNetwork}
	}
	return []ProviderKind{ProviderGPS, ProviderNetwork}
}

func (o Options) settingsSpec(id int) settings.Spec {
	return settings.Spec{
		WatchID:    id,
		Accuracy:   o.Accuracy.String(),
		IntervalMs: o.TimeInterval.Milliseconds(),
		NeedsGPS:   o.highAccuracy(),
	}
}

// Subscription is an active watch.
type Subscription struct {
	ID        int
	Kind      Kind
	Options   Options
	CreatedAt time.Time

	providers []ProviderKind
	parked    bool
}

// uses reports whether the subscription is served by the provider kind.
func (s *Subscription) uses(kind ProviderKind) bool {
	if s.parked {
		return false
	}
	for _, k := range s.providers {
		if k == kind {
			return true
		}
	}
	return false
}

// Sample is a single position fix delivered by a provider.
type Sample struct {
	Latitude         float64
	Longitude        float64
	Altitude         float64
	Accuracy         float64
	Bearing          float64
	Speed            float64
	VerticalAccuracy vartype.VarFloat64
	Mocked           bool
	Timestamp        time.Time
	Provider         ProviderKind
}

// Coords is the coordinate part of a location payload.
type Coords struct {
	Latitude         float64            `json:"latitude"`
	Longitude        float64            `json:"longitude"`
	Altitude         float64            `json:"altitude"`
	Accuracy         float64            `json:"accuracy"`
	Heading          float64            `json:"heading"`
	Speed            float64            `json:"speed"`
	AltitudeAccuracy vartype.VarFloat64 `json:"altitudeAccuracy"`
}

// Location is the client representation of a Sample.
type Location struct {
	Coords    Coords `json:"coords"`
	Mocked    bool   `json:"mocked"`
	Timestamp int64  `json:"timestamp"`
}

// Location converts the sample into its client representation.
func (s Sample) Location() Location {
	return Location{
		Coords: Coords{
			Latitude:         s.Latitude,
			Longitude:        s.Longitude,
			Altitude:         s.Altitude,
			Accuracy:         s.Accuracy,
			Heading:          s.Bearing,
			Speed:            s.Speed,
			AltitudeAccuracy: s.VerticalAccuracy,
		},
		Mocked:    s.Mocked,
		Timestamp: s.Timestamp.UnixMilli(),
	}
}

// LocationEvent is the payload of the locationChanged event.
type LocationEvent struct {
	WatchID int `json:"watchId"`
	Location
}

// ErrorEvent is the payload of the locationError event.
type ErrorEvent struct {
	WatchID int    `json:"watchId"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ProviderStatus describes the availability of the location providers.
type ProviderStatus struct {
	LocationServicesEnabled bool `json:"locationServicesEnabled"`
	GPSAvailable            bool `json:"gpsAvailable"`
	NetworkAvailable        bool `json:"networkAvailable"`
	BackgroundModeEnabled   bool `json:"backgroundModeEnabled"`
}

// IsLocationValid reports whether the sample is recent and accurate enough. Unset bounds do
// not restrict the sample.
func IsLocationValid(s Sample, maxAge vartype.VarDuration, requiredAccuracy vartype.VarFloat64, now time.Time) bool {
	if maxAge.IsSet() && now.Sub(s.Timestamp) > maxAge.Value() {
		return false
	}
	if requiredAccuracy.IsSet() && s.Accuracy > requiredAccuracy.Value() {
		return false
	}
	return true
}

// Listener receives samples from a ProviderSource.
type Listener interface {
	LocationChanged(s Sample)
}

// ProviderSource is the physical location provider backend. Requesting updates for a listener
// that is already registered for the same kind replaces its parameters.
type ProviderSource interface {
	IsProviderEnabled(kind ProviderKind) bool
	RequestUpdates(kind ProviderKind, minInterval time.Duration, minDistance float64, l Listener) error
	RemoveUpdates(l Listener)
}

// PermissionChecker answers whether location permissions are granted.
type PermissionChecker interface {
	HasForeground() bool
}

// HeadingEngine is the heading part of the watch table.
type HeadingEngine interface {
	Start(watchID int)
	Stop()
	WatchID() (int, bool)
	UpdateFix(lat, lon, alt float64, at time.Time)
}

// SettingsRequester asks the user to enable the location settings a watch needs.
type SettingsRequester interface {
	Request(spec settings.Spec, onResult func(settings.ResultCode))
}
