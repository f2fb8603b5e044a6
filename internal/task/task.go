// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package task registers background location tasks with a task substrate that runs them on
// its own schedule.
package task

import (
	"context"
	"time"
)

// ConsumerKind is the role a registered task plays.
type ConsumerKind string

const (
	KindLocationTracking ConsumerKind = "locationTracking"
	KindGeofencing       ConsumerKind = "geofencing"
)

// ForegroundService describes the user-visible service a tracking task may run in. A task in
// foreground service mode does not need background permission.
type ForegroundService struct {
	NotificationTitle    string `json:"notificationTitle"`
	NotificationBody     string `json:"notificationBody"`
	NotificationColor    string `json:"notificationColor,omitempty"`
	KillServiceOnDestroy bool   `json:"killServiceOnDestroy"`
}

// TrackingOptions are the options of a location tracking task.
type TrackingOptions struct {
	Accuracy                int
	TimeInterval            time.Duration
	DistanceInterval        float64
	DeferredUpdatesInterval time.Duration
	DeferredUpdatesDistance float64
	ForegroundService       *ForegroundService
}

// Region is a circular geofencing region.
type Region struct {
	Identifier    string  `json:"identifier"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Radius        float64 `json:"radius"`
	NotifyOnEnter bool    `json:"notifyOnEnter"`
	NotifyOnExit  bool    `json:"notifyOnExit"`
}

// GeofencingOptions are the options of a geofencing task.
type GeofencingOptions struct {
	Regions []Region
}

// Task is a registered task as seen by its consumer.
type Task struct {
	Name    string
	Kind    ConsumerKind
	Options any
}

// Substrate schedules registered tasks. Registering an existing name of the same kind
// replaces its options.
type Substrate interface {
	Register(ctx context.Context, name string, kind ConsumerKind, options any) error
	Unregister(ctx context.Context, name string, kind ConsumerKind) error
	HasConsumerOfKind(ctx context.Context, name string, kind ConsumerKind) (bool, error)
}

// Consumer executes a registered task. The substrate calls OnRegistered once the task is
// registered and OnUnregistered when it is removed. Execute is invoked every Interval; a
// consumer with a zero Interval is never executed by the substrate.
type Consumer interface {
	TaskType() string
	Interval() time.Duration
	OnRegistered(t Task)
	OnUnregistered()
	Execute(ctx context.Context)
}

// PermissionChecker answers whether background location permission is granted.
type PermissionChecker interface {
	HasBackground() bool
}
