// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package permission

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/wneessen/geowatch/internal/locerr"
)

type recordingSubstrate struct {
	*StaticSubstrate
	calls [][]Kind
	fail  error
}

func newRecordingSubstrate(responses Responses, declared bool) *recordingSubstrate {
	return &recordingSubstrate{StaticSubstrate: NewStaticSubstrate(responses, declared)}
}

func (r *recordingSubstrate) Query(ctx context.Context, kinds ...Kind) (Responses, error) {
	r.calls = append(r.calls, kinds)
	if r.fail != nil {
		return nil, r.fail
	}
	return r.StaticSubstrate.Query(ctx, kinds...)
}

func (r *recordingSubstrate) Request(ctx context.Context, kinds ...Kind) (Responses, error) {
	r.calls = append(r.calls, kinds)
	if r.fail != nil {
		return nil, r.fail
	}
	return r.StaticSubstrate.Request(ctx, kinds...)
}

func TestGateway_Foreground(t *testing.T) {
	t.Run("query asks for fine and coarse", func(t *testing.T) {
		sub := newRecordingSubstrate(Responses{
			Fine:   {Status: StatusDenied, CanAskAgain: true},
			Coarse: {Status: StatusGranted, CanAskAgain: true},
		}, true)
		gw := NewGateway(sub, 33, nil)

		result, err := gw.QueryForeground(t.Context())
		if err != nil {
			t.Fatalf("failed to query foreground permission: %s", err)
		}
		if result.Accuracy != AccuracyCoarse {
			t.Errorf("expected accuracy %s, got %s", AccuracyCoarse, result.Accuracy)
		}
		if len(sub.calls) != 1 || !slices.Equal(sub.calls[0], []Kind{Fine, Coarse}) {
			t.Errorf("expected one call for fine and coarse, got %v", sub.calls)
		}
	})
	t.Run("substrate errors are passed through", func(t *testing.T) {
		sub := newRecordingSubstrate(nil, true)
		sub.fail = errors.New("intentionally failing")
		gw := NewGateway(sub, 33, nil)

		_, err := gw.RequestForeground(t.Context())
		if !errors.Is(err, sub.fail) {
			t.Errorf("expected original error to be kept, got %v", err)
		}
		if !errors.Is(err, locerr.ErrSubstrate) {
			t.Errorf("expected substrate error code, got %v", err)
		}
	})
	t.Run("nil substrate is reported as unavailable", func(t *testing.T) {
		gw := NewGateway(nil, 33, nil)
		_, err := gw.QueryForeground(t.Context())
		if !errors.Is(err, locerr.ErrModuleUnavailable) {
			t.Errorf("expected module unavailable error, got %v", err)
		}
		if gw.HasForeground() || gw.HasBackground() {
			t.Error("expected no permission without a substrate")
		}
	})
}

func TestGateway_Background(t *testing.T) {
	granted := Responses{
		Fine:       {Status: StatusGranted, CanAskAgain: true},
		Coarse:     {Status: StatusGranted, CanAskAgain: true},
		Background: {Status: StatusDenied, CanAskAgain: false},
	}

	t.Run("undeclared background capability fails", func(t *testing.T) {
		sub := newRecordingSubstrate(granted, false)
		gw := NewGateway(sub, 33, nil)

		_, err := gw.RequestBackground(t.Context())
		if !errors.Is(err, locerr.ErrManifestMissing) {
			t.Errorf("expected manifest missing error, got %v", err)
		}
		if len(sub.calls) != 0 {
			t.Errorf("expected no substrate calls, got %v", sub.calls)
		}
	})
	t.Run("background is queried on its own", func(t *testing.T) {
		sub := newRecordingSubstrate(granted, true)
		gw := NewGateway(sub, 33, nil)

		result, err := gw.QueryBackground(t.Context())
		if err != nil {
			t.Fatalf("failed to query background permission: %s", err)
		}
		if result.Status != StatusDenied || result.CanAskAgain {
			t.Errorf("expected denied non-askable result, got %+v", result)
		}
		if len(sub.calls) != 1 || !slices.Equal(sub.calls[0], []Kind{Background}) {
			t.Errorf("expected one call for background, got %v", sub.calls)
		}
	})
	t.Run("old platform levels degrade to foreground", func(t *testing.T) {
		sub := newRecordingSubstrate(granted, false)
		gw := NewGateway(sub, 28, nil)

		result, err := gw.QueryBackground(t.Context())
		if err != nil {
			t.Fatalf("failed to query background permission: %s", err)
		}
		if result.Status != StatusGranted || result.Accuracy != AccuracyFine {
			t.Errorf("expected foreground result, got %+v", result)
		}
		if !gw.HasBackground() {
			t.Error("expected foreground permission to imply background on old levels")
		}
	})
}

func TestGateway_Legacy(t *testing.T) {
	t.Run("combined level issues a single round-trip", func(t *testing.T) {
		sub := newRecordingSubstrate(Responses{
			Fine:       {Status: StatusGranted, CanAskAgain: true},
			Background: {Status: StatusGranted, CanAskAgain: true},
		}, true)
		gw := NewGateway(sub, LevelCombined, nil)

		result, err := gw.RequestLocation(t.Context())
		if err != nil {
			t.Fatalf("failed to request location permissions: %s", err)
		}
		if len(sub.calls) != 1 || !slices.Equal(sub.calls[0], []Kind{Fine, Coarse, Background}) {
			t.Errorf("expected one combined call, got %v", sub.calls)
		}
		if result.Foreground.Accuracy != AccuracyFine {
			t.Errorf("expected fine foreground accuracy, got %s", result.Foreground.Accuracy)
		}
		if !result.Background.Granted {
			t.Error("expected background to be granted")
		}
	})
	t.Run("denied foreground denies background regardless of background tier", func(t *testing.T) {
		sub := newRecordingSubstrate(Responses{
			Fine:       {Status: StatusDenied, CanAskAgain: true},
			Coarse:     {Status: StatusDenied, CanAskAgain: true},
			Background: {Status: StatusGranted, CanAskAgain: true},
		}, true)
		gw := NewGateway(sub, LevelCombined, nil)

		result, err := gw.QueryLocation(t.Context())
		if err != nil {
			t.Fatalf("failed to query location permissions: %s", err)
		}
		if result.Foreground.Status != StatusDenied || result.Background.Status != StatusDenied {
			t.Errorf("expected both results to be denied, got %+v", result)
		}
	})
	t.Run("other levels query independently", func(t *testing.T) {
		sub := newRecordingSubstrate(Responses{
			Coarse:     {Status: StatusGranted, CanAskAgain: true},
			Background: {Status: StatusUndetermined, CanAskAgain: true},
		}, true)
		gw := NewGateway(sub, 33, nil)

		result, err := gw.QueryLocation(t.Context())
		if err != nil {
			t.Fatalf("failed to query location permissions: %s", err)
		}
		if len(sub.calls) != 2 {
			t.Errorf("expected two independent calls, got %v", sub.calls)
		}
		if result.Background.Status != StatusUndetermined {
			t.Errorf("expected undetermined background, got %s", result.Background.Status)
		}
	})
}
