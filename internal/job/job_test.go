// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package job

import (
	"context"
	"testing"
	"testing/synctest"
	"time"

	"github.com/jonboulle/clockwork"
)

type testType struct {
	count     int
	completed bool
}

func TestNew(t *testing.T) {
	job := New(time.Millisecond*100, func(context.Context) {})
	if job == nil {
		t.Fatal("expected job to be non-nil")
	}
}

func TestJob_Start(t *testing.T) {
	t.Run("job succeeds", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			tester := &testType{}

			ctx, cancel := context.WithCancel(t.Context())
			context.AfterFunc(ctx, func() {
				tester.completed = true
			})

			testJob := New(time.Millisecond*100, tester.testFunc)
			go testJob.Start(ctx)

			synctest.Wait()
			if tester.completed {
				t.Fatal("expected job to not be completed before context was cancelled")
			}

			cancel()
			synctest.Wait()
			if !tester.completed {
				t.Fatal("expected job to be completed after context was cancelled")
			}
		})
	})
	t.Run("job ticker executes", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(t.Context(), time.Millisecond*100)
			tester := &testType{}

			testJob := New(time.Millisecond*10, tester.testFunc)
			testJob.Start(ctx)

			synctest.Wait()
			cancel()
			if tester.count != 5 {
				t.Errorf("expected job to execute 5 times, got %d", tester.count)
			}
		})
		t.Run("nil job returns", func(t *testing.T) {
			tester := New(time.Millisecond*100, nil)
			tester.Start(t.Context())
		})
	})
}

func (t *testType) testFunc(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	default:
		if t.count >= 5 {
			return
		}
		t.count++
	}
}

func TestJob_Options(t *testing.T) {
	t.Run("immediate job runs before the first tick", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			tester := &testType{}

			go New(time.Hour, tester.testFunc, Immediately()).Start(ctx)
			synctest.Wait()
			if tester.count != 1 {
				t.Errorf("expected one immediate run, got %d", tester.count)
			}
			cancel()
			synctest.Wait()
		})
	})
	t.Run("job follows the injected clock", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			clock := clockwork.NewFakeClock()
			tester := &testType{}

			go New(time.Second, tester.testFunc, WithClock(clock)).Start(ctx)
			if err := clock.BlockUntilContext(ctx, 1); err != nil {
				t.Fatalf("failed to wait for ticker: %s", err)
			}
			clock.Advance(time.Second)
			synctest.Wait()
			if tester.count != 1 {
				t.Errorf("expected one run after advancing the clock, got %d", tester.count)
			}
			cancel()
			synctest.Wait()
		})
	})
}
