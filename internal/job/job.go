// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package job

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Job represents a scheduled task that runs at a fixed interval
// and never overlaps with itself (singleton mode).
type Job struct {
	interval  time.Duration
	task      func(context.Context)
	clock     clockwork.Clock
	immediate bool
}

// Option configures a Job.
type Option func(*Job)

// WithClock sets the clock driving the job ticker.
func WithClock(clock clockwork.Clock) Option {
	return func(j *Job) {
		if clock != nil {
			j.clock = clock
		}
	}
}

// Immediately makes the job run once right after Start, before the first tick.
func Immediately() Option {
	return func(j *Job) {
		j.immediate = true
	}
}

// New creates a new Job with the given interval and task.
func New(interval time.Duration, task func(context.Context), opts ...Option) *Job {
	j := &Job{
		interval: interval,
		task:     task,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start begins executing the job on the given context. It returns when the context is cancelled
// and a run in progress has finished. It executes jobs in singleton mode, meaning if a tick
// fires while a previous run is still executing, that tick is skipped.
func (j *Job) Start(ctx context.Context) {
	if j.task == nil || j.interval <= 0 {
		return
	}

	ticker := j.clock.NewTicker(j.interval)
	defer ticker.Stop()

	// sem is a 1-slot semaphore that guards "is a run in progress?"
	sem := make(chan struct{}, 1)
	run := func() {
		select {
		case sem <- struct{}{}:
			go func() {
				defer func() { <-sem }()
				runCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				j.task(runCtx)
			}()
		default:
		}
	}

	if j.immediate {
		run()
	}
	for {
		select {
		case <-ctx.Done():
			sem <- struct{}{}
			return
		case <-ticker.Chan():
			run()
		}
	}
}
