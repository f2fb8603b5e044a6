// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package loop provides the single execution context on which all watch, heading and settings
// state is mutated. Callbacks arriving from provider or sensor goroutines are posted onto the
// loop instead of touching shared state directly.
package loop

import (
	"context"
	"errors"
)

const defaultQueueSize = 256

// ErrStopped is returned when work is submitted to a loop that is not running anymore.
var ErrStopped = errors.New("event loop is stopped")

// Loop executes posted functions one at a time, in the order they were posted.
type Loop struct {
	queue chan func()
	done  chan struct{}
}

// New returns a Loop with a buffered queue of the given size. A size <= 0 selects the default.
func New(size int) *Loop {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Loop{
		queue: make(chan func(), size),
		done:  make(chan struct{}),
	}
}

// Run executes queued functions until the context is cancelled. Functions still queued at
// that point are dropped.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.queue:
			fn()
		}
	}
}

// Post schedules fn on the loop without waiting for it. It returns false if the loop has
// stopped or fn is nil.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call runs fn on the loop and waits for its result. It must not be called from the loop
// itself.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !l.Post(func() { result <- fn() }) {
		return ErrStopped
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
}

// Done returns a channel that is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
