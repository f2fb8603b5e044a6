// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package settings

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geowatch/internal/events"
)

// Dispatcher is a ResultSource that fans answers out to attached listeners. When post is set,
// every delivery is handed to it so listeners run on the caller's event loop.
type Dispatcher struct {
	post func(func()) bool

	mu        sync.Mutex
	listeners map[ResultListener]struct{}
}

// NewDispatcher returns a Dispatcher. post may be nil, in which case listeners are invoked
// directly by Deliver.
func NewDispatcher(post func(func()) bool) *Dispatcher {
	return &Dispatcher{
		post:      post,
		listeners: make(map[ResultListener]struct{}),
	}
}

// Attach implements ResultSource.
func (d *Dispatcher) Attach(l ResultListener) {
	d.mu.Lock()
	d.listeners[l] = struct{}{}
	d.mu.Unlock()
}

// Detach implements ResultSource.
func (d *Dispatcher) Detach(l ResultListener) {
	d.mu.Lock()
	delete(d.listeners, l)
	d.mu.Unlock()
}

// Deliver passes an answer to every attached listener. It reports whether any listener was
// attached.
func (d *Dispatcher) Deliver(token string, code ResultCode) bool {
	d.mu.Lock()
	listeners := make([]ResultListener, 0, len(d.listeners))
	for l := range d.listeners {
		listeners = append(listeners, l)
	}
	d.mu.Unlock()

	for _, l := range listeners {
		if d.post == nil {
			l.SettingsResult(token, code)
			continue
		}
		d.post(func() { l.SettingsResult(token, code) })
	}
	return len(listeners) > 0
}

// AutoPrompter answers every prompt with a fixed code after a delay. It serves hosts without
// an interactive user.
type AutoPrompter struct {
	dispatcher *Dispatcher
	code       ResultCode
	delay      time.Duration
	clock      clockwork.Clock
}

// NewAutoPrompter returns an AutoPrompter delivering code through dispatcher.
func NewAutoPrompter(dispatcher *Dispatcher, code ResultCode, delay time.Duration, clock clockwork.Clock) *AutoPrompter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &AutoPrompter{
		dispatcher: dispatcher,
		code:       code,
		delay:      delay,
		clock:      clock,
	}
}

// Prompt implements Prompter.
func (p *AutoPrompter) Prompt(token string, _ Spec) error {
	p.clock.AfterFunc(p.delay, func() {
		p.dispatcher.Deliver(token, p.code)
	})
	return nil
}

// PromptEvent is the payload of the settingsRequired event.
type PromptEvent struct {
	Token string `json:"token"`
	Spec  Spec   `json:"spec"`
}

// EmitterPrompter forwards prompts to connected clients as events. Clients answer with the
// token through the Dispatcher.
type EmitterPrompter struct {
	Emitter events.Emitter
}

// Prompt implements Prompter.
func (p EmitterPrompter) Prompt(token string, spec Spec) error {
	if p.Emitter == nil {
		return ErrNoEmitter
	}
	p.Emitter.Emit(events.SettingsRequired, PromptEvent{Token: token, Spec: spec})
	return nil
}
