// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package settings coordinates prompts that ask the user to enable high-accuracy location
// settings. Only one prompt is outstanding at any time and every request queued while it is
// open receives the same answer.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/wneessen/geowatch/internal/logger"
)

// ErrNoEmitter is returned by EmitterPrompter when no emitter is configured.
var ErrNoEmitter = errors.New("no event emitter configured for settings prompts")

// ResultCode is the outcome of a settings prompt.
type ResultCode int

const (
	// ResultOK reports that the user enabled the requested settings.
	ResultOK ResultCode = -1
	// ResultCanceled reports that the prompt was dismissed or could not be shown.
	ResultCanceled ResultCode = 0
	// ResultUnchanged reports that the user left the settings as they were.
	ResultUnchanged ResultCode = 1
)

func (c ResultCode) String() string {
	switch c {
	case ResultOK:
		return "ok"
	case ResultCanceled:
		return "canceled"
	case ResultUnchanged:
		return "unchanged"
	default:
		return fmt.Sprintf("result(%d)", int(c))
	}
}

// ParseResultCode parses the textual representation of a ResultCode.
func ParseResultCode(s string) (ResultCode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ok":
		return ResultOK, nil
	case "canceled", "cancelled":
		return ResultCanceled, nil
	case "unchanged":
		return ResultUnchanged, nil
	default:
		return ResultCanceled, fmt.Errorf("unknown settings result %q", s)
	}
}

// Spec describes the location settings a watch needs.
type Spec struct {
	WatchID      int    `json:"watchId"`
	Accuracy     string `json:"accuracy"`
	IntervalMs   int64  `json:"intervalMs"`
	NeedsGPS     bool   `json:"needsGps"`
	AlwaysPrompt bool   `json:"alwaysPrompt"`
}

// Prompter shows the settings prompt. It must return without waiting for the user; the answer
// arrives later through a ResultSource tagged with token.
type Prompter interface {
	Prompt(token string, spec Spec) error
}

// ResultListener receives settings prompt answers.
type ResultListener interface {
	SettingsResult(token string, code ResultCode)
}

// ResultSource delivers prompt answers to attached listeners.
type ResultSource interface {
	Attach(l ResultListener)
	Detach(l ResultListener)
}

type pending struct {
	spec     Spec
	onResult func(ResultCode)
}

// Coordinator queues settings requests and resolves them with a single prompt round-trip.
// It is not safe for concurrent use; all calls must happen on the same goroutine.
type Coordinator struct {
	prompter Prompter
	source   ResultSource
	logger   *logger.Logger
	newToken func() string

	token string
	queue []pending
}

// NewCoordinator returns a Coordinator. A nil prompter answers every request with ResultCanceled.
func NewCoordinator(prompter Prompter, source ResultSource, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.Discard()
	}
	return &Coordinator{
		prompter: prompter,
		source:   source,
		logger:   log.With(logger.Component("settings")),
		newToken: uuid.NewString,
	}
}

// Request enqueues onResult. The first request of an empty queue opens the prompt; later
// requests wait for its answer.
func (c *Coordinator) Request(spec Spec, onResult func(ResultCode)) {
	c.queue = append(c.queue, pending{spec: spec, onResult: onResult})
	if len(c.queue) > 1 {
		c.logger.Debug("settings prompt already open, request queued",
			slog.Int("watch_id", spec.WatchID), slog.Int("queued", len(c.queue)))
		return
	}

	if c.prompter == nil {
		c.logger.Warn("no settings prompter configured, canceling request")
		c.resolve(ResultCanceled)
		return
	}

	c.token = c.newToken()
	if c.source != nil {
		c.source.Attach(c)
	}
	c.logger.Debug("opening settings prompt", slog.String("token", c.token), slog.Int("watch_id", spec.WatchID))
	if err := c.prompter.Prompt(c.token, spec); err != nil {
		c.logger.Error("failed to open settings prompt", logger.Err(err))
		c.resolve(ResultCanceled)
	}
}

// Complete resolves every queued request with code when token matches the open prompt.
// Answers for unknown tokens are ignored and reported as false.
func (c *Coordinator) Complete(token string, code ResultCode) bool {
	if token == "" || token != c.token || len(c.queue) == 0 {
		c.logger.Debug("ignoring settings result for unknown token", slog.String("token", token))
		return false
	}
	c.resolve(code)
	return true
}

// SettingsResult implements ResultListener.
func (c *Coordinator) SettingsResult(token string, code ResultCode) {
	c.Complete(token, code)
}

// Abort resolves all queued requests with ResultCanceled.
func (c *Coordinator) Abort() {
	if len(c.queue) == 0 {
		return
	}
	c.resolve(ResultCanceled)
}

// Pending returns the number of queued requests.
func (c *Coordinator) Pending() int {
	return len(c.queue)
}

// Token returns the correlation token of the open prompt, or an empty string.
func (c *Coordinator) Token() string {
	return c.token
}

func (c *Coordinator) resolve(code ResultCode) {
	queue := c.queue
	c.queue = nil
	c.token = ""
	if c.source != nil {
		c.source.Detach(c)
	}

	c.logger.Debug("settings prompt resolved", slog.String("result", code.String()), slog.Int("requests", len(queue)))
	for _, p := range queue {
		if p.onResult != nil {
			p.onResult(code)
		}
	}
}
