// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package lifecycle translates host events into pause, resume and destroy calls. System sleep
// is observed through the logind PrepareForSleep signal on the system bus; SIGUSR1 and SIGUSR2
// pause and resume the daemon by hand.
package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/wneessen/geowatch/internal/logger"
)

const (
	dbusInterface   = "org.freedesktop.login1.Manager"
	dbusWatchMember = "PrepareForSleep"

	debounceWindow   = 2 * time.Second
	signalBufferSize = 8

	busReconnectDelay   = 5 * time.Second
	reconnectDelay      = 2 * time.Second
	subscribeRetryDelay = 10 * time.Second
)

// Host receives the lifecycle transitions.
type Host interface {
	Pause()
	Resume()
	Destroy()
}

// busConn is the part of a system bus connection the monitor uses.
type busConn interface {
	AddMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Close() error
}

type signalSource interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

type stdLibSignalSource struct{}

func (stdLibSignalSource) Notify(c chan<- os.Signal, sig ...os.Signal) {
	signal.Notify(c, sig...)
}

func (stdLibSignalSource) Stop(c chan<- os.Signal) {
	signal.Stop(c)
}

// Monitor drives a Host from system sleep events and process signals.
type Monitor struct {
	host    Host
	logger  *logger.Logger
	clock   clockwork.Clock
	connect func() (busConn, error)
	signals signalSource

	lastResume atomic.Int64
}

// New returns a Monitor for the host.
func New(host Host, clock clockwork.Clock, log *logger.Logger) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Monitor{
		host:   host,
		logger: log.With(logger.Component("lifecycle")),
		clock:  clock,
		connect: func() (busConn, error) {
			return dbus.ConnectSystemBus()
		},
		signals: stdLibSignalSource{},
	}
}

// Run watches sleep events and signals until the context is cancelled, then destroys the host.
func (m *Monitor) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		m.monitorSleepResume(gctx)
		return nil
	})
	group.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		m.signals.Notify(sigChan, syscall.SIGUSR1, syscall.SIGUSR2)
		defer m.signals.Stop(sigChan)
		m.handleSignals(gctx, sigChan)
		return nil
	})
	err := group.Wait()

	m.logger.Debug("host is shutting down")
	m.host.Destroy()
	return err
}

// handleSignals pauses on SIGUSR1 and resumes on SIGUSR2.
func (m *Monitor) handleSignals(ctx context.Context, sigChan <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGUSR1:
				m.logger.Info("pause requested by signal")
				m.host.Pause()
			case syscall.SIGUSR2:
				m.logger.Info("resume requested by signal")
				m.host.Resume()
			}
		}
	}
}

// monitorSleepResume monitors system sleep and resume events using D-Bus signals and handles
// reconnections as needed.
func (m *Monitor) monitorSleepResume(ctx context.Context) {
	for {
		conn := m.connectToSystemBus(ctx)
		if conn == nil {
			return
		}

		if !m.setupSleepMonitoring(ctx, conn) {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		sigCh := make(chan *dbus.Signal, signalBufferSize)
		conn.Signal(sigCh)
		m.logger.Debug("subscribed to dbus signal", slog.String("interface", dbusInterface),
			slog.String("member", dbusWatchMember))

		m.handleSleepSignals(ctx, sigCh)

		conn.RemoveSignal(sigCh)
		if err := conn.Close(); err != nil {
			m.logger.Debug("failed to close system bus connection", logger.Err(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(reconnectDelay):
		}
	}
}

// connectToSystemBus connects to the system bus, retrying until the context is cancelled.
func (m *Monitor) connectToSystemBus(ctx context.Context) busConn {
	for {
		conn, err := m.connect()
		if err == nil {
			return conn
		}
		m.logger.Debug("failed to connect to system bus", logger.Err(err))
		select {
		case <-m.clock.After(busReconnectDelay):
		case <-ctx.Done():
			return nil
		}
	}
}

// setupSleepMonitoring subscribes to the logind sleep signal. On failure the connection is
// closed and false is returned after the retry delay.
func (m *Monitor) setupSleepMonitoring(ctx context.Context, conn busConn) bool {
	err := conn.AddMatchSignal(dbus.WithMatchInterface(dbusInterface), dbus.WithMatchMember(dbusWatchMember))
	if err == nil {
		return true
	}
	m.logger.Error("failed to subscribe to dbus signal", slog.String("interface", dbusInterface),
		slog.String("member", dbusWatchMember), logger.Err(err))
	if err = conn.Close(); err != nil {
		m.logger.Debug("failed to close system bus connection", logger.Err(err))
	}
	select {
	case <-m.clock.After(subscribeRetryDelay):
	case <-ctx.Done():
	}
	return false
}

// handleSleepSignals processes sleep signals until the context is cancelled or the signal
// channel is closed.
func (m *Monitor) handleSleepSignals(ctx context.Context, sigCh <-chan *dbus.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sgn, ok := <-sigCh:
			if !ok {
				return
			}
			m.processSleepSignal(sgn)
		}
	}
}

// processSleepSignal pauses the host before sleep and resumes it after wake-up. Resume events
// within the debounce window are dropped.
func (m *Monitor) processSleepSignal(sgn *dbus.Signal) {
	if sgn == nil || len(sgn.Body) != 1 {
		return
	}
	sleeping, ok := sgn.Body[0].(bool)
	if !ok {
		return
	}
	if sleeping {
		m.logger.Debug("system is going to sleep, pausing")
		m.host.Pause()
		return
	}

	now := m.clock.Now().UnixNano()
	if last := m.lastResume.Load(); last != 0 && time.Duration(now-last) < debounceWindow {
		return
	}
	m.lastResume.Store(now)
	m.logger.Debug("system resumed from sleep, resuming")
	m.host.Resume()
}
