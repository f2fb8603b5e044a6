// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package service wires the location components together and serves them to WebSocket clients.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	stdhttp "net/http"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/vorlif/spreak"
	"golang.org/x/sync/errgroup"

	"github.com/wneessen/geowatch/internal/config"
	"github.com/wneessen/geowatch/internal/events"
	"github.com/wneessen/geowatch/internal/geobus"
	"github.com/wneessen/geowatch/internal/gpspoll"
	"github.com/wneessen/geowatch/internal/heading"
	"github.com/wneessen/geowatch/internal/lifecycle"
	"github.com/wneessen/geowatch/internal/locerr"
	"github.com/wneessen/geowatch/internal/logger"
	"github.com/wneessen/geowatch/internal/loop"
	"github.com/wneessen/geowatch/internal/permission"
	"github.com/wneessen/geowatch/internal/sensor"
	"github.com/wneessen/geowatch/internal/settings"
	"github.com/wneessen/geowatch/internal/task"
	"github.com/wneessen/geowatch/internal/watch"
)

const (
	// WebsocketPath is the HTTP path clients connect to.
	WebsocketPath = "/ws"

	loopQueueSize     = 256
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// runner is a component that runs until its context is cancelled.
type runner interface {
	Run(ctx context.Context) error
}

// closableSensors is a motion sensor backend that holds resources until closed.
type closableSensors interface {
	heading.Sensors
	Close()
}

// closableSource is a position provider source that holds resources until closed.
type closableSource interface {
	watch.ProviderSource
	Close()
}

// Service owns the event loop and every location component. Registry, heading engine and
// settings coordinator are only touched on the loop.
type Service struct {
	config    *config.Config
	logger    *logger.Logger
	localizer *spreak.Localizer
	clock     clockwork.Clock

	loop       *loop.Loop
	hub        *events.Hub
	emitter    events.Emitter
	bus        *geobus.GeoBus
	poller     *gpspoll.Client
	substrate  *permission.StaticSubstrate
	gateway    *permission.Gateway
	dispatcher *settings.Dispatcher
	settings   *settings.Coordinator
	commands   map[string]commandFunc

	// Built by start, since they are bound to the run context. Tests may preset source,
	// sensors and monitor.
	source    closableSource
	sensors   closableSensors
	monitor   runner
	scheduler gocron.Scheduler
	cron      *task.CronSubstrate
	tasks     *task.Framework
	registry  *watch.Registry
	heading   *heading.Engine

	listener net.Listener
	ready    chan struct{}
	addr     string
}

// New returns a Service for the configuration. Nothing is started until Run is called.
func New(conf *config.Config, log *logger.Logger, t *spreak.Localizer) (*Service, error) {
	if conf == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = logger.Discard()
	}
	s := &Service{
		config:    conf,
		logger:    log,
		localizer: t,
		clock:     clockwork.NewRealClock(),
		loop:      loop.New(loopQueueSize),
		bus:       geobus.New(log),
		ready:     make(chan struct{}),
	}
	s.hub = events.NewHub(log, s)
	s.emitter = events.Fanout{s.hub, events.LogSink{Logger: log.With(logger.Component("events"))}}

	if !conf.Providers.GPSD.Disable {
		s.poller = gpspoll.New(conf.Providers.GPSD.Host, fmt.Sprint(conf.Providers.GPSD.Port))
	}

	s.substrate = permission.NewStaticSubstrate(conf.PermissionResponses(), conf.BackgroundDeclared())
	s.gateway = permission.NewGateway(s.substrate, conf.Platform.APILevel, log)

	s.dispatcher = settings.NewDispatcher(s.loop.Post)
	prompter, err := s.settingsPrompter()
	if err != nil {
		return nil, err
	}
	s.settings = settings.NewCoordinator(prompter, s.dispatcher, log)
	s.commands = s.commandTable()

	return s, nil
}

// settingsPrompter answers settings prompts automatically when configured to, and forwards
// them to the clients otherwise.
func (s *Service) settingsPrompter() (settings.Prompter, error) {
	if s.config.Settings.AutoResult == "" {
		return settings.EmitterPrompter{Emitter: s.emitter}, nil
	}
	code, err := settings.ParseResultCode(s.config.Settings.AutoResult)
	if err != nil {
		return nil, err
	}
	return settings.NewAutoPrompter(s.dispatcher, code, s.config.Settings.AutoDelay, s.clock), nil
}

// Run starts every component and serves clients until the context is cancelled. On return
// all watches and tasks have been torn down.
func (s *Service) Run(ctx context.Context) error {
	loopCtx, stopLoop := context.WithCancel(context.WithoutCancel(ctx))
	var loopWG sync.WaitGroup
	loopWG.Go(func() { s.loop.Run(loopCtx) })
	defer func() {
		stopLoop()
		loopWG.Wait()
	}()

	if err := s.start(ctx); err != nil {
		return err
	}
	defer s.stop()
	close(s.ready)

	s.scheduler.Start()
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.serve(gctx)
	})
	group.Go(func() error {
		return s.monitor.Run(gctx)
	})
	s.logger.Info("location service started", slog.String("listen", s.addr),
		slog.Int("api_level", s.gateway.Level()))

	return group.Wait()
}

// start builds the components bound to the run context.
func (s *Service) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Server.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Server.Listen, err)
	}
	scheduler, err := gocron.NewScheduler(gocron.WithClock(s.clock))
	if err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()
	s.scheduler = scheduler

	if s.source == nil {
		providers := s.selectGeobusProviders()
		if len(providers) == 0 {
			s.logger.Warn("no location providers enabled, position watches will fail")
		}
		s.source = geobus.NewSource(ctx, s.bus.NewOrchestrator(providers, s.clock), s.logger)
	}
	if s.sensors == nil {
		s.sensors = sensor.NewIIO(ctx, s.config.Heading.SensorRoot, s.config.Heading.PollInterval, s.clock,
			s.logger)
	}
	if s.monitor == nil {
		s.monitor = lifecycle.New(hostAdapter{service: s}, s.clock, s.logger)
	}

	s.heading = heading.NewEngine(s.sensors, s.gateway, s.declinationModel(), s.emitter, s.clock, s.loop.Post,
		s.logger)
	s.registry = watch.NewRegistry(watch.Collaborators{
		Source:      s.source,
		Permissions: s.gateway,
		Heading:     s.heading,
		Settings:    s.settings,
		Emitter:     s.emitter,
		Clock:       s.clock,
		Post:        s.loop.Post,
	}, s.logger)

	s.cron = task.NewCronSubstrate(ctx, s.scheduler, s.logger)
	s.cron.SetConsumer(task.KindLocationTracking, func() task.Consumer {
		return task.NewLocationConsumer(task.FetcherFunc(s.fetchPosition), s.emitter,
			s.config.Tasks.DefaultInterval, s.logger)
	})
	s.cron.SetConsumer(task.KindGeofencing, func() task.Consumer {
		return task.NewGeofencingConsumer(s.logger)
	})
	s.tasks = task.NewFramework(s.cron, s.gateway, s.config.Tasks.UniformPermissionGate, s.logger)
	return nil
}

// stop tears down tasks, watches and providers, in that order.
func (s *Service) stop() {
	s.cron.UnregisterAll()
	if err := s.scheduler.Shutdown(); err != nil {
		s.logger.Error("failed to shut down scheduler", logger.Err(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.loop.Call(ctx, func() error {
		s.destroy()
		s.settings.Abort()
		return nil
	}); err != nil {
		s.logger.Error("failed to tear down watches", logger.Err(err))
	}

	s.source.Close()
	s.sensors.Close()
	s.logger.Info("location service stopped")
}

// serve runs the WebSocket endpoint until the context is cancelled.
func (s *Service) serve(ctx context.Context) error {
	mux := stdhttp.NewServeMux()
	mux.Handle(WebsocketPath, s.hub)
	server := &stdhttp.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Serve(s.listener)
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("websocket server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := server.Shutdown(shutdownCtx)
	s.hub.Close()
	if serveErr := <-errChan; serveErr != nil && !errors.Is(serveErr, stdhttp.ErrServerClosed) {
		return serveErr
	}
	return err
}

// Ready is closed once Run has started every component.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the address the WebSocket endpoint listens on. It is valid after Ready.
func (s *Service) Addr() string {
	return s.addr
}

func (s *Service) declinationModel() heading.DeclinationModel {
	if s.config.Heading.Declination == config.DeclinationFixed {
		return heading.FixedDeclination(s.config.Heading.FixedDeclination)
	}
	return heading.WMMModel{}
}

// fetchPosition serves background tracking tasks. A gpsd poll is preferred; without a fix the
// best recent provider result is used.
func (s *Service) fetchPosition(ctx context.Context) (watch.Sample, error) {
	if s.poller != nil {
		sample, err := s.poller.Fetch(ctx)
		if err == nil {
			return sample, nil
		}
		s.logger.Debug("gpsd poll failed, falling back to provider results", logger.Err(err))
	}
	for _, kind := range []watch.ProviderKind{watch.ProviderGPS, watch.ProviderNetwork} {
		if best, ok := s.bus.Best(string(kind)); ok {
			return best.Sample(), nil
		}
	}
	return watch.Sample{}, locerr.ErrLocationUnavailable.WithOp("fetchPosition")
}

// destroy drops every watch and heading subscription. It must run on the loop.
func (s *Service) destroy() {
	s.registry.Destroy()
	s.heading.Destroy()
}

// hostAdapter forwards host lifecycle events onto the loop.
type hostAdapter struct {
	service *Service
}

// Pause implements lifecycle.Host.
func (h hostAdapter) Pause() {
	h.service.loop.Post(func() {
		h.service.registry.Pause()
		h.service.heading.Pause()
	})
}

// Resume implements lifecycle.Host.
func (h hostAdapter) Resume() {
	h.service.loop.Post(func() {
		h.service.registry.Resume()
		h.service.heading.Resume()
	})
}

// Destroy implements lifecycle.Host.
func (h hostAdapter) Destroy() {
	h.service.loop.Post(h.service.destroy)
}
