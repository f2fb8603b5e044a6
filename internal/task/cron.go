// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-co-op/gocron/v2"

	"github.com/wneessen/geowatch/internal/logger"
)

// ConsumerFactory creates the consumer of a newly registered task.
type ConsumerFactory func() Consumer

type taskKey struct {
	name string
	kind ConsumerKind
}

type cronTask struct {
	consumer Consumer
	job      gocron.Job
}

// CronSubstrate is an in-process Substrate that executes consumers with a gocron scheduler.
// Every registration with a non-zero interval owns one job, tagged with the task name and kind.
type CronSubstrate struct {
	ctx       context.Context
	scheduler gocron.Scheduler
	logger    *logger.Logger

	mu        sync.Mutex
	factories map[ConsumerKind]ConsumerFactory
	tasks     map[taskKey]*cronTask
}

// NewCronSubstrate returns a CronSubstrate running on scheduler. Consumers execute with ctx,
// independent of the context of the registering call. The scheduler is started and shut down
// by the caller.
func NewCronSubstrate(ctx context.Context, scheduler gocron.Scheduler, log *logger.Logger) *CronSubstrate {
	if log == nil {
		log = logger.Discard()
	}
	return &CronSubstrate{
		ctx:       ctx,
		scheduler: scheduler,
		logger:    log.With(logger.Component("cron")),
		factories: make(map[ConsumerKind]ConsumerFactory),
		tasks:     make(map[taskKey]*cronTask),
	}
}

// SetConsumer installs the factory for a consumer kind.
func (c *CronSubstrate) SetConsumer(kind ConsumerKind, factory ConsumerFactory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[kind] = factory
}

// Register implements Substrate.
func (c *CronSubstrate) Register(_ context.Context, name string, kind ConsumerKind, options any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	factory, ok := c.factories[kind]
	if !ok {
		return fmt.Errorf("no consumer available for task kind %q", kind)
	}

	consumer := factory()
	consumer.OnRegistered(Task{Name: name, Kind: kind, Options: options})
	entry := &cronTask{consumer: consumer}

	if interval := consumer.Interval(); interval > 0 {
		job, err := c.scheduler.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(consumer.Execute),
			gocron.WithContext(c.ctx),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
			gocron.WithName(name),
			gocron.WithTags(name, string(kind)),
		)
		if err != nil {
			consumer.OnUnregistered()
			return fmt.Errorf("failed to schedule task %q: %w", name, err)
		}
		entry.job = job
	}

	// The previous task stays in place until its replacement is scheduled.
	key := taskKey{name: name, kind: kind}
	if existing, ok := c.tasks[key]; ok {
		if err := c.remove(existing); err != nil {
			if rollbackErr := c.remove(entry); rollbackErr != nil {
				c.logger.Error("failed to roll back task replacement", slog.String("task", name),
					logger.Err(rollbackErr))
			}
			return err
		}
	}

	c.tasks[key] = entry
	c.logger.Debug("task registered", slog.String("task", name), slog.String("kind", string(kind)),
		slog.String("type", consumer.TaskType()))
	return nil
}

// Unregister implements Substrate. Unregistering an unknown task is an error.
func (c *CronSubstrate) Unregister(_ context.Context, name string, kind ConsumerKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := taskKey{name: name, kind: kind}
	entry, ok := c.tasks[key]
	if !ok {
		return fmt.Errorf("task %q of kind %q is not registered", name, kind)
	}
	delete(c.tasks, key)
	if err := c.remove(entry); err != nil {
		return err
	}
	c.logger.Debug("task unregistered", slog.String("task", name), slog.String("kind", string(kind)))
	return nil
}

// HasConsumerOfKind implements Substrate.
func (c *CronSubstrate) HasConsumerOfKind(_ context.Context, name string, kind ConsumerKind) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tasks[taskKey{name: name, kind: kind}]
	return ok, nil
}

// UnregisterAll removes every task.
func (c *CronSubstrate) UnregisterAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.tasks {
		if err := c.remove(entry); err != nil {
			c.logger.Error("failed to remove task", slog.String("task", key.name), logger.Err(err))
		}
		delete(c.tasks, key)
	}
}

// remove must be called with c.mu held.
func (c *CronSubstrate) remove(entry *cronTask) error {
	if entry.job != nil {
		if err := c.scheduler.RemoveJob(entry.job.ID()); err != nil {
			return fmt.Errorf("failed to remove scheduled job: %w", err)
		}
	}
	entry.consumer.OnUnregistered()
	return nil
}
