// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geowatch/internal/logger"
	"github.com/wneessen/geowatch/internal/watch"
)

// Orchestrator coordinates the tracking and publication of geolocation results from multiple
// providers through a GeoBus.
type Orchestrator struct {
	Bus       *GeoBus
	Providers []Provider

	clock  clockwork.Clock
	logger *logger.Logger
}

// ProvidersOf returns the configured providers of the given kind.
func (o *Orchestrator) ProvidersOf(kind watch.ProviderKind) []Provider {
	var list []Provider
	for _, p := range o.Providers {
		if p.Kind() == kind {
			list = append(list, p)
		}
	}
	return list
}

// Track runs every provider of the given kind until the context is cancelled. Results are
// published under the kind as key.
func (o *Orchestrator) Track(ctx context.Context, kind watch.ProviderKind) {
	var wg sync.WaitGroup
	for _, p := range o.ProvidersOf(kind) {
		wg.Go(func() {
			o.trackProvider(ctx, p, string(kind))
		})
	}
	<-ctx.Done()
	wg.Wait()
}

// trackProvider continuously tracks a Provider for geolocation data, publishing results to
// the GeoBus and implementing backoff.
func (o *Orchestrator) trackProvider(ctx context.Context, p Provider, key string) {
	log := o.logger.With(slog.String("provider", p.Name()))
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		lookupChan := o.safeLookup(ctx, p, key)
		if lookupChan == nil {
			log.Warn("provider lookup failed, retrying", slog.Duration("backoff", backoff))
			if !sleepOrDone(ctx, o.clock, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

	stream:
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-lookupChan:
				if !ok {
					break stream
				}
				r.Key = key
				o.Bus.Publish(r)
				backoff = initialBackoff
			}
		}

		log.Debug("provider stream ended, restarting", slog.Duration("backoff", backoff))
		if !sleepOrDone(ctx, o.clock, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// safeLookup safely invokes the LookupStream method on a Provider and recovers from potential panics.
// Returns a read-only channel of Result or nil if the operation fails.
func (o *Orchestrator) safeLookup(ctx context.Context, provider Provider, key string) (ch <-chan Result) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("provider lookup panicked", slog.String("provider", provider.Name()),
				logger.Err(fmt.Errorf("%v", r)))
			ch = nil
		}
	}()
	return provider.LookupStream(ctx, key)
}
