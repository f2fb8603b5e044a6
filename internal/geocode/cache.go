// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geocode

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type cacheKey struct {
	Provider string
	Query    string
}

type cacheEntry struct {
	Place  Place
	Expiry time.Time
}

// CachedSearcher keeps the results of a Searcher for a while. Misses expire after their own TTL.
type CachedSearcher struct {
	coder   Searcher
	ttlHit  time.Duration
	ttlMiss time.Duration
	clock   clockwork.Clock

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
}

func NewCachedSearcher(coder Searcher, ttlHit, ttlMiss time.Duration, clock clockwork.Clock) *CachedSearcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CachedSearcher{
		coder:   coder,
		ttlHit:  ttlHit,
		ttlMiss: ttlMiss,
		clock:   clock,
		cache:   make(map[cacheKey]cacheEntry),
	}
}

func (c *CachedSearcher) Name() string {
	return "geocoder cache using " + c.coder.Name()
}

func (c *CachedSearcher) Search(ctx context.Context, query string) (Place, error) {
	key := cacheKey{Provider: c.coder.Name(), Query: normalizeQuery(query)}

	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && c.clock.Now().Before(entry.Expiry) {
		place := entry.Place
		place.CacheHit = true
		return place, nil
	}

	place, err := c.coder.Search(ctx, query)
	if err != nil {
		return place, err
	}

	ttl := c.ttlHit
	if !place.Found {
		ttl = c.ttlMiss
	}
	c.mu.Lock()
	c.cache[key] = cacheEntry{Place: place, Expiry: c.clock.Now().Add(ttl)}
	c.mu.Unlock()

	return place, nil
}

func normalizeQuery(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}
