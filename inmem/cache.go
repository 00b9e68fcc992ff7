package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/buzkaaclicker/profiles"
)

type cacheEntry struct {
	view      profiles.ProfileView
	expiresAt time.Time
}

type ViewCache struct {
	entries map[string]cacheEntry
	mutex   sync.Mutex
	// Clock used for expiry, time.Now when nil.
	Now func() time.Time
}

var _ profiles.ViewCache = (*ViewCache)(nil)

func NewViewCache() *ViewCache {
	return &ViewCache{
		entries: make(map[string]cacheEntry),
	}
}

func (c *ViewCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *ViewCache) Get(ctx context.Context, key string) profiles.CacheLookup {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return profiles.CacheMiss(nil)
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return profiles.CacheMiss(nil)
	}
	return profiles.CacheHit(entry.view)
}

func (c *ViewCache) Set(ctx context.Context, key string, view profiles.ProfileView, ttl time.Duration) profiles.Outcome {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = cacheEntry{view: view, expiresAt: c.now().Add(ttl)}
	return profiles.Outcome{}
}

func (c *ViewCache) Invalidate(ctx context.Context, key string) profiles.Outcome {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.entries, key)
	return profiles.Outcome{}
}
