// Package access keeps the ban and sudo lists in memory in front of the
// store, so authorizing a message does not hit disk or the database.
package access

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader reports whether key is on the list.
type Loader func(ctx context.Context, key string) (bool, error)

type entry struct {
	member  bool
	expires time.Time
}

// Cache is a read-through membership cache with a fixed TTL. Concurrent
// misses for the same key share one load.
type Cache struct {
	load Loader
	ttl  time.Duration
	now  func() time.Time

	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]entry
}

func NewCache(load Loader, ttl time.Duration) *Cache {
	return &Cache{
		load:    load,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Contains reports whether key is on the list. Load errors are not cached.
func (c *Cache) Contains(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && c.now().Before(e.expires) {
		return e.member, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		member, err := c.load(ctx, key)
		if err != nil {
			return false, err
		}
		c.mu.Lock()
		c.entries[key] = entry{member: member, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return member, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Invalidate drops key so the next lookup reloads it.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.group.Forget(key)
}

func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}
