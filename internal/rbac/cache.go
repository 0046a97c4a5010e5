package rbac

import (
	"sync"
	"sync/atomic"
)

// Cache memoizes resolved permission sets per subject. Invalidation is a
// version bump on the subject's entry, so writers never block on
// recompute cost; a stale entry is inert until the next read rebuilds it.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	version atomic.Int64

	mu  sync.RWMutex
	set *ResolvedSet
}

// NewCache constructs an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*cacheEntry)}
}

func (c *Cache) entry(subject Subject) *cacheEntry {
	key := subject.Key()
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return e
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.entries[key]; ok {
		return e
	}
	e = &cacheEntry{}
	c.entries[key] = e
	return e
}

// Version returns the current epoch for a subject.
func (c *Cache) Version(subject Subject) int64 {
	return c.entry(subject).version.Load()
}

// Get returns the memoized set when it was computed under the current
// epoch.
func (c *Cache) Get(subject Subject) (*ResolvedSet, bool) {
	e := c.entry(subject)
	current := e.version.Load()
	e.mu.RLock()
	set := e.set
	e.mu.RUnlock()
	if set == nil || set.Version != current {
		return nil, false
	}
	return set, true
}

// Put stores a set computed under its tagged epoch. A set built against
// an epoch that has since been bumped is discarded rather than stored.
func (c *Cache) Put(set *ResolvedSet) {
	if set == nil {
		return
	}
	e := c.entry(set.Subject)
	if e.version.Load() != set.Version {
		return
	}
	e.mu.Lock()
	e.set = set
	e.mu.Unlock()
}

// Invalidate bumps the subject's epoch. The stale set stays in place and
// is ignored by Get until a recompute replaces it.
func (c *Cache) Invalidate(subject Subject) {
	c.entry(subject).version.Add(1)
}

// Len reports how many subjects have cache entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
