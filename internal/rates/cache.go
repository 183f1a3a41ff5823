package rates

import (
	"sync"
	"time"
)

// versioned holds the current snapshot together with its immediate
// predecessor. The evaluator needs exactly one step of history.
type versioned struct {
	current  *Snapshot
	previous *Snapshot
}

// Cache is the single source of truth for the latest snapshot per key.
// Replace installs a fully-built snapshot under the write lock, so readers
// never observe a partially-written value. Only the ingestion pipeline
// writes; the evaluator and composer read.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]*versioned
}

// NewCache constructs an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[Key]*versioned)}
}

// Replace atomically installs snap as the current snapshot for its key and
// retains the prior current value as the predecessor.
func (c *Cache) Replace(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[snap.Key()]
	if !ok {
		entry = &versioned{}
		c.entries[snap.Key()] = entry
	}
	entry.previous = entry.current
	entry.current = &snap
}

// Latest returns a copy of the current snapshot for key.
func (c *Cache) Latest(key Key) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || entry.current == nil {
		return Snapshot{}, false
	}
	return *entry.current, true
}

// Previous returns the snapshot that preceded the current one, if any.
func (c *Cache) Previous(key Key) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || entry.previous == nil {
		return Snapshot{}, false
	}
	return *entry.previous, true
}

// All returns copies of every current snapshot.
func (c *Cache) All() []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Snapshot, 0, len(c.entries))
	for _, entry := range c.entries {
		if entry.current != nil {
			out = append(out, *entry.current)
		}
	}
	return out
}

// MarkStale flags the current snapshot for key as stale once its age exceeds
// staleAfter. The snapshot is retained; a failed ingestion cycle must never
// replace it with a zero value. Reports whether the flag was set.
func (c *Cache) MarkStale(key Key, now time.Time, staleAfter time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || entry.current == nil {
		return false
	}
	if entry.current.Age(now) <= staleAfter {
		return false
	}
	if entry.current.Stale {
		return true
	}
	updated := *entry.current
	updated.Stale = true
	entry.current = &updated
	return true
}
