// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

// Package cache provides the bounded in-memory mirror of recently-used
// entities. It holds weak, invalidatable copies and is never the source of
// truth; the local store is.
//
// The cache is an LRU with a staleness guard: Put is a no-op when the
// incoming entity's UpdatedAt is not newer than the cached one, so a stale
// in-flight read can never clobber a newer write. Correctness relies on
// explicit invalidation only; the soft TTL merely forces list views to
// refresh periodically.
package cache

import (
	"sync"
	"time"

	"github.com/kennelsync/kennelsync/internal/metrics"
	"github.com/kennelsync/kennelsync/internal/models"
)

// entry is one node of the doubly-linked LRU list.
type entry struct {
	key       string
	value     models.Entity
	expiresAt time.Time // zero when soft TTL is disabled
	prev      *entry
	next      *entry
}

// Stats reports cache counters.
type Stats struct {
	Hits         int64
	Misses       int64
	Evictions    int64
	StaleRejects int64
	Size         int
}

// EntityCache is a thread-safe bounded LRU over both entity types.
// Values stored in the cache are shared and must be treated read-only;
// the services always Put clones, never live service state.
type EntityCache struct {
	mu sync.Mutex

	capacity int
	softTTL  time.Duration

	// items maps "type/id" keys to linked list nodes for O(1) lookup.
	items map[string]*entry

	// head and tail are sentinel nodes; head.next is the most recently used.
	head *entry
	tail *entry

	hits         int64
	misses       int64
	evictions    int64
	staleRejects int64
}

// New creates an entity cache with the given capacity and soft TTL.
// A softTTL of zero disables expiry entirely.
func New(capacity int, softTTL time.Duration) *EntityCache {
	if capacity <= 0 {
		capacity = 2000
	}
	c := &EntityCache{
		capacity: capacity,
		softTTL:  softTTL,
		items:    make(map[string]*entry, capacity),
		head:     &entry{},
		tail:     &entry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

func cacheKey(t models.EntityType, id string) string {
	return string(t) + "/" + id
}

// Get retrieves an entity. Found entries move to the front of the LRU list.
func (c *EntityCache) Get(t models.EntityType, id string) (models.Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, exists := c.items[cacheKey(t, id)]; exists {
		if c.expired(e) {
			c.removeEntry(e)
			c.misses++
			metrics.CacheMisses.WithLabelValues(string(t)).Inc()
			return nil, false
		}
		c.moveToFront(e)
		c.hits++
		metrics.CacheHits.WithLabelValues(string(t)).Inc()
		return e.value, true
	}

	c.misses++
	metrics.CacheMisses.WithLabelValues(string(t)).Inc()
	return nil, false
}

// Put stores an entity copy. It reports whether the value was accepted:
// an incoming UpdatedAt that is not newer than the cached one is rejected,
// keeping a stale in-flight read from shadowing a newer write.
func (c *EntityCache) Put(e models.Entity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(e.EntityKind(), e.EntityID())

	if existing, exists := c.items[key]; exists && !c.expired(existing) {
		if !e.EntityUpdatedAt().After(existing.value.EntityUpdatedAt()) {
			c.staleRejects++
			metrics.CacheStaleRejects.Inc()
			return false
		}
		existing.value = e
		existing.expiresAt = c.expiry()
		c.moveToFront(existing)
		return true
	}

	node := &entry{key: key, value: e, expiresAt: c.expiry()}
	if old, exists := c.items[key]; exists {
		c.removeEntry(old)
	}
	c.addToFront(node)
	c.items[key] = node

	for len(c.items) > c.capacity {
		c.evictOldest()
	}
	return true
}

// Invalidate removes an entity, typically after a confirmed remote write.
func (c *EntityCache) Invalidate(t models.EntityType, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, exists := c.items[cacheKey(t, id)]; exists {
		c.removeEntry(e)
	}
}

// Window returns all non-expired cached entities of type t matching pred.
// It does not update LRU recency, mirroring a read-only list scan.
func (c *EntityCache) Window(t models.EntityType, pred func(models.Entity) bool) []models.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []models.Entity
	for e := c.head.next; e != c.tail; e = e.next {
		if c.expired(e) || e.value.EntityKind() != t {
			continue
		}
		if pred == nil || pred(e.value) {
			out = append(out, e.value)
		}
	}
	return out
}

// Clear removes all entries.
func (c *EntityCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*entry, c.capacity)
	c.head.next = c.tail
	c.tail.prev = c.head
}

// Len returns the current entry count.
func (c *EntityCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// GetStats returns a snapshot of the cache counters.
func (c *EntityCache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:         c.hits,
		Misses:       c.misses,
		Evictions:    c.evictions,
		StaleRejects: c.staleRejects,
		Size:         len(c.items),
	}
}

func (c *EntityCache) expiry() time.Time {
	if c.softTTL <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.softTTL)
}

func (c *EntityCache) expired(e *entry) bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// moveToFront moves an entry to the front of the list (must hold mu).
func (c *EntityCache) moveToFront(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	c.insertAfterHead(e)
}

// addToFront adds a new entry at the front of the list (must hold mu).
func (c *EntityCache) addToFront(e *entry) {
	c.insertAfterHead(e)
}

func (c *EntityCache) insertAfterHead(e *entry) {
	e.next = c.head.next
	e.prev = c.head
	c.head.next.prev = e
	c.head.next = e
}

// removeEntry unlinks an entry and deletes it from the map (must hold mu).
func (c *EntityCache) removeEntry(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	delete(c.items, e.key)
}

// evictOldest removes the least recently used entry (must hold mu).
func (c *EntityCache) evictOldest() {
	oldest := c.tail.prev
	if oldest == c.head {
		return
	}
	c.removeEntry(oldest)
	c.evictions++
	metrics.CacheEvictions.Inc()
}
