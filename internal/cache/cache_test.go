// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/kennelsync/kennelsync/internal/models"
)

func newProfile(id string, updated time.Time) *models.Profile {
	return &models.Profile{ID: id, Name: "pet-" + id, IsActive: true, UpdatedAt: updated}
}

func TestCachePutGet(t *testing.T) {
	c := New(10, 0)
	now := time.Now()

	p := newProfile("p1", now)
	if !c.Put(p) {
		t.Fatal("Expected first Put to be accepted")
	}

	got, exists := c.Get(models.EntityProfile, "p1")
	if !exists {
		t.Fatal("Expected p1 to exist")
	}
	if got.EntityID() != "p1" {
		t.Errorf("Expected p1, got %s", got.EntityID())
	}

	if _, exists = c.Get(models.EntityProfile, "missing"); exists {
		t.Error("Expected missing key to not exist")
	}
}

func TestCacheTypeNamespaces(t *testing.T) {
	c := New(10, 0)
	now := time.Now()

	c.Put(newProfile("x", now))
	c.Put(&models.Session{ID: "x", ProfileID: "p1", Arrival: now, UpdatedAt: now})

	if c.Len() != 2 {
		t.Errorf("Expected 2 entries, profile and session ids must not collide, got %d", c.Len())
	}
	got, exists := c.Get(models.EntitySession, "x")
	if !exists || got.EntityKind() != models.EntitySession {
		t.Error("Expected session x under the session namespace")
	}
}

func TestCacheStalenessGuard(t *testing.T) {
	c := New(10, 0)
	base := time.Now()

	c.Put(newProfile("p1", base.Add(2*time.Minute)))

	// Older and equal UpdatedAt must both be rejected.
	if c.Put(newProfile("p1", base)) {
		t.Error("Expected older Put to be rejected")
	}
	if c.Put(newProfile("p1", base.Add(2*time.Minute))) {
		t.Error("Expected equal-timestamp Put to be rejected")
	}

	got, _ := c.Get(models.EntityProfile, "p1")
	if !got.EntityUpdatedAt().Equal(base.Add(2 * time.Minute)) {
		t.Error("Stale Put must not replace the newer cached value")
	}

	if !c.Put(newProfile("p1", base.Add(3*time.Minute))) {
		t.Error("Expected newer Put to be accepted")
	}

	stats := c.GetStats()
	if stats.StaleRejects != 2 {
		t.Errorf("Expected 2 stale rejects, got %d", stats.StaleRejects)
	}
}

func TestCacheLRUEviction(t *testing.T) {
	c := New(3, 0)
	now := time.Now()

	for i := 1; i <= 3; i++ {
		c.Put(newProfile(fmt.Sprintf("p%d", i), now))
	}

	// Touch p1 so p2 becomes the least recently used.
	if _, exists := c.Get(models.EntityProfile, "p1"); !exists {
		t.Fatal("Expected p1 to exist")
	}

	c.Put(newProfile("p4", now))

	if _, exists := c.Get(models.EntityProfile, "p2"); exists {
		t.Error("Expected least recently used p2 to be evicted")
	}
	if _, exists := c.Get(models.EntityProfile, "p1"); !exists {
		t.Error("Expected recently used p1 to survive eviction")
	}
	if c.Len() != 3 {
		t.Errorf("Expected capacity 3 to hold, got %d entries", c.Len())
	}
	if stats := c.GetStats(); stats.Evictions != 1 {
		t.Errorf("Expected 1 eviction, got %d", stats.Evictions)
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := New(10, 0)
	c.Put(newProfile("p1", time.Now()))

	c.Invalidate(models.EntityProfile, "p1")
	if _, exists := c.Get(models.EntityProfile, "p1"); exists {
		t.Error("Expected invalidated entry to be gone")
	}

	// Invalidating a missing key is a no-op.
	c.Invalidate(models.EntityProfile, "missing")
}

func TestCacheSoftTTLExpiry(t *testing.T) {
	c := New(10, 50*time.Millisecond)
	c.Put(newProfile("p1", time.Now()))

	if _, exists := c.Get(models.EntityProfile, "p1"); !exists {
		t.Fatal("Expected p1 immediately after Put")
	}

	time.Sleep(80 * time.Millisecond)

	if _, exists := c.Get(models.EntityProfile, "p1"); exists {
		t.Error("Expected p1 to expire after the soft TTL")
	}
}

func TestCacheWindow(t *testing.T) {
	c := New(10, 0)
	now := time.Now()

	active := newProfile("p1", now)
	retired := newProfile("p2", now)
	retired.IsActive = false
	c.Put(active)
	c.Put(retired)
	c.Put(&models.Session{ID: "s1", ProfileID: "p1", Arrival: now, UpdatedAt: now})

	all := c.Window(models.EntityProfile, nil)
	if len(all) != 2 {
		t.Errorf("Expected 2 profiles in window, got %d", len(all))
	}

	actives := c.Window(models.EntityProfile, func(e models.Entity) bool {
		return e.(*models.Profile).IsActive
	})
	if len(actives) != 1 || actives[0].EntityID() != "p1" {
		t.Error("Expected predicate to filter to the active profile")
	}
}

func TestCacheClear(t *testing.T) {
	c := New(10, 0)
	c.Put(newProfile("p1", time.Now()))
	c.Put(newProfile("p2", time.Now()))

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Expected empty cache after Clear, got %d entries", c.Len())
	}
	if _, exists := c.Get(models.EntityProfile, "p1"); exists {
		t.Error("Expected p1 to be gone after Clear")
	}
}
