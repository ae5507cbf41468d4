// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

package profile

import (
	"errors"
	"testing"
	"time"

	"github.com/kennelsync/kennelsync/internal/cache"
	"github.com/kennelsync/kennelsync/internal/models"
	"github.com/kennelsync/kennelsync/internal/store"
)

type fixture struct {
	svc   *Service
	store *store.Store
	cache *cache.EntityCache
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	f := &fixture{
		store: st,
		cache: cache.New(100, 0),
		now:   time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(st, f.cache, func() time.Time { return f.now })
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func TestCreateProfile(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.Create(NewProfileInput{Name: "Rex", OwnerContact: "555-0100", NeedsWalk: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if p.ID == "" {
		t.Error("Expected generated id")
	}
	if !p.IsActive {
		t.Error("New profile must be active")
	}
	if p.VisitCount != 0 || p.LastVisitDate != nil {
		t.Error("New profile must have zero visit statistics")
	}
	if !p.UpdatedAt.Equal(f.now) {
		t.Errorf("Expected UpdatedAt from injected clock, got %v", p.UpdatedAt)
	}

	stored, err := f.store.GetProfile(p.ID)
	if err != nil {
		t.Fatalf("Created profile not in store: %v", err)
	}
	if stored.Name != "Rex" {
		t.Errorf("Stored name mismatch: %s", stored.Name)
	}
}

func TestCreateRequiresName(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Create(NewProfileInput{}); err == nil {
		t.Error("Expected error for empty name")
	}
}

func TestUpdatePreservesDerivedStats(t *testing.T) {
	f := newFixture(t)
	p, _ := f.svc.Create(NewProfileInput{Name: "Rex"})

	// Simulate completed visits.
	f.advance(time.Hour)
	if _, err := f.svc.RecordVisit(p.ID, f.now); err != nil {
		t.Fatalf("RecordVisit failed: %v", err)
	}

	// The caller sends a stale copy with zeroed stats; Update must keep the
	// stored values.
	f.advance(time.Hour)
	edit := p.Clone()
	edit.CareNotes = "allergic to chicken"
	edit.VisitCount = 0
	edit.LastVisitDate = nil

	updated, err := f.svc.Update(edit)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.CareNotes != "allergic to chicken" {
		t.Error("Editable field not updated")
	}
	if updated.VisitCount != 1 || updated.LastVisitDate == nil {
		t.Error("Update must preserve derived statistics from the stored record")
	}
}

func TestRecordVisitIsExclusiveWriter(t *testing.T) {
	f := newFixture(t)
	p, _ := f.svc.Create(NewProfileInput{Name: "Rex"})

	visit1 := f.now.Add(24 * time.Hour)
	f.advance(24 * time.Hour)
	got, err := f.svc.RecordVisit(p.ID, visit1)
	if err != nil {
		t.Fatalf("RecordVisit failed: %v", err)
	}
	if got.VisitCount != 1 || !got.LastVisitDate.Equal(visit1) {
		t.Errorf("Expected count 1 and date %v, got %d %v", visit1, got.VisitCount, got.LastVisitDate)
	}

	visit2 := f.now.Add(24 * time.Hour)
	f.advance(24 * time.Hour)
	got, _ = f.svc.RecordVisit(p.ID, visit2)
	if got.VisitCount != 2 || !got.LastVisitDate.Equal(visit2) {
		t.Errorf("Expected count 2 and date %v, got %d %v", visit2, got.VisitCount, got.LastVisitDate)
	}
}

func TestGetUsesCache(t *testing.T) {
	f := newFixture(t)
	p, _ := f.svc.Create(NewProfileInput{Name: "Rex"})

	before := f.cache.GetStats()
	if _, err := f.svc.Get(p.ID); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	after := f.cache.GetStats()
	if after.Hits != before.Hits+1 {
		t.Error("Expected cache hit after create populated the cache")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	f := newFixture(t)
	p, _ := f.svc.Create(NewProfileInput{Name: "Rex"})

	got, _ := f.svc.Get(p.ID)
	got.Name = "mutated"

	again, _ := f.svc.Get(p.ID)
	if again.Name != "Rex" {
		t.Error("Get must return a copy, not shared cache state")
	}
}

func TestListActiveOnly(t *testing.T) {
	f := newFixture(t)
	f.svc.Create(NewProfileInput{Name: "Rex"})   //nolint:errcheck
	p2, _ := f.svc.Create(NewProfileInput{Name: "Bella"})
	f.advance(time.Minute)
	if _, err := f.svc.Retire(p2.ID); err != nil {
		t.Fatalf("Retire failed: %v", err)
	}

	all, err := f.svc.List(false)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 profiles, got %d", len(all))
	}

	active, _ := f.svc.List(true)
	if len(active) != 1 || active[0].Name != "Rex" {
		t.Errorf("Expected only Rex active, got %v", active)
	}
}

func TestRetireIsIdempotent(t *testing.T) {
	f := newFixture(t)
	p, _ := f.svc.Create(NewProfileInput{Name: "Rex"})

	f.advance(time.Minute)
	first, err := f.svc.Retire(p.ID)
	if err != nil {
		t.Fatalf("Retire failed: %v", err)
	}
	if first.IsActive {
		t.Error("Expected retired profile to be inactive")
	}

	// Second retire must not bump UpdatedAt.
	f.advance(time.Minute)
	second, err := f.svc.Retire(p.ID)
	if err != nil {
		t.Fatalf("Second retire failed: %v", err)
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Error("Retiring an already-retired profile must be a no-op")
	}
}

func TestApplyRemoteLastWriteWins(t *testing.T) {
	f := newFixture(t)
	p, _ := f.svc.Create(NewProfileInput{Name: "Rex"})

	older := p.Clone()
	older.Name = "stale"
	older.UpdatedAt = p.UpdatedAt.Add(-time.Hour)
	merged, err := f.svc.ApplyRemote(older)
	if err != nil {
		t.Fatalf("ApplyRemote failed: %v", err)
	}
	if merged {
		t.Error("Older remote version must not be taken")
	}

	newer := p.Clone()
	newer.Name = "Rexy"
	newer.UpdatedAt = p.UpdatedAt.Add(time.Hour)
	merged, err = f.svc.ApplyRemote(newer)
	if err != nil {
		t.Fatalf("ApplyRemote failed: %v", err)
	}
	if !merged {
		t.Error("Newer remote version must be taken")
	}
	got, _ := f.store.GetProfile(p.ID)
	if got.Name != "Rexy" {
		t.Errorf("Expected remote name to persist, got %s", got.Name)
	}
}

func TestApplyRemoteUnknownProfile(t *testing.T) {
	f := newFixture(t)

	remote := &models.Profile{ID: "remote-1", Name: "Milo", IsActive: true, UpdatedAt: f.now}
	merged, err := f.svc.ApplyRemote(remote)
	if err != nil {
		t.Fatalf("ApplyRemote failed: %v", err)
	}
	if !merged {
		t.Error("A remote record with no local counterpart must be stored")
	}
	if _, err := f.store.GetProfile("remote-1"); errors.Is(err, models.ErrNotFound) {
		t.Error("Expected remote profile to be persisted")
	}
}
