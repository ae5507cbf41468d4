// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

package store

import (
	"errors"
	"testing"
	"time"

	"github.com/kennelsync/kennelsync/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("Failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})
	return s
}

func TestStoreProfileRoundTrip(t *testing.T) {
	s := openTestStore(t)
	updated := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	p := &models.Profile{ID: "p1", Name: "Rex", OwnerContact: "555-0100",
		NeedsWalk: true, IsActive: true, UpdatedAt: updated}
	if err := s.PutProfile(p); err != nil {
		t.Fatalf("Failed to put profile: %v", err)
	}

	got, err := s.GetProfile("p1")
	if err != nil {
		t.Fatalf("Failed to get profile: %v", err)
	}
	if got.Name != "Rex" || !got.NeedsWalk || !got.UpdatedAt.Equal(updated) {
		t.Errorf("Round trip mismatch: %+v", got)
	}
}

func TestStoreGetNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetProfile("missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetSession("missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStoreSessionsForProfile(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	for _, sess := range []*models.Session{
		{ID: "s1", ProfileID: "p1", Arrival: now, UpdatedAt: now},
		{ID: "s2", ProfileID: "p2", Arrival: now, UpdatedAt: now},
		{ID: "s3", ProfileID: "p1", Arrival: now, UpdatedAt: now},
	} {
		if err := s.PutSession(sess); err != nil {
			t.Fatalf("Failed to put session: %v", err)
		}
	}

	got, err := s.SessionsForProfile("p1")
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 sessions for p1, got %d", len(got))
	}
	for _, sess := range got {
		if sess.ProfileID != "p1" {
			t.Errorf("Unexpected session %s for profile %s", sess.ID, sess.ProfileID)
		}
	}
}

func TestStoreCursorLifecycle(t *testing.T) {
	s := openTestStore(t)

	// Missing cursor is the zero time.
	cursor, err := s.Cursor(models.EntityProfile)
	if err != nil {
		t.Fatalf("Failed to read cursor: %v", err)
	}
	if !cursor.IsZero() {
		t.Errorf("Expected zero cursor, got %v", cursor)
	}

	mark := time.Date(2026, 8, 20, 10, 30, 0, 123456789, time.UTC)
	if err := s.SetCursor(models.EntityProfile, mark); err != nil {
		t.Fatalf("Failed to set cursor: %v", err)
	}
	cursor, err = s.Cursor(models.EntityProfile)
	if err != nil {
		t.Fatalf("Failed to read cursor: %v", err)
	}
	if !cursor.Equal(mark) {
		t.Errorf("Cursor round trip lost precision: want %v, got %v", mark, cursor)
	}

	// Cursors are independent per type.
	other, err := s.Cursor(models.EntitySession)
	if err != nil {
		t.Fatalf("Failed to read session cursor: %v", err)
	}
	if !other.IsZero() {
		t.Error("Session cursor must be unaffected by the profile cursor")
	}

	if err := s.ClearCursor(models.EntityProfile); err != nil {
		t.Fatalf("Failed to clear cursor: %v", err)
	}
	cursor, _ = s.Cursor(models.EntityProfile)
	if !cursor.IsZero() {
		t.Error("Expected zero cursor after clear")
	}
}

func TestStorePendingQueueSupersedes(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	if err := s.Enqueue(models.EntityProfile, "p1", []byte(`{"v":1}`), base); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	if err := s.Enqueue(models.EntityProfile, "p1", []byte(`{"v":2}`), base.Add(time.Minute)); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	entries, err := s.Pending(models.EntityProfile)
	if err != nil {
		t.Fatalf("Failed to list pending: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected later enqueue to supersede, got %d entries", len(entries))
	}
	if string(entries[0].Payload) != `{"v":2}` {
		t.Errorf("Expected superseding payload, got %s", entries[0].Payload)
	}
}

func TestStorePendingOldestFirst(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	// Enqueue out of id order with distinct timestamps.
	s.Enqueue(models.EntitySession, "z", []byte(`{}`), base.Add(time.Minute))
	s.Enqueue(models.EntitySession, "a", []byte(`{}`), base.Add(3*time.Minute))
	s.Enqueue(models.EntitySession, "m", []byte(`{}`), base)

	entries, err := s.Pending(models.EntitySession)
	if err != nil {
		t.Fatalf("Failed to list pending: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	if entries[0].ID != "m" || entries[1].ID != "z" || entries[2].ID != "a" {
		t.Errorf("Expected oldest-first replay order, got %s %s %s",
			entries[0].ID, entries[1].ID, entries[2].ID)
	}
}

func TestStorePendingForAndDequeue(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	s.Enqueue(models.EntityProfile, "p1", []byte(`{}`), now)

	pending, err := s.PendingFor(models.EntityProfile, "p1")
	if err != nil || !pending {
		t.Errorf("Expected pending for p1, got %v %v", pending, err)
	}
	pending, _ = s.PendingFor(models.EntityProfile, "p2")
	if pending {
		t.Error("Expected no pending for p2")
	}

	if err := s.Dequeue(models.EntityProfile, "p1"); err != nil {
		t.Fatalf("Failed to dequeue: %v", err)
	}
	pending, _ = s.PendingFor(models.EntityProfile, "p1")
	if pending {
		t.Error("Expected pending to be gone after dequeue")
	}

	count, _ := s.PendingCount(models.EntityProfile)
	if count != 0 {
		t.Errorf("Expected empty queue, got %d", count)
	}

	// Dequeueing a missing entry is a no-op.
	if err := s.Dequeue(models.EntityProfile, "p1"); err != nil {
		t.Errorf("Dequeue of missing entry must not error: %v", err)
	}
}

func TestStoreJobState(t *testing.T) {
	s := openTestStore(t)

	_, found, err := s.JobState("backup")
	if err != nil {
		t.Fatalf("Failed to read job state: %v", err)
	}
	if found {
		t.Error("Expected no job state initially")
	}

	if err := s.SetJobState("backup", []byte(`{"x":1}`)); err != nil {
		t.Fatalf("Failed to set job state: %v", err)
	}
	data, found, err := s.JobState("backup")
	if err != nil || !found {
		t.Fatalf("Expected job state, got found=%v err=%v", found, err)
	}
	if string(data) != `{"x":1}` {
		t.Errorf("Job state mismatch: %s", data)
	}
}

func TestStoreOverdueReplaceIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	if err := s.ReplaceOverdue([]string{"s1", "s2"}); err != nil {
		t.Fatalf("Failed to replace overdue: %v", err)
	}
	if err := s.ReplaceOverdue([]string{"s1", "s2"}); err != nil {
		t.Fatalf("Second replace failed: %v", err)
	}

	ids, err := s.OverdueIDs()
	if err != nil {
		t.Fatalf("Failed to list overdue: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("Expected 2 overdue ids after repeated replace, got %d", len(ids))
	}

	// A new run replaces the whole set; stale flags disappear.
	if err := s.ReplaceOverdue([]string{"s3"}); err != nil {
		t.Fatalf("Failed to replace overdue: %v", err)
	}
	ids, _ = s.OverdueIDs()
	if len(ids) != 1 || ids[0] != "s3" {
		t.Errorf("Expected set to be replaced wholesale, got %v", ids)
	}

	if err := s.DeleteOverdue("s3"); err != nil {
		t.Fatalf("Failed to delete overdue: %v", err)
	}
	ids, _ = s.OverdueIDs()
	if len(ids) != 0 {
		t.Errorf("Expected empty overdue set, got %v", ids)
	}
}
