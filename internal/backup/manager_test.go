// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/kennelsync/kennelsync/internal/models"
	"github.com/kennelsync/kennelsync/internal/store"
)

// fakeSnapshotter returns a fixed dataset, optionally failing.
type fakeSnapshotter struct {
	profiles []models.Profile
	sessions []models.Session
	err      error
	calls    int
}

func (f *fakeSnapshotter) SnapshotAll(ctx context.Context) ([]models.Profile, []models.Session, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.profiles, f.sessions, nil
}

type fixture struct {
	mgr   *Manager
	snap  *fakeSnapshotter
	store *store.Store
	dir   string
	now   time.Time
}

func newFixture(t *testing.T, keep int) *fixture {
	t.Helper()
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	f := &fixture{
		snap: &fakeSnapshotter{
			profiles: []models.Profile{{ID: "p1", Name: "Rex", IsActive: true}},
			sessions: []models.Session{{ID: "s1", ProfileID: "p1"}},
		},
		store: st,
		dir:   t.TempDir(),
		now:   time.Date(2026, 8, 20, 3, 0, 0, 0, time.UTC),
	}
	f.mgr = NewManager(f.snap, st, f.dir, keep, func() time.Time { return f.now })
	return f
}

func (f *fixture) exportFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		t.Fatalf("Failed to read backup dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), exportPrefix) {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestRunWritesExportAndConfirms(t *testing.T) {
	f := newFixture(t, 7)

	if err := f.mgr.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	files := f.exportFiles(t)
	if len(files) != 1 {
		t.Fatalf("Expected 1 export file, got %d", len(files))
	}

	data, err := os.ReadFile(filepath.Join(f.dir, files[0]))
	if err != nil {
		t.Fatalf("Failed to read export: %v", err)
	}
	var export Export
	if err := json.Unmarshal(data, &export); err != nil {
		t.Fatalf("Export is not valid JSON: %v", err)
	}
	if len(export.Profiles) != 1 || len(export.Sessions) != 1 {
		t.Errorf("Export dataset mismatch: %d profiles, %d sessions",
			len(export.Profiles), len(export.Sessions))
	}

	confirmed, err := f.mgr.LastConfirmed()
	if err != nil {
		t.Fatalf("LastConfirmed failed: %v", err)
	}
	if confirmed == nil || !confirmed.Equal(f.now) {
		t.Errorf("Expected confirmation at %v, got %v", f.now, confirmed)
	}
}

func TestRunLeavesPendingMarkerOnRevokedBudget(t *testing.T) {
	f := newFixture(t, 7)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.mgr.Run(ctx); err == nil {
		t.Fatal("Expected error when the budget is already revoked")
	}

	// Not confirmed, and the pending marker survives for the next run.
	confirmed, _ := f.mgr.LastConfirmed()
	if confirmed != nil {
		t.Error("Revoked run must not confirm")
	}
	state, err := f.mgr.loadState()
	if err != nil {
		t.Fatalf("Failed to load state: %v", err)
	}
	if state.PendingSince == nil {
		t.Error("Expected pending marker after a revoked run")
	}

	// The next invocation resumes and confirms.
	f.now = f.now.Add(time.Hour)
	if err := f.mgr.Run(context.Background()); err != nil {
		t.Fatalf("Resumed run failed: %v", err)
	}
	state, _ = f.mgr.loadState()
	if state.PendingSince != nil || state.LastConfirmed == nil {
		t.Error("Resumed run must clear the pending marker and confirm")
	}
}

func TestRunSnapshotFailureNotConfirmed(t *testing.T) {
	f := newFixture(t, 7)
	f.snap.err = errors.New("store unavailable")

	if err := f.mgr.Run(context.Background()); err == nil {
		t.Fatal("Expected error from failing snapshot")
	}
	if files := f.exportFiles(t); len(files) != 0 {
		t.Errorf("Failed run must not leave an export, got %v", files)
	}
	confirmed, _ := f.mgr.LastConfirmed()
	if confirmed != nil {
		t.Error("Failed run must not confirm")
	}
}

func TestRetentionKeepsNewest(t *testing.T) {
	f := newFixture(t, 2)

	for i := 0; i < 4; i++ {
		if err := f.mgr.Run(context.Background()); err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
		f.now = f.now.Add(24 * time.Hour)
	}

	files := f.exportFiles(t)
	if len(files) != 2 {
		t.Fatalf("Expected 2 retained exports, got %d: %v", len(files), files)
	}
	// Timestamped names sort chronologically; the survivors are the newest.
	for _, name := range files {
		if name < exportPrefix+"20260822" {
			t.Errorf("Expected only the newest exports to survive, found %s", name)
		}
	}
}

func TestRunIsIdempotentPerTimestamp(t *testing.T) {
	f := newFixture(t, 7)

	if err := f.mgr.Run(context.Background()); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	// Same clock value: the export name collides and is simply rewritten.
	if err := f.mgr.Run(context.Background()); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if files := f.exportFiles(t); len(files) != 1 {
		t.Errorf("Expected a single export for a single timestamp, got %d", len(files))
	}
}
