// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

// Package backup produces point-in-time exports of the full local dataset.
// The job persists a "pending, not yet confirmed" marker before doing any
// work: if the host revokes time mid-run, the next scheduled invocation
// sees the unconfirmed marker and simply runs again instead of assuming the
// previous run succeeded. Export formatting beyond JSON (CSV, archives) is
// an external consumer's concern via the orchestrator's snapshot boundary.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/kennelsync/kennelsync/internal/logging"
	"github.com/kennelsync/kennelsync/internal/metrics"
	"github.com/kennelsync/kennelsync/internal/models"
	"github.com/kennelsync/kennelsync/internal/store"
)

const (
	jobStateName = "backup"
	exportPrefix = "kennelsync-export-"
	exportSuffix = ".json"
)

// Snapshotter provides the point-in-time dataset. Implemented by the
// orchestrator's SnapshotAll.
type Snapshotter interface {
	SnapshotAll(ctx context.Context) ([]models.Profile, []models.Session, error)
}

// Export is the on-disk snapshot document.
type Export struct {
	CreatedAt time.Time        `json:"created_at"`
	Profiles  []models.Profile `json:"profiles"`
	Sessions  []models.Session `json:"sessions"`
}

// jobState is the persisted resume state.
type jobState struct {
	LastConfirmed *time.Time `json:"last_confirmed,omitempty"`
	PendingSince  *time.Time `json:"pending_since,omitempty"`
}

// Manager runs the backup job.
type Manager struct {
	snap  Snapshotter
	store *store.Store
	dir   string
	keep  int
	now   func() time.Time
}

// NewManager creates a backup manager writing exports to dir, retaining the
// newest keep files. now may be nil (defaults to time.Now).
func NewManager(snap Snapshotter, st *store.Store, dir string, keep int, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	if keep < 1 {
		keep = 1
	}
	return &Manager{snap: snap, store: st, dir: dir, keep: keep, now: now}
}

// Run produces one export. It is safe to call again after an expired or
// failed run; the pending marker makes the retry explicit rather than
// accidental.
func (m *Manager) Run(ctx context.Context) error {
	state, err := m.loadState()
	if err != nil {
		return err
	}
	if state.PendingSince != nil {
		logging.Info().Time("pending_since", *state.PendingSince).
			Msg("Resuming backup that was not confirmed")
	}

	started := m.now()
	state.PendingSince = &started
	if err := m.saveState(state); err != nil {
		return err
	}

	if err := m.writeExport(ctx); err != nil {
		if ctx.Err() != nil {
			// Budget revoked: leave the pending marker for the next invocation.
			metrics.BackupRuns.WithLabelValues("expired").Inc()
			return ctx.Err()
		}
		metrics.BackupRuns.WithLabelValues("failed").Inc()
		return err
	}

	confirmed := m.now()
	state.LastConfirmed = &confirmed
	state.PendingSince = nil
	if err := m.saveState(state); err != nil {
		return err
	}

	metrics.BackupRuns.WithLabelValues("confirmed").Inc()
	metrics.BackupLastConfirmed.Set(float64(confirmed.Unix()))

	if err := m.applyRetention(); err != nil {
		logging.Warn().Err(err).Msg("Backup retention pruning failed")
	}
	return nil
}

// OnExpire is the scheduler expiration callback. The pending marker is
// already persisted, so there is nothing to roll back; the next scheduled
// invocation resumes.
func (m *Manager) OnExpire() {
	logging.Warn().Msg("Backup run expired before confirmation; will resume on next schedule")
}

// LastConfirmed returns the time of the last confirmed backup, if any.
func (m *Manager) LastConfirmed() (*time.Time, error) {
	state, err := m.loadState()
	if err != nil {
		return nil, err
	}
	return state.LastConfirmed, nil
}

// writeExport snapshots the dataset and writes it atomically (temp+rename).
func (m *Manager) writeExport(ctx context.Context) error {
	profiles, sessions, err := m.snap.SnapshotAll(ctx)
	if err != nil {
		return fmt.Errorf("snapshot dataset: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	export := Export{CreatedAt: m.now(), Profiles: profiles, Sessions: sessions}
	data, err := json.Marshal(export)
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}

	if err := os.MkdirAll(m.dir, 0o750); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	name := exportPrefix + export.CreatedAt.UTC().Format("20060102T150405Z") + exportSuffix
	final := filepath.Join(m.dir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("finalize export: %w", err)
	}

	logging.Info().Str("file", final).Int("profiles", len(profiles)).
		Int("sessions", len(sessions)).Msg("Backup export written")
	return nil
}

// applyRetention removes exports beyond the newest keep files.
func (m *Manager) applyRetention() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}
	var exports []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, exportPrefix) && strings.HasSuffix(name, exportSuffix) {
			exports = append(exports, name)
		}
	}
	if len(exports) <= m.keep {
		return nil
	}
	// Timestamped names sort chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(exports)))
	for _, name := range exports[m.keep:] {
		if err := os.Remove(filepath.Join(m.dir, name)); err != nil {
			return err
		}
		logging.Debug().Str("file", name).Msg("Pruned old backup export")
	}
	return nil
}

func (m *Manager) loadState() (*jobState, error) {
	data, found, err := m.store.JobState(jobStateName)
	if err != nil {
		return nil, fmt.Errorf("load backup state: %w", err)
	}
	state := &jobState{}
	if found {
		if err := json.Unmarshal(data, state); err != nil {
			return nil, fmt.Errorf("decode backup state: %w", err)
		}
	}
	return state, nil
}

func (m *Manager) saveState(state *jobState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode backup state: %w", err)
	}
	if err := m.store.SetJobState(jobStateName, data); err != nil {
		return fmt.Errorf("save backup state: %w", err)
	}
	return nil
}
