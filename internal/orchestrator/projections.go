// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

package orchestrator

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/kennelsync/kennelsync/internal/logging"
	"github.com/kennelsync/kennelsync/internal/models"
)

// Read-only projections for the UI boundary. No projection mutates
// entities; the four mutation entry points in orchestrator.go are the only
// write paths.

// PresentToday returns the profiles with an open session whose stay has
// begun (arrival not in the future), sorted by name.
func (o *Orchestrator) PresentToday() ([]models.Profile, error) {
	open, err := o.sessions.OpenSessions()
	if err != nil {
		return nil, err
	}
	now := o.now()
	return o.profilesFor(filterSessions(open, func(s *models.Session) bool {
		return !s.Arrival.After(now)
	}))
}

// ProfilesByWindow returns the profiles having a session whose arrival
// falls in [start, end), sorted by name.
func (o *Orchestrator) ProfilesByWindow(start, end time.Time) ([]models.Profile, error) {
	sessions, err := o.sessions.ByWindow(start, end)
	if err != nil {
		return nil, err
	}
	return o.profilesFor(sessions)
}

// OverdueSessions returns the open sessions currently flagged by the
// day-rollover check.
func (o *Orchestrator) OverdueSessions() ([]models.Session, error) {
	return o.sessions.OverdueSessions()
}

// SessionsByWindow returns sessions whose arrival falls in [start, end).
func (o *Orchestrator) SessionsByWindow(start, end time.Time) ([]models.Session, error) {
	return o.sessions.ByWindow(start, end)
}

// SnapshotAll returns a point-in-time copy of the full local dataset for
// the export boundary. Formatting (CSV, archives) is the consumer's concern.
func (o *Orchestrator) SnapshotAll(ctx context.Context) ([]models.Profile, []models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	profiles, err := o.store.ListProfiles()
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	sessions, err := o.store.ListSessions()
	if err != nil {
		return nil, nil, err
	}
	return profiles, sessions, nil
}

// profilesFor resolves the distinct profiles referenced by sessions.
func (o *Orchestrator) profilesFor(sessions []models.Session) ([]models.Profile, error) {
	seen := make(map[string]struct{}, len(sessions))
	out := make([]models.Profile, 0, len(sessions))
	for i := range sessions {
		id := sessions[i].ProfileID
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		p, err := o.profiles.Get(id)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				// A session can reference a profile whose record has not
				// synced yet; the projection stays partial rather than failing.
				logging.Warn().Str("profile_id", id).Msg("Session references unknown profile")
				continue
			}
			return nil, err
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func filterSessions(in []models.Session, pred func(*models.Session) bool) []models.Session {
	out := in[:0]
	for i := range in {
		if pred(&in[i]) {
			out = append(out, in[i])
		}
	}
	return out
}
