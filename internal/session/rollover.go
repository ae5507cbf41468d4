// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

package session

import (
	"time"

	"github.com/kennelsync/kennelsync/internal/logging"
	"github.com/kennelsync/kennelsync/internal/metrics"
	"github.com/kennelsync/kennelsync/internal/models"
)

// Day-boundary rollover. The check is pure read-plus-flag: for every open
// session it decides whether the stay has run past its expected day and
// records the session id in the locally-persisted overdue set. It is
// forbidden from setting or clearing Departure and from touching Arrival.
// An earlier generation of this system cleared departure timestamps at
// midnight; the signature of this code path is that it never writes a
// session record at all.

// RolloverResult reports one rollover run.
type RolloverResult struct {
	Day     time.Time // calendar day (midnight, local) the check ran for
	Flagged []string  // session ids now marked overdue
	Checked int       // open sessions examined
}

// RolloverCheck flags open sessions that have outstayed their expected day
// as of "today". For a regular stay the basis is the arrival's calendar
// day; for an extended stay it is the stay end date. The overdue set is
// replaced wholesale, so running the check twice on identical input yields
// identical state.
func (s *Service) RolloverCheck(today time.Time) (*RolloverResult, error) {
	dayStart := models.DayStart(today, s.loc)

	open, err := s.OpenSessions()
	if err != nil {
		metrics.RolloverRuns.WithLabelValues("failed").Inc()
		return nil, err
	}

	var flagged []string
	for i := range open {
		sess := &open[i]
		basis, ok := sess.OverdueBasis()
		if !ok {
			continue
		}
		if models.DayStart(basis, s.loc).Before(dayStart) {
			flagged = append(flagged, sess.ID)
		}
	}

	if err := s.store.ReplaceOverdue(flagged); err != nil {
		metrics.RolloverRuns.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.RolloverRuns.WithLabelValues("ok").Inc()
	metrics.RolloverFlagged.Set(float64(len(flagged)))
	logging.Info().Time("day", dayStart).Int("checked", len(open)).
		Int("flagged", len(flagged)).Msg("Rollover check completed")

	return &RolloverResult{Day: dayStart, Flagged: flagged, Checked: len(open)}, nil
}

// OverdueSessions resolves the persisted overdue flags to session records.
// Flags whose sessions have since completed or disappeared are skipped.
func (s *Service) OverdueSessions() ([]models.Session, error) {
	ids, err := s.store.OverdueIDs()
	if err != nil {
		return nil, err
	}
	out := make([]models.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.store.GetSession(id)
		if err != nil {
			continue
		}
		if sess.IsOpen() {
			out = append(out, *sess)
		}
	}
	return out, nil
}
