// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

// Package session owns Session entities and enforces the open-interval
// invariant: a profile never has more than one open session, and no two of
// its sessions may have overlapping [arrival, departure) intervals.
// CompleteSession is the only path that sets a departure; the day-rollover
// automation only flags, never mutates.
package session

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kennelsync/kennelsync/internal/cache"
	"github.com/kennelsync/kennelsync/internal/logging"
	"github.com/kennelsync/kennelsync/internal/metrics"
	"github.com/kennelsync/kennelsync/internal/models"
	"github.com/kennelsync/kennelsync/internal/profile"
	"github.com/kennelsync/kennelsync/internal/store"
)

// Service owns Session entities. Mutations are serialized per entity id by
// the orchestrator; reads may run concurrently.
type Service struct {
	store    *store.Store
	cache    *cache.EntityCache
	profiles *profile.Service
	now      func() time.Time
	loc      *time.Location
}

// NewService creates a session service. now may be nil (defaults to
// time.Now); loc may be nil (defaults to time.Local). Tests inject both.
func NewService(st *store.Store, c *cache.EntityCache, profiles *profile.Service, now func() time.Time, loc *time.Location) *Service {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{store: st, cache: c, profiles: profiles, now: now, loc: loc}
}

// OpenInput carries the booking parameters for a new session.
type OpenInput struct {
	ProfileID      string
	Arrival        time.Time // may be in the future (advance booking)
	IsExtendedStay bool
	StayEndDate    *time.Time
}

// Open creates a session at booking time. It fails with a ConflictError
// (carrying the existing session's id) when the profile already has an open
// session or any overlapping interval; no record is created in that case.
func (s *Service) Open(in OpenInput) (*models.Session, error) {
	if in.ProfileID == "" {
		return nil, fmt.Errorf("profile id is required")
	}
	if in.Arrival.IsZero() {
		return nil, fmt.Errorf("arrival is required")
	}
	if in.IsExtendedStay && in.StayEndDate != nil && in.StayEndDate.Before(in.Arrival) {
		return nil, fmt.Errorf("stay end date %s precedes arrival %s", in.StayEndDate, in.Arrival)
	}

	p, err := s.profiles.Get(in.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("lookup profile %s: %w", in.ProfileID, err)
	}
	if !p.IsActive {
		return nil, fmt.Errorf("profile %s is retired", in.ProfileID)
	}

	candidate := &models.Session{
		ID:             uuid.New().String(),
		ProfileID:      in.ProfileID,
		Arrival:        in.Arrival,
		IsExtendedStay: in.IsExtendedStay,
		StayEndDate:    in.StayEndDate,
		UpdatedAt:      s.now(),
	}

	if conflict := s.conflictFor(candidate, ""); conflict != nil {
		return nil, conflict
	}

	if err := s.persist(candidate); err != nil {
		return nil, err
	}
	logging.Info().Str("session_id", candidate.ID).Str("profile_id", in.ProfileID).
		Time("arrival", in.Arrival).Bool("extended", in.IsExtendedStay).Msg("Session opened")
	return candidate.Clone(), nil
}

// Complete is the only path that sets a session's departure. On success it
// records the visit on the linked profile (VisitCount, LastVisitDate) and
// clears any overdue flag for the session.
func (s *Service) Complete(sessionID string, departure time.Time) (*models.Session, error) {
	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsOpen() {
		return nil, &models.ConflictError{
			ProfileID:            sess.ProfileID,
			ConflictingSessionID: sess.ID,
			Reason:               "session already completed",
		}
	}
	if departure.Before(sess.Arrival) {
		return nil, fmt.Errorf("departure %s precedes arrival %s", departure, sess.Arrival)
	}
	// The linked profile must be resolvable before the departure commits;
	// once the session is closed the stat bump can never be retried through
	// this path.
	if _, err := s.profiles.Get(sess.ProfileID); err != nil {
		return nil, fmt.Errorf("lookup profile %s: %w", sess.ProfileID, err)
	}

	reopen := sess.Clone()
	d := departure
	sess.Departure = &d
	sess.UpdatedAt = s.now()

	// The closed interval must still be conflict-free against siblings.
	if conflict := s.conflictFor(sess, sess.ID); conflict != nil {
		return nil, conflict
	}

	if err := s.persist(sess); err != nil {
		return nil, err
	}
	if _, err := s.profiles.RecordVisit(sess.ProfileID, departure); err != nil {
		// Reopen the session so a retry can complete it and record the
		// visit; a committed departure without the stat bump would leave
		// VisitCount permanently behind.
		if rbErr := s.store.PutSession(reopen); rbErr != nil {
			logging.Error().Err(rbErr).Str("session_id", sess.ID).
				Msg("Failed to reopen session after visit record failure")
		} else {
			s.cache.Invalidate(models.EntitySession, sess.ID)
		}
		return nil, fmt.Errorf("record visit for profile %s: %w", sess.ProfileID, err)
	}
	if err := s.store.DeleteOverdue(sess.ID); err != nil {
		logging.Warn().Err(err).Str("session_id", sess.ID).Msg("Failed to clear overdue flag")
	}
	logging.Info().Str("session_id", sess.ID).Str("profile_id", sess.ProfileID).
		Time("departure", departure).Msg("Session completed")
	return sess.Clone(), nil
}

// AppendActivity appends one immutable activity record and bumps UpdatedAt.
// History is never rewritten; an append with an already-present idempotency
// key is a no-op.
func (s *Service) AppendActivity(sessionID string, kind models.ActivityKind, at time.Time, note string) (*models.Session, error) {
	if !models.ValidActivityKind(kind) {
		return nil, fmt.Errorf("unknown activity kind: %s", kind)
	}
	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	act := models.Activity{
		Key:  models.ActivityKey(kind, at, note),
		Kind: kind,
		At:   at,
		Note: note,
	}
	for _, existing := range sess.Activities {
		if existing.Key == act.Key {
			return sess.Clone(), nil
		}
	}
	sess.Activities = append(sess.Activities, act)
	sess.UpdatedAt = s.now()
	if err := s.persist(sess); err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// Get returns a session, consulting the cache before the store.
func (s *Service) Get(id string) (*models.Session, error) {
	if cached, ok := s.cache.Get(models.EntitySession, id); ok {
		if sess, isSession := cached.(*models.Session); isSession {
			return sess.Clone(), nil
		}
	}
	sess, err := s.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	s.cache.Put(sess.Clone())
	return sess, nil
}

// ByWindow returns sessions whose arrival falls in [start, end), sorted by
// arrival. The scan is bounded by the visible date range, never by total
// record count.
func (s *Service) ByWindow(start, end time.Time) ([]models.Session, error) {
	all, err := s.store.ListSessions()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, sess := range all {
		if !sess.Arrival.Before(start) && sess.Arrival.Before(end) {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Arrival.Before(out[j].Arrival) })
	return out, nil
}

// OpenSessions returns every session without a departure.
func (s *Service) OpenSessions() ([]models.Session, error) {
	all, err := s.store.ListSessions()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, sess := range all {
		if sess.IsOpen() {
			out = append(out, sess)
		}
	}
	return out, nil
}

// ApplyRemote folds a remote session version into local state:
// last-write-wins on scalar fields, union by idempotency key on the
// activity log. It reports whether local state changed.
func (s *Service) ApplyRemote(remote *models.Session) (bool, error) {
	local, err := s.store.GetSession(remote.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return false, err
	}
	merged := models.MergeSession(local, remote)
	if local != nil && !models.RemoteWins(local, remote) && len(merged.Activities) == len(local.Activities) {
		return false, nil
	}
	if err := s.persist(merged); err != nil {
		return false, err
	}
	return true, nil
}

// ValidateIntervals re-checks the interval invariant across all stored
// sessions, as required after every merge. Violations are logged and
// counted; the records are kept (the merge is deterministic on every
// device) and staff resolve the double booking through the normal
// mutation paths.
func (s *Service) ValidateIntervals() []models.ConflictError {
	all, err := s.store.ListSessions()
	if err != nil {
		logging.Error().Err(err).Msg("Interval validation scan failed")
		return nil
	}
	byProfile := make(map[string][]models.Session)
	for _, sess := range all {
		byProfile[sess.ProfileID] = append(byProfile[sess.ProfileID], sess)
	}

	now := s.now()
	var conflicts []models.ConflictError
	for profileID, sessions := range byProfile {
		sort.Slice(sessions, func(i, j int) bool { return sessions[i].Arrival.Before(sessions[j].Arrival) })
		for i := range sessions {
			for j := i + 1; j < len(sessions); j++ {
				if sessions[i].Overlaps(&sessions[j], now) {
					conflicts = append(conflicts, models.ConflictError{
						ProfileID:            profileID,
						ConflictingSessionID: sessions[i].ID,
						Reason:               fmt.Sprintf("overlaps session %s after merge", sessions[j].ID),
					})
				}
			}
		}
	}
	for i := range conflicts {
		metrics.SyncInvariantViolations.Inc()
		logging.Warn().Str("profile_id", conflicts[i].ProfileID).
			Str("session_id", conflicts[i].ConflictingSessionID).
			Str("reason", conflicts[i].Reason).Msg("Interval invariant violated after merge")
	}
	return conflicts
}

// conflictFor checks candidate against the profile's other sessions.
// excludeID skips the candidate's own stored version during completion.
func (s *Service) conflictFor(candidate *models.Session, excludeID string) *models.ConflictError {
	siblings, err := s.store.SessionsForProfile(candidate.ProfileID)
	if err != nil {
		logging.Error().Err(err).Str("profile_id", candidate.ProfileID).Msg("Conflict scan failed")
		// Fail closed: without a reliable scan the invariant cannot be proven.
		return &models.ConflictError{
			ProfileID: candidate.ProfileID,
			Reason:    "conflict scan failed",
		}
	}
	now := s.now()
	for i := range siblings {
		sibling := &siblings[i]
		if sibling.ID == excludeID {
			continue
		}
		if candidate.IsOpen() && sibling.IsOpen() {
			return &models.ConflictError{
				ProfileID:            candidate.ProfileID,
				ConflictingSessionID: sibling.ID,
				Reason:               "an open session already exists",
			}
		}
		if candidate.Overlaps(sibling, now) {
			return &models.ConflictError{
				ProfileID:            candidate.ProfileID,
				ConflictingSessionID: sibling.ID,
				Reason:               "intervals overlap",
			}
		}
	}
	return nil
}

// persist writes to the store and refreshes the cache.
func (s *Service) persist(sess *models.Session) error {
	if err := s.store.PutSession(sess); err != nil {
		return err
	}
	s.cache.Put(sess.Clone())
	return nil
}
