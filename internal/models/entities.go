// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

// Package models defines the two core entities (Profile, Session), the
// activity log records attached to Sessions, the error taxonomy shared by
// every layer, and the last-write-wins merge rules used during sync.
package models

import (
	"fmt"
	"hash/fnv"
	"time"
)

// EntityType identifies one of the two synced entity families.
// The sync cursor, the cache and the pending-push queue are all keyed per type.
type EntityType string

const (
	EntityProfile EntityType = "profile"
	EntitySession EntityType = "session"
)

// EntityTypes lists every synced type in a stable order.
// Sync cycles iterate this slice so profiles merge before the sessions
// that reference them.
var EntityTypes = []EntityType{EntityProfile, EntitySession}

// Profile is the stable identity for a recurring client (an animal and its
// owner). It outlives any single Session.
//
// VisitCount and LastVisitDate are derived fields with exactly one writer:
// the profile service's RecordVisit, invoked when a linked Session completes.
// They are never recomputed by scanning Sessions.
type Profile struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	OwnerContact  string     `json:"owner_contact"`
	NeedsWalk     bool       `json:"needs_walk"`
	FedByFacility bool       `json:"fed_by_facility"`
	CareNotes     string     `json:"care_notes"`
	WalkingNotes  string     `json:"walking_notes"`
	VisitCount    int        `json:"visit_count"`
	LastVisitDate *time.Time `json:"last_visit_date,omitempty"`
	IsActive      bool       `json:"is_active"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// EntityID implements Entity.
func (p *Profile) EntityID() string { return p.ID }

// EntityUpdatedAt implements Entity.
func (p *Profile) EntityUpdatedAt() time.Time { return p.UpdatedAt }

// EntityKind implements Entity.
func (p *Profile) EntityKind() EntityType { return EntityProfile }

// ActivityKind enumerates the activity record categories staff can log
// against an open Session.
type ActivityKind string

const (
	ActivityFeeding     ActivityKind = "feeding"
	ActivityElimination ActivityKind = "elimination"
	ActivityMedication  ActivityKind = "medication"
	ActivityWalk        ActivityKind = "walk"
)

// ValidActivityKind reports whether k is one of the known activity kinds.
func ValidActivityKind(k ActivityKind) bool {
	switch k {
	case ActivityFeeding, ActivityElimination, ActivityMedication, ActivityWalk:
		return true
	}
	return false
}

// Activity is one immutable, timestamped log record inside a Session.
// Records are append-only; history is never rewritten.
//
// Key is the idempotency key (see ActivityKey). Two devices appending the
// same activity, or a replayed sync delta, collapse to a single record,
// while genuinely distinct concurrent appends both survive a merge.
type Activity struct {
	Key  string       `json:"key"`
	Kind ActivityKind `json:"kind"`
	At   time.Time    `json:"at"`
	Note string       `json:"note,omitempty"`
}

// ActivityKey builds the idempotency key for an activity record from its
// content: kind, timestamp (nanosecond precision, UTC) and a note hash.
func ActivityKey(kind ActivityKind, at time.Time, note string) string {
	h := fnv.New64a()
	h.Write([]byte(note)) //nolint:errcheck // fnv never errors
	return fmt.Sprintf("%s/%s/%x", kind, at.UTC().Format(time.RFC3339Nano), h.Sum64())
}

// Session is one bounded daycare/boarding occurrence linked to a Profile.
// ProfileID is a reference, not ownership: a Session never controls the
// Profile's lifetime and Profiles are never deleted while referenced.
//
// A Session with Departure == nil is an open interval [Arrival, now).
// Departure is only ever set by the session service's CompleteSession;
// in particular the day-rollover automation must never touch it.
type Session struct {
	ID             string     `json:"id"`
	ProfileID      string     `json:"profile_id"`
	Arrival        time.Time  `json:"arrival"`
	Departure      *time.Time `json:"departure,omitempty"`
	IsExtendedStay bool       `json:"is_extended_stay"`
	StayEndDate    *time.Time `json:"stay_end_date,omitempty"`
	Activities     []Activity `json:"activities,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// EntityID implements Entity.
func (s *Session) EntityID() string { return s.ID }

// EntityUpdatedAt implements Entity.
func (s *Session) EntityUpdatedAt() time.Time { return s.UpdatedAt }

// EntityKind implements Entity.
func (s *Session) EntityKind() EntityType { return EntitySession }

// IsOpen reports whether the session has no departure recorded yet.
func (s *Session) IsOpen() bool { return s.Departure == nil }

// Interval returns the session's occupancy interval [start, end).
// An open session extends to now.
func (s *Session) Interval(now time.Time) (time.Time, time.Time) {
	if s.Departure != nil {
		return s.Arrival, *s.Departure
	}
	end := now
	if end.Before(s.Arrival) {
		// Future booking with no departure yet: an empty interval at
		// arrival. It occupies nothing until the arrival day comes.
		end = s.Arrival
	}
	return s.Arrival, end
}

// Overlaps reports whether two sessions' occupancy intervals intersect.
// Two open sessions always overlap; otherwise each side is compared as the
// half-open interval from Interval, so an open session reaches only to now
// and a closed interval lying entirely in the future does not collide with it.
func (s *Session) Overlaps(other *Session, now time.Time) bool {
	if s.IsOpen() && other.IsOpen() {
		return true
	}
	aStart, aEnd := s.Interval(now)
	bStart, bEnd := other.Interval(now)
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// OverdueBasis returns the timestamp the rollover check compares against
// the current calendar day: StayEndDate for extended stays, Arrival otherwise.
// An extended stay without a StayEndDate has no basis yet and is never overdue.
func (s *Session) OverdueBasis() (time.Time, bool) {
	if s.IsExtendedStay {
		if s.StayEndDate == nil {
			return time.Time{}, false
		}
		return *s.StayEndDate, true
	}
	return s.Arrival, true
}

// Clone returns a deep copy so cached values never alias service state.
func (s *Session) Clone() *Session {
	dup := *s
	if s.Departure != nil {
		d := *s.Departure
		dup.Departure = &d
	}
	if s.StayEndDate != nil {
		d := *s.StayEndDate
		dup.StayEndDate = &d
	}
	if len(s.Activities) > 0 {
		dup.Activities = make([]Activity, len(s.Activities))
		copy(dup.Activities, s.Activities)
	}
	return &dup
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	dup := *p
	if p.LastVisitDate != nil {
		d := *p.LastVisitDate
		dup.LastVisitDate = &d
	}
	return &dup
}

// Entity is the common surface the cache, store and sync engine need from
// both entity families.
type Entity interface {
	EntityID() string
	EntityUpdatedAt() time.Time
	EntityKind() EntityType
}

// SameDay reports whether two timestamps fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// DayStart truncates t to midnight of its calendar day in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
