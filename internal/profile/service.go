// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

// Package profile owns Profile entities: creation, updates, reads and the
// derived visit statistics. VisitCount and LastVisitDate have exactly one
// writer, RecordVisit, invoked by the session service when a linked Session
// completes; they are never recomputed by scanning.
package profile

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kennelsync/kennelsync/internal/cache"
	"github.com/kennelsync/kennelsync/internal/logging"
	"github.com/kennelsync/kennelsync/internal/models"
	"github.com/kennelsync/kennelsync/internal/store"
)

// Service owns Profile entities. All mutations arrive through the
// orchestrator's per-id serialization point; the service itself assumes
// at most one in-flight mutation per profile id.
type Service struct {
	store *store.Store
	cache *cache.EntityCache
	now   func() time.Time
}

// NewService creates a profile service. now may be nil (defaults to time.Now);
// tests inject a fixed clock.
func NewService(st *store.Store, c *cache.EntityCache, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: st, cache: c, now: now}
}

// NewProfileInput carries the caller-supplied fields for a new profile.
type NewProfileInput struct {
	Name          string
	OwnerContact  string
	NeedsWalk     bool
	FedByFacility bool
	CareNotes     string
	WalkingNotes  string
}

// Create registers a new profile. Called on first booking.
func (s *Service) Create(in NewProfileInput) (*models.Profile, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("profile name is required")
	}
	p := &models.Profile{
		ID:            uuid.New().String(),
		Name:          in.Name,
		OwnerContact:  in.OwnerContact,
		NeedsWalk:     in.NeedsWalk,
		FedByFacility: in.FedByFacility,
		CareNotes:     in.CareNotes,
		WalkingNotes:  in.WalkingNotes,
		IsActive:      true,
		UpdatedAt:     s.now(),
	}
	if err := s.persist(p); err != nil {
		return nil, err
	}
	logging.Info().Str("profile_id", p.ID).Str("name", p.Name).Msg("Profile created")
	return p.Clone(), nil
}

// Update replaces the caller-editable fields of an existing profile and
// bumps UpdatedAt. The derived statistics fields are preserved from the
// stored record regardless of what the caller passes.
func (s *Service) Update(p *models.Profile) (*models.Profile, error) {
	current, err := s.store.GetProfile(p.ID)
	if err != nil {
		return nil, err
	}
	updated := p.Clone()
	updated.VisitCount = current.VisitCount
	updated.LastVisitDate = current.LastVisitDate
	updated.UpdatedAt = s.now()
	if err := s.persist(updated); err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// Get returns a profile, consulting the cache before the store.
func (s *Service) Get(id string) (*models.Profile, error) {
	if cached, ok := s.cache.Get(models.EntityProfile, id); ok {
		if p, isProfile := cached.(*models.Profile); isProfile {
			return p.Clone(), nil
		}
	}
	p, err := s.store.GetProfile(id)
	if err != nil {
		return nil, err
	}
	s.cache.Put(p.Clone())
	return p, nil
}

// List returns stored profiles, optionally only active (non-retired) ones.
func (s *Service) List(activeOnly bool) ([]models.Profile, error) {
	all, err := s.store.ListProfiles()
	if err != nil {
		return nil, err
	}
	if !activeOnly {
		return all, nil
	}
	out := all[:0]
	for _, p := range all {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

// RecordVisit is the exclusive writer of the derived statistics fields.
// It increments VisitCount and sets LastVisitDate when a linked Session
// transitions to completed. No other path may touch these fields.
func (s *Service) RecordVisit(profileID string, visitDate time.Time) (*models.Profile, error) {
	p, err := s.store.GetProfile(profileID)
	if err != nil {
		return nil, err
	}
	p.VisitCount++
	v := visitDate
	p.LastVisitDate = &v
	p.UpdatedAt = s.now()
	if err := s.persist(p); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Retire marks a profile inactive. Profiles are never physically deleted
// while Sessions reference them; retirement is the only removal path.
func (s *Service) Retire(id string) (*models.Profile, error) {
	p, err := s.store.GetProfile(id)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return p, nil
	}
	p.IsActive = false
	p.UpdatedAt = s.now()
	if err := s.persist(p); err != nil {
		return nil, err
	}
	logging.Info().Str("profile_id", id).Msg("Profile retired")
	return p.Clone(), nil
}

// ApplyRemote folds a remote profile version into local state with
// last-write-wins. It reports whether the remote version was taken.
func (s *Service) ApplyRemote(remote *models.Profile) (bool, error) {
	local, err := s.store.GetProfile(remote.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return false, err
	}
	merged := models.MergeProfile(local, remote)
	if local != nil && !models.RemoteWins(local, remote) {
		return false, nil
	}
	if err := s.persist(merged); err != nil {
		return false, err
	}
	return true, nil
}

// persist writes to the store and refreshes the cache atomically from the
// caller's point of view: the orchestrator holds the per-id writer lock, so
// a concurrent read of this id observes either the pre- or post-write state.
func (s *Service) persist(p *models.Profile) error {
	if err := s.store.PutProfile(p); err != nil {
		return err
	}
	s.cache.Put(p.Clone())
	return nil
}
