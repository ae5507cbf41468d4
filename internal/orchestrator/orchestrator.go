// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

// Package orchestrator is the façade over the entity services, the cache,
// the local store and the remote gateway. It serializes every mutation into
// a single logical writer per entity id, drives the incremental sync cycle,
// queues local writes for push while offline, and runs the automation jobs
// (backup, day-rollover) through the host scheduler capability.
package orchestrator

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kennelsync/kennelsync/internal/cache"
	"github.com/kennelsync/kennelsync/internal/config"
	"github.com/kennelsync/kennelsync/internal/gateway"
	"github.com/kennelsync/kennelsync/internal/logging"
	"github.com/kennelsync/kennelsync/internal/metrics"
	"github.com/kennelsync/kennelsync/internal/models"
	"github.com/kennelsync/kennelsync/internal/profile"
	"github.com/kennelsync/kennelsync/internal/session"
	"github.com/kennelsync/kennelsync/internal/store"
)

// Orchestrator mediates all writes to Profile/Session and exclusively owns
// the sync cursors.
type Orchestrator struct {
	cfg      config.SyncConfig
	profiles *profile.Service
	sessions *session.Service
	gw       gateway.Gateway
	store    *store.Store
	cache    *cache.EntityCache
	conn     Connectivity

	locks keyedLocks

	// syncMu prevents concurrent sync cycle execution.
	syncMu sync.Mutex

	// limiter paces pending-queue replay after reconnection.
	limiter *rate.Limiter

	// staleMu guards the stale flag surfaced to the UI as
	// "data may be out of date".
	staleMu sync.RWMutex
	stale   bool

	now func() time.Time
	loc *time.Location

	foreground chan struct{}
}

// New wires the orchestrator. now and loc may be nil (time.Now/time.Local).
// A reconnect triggers an immediate sync cycle through the foreground signal.
func New(cfg config.SyncConfig, profiles *profile.Service, sessions *session.Service,
	gw gateway.Gateway, st *store.Store, c *cache.EntityCache, conn Connectivity,
	now func() time.Time, loc *time.Location) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	o := &Orchestrator{
		cfg:        cfg,
		profiles:   profiles,
		sessions:   sessions,
		gw:         gw,
		store:      st,
		cache:      c,
		conn:       conn,
		limiter:    rate.NewLimiter(rate.Limit(cfg.PushRate), cfg.PushBurst),
		now:        now,
		loc:        loc,
		foreground: make(chan struct{}, 1),
	}
	o.locks.init()
	conn.OnChange(func(online bool) {
		if online {
			logging.Info().Msg("Connectivity restored, scheduling sync cycle")
			o.NotifyForeground()
		}
	})
	return o
}

// keyedLocks serializes mutations per entity id. A read of an id with an
// in-flight write observes either the pre- or post-write state because the
// services apply store and cache updates before the lock is released and
// the remote push is attempted.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedLocks) init() {
	k.locks = make(map[string]*refLock)
}

// lock acquires the mutex for key and returns its release func.
func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	l, exists := k.locks[key]
	if !exists {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func profileLockKey(id string) string { return "profile/" + id }
func sessionLockKey(id string) string { return "session/" + id }

// CreateProfile registers a new profile and queues it for push.
func (o *Orchestrator) CreateProfile(in profile.NewProfileInput) (*models.Profile, error) {
	p, err := o.profiles.Create(in)
	if err != nil {
		return nil, err
	}
	o.enqueueProfile(p)
	return p, nil
}

// UpdateProfile updates a profile's caller-editable fields and queues it for push.
func (o *Orchestrator) UpdateProfile(p *models.Profile) (*models.Profile, error) {
	unlock := o.locks.lock(profileLockKey(p.ID))
	defer unlock()

	updated, err := o.profiles.Update(p)
	if err != nil {
		return nil, err
	}
	o.enqueueProfile(updated)
	return updated, nil
}

// RetireProfile logically retires a profile and queues it for push.
func (o *Orchestrator) RetireProfile(id string) (*models.Profile, error) {
	unlock := o.locks.lock(profileLockKey(id))
	defer unlock()

	p, err := o.profiles.Retire(id)
	if err != nil {
		return nil, err
	}
	o.enqueueProfile(p)
	return p, nil
}

// OpenSession books a session. The profile lock covers the interval
// invariant check: two concurrent bookings for the same profile serialize
// here, so at most one can pass the conflict scan.
func (o *Orchestrator) OpenSession(in session.OpenInput) (*models.Session, error) {
	unlock := o.locks.lock(profileLockKey(in.ProfileID))
	defer unlock()

	sess, err := o.sessions.Open(in)
	if err != nil {
		return nil, err
	}
	o.enqueueSession(sess)
	return sess, nil
}

// CompleteSession sets the departure and bumps the linked profile's derived
// statistics. Both entities' locks are held, profile first, so the pair of
// writes is observed atomically by other writers.
func (o *Orchestrator) CompleteSession(sessionID string, departure time.Time) (*models.Session, error) {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	unlockProfile := o.locks.lock(profileLockKey(sess.ProfileID))
	defer unlockProfile()
	unlockSession := o.locks.lock(sessionLockKey(sessionID))
	defer unlockSession()

	completed, err := o.sessions.Complete(sessionID, departure)
	if err != nil {
		return nil, err
	}
	o.enqueueSession(completed)

	if p, perr := o.profiles.Get(completed.ProfileID); perr == nil {
		o.enqueueProfile(p)
	} else {
		logging.Warn().Err(perr).Str("profile_id", completed.ProfileID).
			Msg("Completed session but could not queue profile push")
	}
	return completed, nil
}

// AppendActivity appends one immutable activity record to a session.
func (o *Orchestrator) AppendActivity(sessionID string, kind models.ActivityKind, at time.Time, note string) (*models.Session, error) {
	unlock := o.locks.lock(sessionLockKey(sessionID))
	defer unlock()

	sess, err := o.sessions.AppendActivity(sessionID, kind, at, note)
	if err != nil {
		return nil, err
	}
	o.enqueueSession(sess)
	return sess, nil
}

// NotifyForeground requests an immediate sync cycle from the run loop,
// coalescing with any already-pending request.
func (o *Orchestrator) NotifyForeground() {
	select {
	case o.foreground <- struct{}{}:
	default:
	}
}

// Stale reports whether the last sync attempt failed and local data may be
// out of date.
func (o *Orchestrator) Stale() bool {
	o.staleMu.RLock()
	defer o.staleMu.RUnlock()
	return o.stale
}

func (o *Orchestrator) setStale(v bool) {
	o.staleMu.Lock()
	o.stale = v
	o.staleMu.Unlock()
	if v {
		metrics.DataStale.Set(1)
	} else {
		metrics.DataStale.Set(0)
	}
}
