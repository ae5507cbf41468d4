// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/kennelsync/kennelsync/internal/logging"
	"github.com/kennelsync/kennelsync/internal/metrics"
	"github.com/kennelsync/kennelsync/internal/models"
)

// Run is the sync loop, suitable as a suture service. It executes a cycle
// on the configured interval and immediately on a foreground signal.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-o.foreground:
		}
		if err := o.SyncCycle(ctx); err != nil {
			logging.Warn().Err(err).Msg("Sync cycle failed, local data may be out of date")
		}
	}
}

// SyncCycle performs one incremental reconciliation with the remote store:
// replay queued local pushes, fetch changed records per type since the
// cursor (bounded by the configured window), merge with last-write-wins,
// re-validate the interval invariant, advance the cursors. Offline devices
// skip the cycle entirely; local mutations keep applying and stay queued.
func (o *Orchestrator) SyncCycle(ctx context.Context) error {
	o.syncMu.Lock()
	defer o.syncMu.Unlock()

	if !o.conn.Reachable() {
		metrics.SyncCycles.WithLabelValues("skipped_offline").Inc()
		logging.Debug().Msg("Offline, skipping sync cycle")
		return nil
	}

	start := o.now()
	defer func() {
		metrics.SyncCycleDuration.Observe(time.Since(start).Seconds())
	}()

	if err := o.replayPending(ctx); err != nil {
		o.setStale(true)
		metrics.SyncCycles.WithLabelValues("stale").Inc()
		return fmt.Errorf("replay pending pushes: %w", err)
	}

	until := o.now()
	if err := o.pullProfiles(ctx, until); err != nil {
		o.setStale(true)
		metrics.SyncCycles.WithLabelValues("stale").Inc()
		return fmt.Errorf("pull profiles: %w", err)
	}
	if err := o.pullSessions(ctx, until); err != nil {
		o.setStale(true)
		metrics.SyncCycles.WithLabelValues("stale").Inc()
		return fmt.Errorf("pull sessions: %w", err)
	}

	// The invariant is enforced locally at write time and re-validated
	// after every merge; a violation is surfaced, not fatal.
	o.sessions.ValidateIntervals()

	o.setStale(false)
	metrics.SyncCycles.WithLabelValues("ok").Inc()
	logging.Debug().Dur("duration", time.Since(start)).Msg("Sync cycle completed")
	return nil
}

// ResetSync clears an entity type's cursor. The next cycle refetches the
// full configured window. This is the only path that resets a cursor.
func (o *Orchestrator) ResetSync(t models.EntityType) error {
	o.syncMu.Lock()
	defer o.syncMu.Unlock()
	logging.Info().Str("entity_type", string(t)).Msg("Sync cursor reset, full resync scheduled")
	return o.store.ClearCursor(t)
}

// fetchSince bounds an incremental fetch: never before the configured
// window, never before the cursor.
func (o *Orchestrator) fetchSince(t models.EntityType, until time.Time) (time.Time, error) {
	cursor, err := o.store.Cursor(t)
	if err != nil {
		return time.Time{}, err
	}
	windowStart := until.AddDate(0, 0, -o.cfg.WindowDays)
	if cursor.Before(windowStart) {
		return windowStart, nil
	}
	return cursor, nil
}

func (o *Orchestrator) pullProfiles(ctx context.Context, until time.Time) error {
	since, err := o.fetchSince(models.EntityProfile, until)
	if err != nil {
		return err
	}
	remotes, err := o.gw.FetchChangedProfiles(ctx, since, until)
	if err != nil {
		return err
	}
	metrics.SyncRecordsFetched.WithLabelValues(string(models.EntityProfile)).Add(float64(len(remotes)))

	var maxUpdated time.Time
	for i := range remotes {
		remote := &remotes[i]
		if remote.UpdatedAt.After(maxUpdated) {
			maxUpdated = remote.UpdatedAt
		}
		if skip, serr := o.skipForPending(models.EntityProfile, remote.ID); serr != nil {
			return serr
		} else if skip {
			continue
		}
		unlock := o.locks.lock(profileLockKey(remote.ID))
		merged, merr := o.profiles.ApplyRemote(remote)
		unlock()
		if merr != nil {
			return merr
		}
		if merged {
			metrics.SyncRecordsMerged.WithLabelValues(string(models.EntityProfile)).Inc()
		} else {
			metrics.SyncRecordsSkipped.WithLabelValues(string(models.EntityProfile), "stale").Inc()
		}
	}
	return o.advanceCursor(models.EntityProfile, maxUpdated)
}

func (o *Orchestrator) pullSessions(ctx context.Context, until time.Time) error {
	since, err := o.fetchSince(models.EntitySession, until)
	if err != nil {
		return err
	}
	remotes, err := o.gw.FetchChangedSessions(ctx, since, until)
	if err != nil {
		return err
	}
	metrics.SyncRecordsFetched.WithLabelValues(string(models.EntitySession)).Add(float64(len(remotes)))

	var maxUpdated time.Time
	for i := range remotes {
		remote := &remotes[i]
		if remote.UpdatedAt.After(maxUpdated) {
			maxUpdated = remote.UpdatedAt
		}
		if skip, serr := o.skipForPending(models.EntitySession, remote.ID); serr != nil {
			return serr
		} else if skip {
			continue
		}
		unlock := o.locks.lock(sessionLockKey(remote.ID))
		merged, merr := o.sessions.ApplyRemote(remote)
		unlock()
		if merr != nil {
			return merr
		}
		if merged {
			metrics.SyncRecordsMerged.WithLabelValues(string(models.EntitySession)).Inc()
		} else {
			metrics.SyncRecordsSkipped.WithLabelValues(string(models.EntitySession), "stale").Inc()
		}
	}
	return o.advanceCursor(models.EntitySession, maxUpdated)
}

// skipForPending preserves unconfirmed local writes: a remote delta for an
// entity with a queued push is not merged; the local version re-pushes and
// the next cycle reconciles against the server-confirmed record.
func (o *Orchestrator) skipForPending(t models.EntityType, id string) (bool, error) {
	pending, err := o.store.PendingFor(t, id)
	if err != nil {
		return false, err
	}
	if pending {
		metrics.SyncRecordsSkipped.WithLabelValues(string(t), "pending_local").Inc()
	}
	return pending, nil
}

// advanceCursor moves the high-water mark to the latest UpdatedAt observed
// in the batch. An empty batch leaves the cursor untouched.
func (o *Orchestrator) advanceCursor(t models.EntityType, maxUpdated time.Time) error {
	if maxUpdated.IsZero() {
		return nil
	}
	current, err := o.store.Cursor(t)
	if err != nil {
		return err
	}
	if maxUpdated.After(current) {
		return o.store.SetCursor(t, maxUpdated)
	}
	return nil
}

// enqueueProfile records a pending push, superseding any queued one for the id.
func (o *Orchestrator) enqueueProfile(p *models.Profile) {
	o.enqueue(models.EntityProfile, p.ID, p)
}

// enqueueSession records a pending push, superseding any queued one for the id.
func (o *Orchestrator) enqueueSession(sess *models.Session) {
	o.enqueue(models.EntitySession, sess.ID, sess)
}

func (o *Orchestrator) enqueue(t models.EntityType, id string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Str("entity_type", string(t)).Str("id", id).
			Msg("Failed to marshal entity for push queue")
		return
	}
	if err := o.store.Enqueue(t, id, payload, o.now()); err != nil {
		logging.Error().Err(err).Str("entity_type", string(t)).Str("id", id).
			Msg("Failed to queue entity for push")
		return
	}
	o.updateQueueDepth(t)
}

func (o *Orchestrator) updateQueueDepth(t models.EntityType) {
	if count, err := o.store.PendingCount(t); err == nil {
		metrics.PendingQueueDepth.WithLabelValues(string(t)).Set(float64(count))
	}
}

// replayPending pushes queued local writes oldest-first, rate limited so a
// long-offline device does not flood the remote service. A confirmed push
// is dequeued and the server-assigned record folded back into local state.
func (o *Orchestrator) replayPending(ctx context.Context) error {
	for _, t := range models.EntityTypes {
		entries, err := o.store.Pending(t)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := o.limiter.Wait(ctx); err != nil {
				return &models.TransientError{Op: "replay pending", Err: err}
			}
			if err := o.pushOne(ctx, entry.Type, entry.ID, entry.Payload); err != nil {
				return err
			}
		}
		o.updateQueueDepth(t)
	}
	return nil
}

func (o *Orchestrator) pushOne(ctx context.Context, t models.EntityType, id string, payload []byte) error {
	var confirmErr error
	switch t {
	case models.EntityProfile:
		var p models.Profile
		if err := json.Unmarshal(payload, &p); err != nil {
			confirmErr = &models.DecodeError{Type: t, Err: err}
			break
		}
		confirmed, err := o.gw.PushProfile(ctx, &p)
		if err != nil {
			confirmErr = err
			break
		}
		unlock := o.locks.lock(profileLockKey(id))
		_, confirmErr = o.profiles.ApplyRemote(confirmed)
		unlock()
	case models.EntitySession:
		var sess models.Session
		if err := json.Unmarshal(payload, &sess); err != nil {
			confirmErr = &models.DecodeError{Type: t, Err: err}
			break
		}
		confirmed, err := o.gw.PushSession(ctx, &sess)
		if err != nil {
			confirmErr = err
			break
		}
		unlock := o.locks.lock(sessionLockKey(id))
		_, confirmErr = o.sessions.ApplyRemote(confirmed)
		unlock()
	default:
		confirmErr = fmt.Errorf("unknown entity type %s in push queue", t)
	}

	switch {
	case confirmErr == nil:
		metrics.PushAttempts.WithLabelValues(string(t), "confirmed").Inc()
		return o.store.Dequeue(t, id)
	case models.IsTransient(confirmErr):
		// Connectivity is gone again; keep the entry queued and stop.
		metrics.PushAttempts.WithLabelValues(string(t), "transient").Inc()
		return confirmErr
	default:
		// Permanent rejection: dequeue so one poisoned record cannot block
		// the queue, and surface it loudly for staff follow-up.
		metrics.PushAttempts.WithLabelValues(string(t), "rejected").Inc()
		logging.Error().Err(confirmErr).Str("entity_type", string(t)).Str("id", id).
			Msg("Push permanently rejected by remote; dropping from queue")
		return o.store.Dequeue(t, id)
	}
}
