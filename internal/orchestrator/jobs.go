// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

package orchestrator

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/kennelsync/kennelsync/internal/backup"
	"github.com/kennelsync/kennelsync/internal/config"
	"github.com/kennelsync/kennelsync/internal/logging"
	"github.com/kennelsync/kennelsync/internal/scheduler"
)

const (
	rolloverJobName  = "day-rollover"
	backupJobName    = "backup"
	rolloverStateKey = "rollover"
	dayKeyFormat     = "2006-01-02"
)

// rolloverState is the persisted once-per-day marker.
type rolloverState struct {
	LastDay string `json:"last_day"`
}

// RolloverJob runs the day-boundary check at most once per local calendar
// day. The scheduler invokes it frequently; the persisted day marker makes
// the frequent wakeups cheap and makes a missed transition (device asleep
// over midnight, or for several days) catch up idempotently on the next
// wakeup, because the check itself compares against today in absolute terms.
//
// The job never writes session records; see session.RolloverCheck.
func (o *Orchestrator) RolloverJob(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	today := o.now().In(o.loc)
	todayKey := today.Format(dayKeyFormat)

	state := rolloverState{}
	if data, found, err := o.store.JobState(rolloverStateKey); err != nil {
		return fmt.Errorf("load rollover state: %w", err)
	} else if found {
		if err := json.Unmarshal(data, &state); err != nil {
			return fmt.Errorf("decode rollover state: %w", err)
		}
	}
	if state.LastDay == todayKey {
		return nil
	}

	result, err := o.sessions.RolloverCheck(today)
	if err != nil {
		return err
	}
	logging.Info().Str("day", todayKey).Int("flagged", len(result.Flagged)).
		Msg("Day rollover processed")

	data, err := json.Marshal(rolloverState{LastDay: todayKey})
	if err != nil {
		return fmt.Errorf("encode rollover state: %w", err)
	}
	return o.store.SetJobState(rolloverStateKey, data)
}

// RegisterJobs schedules the two automation tasks on the host scheduler.
// Each is rescheduled by the scheduler after completion or expiration, so
// exactly one instance of each is pending at any time.
func (o *Orchestrator) RegisterJobs(sched scheduler.Scheduler, backupMgr *backup.Manager,
	bcfg config.BackupConfig, rcfg config.RolloverConfig) error {

	if err := sched.Schedule(scheduler.Task{
		Name:      rolloverJobName,
		Interval:  rcfg.CheckInterval,
		RunBudget: rcfg.RunBudget,
		OnRun:     o.RolloverJob,
		OnExpire: func() {
			// The day marker is only written after a completed run, so an
			// expired run retries naturally on the next wakeup.
			logging.Warn().Msg("Rollover run expired; will retry on next check")
		},
	}); err != nil {
		return fmt.Errorf("schedule %s: %w", rolloverJobName, err)
	}

	if bcfg.Enabled {
		if err := sched.Schedule(scheduler.Task{
			Name:          backupJobName,
			Interval:      bcfg.Interval,
			PreferredHour: bcfg.PreferredHour,
			RunBudget:     bcfg.RunBudget,
			OnRun:         backupMgr.Run,
			OnExpire:      backupMgr.OnExpire,
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", backupJobName, err)
		}
	}
	return nil
}
