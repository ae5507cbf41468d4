// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

// Package scheduler abstracts the host's background-task facility behind a
// capability interface. The orchestrator registers named recurring tasks
// ("backup", "day-rollover") with a completion path and an expiration path
// and stays host-agnostic; TimerScheduler is the plain-timer host used by
// the daemon, other hosts can provide their own implementation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kennelsync/kennelsync/internal/logging"
)

// Task is one named recurring background job.
type Task struct {
	Name string

	// Interval between runs. For intervals of a day or longer the run is
	// aligned to PreferredHour local time.
	Interval time.Duration

	// PreferredHour aligns daily-or-longer tasks to an hour of the day.
	// Negative disables alignment.
	PreferredHour int

	// RunBudget bounds one invocation's wall time. When the budget is
	// exhausted the host revokes the run: OnRun's context expires and
	// OnExpire fires. The job must persist enough state to resume on the
	// next scheduled invocation rather than assume success.
	RunBudget time.Duration

	// OnRun executes the job. The context carries the run budget.
	OnRun func(ctx context.Context) error

	// OnExpire fires when the budget was exhausted before completion.
	// The task is rescheduled after either callback, so exactly one
	// instance is pending at any time.
	OnExpire func()
}

// Scheduler is the host background-task capability.
type Scheduler interface {
	// Schedule registers a task. Scheduling an already-registered name fails.
	Schedule(task Task) error

	// Cancel unregisters a task by name.
	Cancel(name string)

	// Stop cancels every task and waits for in-flight runs to finish.
	Stop()
}

// TimerScheduler runs tasks on plain timers, one goroutine per task.
type TimerScheduler struct {
	mu    sync.Mutex
	tasks map[string]chan struct{} // per-task stop channels
	wg    sync.WaitGroup

	now func() time.Time
	loc *time.Location
}

// NewTimerScheduler creates a timer-based scheduler. now and loc may be nil
// (time.Now / time.Local); tests inject both.
func NewTimerScheduler(now func() time.Time, loc *time.Location) *TimerScheduler {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &TimerScheduler{
		tasks: make(map[string]chan struct{}),
		now:   now,
		loc:   loc,
	}
}

// Schedule implements Scheduler.
func (s *TimerScheduler) Schedule(task Task) error {
	if task.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if task.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", task.Name)
	}
	if task.OnRun == nil {
		return fmt.Errorf("task %s: OnRun is required", task.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.Name]; exists {
		return fmt.Errorf("task %s is already scheduled", task.Name)
	}

	stop := make(chan struct{})
	s.tasks[task.Name] = stop
	s.wg.Add(1)
	go s.runLoop(task, stop)

	logging.Info().Str("task", task.Name).Dur("interval", task.Interval).Msg("Task scheduled")
	return nil
}

// Cancel implements Scheduler.
func (s *TimerScheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, exists := s.tasks[name]; exists {
		close(stop)
		delete(s.tasks, name)
	}
}

// Stop implements Scheduler.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	for name, stop := range s.tasks {
		close(stop)
		delete(s.tasks, name)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// runLoop is the per-task scheduler loop. The timer is re-armed only after
// a run finishes or expires, so exactly one instance is ever pending.
func (s *TimerScheduler) runLoop(task Task, stop <-chan struct{}) {
	defer s.wg.Done()

	timer := time.NewTimer(time.Until(s.nextRunTime(task)))
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
			s.runOnce(task)
			timer.Reset(time.Until(s.nextRunTime(task)))
		}
	}
}

// runOnce executes one budgeted invocation.
func (s *TimerScheduler) runOnce(task Task) {
	ctx := context.Background()
	cancel := context.CancelFunc(func() {})
	if task.RunBudget > 0 {
		ctx, cancel = context.WithTimeout(ctx, task.RunBudget)
	}
	defer cancel()

	err := task.OnRun(ctx)
	switch {
	case err == nil:
		logging.Debug().Str("task", task.Name).Msg("Task run completed")
	case errors.Is(err, context.DeadlineExceeded):
		logging.Warn().Str("task", task.Name).Dur("budget", task.RunBudget).Msg("Task run expired")
		if task.OnExpire != nil {
			task.OnExpire()
		}
	default:
		logging.Error().Err(err).Str("task", task.Name).Msg("Task run failed")
	}
}

// nextRunTime computes the next invocation time. Daily-or-longer intervals
// align to the preferred hour; shorter intervals simply add the interval.
func (s *TimerScheduler) nextRunTime(task Task) time.Time {
	now := s.now().In(s.loc)

	if task.Interval >= 24*time.Hour && task.PreferredHour >= 0 && task.PreferredHour <= 23 {
		next := time.Date(now.Year(), now.Month(), now.Day(),
			task.PreferredHour, 0, 0, 0, s.loc)
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}
		if task.Interval > 24*time.Hour {
			// The anchor day is the current run's day, not a fixed epoch:
			// a missed run of a multi-day task shifts subsequent runs
			// forward rather than catching up to the original cadence.
			days := int(task.Interval.Hours() / 24)
			next = next.Add(time.Duration(days-1) * 24 * time.Hour)
		}
		return next
	}

	return now.Add(task.Interval)
}
