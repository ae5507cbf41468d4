// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

package supervisor

import (
	"context"

	"github.com/kennelsync/kennelsync/internal/scheduler"
)

// Runner is any component with a context-bound run loop.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerService adapts a Runner to suture.Service.
type RunnerService struct {
	name   string
	runner Runner
}

// NewRunnerService wraps runner under the given name.
func NewRunnerService(name string, runner Runner) *RunnerService {
	return &RunnerService{name: name, runner: runner}
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.runner.Run(ctx)
}

// String implements fmt.Stringer for supervisor event logs.
func (s *RunnerService) String() string {
	return s.name
}

// SchedulerService hosts a TimerScheduler under supervision. The scheduler
// manages its own per-task goroutines; the service blocks until shutdown and
// then stops them.
type SchedulerService struct {
	sched *scheduler.TimerScheduler
}

// NewSchedulerService wraps sched as a suture service.
func NewSchedulerService(sched *scheduler.TimerScheduler) *SchedulerService {
	return &SchedulerService{sched: sched}
}

// Serve implements suture.Service.
func (s *SchedulerService) Serve(ctx context.Context) error {
	<-ctx.Done()
	s.sched.Stop()
	return ctx.Err()
}

// String implements fmt.Stringer.
func (s *SchedulerService) String() string {
	return "scheduler"
}
