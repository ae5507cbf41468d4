// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

// Command kennelsyncd is the facility records daemon. It wires the local
// store, entity cache, remote gateway, orchestrator, automation scheduler
// and projection API, then runs them under a supervisor tree until SIGINT
// or SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kennelsync/kennelsync/internal/api"
	"github.com/kennelsync/kennelsync/internal/backup"
	"github.com/kennelsync/kennelsync/internal/cache"
	"github.com/kennelsync/kennelsync/internal/config"
	"github.com/kennelsync/kennelsync/internal/gateway"
	"github.com/kennelsync/kennelsync/internal/logging"
	"github.com/kennelsync/kennelsync/internal/models"
	"github.com/kennelsync/kennelsync/internal/orchestrator"
	"github.com/kennelsync/kennelsync/internal/profile"
	"github.com/kennelsync/kennelsync/internal/scheduler"
	"github.com/kennelsync/kennelsync/internal/session"
	"github.com/kennelsync/kennelsync/internal/store"
	"github.com/kennelsync/kennelsync/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Default logger; config is not available yet.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("remote_url", cfg.Remote.URL).
		Str("store_path", cfg.Store.Path).
		Int("window_days", cfg.Sync.WindowDays).
		Msg("Starting Kennelsync daemon")

	st, err := openStore(cfg)
	if err != nil {
		// Startup fails hard when the local store cannot open; everything
		// downstream depends on it.
		logging.Fatal().Err(err).Msg("Failed to open local store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing local store")
		}
	}()

	entityCache := cache.New(cfg.Cache.Capacity, cfg.Cache.SoftTTL)

	gw := gateway.NewBreakerClient(gateway.NewClient(&cfg.Remote))

	profiles := profile.NewService(st, entityCache, nil)
	sessions := session.NewService(st, entityCache, profiles, nil, nil)

	probe := orchestrator.NewProbe(false)
	orch := orchestrator.New(cfg.Sync, profiles, sessions, gw, st, entityCache, probe, nil, nil)

	sched := scheduler.NewTimerScheduler(nil, nil)
	backupMgr := backup.NewManager(orch, st, cfg.Backup.Dir, cfg.Backup.Keep, nil)
	if err := orch.RegisterJobs(sched, backupMgr, cfg.Backup, cfg.Rollover); err != nil {
		logging.Fatal().Err(err).Msg("Failed to schedule automation jobs")
	}

	monitor := orchestrator.NewMonitor(gw, probe, 30*time.Second)

	tree := supervisor.NewTree(slog.New(logging.NewSlogHandler()), supervisor.DefaultTreeConfig())
	tree.AddEngineService(supervisor.NewRunnerService("sync-loop", orch))
	tree.AddEngineService(supervisor.NewRunnerService("connectivity-monitor", monitor))
	tree.AddEngineService(supervisor.NewSchedulerService(sched))
	if cfg.API.Enabled {
		tree.AddAPIService(supervisor.NewRunnerService("projection-api", api.NewServer(cfg.API.Addr, orch)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
		cancel()
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}

	logging.Info().Msg("Kennelsync stopped")
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if cfg.Store.InMemory {
		return store.OpenInMemory()
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		var fatal *models.FatalError
		if errors.As(err, &fatal) {
			return nil, err
		}
		return nil, &models.FatalError{Op: "open store", Err: err}
	}
	return st, nil
}
