// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

// Package config loads and validates the application configuration with
// layered sources (defaults, YAML file, environment variables) via Koanf v2.
package config

import "time"

// Config is the root application configuration.
type Config struct {
	Logging  LoggingConfig  `koanf:"logging"`
	Store    StoreConfig    `koanf:"store"`
	Remote   RemoteConfig   `koanf:"remote"`
	Sync     SyncConfig     `koanf:"sync"`
	Cache    CacheConfig    `koanf:"cache"`
	Backup   BackupConfig   `koanf:"backup"`
	Rollover RolloverConfig `koanf:"rollover"`
	API      APIConfig      `koanf:"api"`
}

// LoggingConfig controls the zerolog global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// StoreConfig controls the local BadgerDB store.
type StoreConfig struct {
	// Path is the directory for the Badger database.
	Path string `koanf:"path"`

	// InMemory runs the store without disk persistence. Testing only.
	InMemory bool `koanf:"in_memory"`
}

// RemoteConfig describes the remote data service.
type RemoteConfig struct {
	URL    string `koanf:"url"`
	APIKey string `koanf:"api_key"`

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration `koanf:"timeout"`

	// RetryAttempts bounds the exponential backoff retry loop.
	RetryAttempts int `koanf:"retry_attempts"`

	// RetryDelay is the initial backoff delay; it doubles per attempt.
	RetryDelay time.Duration `koanf:"retry_delay"`
}

// SyncConfig controls the incremental sync cycle.
type SyncConfig struct {
	// Interval between periodic sync cycles.
	Interval time.Duration `koanf:"interval"`

	// WindowDays bounds incremental fetches: a cycle never asks the remote
	// service for records older than now minus this window, even after a
	// cursor reset. This replaces the unbounded fetch-everything design.
	WindowDays int `koanf:"window_days"`

	// PushRate and PushBurst rate-limit the pending-queue replay after
	// connectivity returns, so a long-offline device does not flood the
	// remote service.
	PushRate  float64 `koanf:"push_rate"`
	PushBurst int     `koanf:"push_burst"`
}

// CacheConfig controls the in-memory entity cache.
type CacheConfig struct {
	Capacity int `koanf:"capacity"`

	// SoftTTL forces list views to refresh from the store periodically.
	// Zero disables TTL; correctness relies on explicit invalidation only.
	SoftTTL time.Duration `koanf:"soft_ttl"`
}

// BackupConfig controls the scheduled point-in-time export job.
type BackupConfig struct {
	Enabled bool   `koanf:"enabled"`
	Dir     string `koanf:"dir"`

	// Interval between backups. For intervals of a day or longer the job
	// runs at PreferredHour local time.
	Interval      time.Duration `koanf:"interval"`
	PreferredHour int           `koanf:"preferred_hour"`

	// Keep is the number of export snapshots retained.
	Keep int `koanf:"keep"`

	// RunBudget is the maximum wall time one backup run may take before the
	// scheduler expires it; an expired run resumes on the next invocation.
	RunBudget time.Duration `koanf:"run_budget"`
}

// RolloverConfig controls the day-boundary overdue check.
type RolloverConfig struct {
	// CheckInterval is how often the scheduler wakes to see whether the
	// local calendar day has advanced. The check itself runs at most once
	// per day transition and catches up idempotently after inactivity.
	CheckInterval time.Duration `koanf:"check_interval"`

	RunBudget time.Duration `koanf:"run_budget"`
}

// APIConfig controls the read-only projection HTTP server.
type APIConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Store: StoreConfig{
			Path:     "/data/kennelsync",
			InMemory: false,
		},
		Remote: RemoteConfig{
			URL:           "",
			APIKey:        "",
			Timeout:       15 * time.Second,
			RetryAttempts: 3,
			RetryDelay:    time.Second,
		},
		Sync: SyncConfig{
			Interval:   5 * time.Minute,
			WindowDays: 90,
			PushRate:   5,
			PushBurst:  10,
		},
		Cache: CacheConfig{
			Capacity: 2000,
			SoftTTL:  10 * time.Minute,
		},
		Backup: BackupConfig{
			Enabled:       true,
			Dir:           "/data/kennelsync/backups",
			Interval:      24 * time.Hour,
			PreferredHour: 3,
			Keep:          7,
			RunBudget:     5 * time.Minute,
		},
		Rollover: RolloverConfig{
			CheckInterval: time.Minute,
			RunBudget:     time.Minute,
		},
		API: APIConfig{
			Enabled: true,
			Addr:    ":8480",
		},
	}
}
