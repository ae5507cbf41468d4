// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

package config

import (
	"fmt"
	"net/url"
	"time"
)

// Validate checks the configuration for consistency. It runs each section
// check in order and returns the first failure.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateStore,
		c.validateRemote,
		c.validateSync,
		c.validateCache,
		c.validateBackup,
		c.validateRollover,
		c.validateAPI,
	}
	for _, validator := range validators {
		if err := validator(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateStore() error {
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("store.path is required unless store.in_memory is set")
	}
	return nil
}

func (c *Config) validateRemote() error {
	if c.Remote.URL == "" {
		// Remote may be unset for a standalone (never-syncing) deployment;
		// the orchestrator then treats the device as permanently offline.
		return nil
	}
	parsed, err := url.Parse(c.Remote.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("remote.url must be a valid absolute URL, got: %s", c.Remote.URL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("remote.url scheme must be http or https, got: %s", parsed.Scheme)
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be positive, got: %s", c.Remote.Timeout)
	}
	if c.Remote.RetryAttempts < 1 {
		return fmt.Errorf("remote.retry_attempts must be at least 1, got: %d", c.Remote.RetryAttempts)
	}
	if c.Remote.RetryDelay <= 0 {
		return fmt.Errorf("remote.retry_delay must be positive, got: %s", c.Remote.RetryDelay)
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.Interval < 30*time.Second {
		return fmt.Errorf("sync.interval must be at least 30s, got: %s", c.Sync.Interval)
	}
	if c.Sync.WindowDays < 1 {
		return fmt.Errorf("sync.window_days must be at least 1, got: %d", c.Sync.WindowDays)
	}
	if c.Sync.PushRate <= 0 {
		return fmt.Errorf("sync.push_rate must be positive, got: %f", c.Sync.PushRate)
	}
	if c.Sync.PushBurst < 1 {
		return fmt.Errorf("sync.push_burst must be at least 1, got: %d", c.Sync.PushBurst)
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.Capacity < 1 {
		return fmt.Errorf("cache.capacity must be at least 1, got: %d", c.Cache.Capacity)
	}
	if c.Cache.SoftTTL < 0 {
		return fmt.Errorf("cache.soft_ttl must not be negative, got: %s", c.Cache.SoftTTL)
	}
	return nil
}

func (c *Config) validateBackup() error {
	if !c.Backup.Enabled {
		return nil
	}
	if c.Backup.Dir == "" {
		return fmt.Errorf("backup.dir is required when backup is enabled")
	}
	if c.Backup.Interval < time.Hour {
		return fmt.Errorf("backup.interval must be at least 1 hour, got: %s", c.Backup.Interval)
	}
	if c.Backup.PreferredHour < 0 || c.Backup.PreferredHour > 23 {
		return fmt.Errorf("backup.preferred_hour must be between 0 and 23, got: %d", c.Backup.PreferredHour)
	}
	if c.Backup.Keep < 1 {
		return fmt.Errorf("backup.keep must be at least 1, got: %d", c.Backup.Keep)
	}
	if c.Backup.RunBudget <= 0 {
		return fmt.Errorf("backup.run_budget must be positive, got: %s", c.Backup.RunBudget)
	}
	return nil
}

func (c *Config) validateRollover() error {
	if c.Rollover.CheckInterval <= 0 {
		return fmt.Errorf("rollover.check_interval must be positive, got: %s", c.Rollover.CheckInterval)
	}
	if c.Rollover.RunBudget <= 0 {
		return fmt.Errorf("rollover.run_budget must be positive, got: %s", c.Rollover.RunBudget)
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.Enabled && c.API.Addr == "" {
		return fmt.Errorf("api.addr is required when the API is enabled")
	}
	return nil
}
