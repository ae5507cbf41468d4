// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

// Package metrics declares the Prometheus collectors instrumenting the
// sync engine, the cache, the remote gateway and the automation jobs.
// All collectors are registered via promauto and exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync cycle metrics
	SyncCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kennelsync_sync_cycle_duration_seconds",
			Help:    "Duration of full sync cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kennelsync_sync_cycles_total",
			Help: "Total sync cycles by outcome (ok, stale, skipped_offline)",
		},
		[]string{"outcome"},
	)

	SyncRecordsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kennelsync_sync_records_fetched_total",
			Help: "Remote records fetched per entity type",
		},
		[]string{"entity_type"},
	)

	SyncRecordsMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kennelsync_sync_records_merged_total",
			Help: "Remote records merged into local state per entity type",
		},
		[]string{"entity_type"},
	)

	SyncRecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kennelsync_sync_records_skipped_total",
			Help: "Records skipped during sync (decode errors, stale, pending-local)",
		},
		[]string{"entity_type", "reason"},
	)

	SyncInvariantViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kennelsync_sync_invariant_violations_total",
			Help: "Interval-invariant violations detected after a merge",
		},
	)

	// Pending push queue metrics
	PendingQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kennelsync_pending_queue_depth",
			Help: "Entities queued for push per entity type",
		},
		[]string{"entity_type"},
	)

	PushAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kennelsync_push_attempts_total",
			Help: "Push attempts per entity type and outcome",
		},
		[]string{"entity_type", "outcome"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kennelsync_cache_hits_total",
			Help: "Cache hits per entity type",
		},
		[]string{"entity_type"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kennelsync_cache_misses_total",
			Help: "Cache misses per entity type",
		},
		[]string{"entity_type"},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kennelsync_cache_evictions_total",
			Help: "Entries evicted from the entity cache",
		},
	)

	CacheStaleRejects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kennelsync_cache_stale_rejects_total",
			Help: "Cache puts rejected because the incoming updated_at was not newer",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kennelsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kennelsync_circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by result",
		},
		[]string{"name", "result"},
	)

	// Gateway metrics
	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kennelsync_gateway_request_duration_seconds",
			Help:    "Duration of remote gateway requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	GatewayRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kennelsync_gateway_retries_total",
			Help: "Gateway retry attempts per operation",
		},
		[]string{"operation"},
	)

	GatewayDecodeSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kennelsync_gateway_decode_skips_total",
			Help: "Malformed remote records skipped per entity type",
		},
		[]string{"entity_type"},
	)

	// Automation job metrics
	RolloverRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kennelsync_rollover_runs_total",
			Help: "Day-rollover check runs by outcome",
		},
		[]string{"outcome"},
	)

	RolloverFlagged = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kennelsync_rollover_flagged_sessions",
			Help: "Open sessions currently flagged overdue",
		},
	)

	BackupRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kennelsync_backup_runs_total",
			Help: "Backup job runs by outcome (confirmed, expired, failed)",
		},
		[]string{"outcome"},
	)

	BackupLastConfirmed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kennelsync_backup_last_confirmed_timestamp_seconds",
			Help: "Unix timestamp of the last confirmed backup",
		},
	)

	// Staleness indicator: set while the last sync attempt ended Transient.
	DataStale = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kennelsync_data_stale",
			Help: "1 when the last sync attempt failed and local data may be out of date",
		},
	)
)
