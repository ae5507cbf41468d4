// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/kennelsync/kennelsync/internal/logging"
	"github.com/kennelsync/kennelsync/internal/metrics"
	"github.com/kennelsync/kennelsync/internal/models"
)

// BreakerClient wraps a Gateway with a circuit breaker so a dead or slow
// remote service fails fast instead of stacking up timeouts behind every
// sync cycle. A rejected call is reported as Transient, which the
// orchestrator already maps to the stale-data indicator.
//
// The breaker uses real time for its interval and timeout calculations;
// tests exercise the wrapped client directly.
type BreakerClient struct {
	inner Gateway
	cb    *gobreaker.CircuitBreaker[interface{}]
	name  string
}

// NewBreakerClient wraps inner with a circuit breaker.
// Opens after a 60% failure rate over at least 10 requests; allows 3
// concurrent probes in half-open state; attempts recovery after 2 minutes.
func NewBreakerClient(inner Gateway) *BreakerClient {
	cbName := "remote-gateway"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", stateToString(from)).
				Str("to", stateToString(to)).Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerClient{inner: inner, cb: cb, name: cbName}
}

// execute routes a call through the breaker and normalizes rejections.
func (b *BreakerClient) execute(op string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			return nil, &models.TransientError{Op: op, Err: err}
		}
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	return result, nil
}

// castResult type-casts a breaker result with error checking.
func castResult[T any](result interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

// FetchChangedProfiles implements Gateway.
func (b *BreakerClient) FetchChangedProfiles(ctx context.Context, since, until time.Time) ([]models.Profile, error) {
	result, err := b.execute("fetch_changed_profiles", func() (interface{}, error) {
		return b.inner.FetchChangedProfiles(ctx, since, until)
	})
	return castResult[[]models.Profile](result, err)
}

// FetchChangedSessions implements Gateway.
func (b *BreakerClient) FetchChangedSessions(ctx context.Context, since, until time.Time) ([]models.Session, error) {
	result, err := b.execute("fetch_changed_sessions", func() (interface{}, error) {
		return b.inner.FetchChangedSessions(ctx, since, until)
	})
	return castResult[[]models.Session](result, err)
}

// FetchSessionWindow implements Gateway.
func (b *BreakerClient) FetchSessionWindow(ctx context.Context, start, end time.Time) ([]models.Session, error) {
	result, err := b.execute("fetch_session_window", func() (interface{}, error) {
		return b.inner.FetchSessionWindow(ctx, start, end)
	})
	return castResult[[]models.Session](result, err)
}

// PushProfile implements Gateway.
func (b *BreakerClient) PushProfile(ctx context.Context, p *models.Profile) (*models.Profile, error) {
	result, err := b.execute("push_profile", func() (interface{}, error) {
		return b.inner.PushProfile(ctx, p)
	})
	return castResult[*models.Profile](result, err)
}

// PushSession implements Gateway.
func (b *BreakerClient) PushSession(ctx context.Context, sess *models.Session) (*models.Session, error) {
	result, err := b.execute("push_session", func() (interface{}, error) {
		return b.inner.PushSession(ctx, sess)
	})
	return castResult[*models.Session](result, err)
}

// Ping implements Gateway.
func (b *BreakerClient) Ping(ctx context.Context) error {
	_, err := b.execute("ping", func() (interface{}, error) {
		return nil, b.inner.Ping(ctx)
	})
	return err
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
