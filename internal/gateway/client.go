// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

// Package gateway talks to the remote data service. It carries no business
// logic: fetch-changed-since, fetch-by-window and push-record, each with
// bounded exponential-backoff retries. A malformed individual record is
// skipped and logged, never aborting the rest of a batch. After retries are
// exhausted the call fails with a Transient error kind that the
// orchestrator surfaces as "data may be stale", not a fatal error.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/kennelsync/kennelsync/internal/config"
	"github.com/kennelsync/kennelsync/internal/logging"
	"github.com/kennelsync/kennelsync/internal/metrics"
	"github.com/kennelsync/kennelsync/internal/models"
)

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics, preventing unbounded allocation on large error pages.
const maxErrorBodySize = 64 * 1024

// Gateway is the remote data service boundary. Implemented by Client for
// production, wrapped by BreakerClient, and mocked in orchestrator tests.
type Gateway interface {
	// FetchChangedProfiles returns profiles whose updated_at falls in
	// (since, until]. The window bound is the caller's responsibility.
	FetchChangedProfiles(ctx context.Context, since, until time.Time) ([]models.Profile, error)

	// FetchChangedSessions returns sessions whose updated_at falls in (since, until].
	FetchChangedSessions(ctx context.Context, since, until time.Time) ([]models.Session, error)

	// FetchSessionWindow returns sessions whose arrival falls in [start, end).
	FetchSessionWindow(ctx context.Context, start, end time.Time) ([]models.Session, error)

	// PushProfile upserts a profile; the remote assigns the confirmed updated_at.
	PushProfile(ctx context.Context, p *models.Profile) (*models.Profile, error)

	// PushSession upserts a session; the remote assigns the confirmed updated_at.
	PushSession(ctx context.Context, sess *models.Session) (*models.Session, error)

	// Ping probes reachability of the remote service.
	Ping(ctx context.Context) error
}

// Client is the HTTP implementation of Gateway.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	retryAttempts int
	retryDelay    time.Duration
}

// NewClient creates a gateway client from the remote configuration.
// Attempts are clamped to at least 1 so a request always runs even when the
// client is constructed without going through config validation.
func NewClient(cfg *config.RemoteConfig) *Client {
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		baseURL:       cfg.URL,
		apiKey:        cfg.APIKey,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		retryAttempts: attempts,
		retryDelay:    cfg.RetryDelay,
	}
}

// recordBatch is the wire envelope for fetch responses. Records stay raw so
// one malformed record can be skipped without losing the batch.
type recordBatch struct {
	Records []json.RawMessage `json:"records"`
}

// statusError marks a non-2xx response; 5xx and 429 are retryable.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("remote returned HTTP %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code >= 500 || e.code == http.StatusTooManyRequests
}

// retryWithBackoff executes fn with bounded exponential backoff. The context
// cancels waits between attempts. On exhaustion the last error is wrapped as
// Transient under op.
func (c *Client) retryWithBackoff(ctx context.Context, op string, fn func() error) error {
	var err error
	delay := c.retryDelay

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if ctx.Err() != nil {
			return &models.TransientError{Op: op, Err: ctx.Err()}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}

		if attempt < c.retryAttempts-1 {
			metrics.GatewayRetries.WithLabelValues(op).Inc()
			logging.Warn().Err(err).Str("operation", op).Int("attempt", attempt+1).
				Int("max_attempts", c.retryAttempts).Dur("delay", delay).Msg("Retrying gateway request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return &models.TransientError{Op: op, Err: ctx.Err()}
			}
			delay *= 2
		}
	}

	return &models.TransientError{Op: op, Err: err}
}

// isRetryable classifies an error as a transient network/timeout condition.
func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.retryable()
	}
	// Anything that is not an HTTP status rejection is a transport failure.
	return true
}

// doRequest performs one HTTP exchange and decodes the response into out.
func (c *Client) doRequest(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) error {
	start := time.Now()
	defer func() {
		metrics.GatewayRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	return c.retryWithBackoff(ctx, op, func() error {
		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}

		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("marshal request body: %w", err)
			}
			reader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("X-Api-Key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close() //nolint:errcheck // read-side close

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &statusError{code: resp.StatusCode, body: string(readBodyForError(resp.Body))}
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

// readBodyForError reads at most maxErrorBodySize bytes for diagnostics.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("... (truncated)")...)
	}
	return body
}

// decodeRecords unmarshals each raw record individually, skipping and
// logging malformed ones so a single bad record never aborts the batch.
func decodeRecords[T any](t models.EntityType, raw []json.RawMessage) []T {
	out := make([]T, 0, len(raw))
	for _, rec := range raw {
		var v T
		if err := json.Unmarshal(rec, &v); err != nil {
			derr := &models.DecodeError{Type: t, Err: err}
			metrics.GatewayDecodeSkips.WithLabelValues(string(t)).Inc()
			logging.Warn().Err(derr).Str("entity_type", string(t)).Msg("Skipping malformed remote record")
			continue
		}
		out = append(out, v)
	}
	return out
}

// FetchChangedProfiles implements Gateway.
func (c *Client) FetchChangedProfiles(ctx context.Context, since, until time.Time) ([]models.Profile, error) {
	var batch recordBatch
	query := changedQuery(since, until)
	if err := c.doRequest(ctx, "fetch_changed_profiles", http.MethodGet, "/api/v1/profiles/changed", query, nil, &batch); err != nil {
		return nil, err
	}
	return decodeRecords[models.Profile](models.EntityProfile, batch.Records), nil
}

// FetchChangedSessions implements Gateway.
func (c *Client) FetchChangedSessions(ctx context.Context, since, until time.Time) ([]models.Session, error) {
	var batch recordBatch
	query := changedQuery(since, until)
	if err := c.doRequest(ctx, "fetch_changed_sessions", http.MethodGet, "/api/v1/sessions/changed", query, nil, &batch); err != nil {
		return nil, err
	}
	return decodeRecords[models.Session](models.EntitySession, batch.Records), nil
}

// FetchSessionWindow implements Gateway.
func (c *Client) FetchSessionWindow(ctx context.Context, start, end time.Time) ([]models.Session, error) {
	query := url.Values{}
	query.Set("start", start.UTC().Format(time.RFC3339Nano))
	query.Set("end", end.UTC().Format(time.RFC3339Nano))
	var batch recordBatch
	if err := c.doRequest(ctx, "fetch_session_window", http.MethodGet, "/api/v1/sessions/window", query, nil, &batch); err != nil {
		return nil, err
	}
	return decodeRecords[models.Session](models.EntitySession, batch.Records), nil
}

// PushProfile implements Gateway.
func (c *Client) PushProfile(ctx context.Context, p *models.Profile) (*models.Profile, error) {
	var confirmed models.Profile
	if err := c.doRequest(ctx, "push_profile", http.MethodPost, "/api/v1/profiles", nil, p, &confirmed); err != nil {
		return nil, err
	}
	return &confirmed, nil
}

// PushSession implements Gateway.
func (c *Client) PushSession(ctx context.Context, sess *models.Session) (*models.Session, error) {
	var confirmed models.Session
	if err := c.doRequest(ctx, "push_session", http.MethodPost, "/api/v1/sessions", nil, sess, &confirmed); err != nil {
		return nil, err
	}
	return &confirmed, nil
}

// Ping implements Gateway.
func (c *Client) Ping(ctx context.Context) error {
	return c.doRequest(ctx, "ping", http.MethodGet, "/api/v1/ping", nil, nil, nil)
}

func changedQuery(since, until time.Time) url.Values {
	query := url.Values{}
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	query.Set("until", until.UTC().Format(time.RFC3339Nano))
	return query
}
