// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/kennelsync/kennelsync/internal/config"
	"github.com/kennelsync/kennelsync/internal/models"
)

func newTestClient(url string) *Client {
	return NewClient(&config.RemoteConfig{
		URL:           url,
		APIKey:        "test-key",
		Timeout:       5 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	})
}

func TestZeroRetryAttemptsStillRequestsOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(&config.RemoteConfig{
		URL:           srv.URL,
		RetryAttempts: 0,
		RetryDelay:    time.Millisecond,
	})

	_, err := c.FetchChangedProfiles(context.Background(), time.Time{}, time.Now())
	if !models.IsTransient(err) {
		t.Errorf("Expected TransientError after exhaustion, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected exactly 1 attempt with clamped retries, got %d", got)
	}
}

func TestFetchChangedProfiles(t *testing.T) {
	var gotSince, gotUntil, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/profiles/changed" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		gotSince = r.URL.Query().Get("since")
		gotUntil = r.URL.Query().Get("until")
		gotKey = r.Header.Get("X-Api-Key")
		w.Header().Set("Content-Type", "application/json")
		//nolint:errcheck
		w.Write([]byte(`{"records":[
			{"id":"p1","name":"Rex","updated_at":"2026-08-20T10:00:00Z"},
			{"id":"p2","name":"Bella","updated_at":"2026-08-20T11:00:00Z"}
		]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	since := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	profiles, err := c.FetchChangedProfiles(context.Background(), since, until)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("Expected 2 profiles, got %d", len(profiles))
	}
	if profiles[0].Name != "Rex" {
		t.Errorf("Expected Rex, got %s", profiles[0].Name)
	}
	if gotSince != since.Format(time.RFC3339Nano) || gotUntil != until.Format(time.RFC3339Nano) {
		t.Errorf("Window not forwarded: since=%s until=%s", gotSince, gotUntil)
	}
	if gotKey != "test-key" {
		t.Errorf("Expected API key header, got %q", gotKey)
	}
}

func TestFetchZeroSinceOmitted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("since") {
			t.Error("Zero since must not be sent")
		}
		//nolint:errcheck
		w.Write([]byte(`{"records":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.FetchChangedProfiles(context.Background(), time.Time{}, time.Now()); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
}

func TestFetchSkipsMalformedRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		//nolint:errcheck
		w.Write([]byte(`{"records":[
			{"id":"s1","profile_id":"p1","arrival":"2026-08-20T08:00:00Z","updated_at":"2026-08-20T08:00:00Z"},
			{"id":"s2","arrival":"not-a-timestamp"},
			{"id":"s3","profile_id":"p1","arrival":"2026-08-20T09:00:00Z","updated_at":"2026-08-20T09:00:00Z"}
		]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	sessions, err := c.FetchChangedSessions(context.Background(), time.Time{}, time.Now())
	if err != nil {
		t.Fatalf("Batch must survive one malformed record: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 decodable sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "s1" || sessions[1].ID != "s3" {
		t.Errorf("Expected s1 and s3, got %s and %s", sessions[0].ID, sessions[1].ID)
	}
}

func TestRetryExhaustionIsTransient(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.FetchChangedProfiles(context.Background(), time.Time{}, time.Now())
	if err == nil {
		t.Fatal("Expected error after retry exhaustion")
	}
	if !models.IsTransient(err) {
		t.Errorf("Exhausted retries must surface as Transient, got %T: %v", err, err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.FetchChangedProfiles(context.Background(), time.Time{}, time.Now())
	if err == nil {
		t.Fatal("Expected error on 400")
	}
	if models.IsTransient(err) {
		t.Error("A 4xx rejection must not be Transient")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected no retries on 4xx, got %d attempts", got)
	}
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		//nolint:errcheck
		w.Write([]byte(`{"records":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.FetchChangedProfiles(context.Background(), time.Time{}, time.Now()); err != nil {
		t.Fatalf("Expected success on third attempt: %v", err)
	}
}

func TestPushProfileReturnsConfirmed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/profiles" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		var p models.Profile
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("Failed to decode push body: %v", err)
		}
		// The remote assigns the confirmed timestamp.
		p.UpdatedAt = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
		w.Header().Set("Content-Type", "application/json")
		//nolint:errcheck
		json.NewEncoder(w).Encode(p)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	confirmed, err := c.PushProfile(context.Background(), &models.Profile{ID: "p1", Name: "Rex"})
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if confirmed.ID != "p1" || confirmed.UpdatedAt.IsZero() {
		t.Errorf("Expected confirmed record with server timestamp, got %+v", confirmed)
	}
}

func TestFetchSessionWindowQuery(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/sessions/window" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("start") != start.Format(time.RFC3339Nano) ||
			r.URL.Query().Get("end") != end.Format(time.RFC3339Nano) {
			t.Errorf("Window bounds not forwarded: %s", r.URL.RawQuery)
		}
		//nolint:errcheck
		w.Write([]byte(`{"records":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.FetchSessionWindow(context.Background(), start, end); err != nil {
		t.Fatalf("Window fetch failed: %v", err)
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/ping" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
