// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/kennelsync/kennelsync/internal/logging"
	"github.com/kennelsync/kennelsync/internal/models"
)

// healthResponse reports liveness plus the staleness indicator so dashboards
// can show "data may be out of date" without a separate endpoint.
type healthResponse struct {
	Status string `json:"status"`
	Stale  bool   `json:"stale"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Stale: s.orch.Stale()})
}

func (s *Server) handlePresentToday(w http.ResponseWriter, _ *http.Request) {
	profiles, err := s.orch.PresentToday()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, profileList(profiles))
}

// handleByWindow returns profiles with a session arriving in [start, end).
// Both bounds are required, RFC 3339.
func (s *Server) handleByWindow(w http.ResponseWriter, r *http.Request) {
	start, err := parseTimeParam(r, "start")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	end, err := parseTimeParam(r, "end")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	profiles, err := s.orch.ProfilesByWindow(start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, profileList(profiles))
}

func (s *Server) handleOverdue(w http.ResponseWriter, _ *http.Request) {
	sessions, err := s.orch.OverdueSessions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func profileList(profiles []models.Profile) map[string]interface{} {
	if profiles == nil {
		profiles = []models.Profile{}
	}
	return map[string]interface{}{
		"profiles": profiles,
		"count":    len(profiles),
	}
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, &paramError{name: name, reason: "required"}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, &paramError{name: name, reason: "must be RFC 3339"}
	}
	return t, nil
}

type paramError struct {
	name   string
	reason string
}

func (e *paramError) Error() string {
	return "query parameter " + e.name + ": " + e.reason
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // HTTP response write errors are not recoverable
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		logging.Error().Err(err).Msg("Projection request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
