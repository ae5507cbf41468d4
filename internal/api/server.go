// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

// Package api serves the read-only projection endpoints used by front-desk
// dashboards, plus health and Prometheus metrics. All writes go through the
// orchestrator; this surface never mutates entities.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kennelsync/kennelsync/internal/logging"
	"github.com/kennelsync/kennelsync/internal/orchestrator"
)

// Server hosts the projection API.
type Server struct {
	addr string
	orch *orchestrator.Orchestrator
	srv  *http.Server
}

// NewServer creates the projection API server bound to addr.
func NewServer(addr string, orch *orchestrator.Orchestrator) *Server {
	s := &Server{addr: addr, orch: orch}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/projections", func(r chi.Router) {
		r.Get("/present-today", s.handlePresentToday)
		r.Get("/by-window", s.handleByWindow)
		r.Get("/overdue", s.handleOverdue)
	})

	return r
}

// Run serves until the context is canceled, then drains in-flight requests.
// It satisfies the suture service contract.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("Projection API listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("Projection API shutdown error")
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
