// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/kennelsync/kennelsync/internal/gateway"
	"github.com/kennelsync/kennelsync/internal/logging"
)

// Connectivity is the reachability boundary consumed to gate sync cycles.
type Connectivity interface {
	// Reachable reports whether the remote service is currently reachable.
	Reachable() bool

	// OnChange registers a callback invoked on every reachability edge.
	OnChange(fn func(online bool))
}

// Probe is a settable Connectivity implementation. The daemon feeds it from
// the ping monitor; tests set it directly.
type Probe struct {
	mu        sync.RWMutex
	online    bool
	listeners []func(online bool)
}

// NewProbe creates a probe with the given initial state.
func NewProbe(online bool) *Probe {
	return &Probe{online: online}
}

// Reachable implements Connectivity.
func (p *Probe) Reachable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}

// OnChange implements Connectivity.
func (p *Probe) OnChange(fn func(online bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Set updates reachability, notifying listeners on an actual edge.
func (p *Probe) Set(online bool) {
	p.mu.Lock()
	changed := p.online != online
	p.online = online
	listeners := p.listeners
	p.mu.Unlock()

	if !changed {
		return
	}
	logging.Info().Bool("online", online).Msg("Connectivity changed")
	for _, fn := range listeners {
		fn(online)
	}
}

// Monitor polls the gateway's ping endpoint and feeds a Probe. It runs as a
// suture service.
type Monitor struct {
	gw       gateway.Gateway
	probe    *Probe
	interval time.Duration
}

// NewMonitor creates a connectivity monitor.
func NewMonitor(gw gateway.Gateway, probe *Probe, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{gw: gw, probe: probe, interval: interval}
}

// Run polls until the context is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	m.probe.Set(m.gw.Ping(pingCtx) == nil)
}
