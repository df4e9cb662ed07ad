// Package service hosts long-running domain services that sit above the
// adapters: components wired by the gateway facade but owned by neither a
// single inbound nor outbound adapter.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mcp-gateway/gateway/internal/domain/upstream"
)

// defaultProbeTimeout bounds how long a single HTTP health probe may take,
// independent of the server's configured request timeout (spec §4.9).
const defaultProbeTimeout = 5 * time.Second

// Prober performs a liveness check against an HTTP upstream. httpupstream.Client
// satisfies this.
type Prober interface {
	Probe(ctx context.Context, timeout time.Duration) error
}

// RuntimeReporter reports a stdio upstream's supervised process state.
// stdioproc.SessionManager satisfies this.
type RuntimeReporter interface {
	RuntimeSnapshot() upstream.StdioRuntime
}

// target is one server's health-check wiring: exactly one of prober or
// reporter is set, matching Config.Type.
type target struct {
	cfg      upstream.Config
	prober   Prober
	reporter RuntimeReporter
	cancel   context.CancelFunc
}

// HealthMonitor periodically probes every configured server and writes the
// outcome into a shared Registry (spec §4.9). HTTP servers are probed over
// the network; stdio servers are checked by inspecting their supervising
// SessionManager's last-known process state, since there is nothing to dial.
type HealthMonitor struct {
	registry *upstream.Registry
	log      *slog.Logger

	mu      sync.Mutex
	targets map[string]*target
}

// NewHealthMonitor constructs a monitor writing into registry.
func NewHealthMonitor(registry *upstream.Registry, log *slog.Logger) *HealthMonitor {
	return &HealthMonitor{
		registry: registry,
		log:      log,
		targets:  make(map[string]*target),
	}
}

// WatchHTTP starts periodic probing of an HTTP server. Calling it again for
// the same name replaces the previous watch (used when a server is re-added
// with new configuration).
func (h *HealthMonitor) WatchHTTP(ctx context.Context, cfg upstream.Config, prober Prober) {
	h.watch(ctx, &target{cfg: cfg, prober: prober})
}

// WatchStdio starts periodic checking of a stdio server's supervised state.
func (h *HealthMonitor) WatchStdio(ctx context.Context, cfg upstream.Config, reporter RuntimeReporter) {
	h.watch(ctx, &target{cfg: cfg, reporter: reporter})
}

func (h *HealthMonitor) watch(ctx context.Context, t *target) {
	h.mu.Lock()
	if existing, ok := h.targets[t.cfg.Name]; ok {
		existing.cancel()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	h.targets[t.cfg.Name] = t
	h.mu.Unlock()

	go h.loop(loopCtx, t)
}

// Unwatch stops probing a server, used when it is removed via the
// management API.
func (h *HealthMonitor) Unwatch(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.targets[name]; ok {
		t.cancel()
		delete(h.targets, name)
	}
}

func (h *HealthMonitor) loop(ctx context.Context, t *target) {
	interval := t.cfg.EffectiveHealthCheckInterval()
	h.probeOnce(ctx, t)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.probeOnce(ctx, t)
		}
	}
}

func (h *HealthMonitor) probeOnce(ctx context.Context, t *target) {
	now := time.Now()
	switch {
	case t.prober != nil:
		probeCtx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
		err := t.prober.Probe(probeCtx, defaultProbeTimeout)
		cancel()
		health := upstream.HealthUp
		if err != nil {
			health = upstream.HealthDown
			h.log.Warn("health probe failed", "server_name", t.cfg.Name, "error", err)
		}
		h.registry.SetHealth(t.cfg.Name, health, now, nil)

	case t.reporter != nil:
		snapshot := t.reporter.RuntimeSnapshot()
		health := upstream.HealthUp
		if snapshot.Status != upstream.ProcessRunning && snapshot.Status != upstream.ProcessIsolated {
			health = upstream.HealthDown
		}
		h.registry.SetHealth(t.cfg.Name, health, now, &snapshot)
	}
}

// Stop cancels every running watch.
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, t := range h.targets {
		t.cancel()
		delete(h.targets, name)
	}
}
