package upstream

import (
	"sort"
	"sync"
	"time"
)

// Registry is the live, in-memory source of truth for every configured
// server's RuntimeView. HealthMonitor writes health/process state into it,
// the proxy router records activity counters into it, and the management
// API and /health endpoint read snapshots from it. It holds no persistence
// of its own; Config changes are expected to flow through upstream.Store and
// be mirrored here via AddServer/RemoveServer.
type Registry struct {
	mu    sync.RWMutex
	views map[string]RuntimeView
}

// NewRegistry seeds a registry from the given configs, each starting in
// HealthUnknown until the first probe completes.
func NewRegistry(configs []Config) *Registry {
	views := make(map[string]RuntimeView, len(configs))
	for _, cfg := range configs {
		views[cfg.Name] = RuntimeView{Config: cfg, Health: HealthUnknown}
	}
	return &Registry{views: views}
}

// AddServer inserts or replaces the Config portion of a server's view,
// leaving its runtime-observed fields alone if it already existed.
func (r *Registry) AddServer(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	view, ok := r.views[cfg.Name]
	if !ok {
		view = RuntimeView{Health: HealthUnknown}
	}
	view.Config = cfg
	r.views[cfg.Name] = view
}

// RemoveServer drops a server's view entirely.
func (r *Registry) RemoveServer(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.views, name)
}

// SetHealth records the outcome of a health probe.
func (r *Registry) SetHealth(name string, health Health, checkedAt time.Time, stdio *StdioRuntime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	view, ok := r.views[name]
	if !ok {
		return
	}
	view.Health = health
	view.LastHealthCheck = checkedAt
	view.Stdio = stdio
	r.views[name] = view
}

// RecordActivity bumps the exchange counter and last-activity timestamp,
// called by the proxy router on every forwarded request.
func (r *Registry) RecordActivity(name string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	view, ok := r.views[name]
	if !ok {
		return
	}
	view.ExchangeCount++
	t := at
	view.LastActivity = &t
	r.views[name] = view
}

// Get returns one server's current view.
func (r *Registry) Get(name string) (RuntimeView, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	view, ok := r.views[name]
	return view, ok
}

// Snapshot returns every view, ordered by server name.
func (r *Registry) Snapshot() []RuntimeView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RuntimeView, 0, len(r.views))
	for _, view := range r.views {
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
