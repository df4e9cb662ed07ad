// Package memstore provides in-memory implementations of the gateway's
// store ports, used by tests and as the default server registry (the
// server list itself is small and lives for the process lifetime; only
// capture records need durable storage).
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/mcp-gateway/gateway/internal/domain/upstream"
)

// UpstreamStore implements upstream.Store with an in-memory map, keyed by
// normalized server name. Thread-safe. Returns deep copies so callers can't
// mutate stored state through a returned pointer.
type UpstreamStore struct {
	mu      sync.RWMutex
	servers map[string]*upstream.Config
}

// NewUpstreamStore creates an empty in-memory server registry.
func NewUpstreamStore() *UpstreamStore {
	return &UpstreamStore{
		servers: make(map[string]*upstream.Config),
	}
}

// List returns every configured server, ordered by name.
func (s *UpstreamStore) List(ctx context.Context) ([]upstream.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]upstream.Config, 0, len(s.servers))
	for _, cfg := range s.servers {
		out = append(out, *copyConfig(cfg))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get returns one server's configuration by name.
func (s *UpstreamStore) Get(ctx context.Context, name string) (*upstream.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.servers[name]
	if !ok {
		return nil, upstream.ErrNotFound
	}
	return copyConfig(cfg), nil
}

// Add registers a new server.
func (s *UpstreamStore) Add(ctx context.Context, cfg *upstream.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.servers[cfg.Name]; exists {
		return upstream.ErrDuplicateName
	}
	s.servers[cfg.Name] = copyConfig(cfg)
	return nil
}

// Remove deletes a server by name.
func (s *UpstreamStore) Remove(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.servers[name]; !exists {
		return upstream.ErrNotFound
	}
	delete(s.servers, name)
	return nil
}

func copyConfig(cfg *upstream.Config) *upstream.Config {
	c := *cfg
	if cfg.Headers != nil {
		c.Headers = make(map[string]string, len(cfg.Headers))
		for k, v := range cfg.Headers {
			c.Headers[k] = v
		}
	}
	if cfg.Args != nil {
		c.Args = make([]string, len(cfg.Args))
		copy(c.Args, cfg.Args)
	}
	if cfg.Env != nil {
		c.Env = make(map[string]string, len(cfg.Env))
		for k, v := range cfg.Env {
			c.Env[k] = v
		}
	}
	return &c
}

var _ upstream.Store = (*UpstreamStore)(nil)
