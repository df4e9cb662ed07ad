package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mcp-gateway/gateway/internal/domain/capture"
	"github.com/mcp-gateway/gateway/internal/domain/upstream"
)

// Manager registers one or more Backend implementations and fans write
// operations to all of them while routing reads to the first registered
// ("primary"). Grounded on the teacher's registered-servers cache pattern
// (§4.8), generalized from "one backend" to "a list, first is primary". No
// errgroup import: the teacher's dependency set doesn't carry one, so this
// uses a plain sync.WaitGroup plus an error slice, matching teacher style.
type Manager struct {
	mu       sync.RWMutex
	backends []Backend
	log      *slog.Logger
}

// NewManager creates an empty manager. Register backends with Register;
// the first one registered becomes primary for reads.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log}
}

// Register adds a backend. The first backend registered is the primary.
func (m *Manager) Register(b Backend) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backends = append(m.backends, b)
}

func (m *Manager) snapshot() []Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Backend, len(m.backends))
	copy(out, m.backends)
	return out
}

func (m *Manager) primary() (Backend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.backends) == 0 {
		return nil, errors.New("storage: no backend registered")
	}
	return m.backends[0], nil
}

// WriteRecord fans rec to every registered backend in parallel. Errors from
// individual backends are joined and returned; CapturePipeline logs and
// swallows them (writes are fire-and-forget from the proxy's perspective).
func (m *Manager) WriteRecord(ctx context.Context, rec capture.Record) error {
	backends := m.snapshot()
	if len(backends) == 0 {
		return errors.New("storage: no backend registered")
	}

	var wg sync.WaitGroup
	errs := make([]error, len(backends))
	for i, b := range backends {
		wg.Add(1)
		go func(i int, b Backend) {
			defer wg.Done()
			if err := b.WriteRecord(ctx, rec); err != nil {
				errs[i] = fmt.Errorf("backend %d: %w", i, err)
			}
		}(i, b)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// BackfillServerInfo fans the one permitted record mutation to every
// registered backend, the same way WriteRecord does.
func (m *Manager) BackfillServerInfo(ctx context.Context, serverName, sessionID, requestID string, info capture.ServerInfo) error {
	backends := m.snapshot()
	if len(backends) == 0 {
		return errors.New("storage: no backend registered")
	}

	var wg sync.WaitGroup
	errs := make([]error, len(backends))
	for i, b := range backends {
		wg.Add(1)
		go func(i int, b Backend) {
			defer wg.Done()
			if err := b.BackfillServerInfo(ctx, serverName, sessionID, requestID, info); err != nil {
				errs[i] = fmt.Errorf("backend %d: %w", i, err)
			}
		}(i, b)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// QueryRecords routes the read to the primary backend only.
func (m *Manager) QueryRecords(ctx context.Context, filter capture.Filter) ([]capture.Record, string, error) {
	b, err := m.primary()
	if err != nil {
		return nil, "", err
	}
	return b.QueryRecords(ctx, filter)
}

// SaveServer persists cfg to every registered backend.
func (m *Manager) SaveServer(ctx context.Context, cfg upstream.Config) error {
	backends := m.snapshot()
	if len(backends) == 0 {
		return errors.New("storage: no backend registered")
	}
	var errs []error
	for i, b := range backends {
		if err := b.SaveServer(ctx, cfg); err != nil {
			errs = append(errs, fmt.Errorf("backend %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// DeleteServer removes cfg's entry from every registered backend.
func (m *Manager) DeleteServer(ctx context.Context, name string) error {
	backends := m.snapshot()
	if len(backends) == 0 {
		return errors.New("storage: no backend registered")
	}
	var errs []error
	for i, b := range backends {
		if err := b.DeleteServer(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("backend %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// ListServers routes the read to the primary backend only, used at startup
// to repopulate the in-memory upstream.Store.
func (m *Manager) ListServers(ctx context.Context) ([]upstream.Config, error) {
	b, err := m.primary()
	if err != nil {
		return nil, err
	}
	return b.ListServers(ctx)
}

// Close closes every registered backend, joining any errors.
func (m *Manager) Close() error {
	backends := m.snapshot()
	var errs []error
	for i, b := range backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("backend %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

var _ capture.Storage = (*Manager)(nil)
