package memstore

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/mcp-gateway/gateway/internal/domain/capture"
	"github.com/mcp-gateway/gateway/internal/domain/storage"
	"github.com/mcp-gateway/gateway/internal/domain/upstream"
)

// CaptureStore is an in-memory storage.Backend, used by tests and as the
// teacher's "testing in-memory backend" design note (§9) calls for. Not
// registered by default in a running gateway.
type CaptureStore struct {
	mu      sync.RWMutex
	records []capture.Record
	servers map[string]upstream.Config
}

// NewCaptureStore creates an empty in-memory backend.
func NewCaptureStore() *CaptureStore {
	return &CaptureStore{servers: make(map[string]upstream.Config)}
}

func (s *CaptureStore) WriteRecord(ctx context.Context, rec capture.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *CaptureStore) BackfillServerInfo(ctx context.Context, serverName, sessionID, requestID string, info capture.ServerInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		r := &s.records[i]
		if r.Direction == capture.DirectionRequest && r.ServerName == serverName &&
			r.SessionID == sessionID && r.ID == requestID {
			infoCopy := info
			r.ServerInfo = &infoCopy
		}
	}
	return nil
}

// QueryRecords filters in-memory records by filter, applying Limit and a
// simple offset cursor (the decimal index to resume from).
func (s *CaptureStore) QueryRecords(ctx context.Context, filter capture.Filter) ([]capture.Record, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]capture.Record, 0, len(s.records))
	for _, r := range s.records {
		if matchesFilter(r, filter) {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.Before(matched[j].Timestamp) })

	start := 0
	if filter.Cursor != "" {
		if n, err := strconv.Atoi(filter.Cursor); err == nil && n >= 0 {
			start = n
		}
	}
	if start > len(matched) {
		start = len(matched)
	}
	matched = matched[start:]

	limit := filter.Limit
	if limit <= 0 || limit > len(matched) {
		limit = len(matched)
	}

	page := matched[:limit]
	nextCursor := ""
	if limit < len(matched) {
		nextCursor = strconv.Itoa(start + limit)
	}
	return page, nextCursor, nil
}

func matchesFilter(r capture.Record, f capture.Filter) bool {
	if !f.StartTime.IsZero() && r.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && r.Timestamp.After(f.EndTime) {
		return false
	}
	if f.ServerName != "" && r.ServerName != f.ServerName {
		return false
	}
	if f.SessionID != "" && r.SessionID != f.SessionID {
		return false
	}
	if f.Method != "" && r.Method != f.Method {
		return false
	}
	if f.Direction != "" && r.Direction != f.Direction {
		return false
	}
	return true
}

func (s *CaptureStore) SaveServer(ctx context.Context, cfg upstream.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[cfg.Name] = cfg
	return nil
}

func (s *CaptureStore) DeleteServer(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.servers, name)
	return nil
}

func (s *CaptureStore) ListServers(ctx context.Context) ([]upstream.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]upstream.Config, 0, len(s.servers))
	for _, cfg := range s.servers {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *CaptureStore) Close() error { return nil }

var _ storage.Backend = (*CaptureStore)(nil)
