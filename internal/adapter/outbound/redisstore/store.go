// Package redisstore is a secondary demonstration storage.Backend: it
// mirrors capture records into a capped Redis stream per server, showing
// the "fan writes to every registered backend" invariant (spec §4.8) with
// a real second transport. It is never configured as primary, so its read
// operations return an error rather than implement a second, competing
// query engine.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mcp-gateway/gateway/internal/domain/capture"
	"github.com/mcp-gateway/gateway/internal/domain/storage"
	"github.com/mcp-gateway/gateway/internal/domain/upstream"
)

// maxStreamLen bounds each per-server stream so a busy upstream's capture
// history can't grow Redis memory unboundedly; this is a demonstration
// backend, not the system of record.
const maxStreamLen = 10_000

// errNotPrimary is returned by read operations, which this backend never
// serves in practice (storage.Manager only calls them on index 0).
var errNotPrimary = errors.New("redisstore: read operations require this backend to be primary, which it never is by default")

// Store is a storage.Backend backed by Redis streams.
type Store struct {
	client *redis.Client
}

// New wraps an already-configured *redis.Client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func streamKey(serverName string) string {
	return "mcp-gateway:records:" + serverName
}

func (s *Store) WriteRecord(ctx context.Context, rec capture.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redisstore: marshal record: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(rec.ServerName),
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{"record": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redisstore: xadd: %w", err)
	}
	return nil
}

// BackfillServerInfo appends a synthetic follow-up entry carrying the
// revealed serverInfo, since Redis streams are append-only and the
// original entry for this request id cannot be mutated in place.
func (s *Store) BackfillServerInfo(ctx context.Context, serverName, sessionID, requestID string, info capture.ServerInfo) error {
	payload, err := json.Marshal(struct {
		Kind       string             `json:"kind"`
		SessionID  string             `json:"sessionId"`
		RequestID  string             `json:"requestId"`
		ServerInfo capture.ServerInfo `json:"serverInfo"`
	}{Kind: "backfill-server-info", SessionID: sessionID, RequestID: requestID, ServerInfo: info})
	if err != nil {
		return fmt.Errorf("redisstore: marshal backfill: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(serverName),
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{"record": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redisstore: xadd backfill: %w", err)
	}
	return nil
}

func (s *Store) QueryRecords(ctx context.Context, filter capture.Filter) ([]capture.Record, string, error) {
	return nil, "", errNotPrimary
}

func (s *Store) SaveServer(ctx context.Context, cfg upstream.Config) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("redisstore: marshal server: %w", err)
	}
	if err := s.client.HSet(ctx, "mcp-gateway:servers", cfg.Name, payload).Err(); err != nil {
		return fmt.Errorf("redisstore: hset server: %w", err)
	}
	return nil
}

func (s *Store) DeleteServer(ctx context.Context, name string) error {
	if err := s.client.HDel(ctx, "mcp-gateway:servers", name).Err(); err != nil {
		return fmt.Errorf("redisstore: hdel server: %w", err)
	}
	return nil
}

func (s *Store) ListServers(ctx context.Context) ([]upstream.Config, error) {
	return nil, errNotPrimary
}

func (s *Store) Close() error {
	return s.client.Close()
}

var _ storage.Backend = (*Store)(nil)
