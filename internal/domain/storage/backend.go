// Package storage defines the backend capability interface and the manager
// that fans writes to every registered backend while routing reads to the
// first-registered ("primary") one, per spec §4.8.
package storage

import (
	"context"

	"github.com/mcp-gateway/gateway/internal/domain/capture"
	"github.com/mcp-gateway/gateway/internal/domain/upstream"
)

// Backend is one durable store for capture records and server
// configuration. Implementations: sqlitestore (primary), memstore
// (in-memory, used by tests), redisstore (secondary demonstration backend).
type Backend interface {
	WriteRecord(ctx context.Context, rec capture.Record) error
	BackfillServerInfo(ctx context.Context, serverName, sessionID, requestID string, info capture.ServerInfo) error

	// QueryRecords returns records matching filter and an opaque cursor for
	// the next page ("" when there are no more results). Only ever called
	// on the primary backend.
	QueryRecords(ctx context.Context, filter capture.Filter) ([]capture.Record, string, error)

	SaveServer(ctx context.Context, cfg upstream.Config) error
	DeleteServer(ctx context.Context, name string) error

	// ListServers returns every persisted server configuration. Only ever
	// called on the primary backend.
	ListServers(ctx context.Context) ([]upstream.Config, error)

	Close() error
}
