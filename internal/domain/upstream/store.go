package upstream

import (
	"context"
	"errors"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound is returned when a server with the given name does not exist.
	ErrNotFound = errors.New("upstream server not found")
	// ErrDuplicateName is returned when a server name already exists.
	ErrDuplicateName = errors.New("duplicate upstream server name")
)

// Store provides CRUD operations for upstream server configuration.
// This is a port in the hexagonal sense: the gateway facade depends on this
// interface, and the in-memory and SQLite-backed implementations satisfy it.
type Store interface {
	// List returns every configured server, ordered by name.
	List(ctx context.Context) ([]Config, error)
	// Get returns one server's configuration by its normalized name.
	// Returns ErrNotFound if no such server is configured.
	Get(ctx context.Context, name string) (*Config, error)
	// Add registers a new server. Returns ErrDuplicateName if the name is
	// already taken.
	Add(ctx context.Context, cfg *Config) error
	// Remove deletes a server by name. Returns ErrNotFound if it doesn't exist.
	Remove(ctx context.Context, name string) error
}
