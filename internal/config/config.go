// Package config defines the gateway's configuration schema: one
// GatewayConfig struct loaded from CLI flags, environment variables, and an
// optional YAML file, in that precedence order, validated with struct tags.
package config

import (
	"fmt"

	"github.com/mcp-gateway/gateway/internal/domain/upstream"
)

// GatewayConfig is the top-level configuration for mcp-gateway.
type GatewayConfig struct {
	// Server configures the HTTP listener the proxy and management MCP
	// are served from.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Storage configures where capture records and server configuration
	// are persisted.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Auth configures the bearer-token check guarding proxied and
	// management requests. Optional: when TokenHash is empty, auth is
	// disabled (suitable for local development only).
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Servers declares the upstream MCP servers to register at startup, in
	// addition to whatever the storage backend already has persisted.
	Servers []upstream.Config `yaml:"servers" mapstructure:"servers" validate:"omitempty,dive"`

	// DevMode forces debug-level logging and installs the stdout trace and
	// metric exporters (see telemetry.Setup).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the gateway's own HTTP listener.
type ServerConfig struct {
	// Port is the TCP port to listen on. Defaults to 3333.
	Port int `yaml:"port" mapstructure:"port" validate:"omitempty,min=1,max=65535"`

	// LogLevel sets the minimum log level: "debug", "info", "warn", "error".
	// Defaults to "info".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// PublicURL is the externally-reachable base URL used to rewrite OAuth
	// discovery documents (spec §6). Defaults to "http://localhost:<port>".
	PublicURL string `yaml:"public_url" mapstructure:"public_url" validate:"omitempty,url"`
}

// StorageConfig configures the capture/server-config durable backend.
type StorageConfig struct {
	// Dir is the directory the storage backend owns. Defaults to
	// "${HOME}/.mcp-gateway".
	Dir string `yaml:"dir" mapstructure:"dir"`

	// Backend selects the primary storage.Backend implementation:
	// "sqlite" (default) or "memory" (test/ephemeral use only).
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=sqlite memory"`

	// SecondaryRedisAddr, if set, registers a redisstore.Store as an
	// additional write-fanout backend (spec's "fan writes to all backends"
	// invariant, §4.8). Never used for reads.
	SecondaryRedisAddr string `yaml:"secondary_redis_addr" mapstructure:"secondary_redis_addr"`
}

// AuthConfig configures the opaque bearer-token check.
type AuthConfig struct {
	// TokenHash is the argon2id hash of the accepted bearer token, as
	// produced by `mcp-gateway hash-key`. Empty disables auth entirely.
	TokenHash string `yaml:"token_hash" mapstructure:"token_hash"`
}

// SetDefaults fills in zero-valued optional fields with their documented
// defaults. Must run before Validate.
func (c *GatewayConfig) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3333
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.PublicURL == "" {
		c.Server.PublicURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "sqlite"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = defaultStorageDir()
	}

	for i := range c.Servers {
		c.Servers[i].Normalize()
	}
}
