// Package upstream contains domain types for configured MCP upstream
// servers: their static configuration and the runtime view computed on top
// of it (health, stdio process state, activity counters).
package upstream

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Type identifies the transport a configured server speaks.
type Type string

const (
	// TypeHTTP is a remote MCP server reached over HTTP Streamable transport.
	TypeHTTP Type = "http"
	// TypeStdio is a subprocess MCP server speaking newline-delimited JSON-RPC.
	TypeStdio Type = "stdio"
)

// SessionMode controls how a stdio server multiplexes MCP sessions onto
// subprocesses. Meaningless for HTTP servers.
type SessionMode string

const (
	// SessionShared routes every session through a single long-lived subprocess.
	SessionShared SessionMode = "shared"
	// SessionIsolated gives every session its own subprocess.
	SessionIsolated SessionMode = "isolated"
)

// Health is the liveness state HealthMonitor assigns a server.
type Health string

const (
	HealthUp      Health = "up"
	HealthDown    Health = "down"
	HealthUnknown Health = "unknown"
)

// ProcessStatus is the stdio-specific runtime state of a supervised process.
type ProcessStatus string

const (
	ProcessStopped  ProcessStatus = "stopped"
	ProcessRunning  ProcessStatus = "running"
	ProcessCrashed  ProcessStatus = "crashed"
	ProcessIsolated ProcessStatus = "isolated"
)

// namePattern enforces spec §3: alphanumeric plus hyphen/underscore, starting
// with an alphanumeric character. It accepts upper case; lowercasing is done
// by Normalize.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9\-_]*$`)

// DefaultRequestTimeout is the stdio per-request deadline (spec §4.4.5).
const DefaultRequestTimeout = 30 * time.Second

// DefaultHealthCheckInterval is HealthMonitor's default probe cadence (§4.9).
const DefaultHealthCheckInterval = 30 * time.Second

// MaxIsolatedSessions is the isolated-mode subprocess cap (§4.5).
const MaxIsolatedSessions = 100

// StderrRingSize bounds the retained stderr lines per stdio process (§3).
const StderrRingSize = 200

// Config is the static, persisted configuration of one upstream server.
// Exactly one transport's fields are populated, selected by Type.
type Config struct {
	// Name is the unique, normalized (lowercased, trimmed) server identifier
	// used in proxy paths (/servers/{name}/mcp).
	Name string `yaml:"name" json:"name"`
	Type Type   `yaml:"type" json:"type"`

	// HTTP transport fields.
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Stdio transport fields.
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Cwd     string            `yaml:"cwd,omitempty" json:"cwd,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	SessionMode SessionMode `yaml:"session_mode,omitempty" json:"session_mode,omitempty"`

	// RequestTimeout overrides DefaultRequestTimeout for this server's stdio
	// requests. Zero means "use the default".
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty" json:"request_timeout,omitempty"`

	// HealthCheckInterval overrides DefaultHealthCheckInterval. Zero means
	// "use the default".
	HealthCheckInterval time.Duration `yaml:"health_check_interval,omitempty" json:"health_check_interval,omitempty"`
}

// Normalize lowercases and trims Name in place, matching spec §3.
func (c *Config) Normalize() {
	c.Name = strings.ToLower(strings.TrimSpace(c.Name))
}

// Validate checks the invariants from spec §3.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !namePattern.MatchString(c.Name) {
		return fmt.Errorf("name %q must match ^[a-zA-Z0-9][a-zA-Z0-9-_]*$", c.Name)
	}

	switch c.Type {
	case TypeHTTP:
		if c.URL == "" {
			return fmt.Errorf("url is required for http server %q", c.Name)
		}
		parsed, err := url.Parse(c.URL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("url %q is not a valid absolute URL", c.URL)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("url scheme %q is not allowed, only http/https", parsed.Scheme)
		}
	case TypeStdio:
		if c.Command == "" {
			return fmt.Errorf("command is required for stdio server %q", c.Name)
		}
		switch c.SessionMode {
		case "", SessionShared:
			c.SessionMode = SessionShared
		case SessionIsolated:
			// valid as-is
		default:
			return fmt.Errorf("session_mode must be %q or %q", SessionShared, SessionIsolated)
		}
	default:
		return fmt.Errorf("type must be %q or %q, got %q", TypeHTTP, TypeStdio, c.Type)
	}
	return nil
}

// EffectiveRequestTimeout returns the configured stdio timeout or the default.
func (c *Config) EffectiveRequestTimeout() time.Duration {
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return DefaultRequestTimeout
}

// EffectiveHealthCheckInterval returns the configured probe cadence or the default.
func (c *Config) EffectiveHealthCheckInterval() time.Duration {
	if c.HealthCheckInterval > 0 {
		return c.HealthCheckInterval
	}
	return DefaultHealthCheckInterval
}

// StdioRuntime carries the process-specific attributes of spec §3's server
// runtime view. Only meaningful when Config.Type == TypeStdio.
type StdioRuntime struct {
	Status       ProcessStatus `json:"status"`
	PID          int           `json:"pid,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	StderrLogs   []string      `json:"stderr_logs,omitempty"`
	SessionCount int           `json:"session_count,omitempty"`
}

// RuntimeView is a Config plus the computed attributes spec §3 describes:
// health, timestamps, exchange count, and (for stdio) process state.
type RuntimeView struct {
	Config

	Health          Health     `json:"health"`
	LastHealthCheck time.Time  `json:"last_health_check"`
	LastActivity    *time.Time `json:"last_activity,omitempty"`
	ExchangeCount   int64      `json:"exchange_count"`

	Stdio *StdioRuntime `json:"stdio,omitempty"`
}
