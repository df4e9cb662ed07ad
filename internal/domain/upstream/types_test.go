package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate_HTTP(t *testing.T) {
	cfg := &Config{Name: "remote-fs", Type: TypeHTTP, URL: "https://mcp.example.com/mcp"}
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate_Stdio_DefaultsSessionMode(t *testing.T) {
	cfg := &Config{Name: "local-fs", Type: TypeStdio, Command: "/usr/bin/npx", Args: []string{"server"}}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, SessionShared, cfg.SessionMode)
}

func TestConfig_Validate_RejectsBadName(t *testing.T) {
	cases := []string{"", "-leading-dash", "Has Space", "has/slash"}
	for _, name := range cases {
		cfg := &Config{Name: name, Type: TypeStdio, Command: "echo"}
		assert.Error(t, cfg.Validate(), "name %q should be rejected", name)
	}
}

func TestConfig_Validate_RejectsMissingURL(t *testing.T) {
	cfg := &Config{Name: "remote", Type: TypeHTTP}
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_RejectsNonHTTPScheme(t *testing.T) {
	cfg := &Config{Name: "remote", Type: TypeHTTP, URL: "ftp://example.com"}
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_RejectsMissingCommand(t *testing.T) {
	cfg := &Config{Name: "local", Type: TypeStdio}
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_RejectsUnknownSessionMode(t *testing.T) {
	cfg := &Config{Name: "local", Type: TypeStdio, Command: "echo", SessionMode: "bogus"}
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_RejectsUnknownType(t *testing.T) {
	cfg := &Config{Name: "x", Type: "carrier-pigeon"}
	assert.Error(t, cfg.Validate())
}

func TestConfig_Normalize(t *testing.T) {
	cfg := &Config{Name: "  Mixed-Case  "}
	cfg.Normalize()
	assert.Equal(t, "mixed-case", cfg.Name)
}

func TestConfig_EffectiveTimeouts(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, DefaultRequestTimeout, cfg.EffectiveRequestTimeout())
	assert.Equal(t, DefaultHealthCheckInterval, cfg.EffectiveHealthCheckInterval())
}
