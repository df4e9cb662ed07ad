package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

func defaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mcp-gateway"
	}
	return filepath.Join(home, ".mcp-gateway")
}

// InitViper wires config file discovery and MCP_GATEWAY_-prefixed
// environment variable overrides. If configFile is empty, standard
// locations are searched: ./mcp-gateway.yaml, $HOME/.mcp-gateway/config.yaml,
// /etc/mcp-gateway/config.yaml.
func InitViper(v *viper.Viper, configFile string) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		v.SetConfigFile(found)
	} else {
		v.SetConfigName("mcp-gateway")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("MCP_GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("server.port")
	_ = v.BindEnv("server.log_level")
	_ = v.BindEnv("server.public_url")
	_ = v.BindEnv("storage.dir")
	_ = v.BindEnv("storage.backend")
	_ = v.BindEnv("storage.secondary_redis_addr")
	_ = v.BindEnv("auth.token_hash")
	_ = v.BindEnv("dev_mode")
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	candidates := []string{
		"mcp-gateway.yaml",
		"mcp-gateway.yml",
		filepath.Join(home, ".mcp-gateway", "config.yaml"),
		"/etc/mcp-gateway/config.yaml",
	}
	for _, path := range candidates {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Load reads the configuration via v (already initialized by InitViper),
// applies defaults, and validates the result.
func Load(v *viper.Viper) (*GatewayConfig, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: failed to read config file: %w", err)
		}
	}

	var cfg GatewayConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}
