package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mcp-gateway/gateway/internal/domain/upstream"
)

// serverListFile is the on-disk shape of the standalone server-list
// supplement: the same "servers:" section GatewayConfig.Servers uses, kept
// in its own file so operators can hand-edit declared upstreams without
// touching the rest of the gateway's configuration.
type serverListFile struct {
	Servers []upstream.Config `yaml:"servers"`
}

// LoadServerList reads the server-list supplement at path. A missing file
// is not an error - the supplement is optional, matching spec §3's note
// that upstream servers may be declared in config by more than one route.
func LoadServerList(path string) ([]upstream.Config, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: reading server list %q: %w", path, err)
	}

	var f serverListFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parsing server list %q: %w", path, err)
	}
	return f.Servers, nil
}

// SaveServerList writes servers back to path as the supplement format,
// grounded on the teacher's admin.Handler.saveConfig, which persists its
// own edited config back to YAML the same way after every change.
func SaveServerList(path string, servers []upstream.Config) error {
	if path == "" {
		return nil
	}
	data, err := yaml.Marshal(serverListFile{Servers: servers})
	if err != nil {
		return fmt.Errorf("config: marshaling server list: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
