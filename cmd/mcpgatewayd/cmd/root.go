// Package cmd provides the CLI commands for mcp-gateway.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	storageDir string
	v          = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "mcp-gateway",
	Short: "mcp-gateway - observability and control plane for MCP traffic",
	Long: `mcp-gateway proxies Model Context Protocol traffic to one or more
upstream servers, capturing every request, response, and SSE event for
later inspection, while exposing the fleet's state over its own MCP
management surface.

Quick start:
  1. Create a config file: mcp-gateway.yaml
  2. Run: mcp-gateway run

Configuration is loaded from mcp-gateway.yaml in the current directory,
$HOME/.mcp-gateway/, or /etc/mcp-gateway/, in that order, with
MCP_GATEWAY_-prefixed environment variables overriding file values.
Example: MCP_GATEWAY_SERVER_PORT=9090`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./mcp-gateway.yaml)")
	rootCmd.PersistentFlags().StringVar(&storageDir, "storage-dir", "", "directory for captured records and server state (default: $HOME/.mcp-gateway)")
}
