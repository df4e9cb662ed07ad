// Command mcp-gateway is the daemon entry point: it delegates to the cmd
// package's cobra root.
package main

import "github.com/mcp-gateway/gateway/cmd/mcpgatewayd/cmd"

func main() {
	cmd.Execute()
}
