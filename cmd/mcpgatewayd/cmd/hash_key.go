package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcp-gateway/gateway/internal/domain/auth"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [token]",
	Short: "Generate an argon2id hash for a bearer token",
	Long: `Generate an argon2id hash of a bearer token for use as
MCP_GATEWAY_AUTH_TOKEN_HASH or auth.token_hash in config.

Example:
  mcp-gateway hash-key "my-secret-token"

If no token is given, a random 32-byte token is generated, hashed, and
both are printed.

Security note: a token passed as an argument appears in shell history.
Prefer piping it via an environment variable.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := ""
		if len(args) == 1 {
			token = args[0]
		} else {
			generated, err := auth.GenerateToken()
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}
			token = generated
			fmt.Printf("token:  %s\n", token)
		}

		hash, err := auth.HashToken(token)
		if err != nil {
			return fmt.Errorf("failed to hash token: %w", err)
		}
		fmt.Printf("hash:   %s\n", hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}
