package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dockvault/dockpilot/internal/domain/auth"
)

var hashKeySHA256 bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate an Argon2id hash for an API key",
	Long: `Generate a hash of an API key for use in config.

The output is an Argon2id PHC string which can be used directly in the
auth.api_keys[].key_hash field. With --sha256 the output is "sha256:<hex>".

Example:
  dockpilot hash-key "my-secret-api-key"
  # Output: $argon2id$v=19$m=48128,t=1,p=1$...

Security note: The key will appear in shell history.
Consider clearing history after use or using environment variable:
  dockpilot hash-key "$MY_API_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if hashKeySHA256 {
			fmt.Fprintf(cmd.OutOrStdout(), "sha256:%s\n", auth.HashKey(args[0]))
			return nil
		}
		hash, err := auth.HashKeyArgon2id(args[0])
		if err != nil {
			return fmt.Errorf("hash key: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeySHA256, "sha256", false, "emit a sha256 digest instead of Argon2id")
	rootCmd.AddCommand(hashKeyCmd)
}
