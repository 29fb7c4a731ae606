// Package cmd provides the CLI commands for dockpilot.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dockvault/dockpilot/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "dockpilot",
	Short: "dockpilot - autonomous action approval for the docking platform",
	Long: `dockpilot decides whether actions proposed by the docking platform's
agent run automatically, wait for a human, or are skipped.

Decisions come from the configured autonomy level, the action's impact and
what reviewers approved or rejected before. Actions waiting for a human are
served on the operator API under /api/v1.

Quick start:
  1. Create a config file: dockpilot.yaml
  2. Run: dockpilot start

Configuration:
  Config is loaded from dockpilot.yaml in the current directory,
  $HOME/.dockpilot/, or /etc/dockpilot/.

  Environment variables can override config values with the DOCKPILOT_ prefix.
  Example: DOCKPILOT_AGENT_AUTONOMY_LEVEL=supervised

Commands:
  start       Start the agent and operator API
  stop        Stop the running server
  evaluate    Evaluate actions from a file without side effects
  hash-key    Generate an Argon2id hash for an API key
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./dockpilot.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
