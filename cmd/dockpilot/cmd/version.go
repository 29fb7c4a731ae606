package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/dockvault/dockpilot/internal/adapter/outbound/state"
)

// Set with -ldflags "-X github.com/dockvault/dockpilot/cmd/dockpilot/cmd.Version=...".
var (
	Version   = "0.1.0"
	Commit    = "none"
	BuildDate = "unknown"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the dockpilot version, the commit and date it was built from, and
the state.json schema version it reads and writes.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if versionShort {
			fmt.Fprintln(out, Version)
			return
		}
		fmt.Fprintf(out, "dockpilot %s (%s, built %s)\n", Version, Commit, BuildDate)
		fmt.Fprintf(out, "  state schema: %s\n", state.CurrentVersion)
		fmt.Fprintf(out, "  runtime:      %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print only the version number")
	rootCmd.AddCommand(versionCmd)
}
