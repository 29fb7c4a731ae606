package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dockvault/dockpilot/internal/config"
)

var (
	stopTimeout time.Duration
	stopForce   bool
)

var errNotRunning = errors.New("dockpilot is not running")

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running dockpilot server",
	Long: `Stop a running dockpilot server by reading its PID file and sending SIGTERM.

The server stops accepting requests, flushes queued journal records and exits.
If it is still running after --timeout it is killed. Pending approvals live in
memory and are lost either way.

The PID file location is server.pid_file in the config (default: ./dockpilot.pid).

Examples:
  # Stop the running server
  dockpilot stop

  # Allow a slow journal flush more time
  dockpilot stop --timeout 30s`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 10*time.Second, "how long to wait for a graceful exit before killing")
	stopCmd.Flags().BoolVar(&stopForce, "force", false, "kill immediately without a graceful shutdown")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	pidPath := cfg.Server.PIDFile
	out := cmd.ErrOrStderr()

	proc, err := runningServer(pidPath)
	if err != nil {
		return err
	}

	if stopForce {
		fmt.Fprintf(out, "Killing dockpilot (PID %d)...\n", proc.Pid)
		_ = proc.Kill()
		_ = os.Remove(pidPath)
		return nil
	}

	fmt.Fprintf(out, "Stopping dockpilot (PID %d)...\n", proc.Pid)
	if err := sendGracefulStop(proc); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}
	if waitForExit(proc, stopTimeout, 200*time.Millisecond) {
		_ = os.Remove(pidPath)
		fmt.Fprintln(out, "Server stopped.")
		return nil
	}

	fmt.Fprintf(out, "Server still running after %s, killing it...\n", stopTimeout)
	_ = proc.Kill()
	_ = os.Remove(pidPath)
	fmt.Fprintln(out, "Server killed.")
	return nil
}

// runningServer returns the live process recorded in the PID file. A PID
// file naming a dead process is removed.
func runningServer(pidPath string) (*os.Process, error) {
	pid := readPIDFile(pidPath)
	if pid == 0 {
		return nil, fmt.Errorf("%w: no PID file at %s", errNotRunning, pidPath)
	}
	proc, err := os.FindProcess(pid)
	if err != nil || !processIsAlive(proc) {
		_ = os.Remove(pidPath)
		return nil, fmt.Errorf("%w: process %d is gone (stale PID file removed)", errNotRunning, pid)
	}
	return proc, nil
}

// waitForExit polls until proc exits or timeout passes.
func waitForExit(proc *os.Process, timeout, poll time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		time.Sleep(poll)
		if !processIsAlive(proc) {
			return true
		}
	}
	return !processIsAlive(proc)
}

// writePIDFile records the current PID at path, creating parent directories.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

// readPIDFile returns the PID stored at path, or 0 if there is none.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}
