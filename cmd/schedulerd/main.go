// Command schedulerd is the scheduler daemon's CLI front-end: start
// launches the daemon in the foreground, stop/execute are lightweight
// clients that talk to a running instance over its control channel, and
// status reads that instance's ledger directly (spec.md §7, "Out of
// scope ... CLI front-end").
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/swarmguard/schedulerd/internal/instanceregistry"
)

var rootCmd = &cobra.Command{
	Use:   "schedulerd",
	Short: "A cron-and-dependency job scheduler daemon.",
}

func init() {
	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, executeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// instanceDir is the fixed directory instanceregistry.Registry uses to
// track running instances across all schedulerd CLI invocations on this
// host. Grounded on config.py's `instance` subdirectory of the
// application's own install path; since a Go binary has no equivalent
// fixed install path, this is rooted under the user's home directory
// instead.
func instanceDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".schedulerd", "instances")
}

// resolveConfigPath looks up the config file path recorded for a
// running instance by scheduler name.
func resolveConfigPath(schedulerName string) (string, error) {
	ir, err := instanceregistry.Open(instanceDir())
	if err != nil {
		return "", err
	}
	return ir.ConfigPath(schedulerName)
}
