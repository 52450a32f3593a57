// Package main implements the accdd CLI, which drives AI-assisted
// development cycles against a git repository.
package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

var (
	// projectDir is the repository the commands operate on
	projectDir string
	// configPath overrides config file discovery
	configPath string
	logLevel   string
	// version information
	version = "dev"
)

// errReported marks an error whose message was already printed.
var errReported = errors.New("command failed")

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			printFailure(os.Stderr, "%v", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "accdd",
	Short: "Run AI-assisted development cycles",
	Long: `accdd plans a project into development cycles and drives each cycle
through an agent coding session, tests, a committee of auditors and
acceptance tests before merging it into the integration branch.

Typical flow:
  accdd init
  accdd gen-cycles
  accdd run-cycle --id all
  accdd finalize-session`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectDir, "dir", ".", "project directory")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: accdd.yaml or ac_cdd.toml in the project)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")
}
