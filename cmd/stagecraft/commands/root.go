package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stagecraft/stagecraft/pkg/telemetry"
)

var (
	// Global flags
	workDir   string
	stateDir  string
	logLevel  string
	logFormat string
)

// State artifacts kept under the state directory.
const (
	stateFileName    = "state.json"
	rollbackFileName = "rollback.json"
	journalFileName  = "journal.db"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stagecraft",
		Short: "Stagecraft - resumable deployment phase orchestrator",
		Long: `Stagecraft drives a system deployment as an ordered sequence of phases.

Every completed phase is recorded in a durable state file, so an
interrupted deployment resumes where it stopped instead of starting
over. Dependencies between phases are validated before each execution,
failed phases can be retried, skipped, or rolled back to the snapshot
taken before the run began, and every run leaves a queryable journal.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&workDir, "workdir", ".", "deployment working directory")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "state directory (default <workdir>/.stagecraft)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")

	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

// resolveStateDir applies the default state location under the workdir.
func resolveStateDir() string {
	if stateDir != "" {
		return stateDir
	}
	return filepath.Join(workDir, ".stagecraft")
}

// newLogger builds the logger for commands that do not need the full
// telemetry stack.
func newLogger() (*telemetry.Logger, error) {
	return telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  logLevel,
		Format: logFormat,
		Output: "stderr",
	})
}
