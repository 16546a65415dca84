package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "arbiter",
		Short: "Arbiter - recipe dependency planner",
		Long: `Arbiter reads a tree of conda-style recipes (directories holding meta.yaml)
and computes a deterministic build plan for one target platform.

Features:
  - Platform selectors on requirements, patches and tests
  - Dependency graph with cycle detection and staged build order
  - Per-recipe patch sequencing for the target
  - Recipe lint policies via OPA/rego
  - Plan history in SQLite
  - Recipe tree diffs`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (.yaml or .cue)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newPatchesCommand())
	rootCmd.AddCommand(newBuildCommand())
	rootCmd.AddCommand(newDiffCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
