package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags, shared across subcommands.
	dataDir       string
	storeBackend  string
	verbose       bool
	jsonOutput    bool
	policyEnabled bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "waivern",
		Short: "Waivern - artifact-centric compliance analysis orchestrator",
		Long: `Waivern runs compliance-analysis runbooks: a DAG of sources and
processors that extract, transform and validate evidence artifacts against
configured policy, with durable run state and resumable execution.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return os.MkdirAll(dataDir, 0o755)
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", ".waivern", "directory for state and artifact storage")
	rootCmd.PersistentFlags().StringVar(&storeBackend, "store", "", "store backend: memory or filesystem (state store additionally accepts sqlite); "+
		"default pairs a filesystem artifact store with a sqlite state store")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output machine-readable JSON instead of text")
	rootCmd.PersistentFlags().BoolVar(&policyEnabled, "policy", true, "evaluate built-in guardrail policies before running")

	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newResumeCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newListRunsCommand())

	return rootCmd
}
