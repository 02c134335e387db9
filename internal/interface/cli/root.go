// Package cli implements the progressd command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the progressd command tree.
func NewRootCommand(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "progressd",
		Short: "Fitness progress engine",
		Long: `progressd turns fitness activity events into XP, levels, category ranks
and achievements. Configuration is read from the environment.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newMigrateCmd(),
		newHistoryCmd(),
		newRulesCmd(),
	)
	return root
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	if err := NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
