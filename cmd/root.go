// Package cmd defines the CLI commands for the prospector executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prospector",
		Short: "A batch prospecting service for local business listings.",
		Long: `prospector collects business listings for a keyword and area,
deduplicates and enriches them with contact emails, and exports the
results to a shareable spreadsheet. Work is processed in bounded batches
so a single trigger never runs unbounded.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
