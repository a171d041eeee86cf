// Package handlers contains the CLI commands and the wiring that assembles
// the application from its components.
package handlers

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "infodigest",
		Short: "infodigest aggregates RSS feeds, distills them into information units, and emails a curated daily digest.",
		Long: `infodigest polls RSS/Atom feeds, runs each article through a panel of
LLM agents that extract atomic information units, deduplicates and merges
those units, maintains an entity knowledge graph, and delivers a curated
HTML digest over email on a schedule.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewDigestCmd())
	rootCmd.AddCommand(NewFeedCmd())
	rootCmd.AddCommand(NewBackfillCmd())
	rootCmd.AddCommand(NewTelemetryCmd())
	rootCmd.AddCommand(NewServeCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
