// Package cli defines Cobra command definitions for the trellis CLI.
// This file contains the root command and version flag.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose bool
	version = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:   "trellis",
	Short: "Parallel thinking-session orchestrator",
	Long: `Trellis turns creative-thinking techniques into executable
dependency graphs and coordinates their concurrent execution:
independent steps run in parallel, partial results merge into a
shared context, and a convergence pass synthesizes the outcome.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Verbose returns true if --verbose flag is set.
func Verbose() bool {
	return verbose
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(techniquesCmd)
	rootCmd.AddCommand(cleanCmd)
}
