package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scenarios",
		Short: "Scenario run orchestrator",
		Long: `scenarios replays scripted detection scenarios against a detection
pipeline, scores what the pipeline reports and streams every run live.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newServeCmd(),
		newScenariosCmd(),
		newVersionCmd(),
	)
	return rootCmd
}
