// Package cli implements the deltaingestd command-line surface: a
// package-level rootCmd built up by each subcommand's own init(), with
// Execute as the single process entry point cmd/deltaingestd calls.
package cli

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "deltaingestd",
	Short: "Delta Lake write-path ingestion service",
	Long: `deltaingestd accepts records for registered tables, batches them per
table, and commits them as Delta Lake transactions against the configured
object store.

It includes an optimistic-concurrency commit coordinator, a bun+sqlite
entity metadata registry, and a background checkpointer.`,
	Version: "0.1.0",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the engine's YAML configuration file")
}
