package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/docpipe/internal/api"
	"github.com/jackzampolin/docpipe/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "docpipe",
	Short: "Durable document processing pipeline",
	Long: `Docpipe runs documents through an extract, chunk, embed, and store
pipeline with durable job state.

Jobs survive process restarts: every stage transition is persisted
before the next stage begins, transient failures retry with backoff,
and duplicate chunks are stored once. Webhooks and a websocket stream
report progress as jobs move through the pipeline.`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.docpipe/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "docpipe home directory (default: ~/.docpipe)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
