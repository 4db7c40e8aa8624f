package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/docpipe/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running docpipe server via HTTP.

These commands require a running server (docpipe serve).
Use --server to specify a custom server URL.

Examples:
  docpipe api health                 # Check server health
  docpipe api submit document.pdf    # Submit a document
  docpipe api jobs                   # List jobs
  docpipe api job <id>               # Get a specific job
  docpipe api watch                  # Stream live job updates`,
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8573", "Server URL",
	)

	for _, ep := range endpoints.All(endpoints.Config{}) {
		apiCmd.AddCommand(ep.Command(getServerURL))
	}

	rootCmd.AddCommand(apiCmd)
}
