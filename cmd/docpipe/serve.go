package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docpipe/internal/config"
	"github.com/jackzampolin/docpipe/internal/home"
	"github.com/jackzampolin/docpipe/internal/server"
)

var (
	serveHost string
	servePort string
	logLevel  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the docpipe server",
	Long: `Start the docpipe HTTP server and pipeline workers.

The server owns an embedded SQLite job store under the docpipe home
directory. On startup, jobs orphaned by a previous run are requeued
and resume at the stage where they stopped.

Examples:
  docpipe serve                    # Start on default port 8573
  docpipe serve --port 3000        # Start on custom port
  docpipe serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		level := slog.LevelInfo
		if logLevel == "debug" {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		}))

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		cm, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cm.WatchConfig()

		srv, err := server.New(server.Config{
			Host:          serveHost,
			Port:          servePort,
			Home:          h,
			ConfigManager: cm,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8573", "Port to listen on")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: info or debug")

	rootCmd.AddCommand(serveCmd)
}
