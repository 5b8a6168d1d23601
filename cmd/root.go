// Package cmd provides the smartchat CLI commands.
//
// Commands:
//   - serve: HTTP API server backing the website chat widget
//   - probe: one-shot upstream connectivity check
//   - version: build information
//
// Signal handling and graceful shutdown are implemented via context
// cancellation.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/websmartco/smartchat/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "smartchat",
	Short: "smartchat - website chat widget backend",
	Long: `smartchat serves the API behind the Web Smart Co website chat widget:
AI completions with a business knowledge base, contact capture with email
transcripts, usage analytics, and WhatsApp handoff to a human agent.

Run 'smartchat serve' to start the HTTP API server.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger. DEBUG in the environment enables
// debug level; SMARTCHAT_LOG_JSON switches to JSON output.
func newLogger() log.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	if os.Getenv("SMARTCHAT_LOG_JSON") != "" {
		cfg.JSON = true
	}
	logger := log.New(cfg)
	slog.SetDefault(logger)
	return logger
}
