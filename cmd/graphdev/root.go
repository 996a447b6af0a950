package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/graphdev/internal/config"
	"github.com/ShayCichocki/graphdev/internal/logging"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "graphdev",
	Short: "Local development loop for a federated GraphQL supergraph",
	Long: `graphdev watches the subgraphs of a supergraph, recomposes the supergraph
schema whenever one of them changes, and keeps a local router serving the
latest schema that composed successfully.

Core capabilities:
- Watches schema files, running subgraphs and registry subgraphs
- Tolerates subgraphs that are temporarily down
- Hot-reloads the router without restarting it
- Lets other terminals join a running session with --attach`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default from config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (default from config)")

	rootCmd.AddCommand(devCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the process logger, letting flags override config.
func newLogger(cfg *config.Config) *slog.Logger {
	level, format := cfg.Logging.Level, cfg.Logging.Format
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}
	return logging.New(level, format)
}

// loadConfigOrDefault is for commands that only need logging settings.
func loadConfigOrDefault() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		return config.Default()
	}
	return cfg
}
