package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/queenflow/internal/client"
	"github.com/ShayCichocki/queenflow/internal/config"
	"github.com/ShayCichocki/queenflow/internal/logging"
)

var (
	serverURL string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "queenflow",
	Short: "Multi-agent orchestration server",
	Long: `queenflow runs a three-stage agent pipeline over an LLM.

A Queen agent analyzes each request, a Research agent investigates the
analysis, and an Implementation agent turns both into an execution plan.
Progress streams to clients as server-sent events, and every session,
memory and interaction is kept in SQLite.

Start the server with 'queenflow serve', then submit prompts with
'queenflow run', 'queenflow watch' or any HTTP client.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Server URL (default derived from server.addr)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads configuration and applies global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
}

// apiClient returns a client for --server, or for the configured listen address.
func apiClient(cfg *config.Config) *client.Client {
	return client.New(resolveServerURL(serverURL, cfg.Server.Addr))
}

// resolveServerURL turns a listen address like ":3001" into a dialable URL.
func resolveServerURL(flag, addr string) string {
	if flag != "" {
		return flag
	}
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	if strings.HasPrefix(host, "0.0.0.0:") {
		host = "localhost" + strings.TrimPrefix(host, "0.0.0.0")
	}
	return "http://" + host
}
