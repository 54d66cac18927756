// Package cmd implements the kbengine command line interface.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ibimina/kbengine/internal/config"
	"github.com/ibimina/kbengine/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "kbengine",
	Short: "kbengine - knowledge base ingestion and retrieval engine",
	Long: `kbengine ingests documents into an embedded knowledge base and
resolves natural-language queries against it, falling back to keyword
search when the embedding provider is unavailable.

Run "kbengine serve" to start the HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads and validates configuration and builds the logger.
func loadConfig() (*config.Config, log.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})
	return cfg, logger, nil
}
