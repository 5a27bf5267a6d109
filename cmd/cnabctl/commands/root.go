// Package commands implements the cnabctl CLI commands.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cnabflow/ingestor/internal/config"
	"github.com/cnabflow/ingestor/internal/logger"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "cnabctl",
	Short: "cnabctl - CNAB asynchronous ingestion pipeline",
	Long: `cnabctl runs and administers the CNAB ingestion pipeline: upload intake,
deduplication, object storage, queued line-by-line processing with
checkpointing, and recovery of uploads stuck mid-processing.

Use "cnabctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/cnabflow/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(uploadsCmd)
	rootCmd.AddCommand(transactionsCmd)
	rootCmd.AddCommand(configCmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// loadConfig loads the Config from the global --config flag and
// initializes the structured logger from it.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = defaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// defaultConfigPath returns $XDG_CONFIG_HOME/cnabflow/config.yaml (or
// $HOME/.config/cnabflow/config.yaml if XDG_CONFIG_HOME is unset).
func defaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dir = home + "/.config"
	}
	return dir + "/cnabflow/config.yaml"
}
