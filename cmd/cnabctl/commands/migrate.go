package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cnabflow/ingestor/internal/logger"
	"github.com/cnabflow/ingestor/internal/registry/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply pending PostgreSQL schema migrations for the upload registry.

Safe to run repeatedly: already-applied migrations are skipped.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	logger.Info("running database migrations", "host", cfg.Database.Host, "database", cfg.Database.Database)

	if err := postgres.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
		return err
	}

	logger.Info("database migrations applied")
	return nil
}
