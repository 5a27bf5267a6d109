package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for golang-migrate

	"github.com/cnabflow/ingestor/internal/logger"
	"github.com/cnabflow/ingestor/internal/registry/postgres/migrations"
)

// RunMigrations applies every pending migration against connString. It
// relies on golang-migrate's Postgres advisory locks to make concurrent
// runs from multiple replicas safe.
func RunMigrations(ctx context.Context, connString string) error {
	logger.InfoCtx(ctx, "running database migrations")

	db, err := sql.Open("pgx", connString)
	if err != nil {
		return fmt.Errorf("open database connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	driver, err := pgmigrate.WithInstance(db, &pgmigrate.Config{
		MigrationsTable: "schema_migrations",
		DatabaseName:    "cnabflow",
	})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("create migration source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		logger.WarnCtx(ctx, "database schema is in a dirty state", "version", version)
	} else {
		logger.InfoCtx(ctx, "migrations up to date", "version", version)
	}

	return nil
}
