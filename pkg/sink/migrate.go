package sink

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies all pending schema migrations.
func Migrate(db *pgxpool.Pool, logger zerolog.Logger) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug().Msg("Schema up to date")
			return nil
		}
		return fmt.Errorf("migration up error: %w", err)
	}

	version, _, _ := m.Version()
	logger.Info().Uint("version", version).Msg("Schema migrated")
	return nil
}

// MigrateDown reverts every migration.
func MigrateDown(db *pgxpool.Pool, logger zerolog.Logger) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down error: %w", err)
	}
	logger.Info().Msg("Schema reverted")
	return nil
}

func newMigrator(db *pgxpool.Pool) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migration source error: %w", err)
	}

	driver, err := migratepgx.WithInstance(stdlib.OpenDBFromPool(db), &migratepgx.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver error: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	return m, nil
}
