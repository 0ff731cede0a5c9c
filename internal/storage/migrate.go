package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtySchema means an earlier migration stopped halfway. The file needs
// manual repair before the sync core can use it again.
var ErrDirtySchema = errors.New("database schema is dirty")

// RunMigrations brings the schema at dbPath up to date on its own
// connection, leaving the caller's pool untouched.
func RunMigrations(dbPath string) error {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer conn.Close()

	driver, err := sqlite.WithInstance(conn, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	err = m.Up()
	var dirty migrate.ErrDirty
	switch {
	case err == nil:
		version, _, _ := m.Version()
		slog.Info("Database schema migrated", "component", "storage", "version", version)
	case errors.Is(err, migrate.ErrNoChange):
		slog.Debug("Database schema up to date", "component", "storage")
	case errors.As(err, &dirty):
		return fmt.Errorf("%w at version %d", ErrDirtySchema, dirty.Version)
	default:
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
