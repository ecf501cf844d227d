package migrations

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
)

//go:embed postgres/*.sql sqlite/*.sql
var fs embed.FS

// Run applies all up migrations for the given driver ("pgx" or "sqlite").
// dsn is a postgres:// URL or a sqlite file path. Every statement is
// idempotent so running against an existing database is safe.
func Run(driver, dsn string) error {
	dir, url, err := target(driver, dsn)
	if err != nil {
		return err
	}

	// iofs driver from embedded files
	d, err := iofs.New(fs, dir)
	if err != nil {
		return fmt.Errorf("iofs: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, url)
	if err != nil {
		return fmt.Errorf("migrate new: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func target(driver, dsn string) (dir, url string, err error) {
	if dsn == "" {
		return "", "", errors.New("database dsn is not set")
	}
	switch driver {
	case "pgx":
		return "postgres", dsn, nil
	case "sqlite":
		return "sqlite", "sqlite://" + dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", driver)
	}
}
