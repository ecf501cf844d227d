// Package dbtest opens throwaway migrated SQLite databases for tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"autocmx/internal/db"
	"autocmx/internal/migrations"
)

// Open returns a fresh database in t's temp dir with all migrations applied.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cmxtests.db")
	if err := migrations.Run("sqlite", path); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	dbx, err := db.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = dbx.Close() })
	return dbx
}
