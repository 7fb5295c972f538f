package store

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// runMigrations applies every pending goose migration for the given
// dialect ("sqlite3" or "postgres"), grounded on pkg/db/migrations.go's
// RunMigrations but trimmed to goose's own version tracking instead of
// the teacher's hand-rolled, now-redundant Migrator/Migration types.
func runMigrations(db *sql.DB, dialect string) error {
	goose.SetBaseFS(embeddedMigrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("setting goose dialect %q: %w", dialect, err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}
