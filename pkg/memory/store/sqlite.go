package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// init registers the sqlite3_memory driver with pragmas that matter for a single-writer,
// crash-recoverable embedded store, per pkg/db/sqlite.go's ConnectHook.
func init() {
	sql.Register("sqlite3_memory", &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			var errs []string
			pragmas := []string{
				"PRAGMA foreign_keys = ON",
				"PRAGMA busy_timeout = 5000",
				"PRAGMA journal_mode = WAL",
			}
			for _, p := range pragmas {
				if _, err := conn.Exec(p, nil); err != nil {
					errs = append(errs, fmt.Sprintf("%s: %v", p, err))
				}
			}
			if len(errs) > 0 {
				return fmt.Errorf("sqlite pragma errors: %s", strings.Join(errs, "; "))
			}
			return nil
		},
	})
}

// OpenSQLite opens (creating if necessary) a SQLite-backed Store at
// dbPath and brings its schema up to date.
func OpenSQLite(ctx context.Context, dbPath string, logger *log.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3_memory", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	db := sqlx.NewDb(sqlDB, "sqlite3")
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := runMigrations(db.DB, "sqlite3"); err != nil {
		db.Close()
		return nil, err
	}

	if logger == nil {
		logger = log.New(os.Stderr)
	}
	return newStore(db, logger), nil
}

// OpenInMemorySQLite opens an ephemeral SQLite store for tests.
func OpenInMemorySQLite(ctx context.Context, logger *log.Logger) (*Store, error) {
	return OpenSQLite(ctx, "file::memory:?cache=shared", logger)
}
