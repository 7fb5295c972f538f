package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jmoiron/sqlx"

	_ "github.com/lib/pq"
)

// OpenPostgres opens a Postgres-backed Store at the given DSN and
// brings its schema up to date. Shares the sqlite backend's schema and
// query set; only the driver and dialect differ.
func OpenPostgres(ctx context.Context, dsn string, logger *log.Logger) (*Store, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres database: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	db := sqlx.NewDb(sqlDB, "postgres")
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := runMigrations(db.DB, "postgres"); err != nil {
		db.Close()
		return nil, err
	}

	if logger == nil {
		logger = log.New(os.Stderr)
	}
	return newStore(db, logger), nil
}
