// Package store implements the Store: transactional CRUD over
// conversation windows, atomic facts, and compression stats, backed by
// either SQLite or Postgres through a shared sqlx.DB.
//
// Grounded on pkg/db/sqlite.go's Store wrapper (connection setup,
// logger field, migrations-on-open) and pkg/db/migrations.go's
// goose+embed.FS migration runner; adapted from a single
// SQLite-specific store into a dialect-agnostic one sharing one schema
// and one query set, since both backends are named explicitly in
// spec.md §6.2.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jmoiron/sqlx"

	"github.com/eternisai/atomic-memory/pkg/memory"
)

// Store provides transactional CRUD over the memory engine's persisted
// rows. Writers are serialised by writeMu; readers may run freely
// alongside each other and alongside at most one writer.
type Store struct {
	db      *sqlx.DB
	logger  *log.Logger
	writeMu chan struct{} // 1-buffered mutex-as-channel, select-friendly for cancellation
}

func newStore(db *sqlx.DB, logger *log.Logger) *Store {
	mu := make(chan struct{}, 1)
	mu <- struct{}{}
	return &Store{db: db, logger: logger, writeMu: mu}
}

// lock acquires the write lock, respecting ctx cancellation so callers
// never block past the caller's deadline.
func (s *Store) lock(ctx context.Context) error {
	select {
	case <-s.writeMu:
		return nil
	case <-ctx.Done():
		return &memory.ErrCancelled{Op: "store write"}
	}
}

func (s *Store) unlock() {
	s.writeMu <- struct{}{}
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying sqlx handle for callers (e.g. the CLI)
// that need raw access for diagnostics.
func (s *Store) DB() *sqlx.DB { return s.db }

type factRow struct {
	ID                string         `db:"id"`
	AgentID           string         `db:"agent_id"`
	Statement         string         `db:"statement"`
	Keywords          string         `db:"keywords"`
	Persons           string         `db:"persons"`
	Entities          string         `db:"entities"`
	Topic             sql.NullString `db:"topic"`
	Timestamp         sql.NullString `db:"timestamp"`
	Location          sql.NullString `db:"location"`
	SourceWindowID    sql.NullString `db:"source_window_id"`
	SourceChunkID     sql.NullString `db:"source_chunk_id"`
	SourceSessionFile sql.NullString `db:"source_session_file"`
	Confidence        float64        `db:"confidence"`
	Entropy           sql.NullFloat64 `db:"entropy"`
	ExtractedAt       int64          `db:"extracted_at"`
	Level             int            `db:"level"`
	ParentID          sql.NullString `db:"parent_id"`
}

func toRow(f memory.AtomicFact) (factRow, error) {
	kw, err := json.Marshal(orEmptySlice(f.Keywords))
	if err != nil {
		return factRow{}, err
	}
	pe, err := json.Marshal(orEmptySlice(f.Persons))
	if err != nil {
		return factRow{}, err
	}
	en, err := json.Marshal(orEmptySlice(f.Entities))
	if err != nil {
		return factRow{}, err
	}

	row := factRow{
		ID:          f.ID,
		AgentID:     f.AgentID,
		Statement:   f.Statement,
		Keywords:    string(kw),
		Persons:     string(pe),
		Entities:    string(en),
		Confidence:  f.Confidence,
		ExtractedAt: f.ExtractedAt.UnixMilli(),
		Level:       f.Level,
	}
	if f.Topic != nil {
		row.Topic = sql.NullString{String: *f.Topic, Valid: true}
	}
	if f.Timestamp != nil {
		row.Timestamp = sql.NullString{String: f.Timestamp.UTC().Format(time.RFC3339), Valid: true}
	}
	if f.Location != nil {
		row.Location = sql.NullString{String: *f.Location, Valid: true}
	}
	if f.SourceWindowID != nil {
		row.SourceWindowID = sql.NullString{String: *f.SourceWindowID, Valid: true}
	}
	if f.SourceChunkID != nil {
		row.SourceChunkID = sql.NullString{String: *f.SourceChunkID, Valid: true}
	}
	if f.SourceSessionFile != nil {
		row.SourceSessionFile = sql.NullString{String: *f.SourceSessionFile, Valid: true}
	}
	if f.ParentClusterID != nil {
		row.ParentID = sql.NullString{String: *f.ParentClusterID, Valid: true}
	}
	return row, nil
}

func fromRow(row factRow) (memory.AtomicFact, error) {
	var keywords, persons, entities []string
	if err := json.Unmarshal([]byte(row.Keywords), &keywords); err != nil {
		return memory.AtomicFact{}, fmt.Errorf("decoding keywords: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Persons), &persons); err != nil {
		return memory.AtomicFact{}, fmt.Errorf("decoding persons: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Entities), &entities); err != nil {
		return memory.AtomicFact{}, fmt.Errorf("decoding entities: %w", err)
	}

	f := memory.AtomicFact{
		ID:          row.ID,
		AgentID:     row.AgentID,
		Statement:   row.Statement,
		Keywords:    keywords,
		Persons:     persons,
		Entities:    entities,
		Confidence:  row.Confidence,
		ExtractedAt: time.UnixMilli(row.ExtractedAt).UTC(),
		Level:       row.Level,
	}
	if row.Topic.Valid {
		f.Topic = &row.Topic.String
	}
	if row.Timestamp.Valid {
		if t, err := time.Parse(time.RFC3339, row.Timestamp.String); err == nil {
			f.Timestamp = &t
		}
	}
	if row.Location.Valid {
		f.Location = &row.Location.String
	}
	if row.SourceWindowID.Valid {
		f.SourceWindowID = &row.SourceWindowID.String
	}
	if row.SourceChunkID.Valid {
		f.SourceChunkID = &row.SourceChunkID.String
	}
	if row.SourceSessionFile.Valid {
		f.SourceSessionFile = &row.SourceSessionFile.String
	}
	if row.ParentID.Valid {
		f.ParentClusterID = &row.ParentID.String
	}
	return f, nil
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
