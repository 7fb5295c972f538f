package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eternisai/atomic-memory/pkg/memory"
)

const upsertFactSQL = `
INSERT INTO atomic_facts
	(id, agent_id, statement, keywords, persons, entities, topic, timestamp, location,
	 source_window_id, source_chunk_id, source_session_file, confidence, entropy,
	 extracted_at, level, parent_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	agent_id = excluded.agent_id, statement = excluded.statement, keywords = excluded.keywords,
	persons = excluded.persons, entities = excluded.entities, topic = excluded.topic,
	timestamp = excluded.timestamp, location = excluded.location,
	source_window_id = excluded.source_window_id, source_chunk_id = excluded.source_chunk_id,
	source_session_file = excluded.source_session_file, confidence = excluded.confidence,
	entropy = excluded.entropy, extracted_at = excluded.extracted_at, level = excluded.level,
	parent_id = excluded.parent_id
`

// PutFact idempotently upserts one atomic fact.
func (s *Store) PutFact(ctx context.Context, f memory.AtomicFact) error {
	return s.PutFactBatch(ctx, []memory.AtomicFact{f})
}

// PutFactBatch wraps N fact upserts in a single transaction: either all
// commit or all roll back.
func (s *Store) PutFactBatch(ctx context.Context, facts []memory.AtomicFact) error {
	if len(facts) == 0 {
		return nil
	}
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return memory.NewStoreError(memory.StoreErrorIO, "put_fact_batch", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := s.db.Rebind(upsertFactSQL)
	for _, f := range facts {
		row, err := toRow(f)
		if err != nil {
			return memory.NewStoreError(memory.StoreErrorCorruption, "put_fact_batch", err)
		}
		var entropy sql.NullFloat64 // facts do not carry their own entropy; windows do
		if _, err := tx.ExecContext(ctx, query,
			row.ID, row.AgentID, row.Statement, row.Keywords, row.Persons, row.Entities,
			row.Topic, row.Timestamp, row.Location, row.SourceWindowID, row.SourceChunkID,
			row.SourceSessionFile, row.Confidence, entropy, row.ExtractedAt, row.Level, row.ParentID,
		); err != nil {
			return memory.NewStoreError(memory.StoreErrorIO, "put_fact_batch", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return memory.NewStoreError(memory.StoreErrorIO, "put_fact_batch", err)
	}
	return nil
}

// PutConsolidatedFact upserts a level>0 fact together with the cluster
// membership rows (cluster id -> source fact ids) the Retriever needs
// to resolve a fact's consolidated ancestor.
func (s *Store) PutConsolidatedFact(ctx context.Context, f memory.AtomicFact, sourceFactIDs []string) error {
	if f.ParentClusterID == nil {
		return memory.NewStoreError(memory.StoreErrorCorruption, "put_consolidated_fact", fmt.Errorf("consolidated fact missing parent_cluster_id"))
	}
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return memory.NewStoreError(memory.StoreErrorIO, "put_consolidated_fact", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row, err := toRow(f)
	if err != nil {
		return memory.NewStoreError(memory.StoreErrorCorruption, "put_consolidated_fact", err)
	}
	var entropy sql.NullFloat64
	if _, err := tx.ExecContext(ctx, s.db.Rebind(upsertFactSQL),
		row.ID, row.AgentID, row.Statement, row.Keywords, row.Persons, row.Entities,
		row.Topic, row.Timestamp, row.Location, row.SourceWindowID, row.SourceChunkID,
		row.SourceSessionFile, row.Confidence, entropy, row.ExtractedAt, row.Level, row.ParentID,
	); err != nil {
		return memory.NewStoreError(memory.StoreErrorIO, "put_consolidated_fact", err)
	}

	memberSQL := s.db.Rebind(`INSERT INTO fact_cluster_members (cluster_id, member_fact_id) VALUES (?, ?) ON CONFLICT (cluster_id, member_fact_id) DO NOTHING`)
	for _, sourceID := range sourceFactIDs {
		if _, err := tx.ExecContext(ctx, memberSQL, *f.ParentClusterID, sourceID); err != nil {
			return memory.NewStoreError(memory.StoreErrorIO, "put_consolidated_fact", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return memory.NewStoreError(memory.StoreErrorIO, "put_consolidated_fact", err)
	}
	return nil
}

// GetRecentFacts returns up to limit facts ordered by extracted_at
// descending.
func (s *Store) GetRecentFacts(ctx context.Context, limit int) ([]memory.AtomicFact, error) {
	var rows []factRow
	query := s.db.Rebind(`SELECT id, agent_id, statement, keywords, persons, entities, topic, timestamp,
		location, source_window_id, source_chunk_id, source_session_file, confidence, entropy,
		extracted_at, level, parent_id FROM atomic_facts ORDER BY extracted_at DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, memory.NewStoreError(memory.StoreErrorIO, "get_recent_facts", err)
	}
	return decodeRows(rows)
}

// GetFactsByLevel returns all facts at exactly level k.
func (s *Store) GetFactsByLevel(ctx context.Context, level int) ([]memory.AtomicFact, error) {
	var rows []factRow
	query := s.db.Rebind(`SELECT id, agent_id, statement, keywords, persons, entities, topic, timestamp,
		location, source_window_id, source_chunk_id, source_session_file, confidence, entropy,
		extracted_at, level, parent_id FROM atomic_facts WHERE level = ?`)
	if err := s.db.SelectContext(ctx, &rows, query, level); err != nil {
		return nil, memory.NewStoreError(memory.StoreErrorIO, "get_facts_by_level", err)
	}
	return decodeRows(rows)
}

// GetAllFacts returns every fact, used by the Retriever.
func (s *Store) GetAllFacts(ctx context.Context) ([]memory.AtomicFact, error) {
	var rows []factRow
	query := `SELECT id, agent_id, statement, keywords, persons, entities, topic, timestamp,
		location, source_window_id, source_chunk_id, source_session_file, confidence, entropy,
		extracted_at, level, parent_id FROM atomic_facts`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, memory.NewStoreError(memory.StoreErrorIO, "get_all_facts", err)
	}
	return decodeRows(rows)
}

// ParentOf implements retriever.FactSource: it resolves the
// consolidated fact, if any, that folded factID in as a source.
func (s *Store) ParentOf(ctx context.Context, factID string) (memory.AtomicFact, bool, error) {
	var rows []factRow
	query := s.db.Rebind(`SELECT af.id, af.agent_id, af.statement, af.keywords, af.persons, af.entities,
		af.topic, af.timestamp, af.location, af.source_window_id, af.source_chunk_id,
		af.source_session_file, af.confidence, af.entropy, af.extracted_at, af.level, af.parent_id
		FROM atomic_facts af
		JOIN fact_cluster_members m ON af.parent_id = m.cluster_id
		WHERE m.member_fact_id = ?
		LIMIT 1`)
	if err := s.db.SelectContext(ctx, &rows, query, factID); err != nil {
		return memory.AtomicFact{}, false, memory.NewStoreError(memory.StoreErrorIO, "parent_of", err)
	}
	if len(rows) == 0 {
		return memory.AtomicFact{}, false, nil
	}
	f, err := fromRow(rows[0])
	if err != nil {
		return memory.AtomicFact{}, false, memory.NewStoreError(memory.StoreErrorCorruption, "parent_of", err)
	}
	return f, true, nil
}

// CountByLevel returns the number of facts at each level.
func (s *Store) CountByLevel(ctx context.Context) (map[int]int, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT level, COUNT(*) AS count FROM atomic_facts GROUP BY level`)
	if err != nil {
		return nil, memory.NewStoreError(memory.StoreErrorIO, "count_by_level", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var level, count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, memory.NewStoreError(memory.StoreErrorIO, "count_by_level", err)
		}
		counts[level] = count
	}
	return counts, nil
}

// AvgCompressionRatio reports 0 when no compression_stats rows exist,
// otherwise the mean of their compression_ratio column, per spec.md §9.
func (s *Store) AvgCompressionRatio(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.GetContext(ctx, &avg, `SELECT AVG(compression_ratio) FROM compression_stats`)
	if err != nil {
		return 0, memory.NewStoreError(memory.StoreErrorIO, "avg_compression_ratio", err)
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

// Clear removes all memory rows. Used only in administrative flows.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return memory.NewStoreError(memory.StoreErrorIO, "clear", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, table := range []string{"fact_cluster_members", "compression_stats", "conversation_windows", "atomic_facts"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return memory.NewStoreError(memory.StoreErrorIO, "clear", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return memory.NewStoreError(memory.StoreErrorIO, "clear", err)
	}
	return nil
}

func decodeRows(rows []factRow) ([]memory.AtomicFact, error) {
	out := make([]memory.AtomicFact, 0, len(rows))
	for _, r := range rows {
		f, err := fromRow(r)
		if err != nil {
			return nil, memory.NewStoreError(memory.StoreErrorCorruption, "decode_fact_row", err)
		}
		out = append(out, f)
	}
	return out, nil
}
