package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/eternisai/atomic-memory/pkg/memory"
)

const upsertWindowSQL = `
INSERT INTO conversation_windows
	(id, turns, start_index, end_index, entropy, should_process, processed_at, source_session_file)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	turns = excluded.turns, start_index = excluded.start_index, end_index = excluded.end_index,
	entropy = excluded.entropy, should_process = excluded.should_process,
	processed_at = excluded.processed_at, source_session_file = excluded.source_session_file
`

// PutWindow idempotently upserts one conversation window.
func (s *Store) PutWindow(ctx context.Context, w memory.ConversationWindow) error {
	return s.PutWindowBatch(ctx, []memory.ConversationWindow{w})
}

// PutWindowBatch wraps N window upserts in a single transaction.
func (s *Store) PutWindowBatch(ctx context.Context, windows []memory.ConversationWindow) error {
	if len(windows) == 0 {
		return nil
	}
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return memory.NewStoreError(memory.StoreErrorIO, "put_window_batch", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := s.db.Rebind(upsertWindowSQL)
	now := time.Now().UnixMilli()
	for _, w := range windows {
		turnsJSON, err := json.Marshal(w.Turns)
		if err != nil {
			return memory.NewStoreError(memory.StoreErrorCorruption, "put_window_batch", err)
		}

		var entropy sql.NullFloat64
		if w.Entropy != nil {
			entropy = sql.NullFloat64{Float64: *w.Entropy, Valid: true}
		}

		if _, err := tx.ExecContext(ctx, query,
			w.ID, string(turnsJSON), w.StartIndex, w.EndIndex, entropy, w.ShouldProcess, now, w.SourceSessionFile,
		); err != nil {
			return memory.NewStoreError(memory.StoreErrorIO, "put_window_batch", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return memory.NewStoreError(memory.StoreErrorIO, "put_window_batch", err)
	}
	return nil
}

type windowRow struct {
	ID                string          `db:"id"`
	Turns             string          `db:"turns"`
	StartIndex        int             `db:"start_index"`
	EndIndex          int             `db:"end_index"`
	Entropy           sql.NullFloat64 `db:"entropy"`
	ShouldProcess     bool            `db:"should_process"`
	SourceSessionFile string          `db:"source_session_file"`
}

// GetWindows returns every stored conversation window.
func (s *Store) GetWindows(ctx context.Context) ([]memory.ConversationWindow, error) {
	var rows []windowRow
	query := `SELECT id, turns, start_index, end_index, entropy, should_process, source_session_file
		FROM conversation_windows`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, memory.NewStoreError(memory.StoreErrorIO, "get_windows", err)
	}

	return decodeWindowRows(rows)
}

// CountWindows returns the total number of stored conversation
// windows, used by stats().
func (s *Store) CountWindows(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM conversation_windows`); err != nil {
		return 0, memory.NewStoreError(memory.StoreErrorIO, "count_windows", err)
	}
	return count, nil
}

func decodeWindowRows(rows []windowRow) ([]memory.ConversationWindow, error) {
	out := make([]memory.ConversationWindow, 0, len(rows))
	for _, r := range rows {
		var turns []memory.Turn
		if err := json.Unmarshal([]byte(r.Turns), &turns); err != nil {
			return nil, memory.NewStoreError(memory.StoreErrorCorruption, "get_windows", err)
		}
		w := memory.ConversationWindow{
			ID:                r.ID,
			Turns:             turns,
			StartIndex:        r.StartIndex,
			EndIndex:          r.EndIndex,
			ShouldProcess:     r.ShouldProcess,
			SourceSessionFile: r.SourceSessionFile,
		}
		if r.Entropy.Valid {
			e := r.Entropy.Float64
			w.Entropy = &e
		}
		out = append(out, w)
	}
	return out, nil
}

const insertStatSQL = `
INSERT INTO compression_stats
	(id, agent_id, input_tokens, output_facts, compression_ratio, entropy_score,
	 processing_time_ms, created_at, source_session_file)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	agent_id = excluded.agent_id, input_tokens = excluded.input_tokens,
	output_facts = excluded.output_facts, compression_ratio = excluded.compression_ratio,
	entropy_score = excluded.entropy_score, processing_time_ms = excluded.processing_time_ms,
	created_at = excluded.created_at, source_session_file = excluded.source_session_file
`

// PutStat idempotently upserts one compression stat row.
func (s *Store) PutStat(ctx context.Context, stat memory.CompressionStat) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	_, err := s.db.ExecContext(ctx, s.db.Rebind(insertStatSQL),
		stat.ID, stat.AgentID, stat.InputTokens, stat.OutputFacts, stat.CompressionRatio,
		stat.EntropyScore, stat.ProcessingTimeMs, stat.CreatedAt.UnixMilli(), stat.SourceSessionFile,
	)
	if err != nil {
		return memory.NewStoreError(memory.StoreErrorIO, "put_stat", err)
	}
	return nil
}
