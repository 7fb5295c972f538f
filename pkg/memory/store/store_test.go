package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternisai/atomic-memory/pkg/memory"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemorySQLite(context.Background(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutFact_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	topic := "work"
	f := memory.AtomicFact{
		ID:          "f1",
		AgentID:     "agent-1",
		Statement:   "Alice works at Acme",
		Keywords:    []string{"work"},
		Persons:     []string{"Alice"},
		Entities:    []string{"Acme"},
		Topic:       &topic,
		Confidence:  0.9,
		ExtractedAt: time.Now(),
		Level:       0,
	}

	require.NoError(t, s.PutFact(ctx, f))

	facts, err := s.GetAllFacts(ctx)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "Alice works at Acme", facts[0].Statement)
	assert.Equal(t, []string{"Alice"}, facts[0].Persons)
}

func TestPutFact_UpsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := memory.AtomicFact{ID: "f1", Statement: "v1", Confidence: 0.5, ExtractedAt: time.Now()}
	require.NoError(t, s.PutFact(ctx, f))

	f.Statement = "v2"
	require.NoError(t, s.PutFact(ctx, f))

	facts, err := s.GetAllFacts(ctx)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "v2", facts[0].Statement)
}

func TestGetFactsByLevel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutFact(ctx, memory.AtomicFact{ID: "a", Statement: "a", Confidence: 0.5, Level: 0, ExtractedAt: time.Now()}))
	require.NoError(t, s.PutFact(ctx, memory.AtomicFact{ID: "b", Statement: "b", Confidence: 0.5, Level: 1, ExtractedAt: time.Now()}))

	level0, err := s.GetFactsByLevel(ctx, 0)
	require.NoError(t, err)
	require.Len(t, level0, 1)
	assert.Equal(t, "a", level0[0].ID)
}

func TestCountByLevel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutFact(ctx, memory.AtomicFact{ID: "a", Statement: "a", Confidence: 0.5, Level: 0, ExtractedAt: time.Now()}))
	require.NoError(t, s.PutFact(ctx, memory.AtomicFact{ID: "b", Statement: "b", Confidence: 0.5, Level: 0, ExtractedAt: time.Now()}))
	require.NoError(t, s.PutFact(ctx, memory.AtomicFact{ID: "c", Statement: "c", Confidence: 0.5, Level: 1, ExtractedAt: time.Now()}))

	counts, err := s.CountByLevel(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[0])
	assert.Equal(t, 1, counts[1])
}

func TestAvgCompressionRatio_ZeroWhenEmpty(t *testing.T) {
	s := newTestStore(t)
	avg, err := s.AvgCompressionRatio(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, avg)
}

func TestAvgCompressionRatio_MeanOfSamples(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutStat(ctx, memory.CompressionStat{ID: "s1", CompressionRatio: 2.0, CreatedAt: time.Now()}))
	require.NoError(t, s.PutStat(ctx, memory.CompressionStat{ID: "s2", CompressionRatio: 4.0, CreatedAt: time.Now()}))

	avg, err := s.AvgCompressionRatio(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, avg, 1e-9)
}

func TestPutConsolidatedFact_ParentOfResolves(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	child := memory.AtomicFact{ID: "child", Statement: "Alice works at Acme", Confidence: 0.9, Level: 0, ExtractedAt: time.Now()}
	require.NoError(t, s.PutFact(ctx, child))

	clusterID := "cluster-1"
	parent := memory.AtomicFact{
		ID:              "parent",
		Statement:       "Alice has a long history at Acme",
		Confidence:      0.9,
		Level:           1,
		ExtractedAt:     time.Now(),
		ParentClusterID: &clusterID,
	}
	require.NoError(t, s.PutConsolidatedFact(ctx, parent, []string{"child"}))

	resolved, ok, err := s.ParentOf(ctx, "child")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "parent", resolved.ID)
}

func TestClear_RemovesAllRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutFact(ctx, memory.AtomicFact{ID: "a", Statement: "a", Confidence: 0.5, ExtractedAt: time.Now()}))
	require.NoError(t, s.PutWindow(ctx, memory.ConversationWindow{ID: "w1"}))
	require.NoError(t, s.PutStat(ctx, memory.CompressionStat{ID: "s1", CreatedAt: time.Now()}))

	require.NoError(t, s.Clear(ctx))

	facts, err := s.GetAllFacts(ctx)
	require.NoError(t, err)
	assert.Empty(t, facts)

	windows, err := s.GetWindows(ctx)
	require.NoError(t, err)
	assert.Empty(t, windows)
}

func TestPutWindowBatch_Transactional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	windows := []memory.ConversationWindow{
		{ID: "w1", StartIndex: 0, EndIndex: 1},
		{ID: "w2", StartIndex: 2, EndIndex: 3},
	}
	require.NoError(t, s.PutWindowBatch(ctx, windows))

	got, err := s.GetWindows(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
