package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternisai/atomic-memory/pkg/memory"
)

// fakeStore is an in-memory Store double, good enough to exercise the
// Orchestrator's wiring without a real database.
type fakeStore struct {
	mu       sync.Mutex
	facts    map[string]memory.AtomicFact
	members  map[string][]string // clusterID -> member fact ids
	windows  []memory.ConversationWindow
	stats    []memory.CompressionStat
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		facts:   make(map[string]memory.AtomicFact),
		members: make(map[string][]string),
	}
}

func (f *fakeStore) PutWindowBatch(_ context.Context, windows []memory.ConversationWindow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, windows...)
	return nil
}

func (f *fakeStore) PutFactBatch(_ context.Context, facts []memory.AtomicFact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fact := range facts {
		f.facts[fact.ID] = fact
	}
	return nil
}

func (f *fakeStore) PutConsolidatedFact(_ context.Context, fact memory.AtomicFact, sourceFactIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.facts[fact.ID] = fact
	if fact.ParentClusterID != nil {
		f.members[*fact.ParentClusterID] = append(f.members[*fact.ParentClusterID], sourceFactIDs...)
	}
	return nil
}

func (f *fakeStore) PutStat(_ context.Context, stat memory.CompressionStat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = append(f.stats, stat)
	return nil
}

func (f *fakeStore) GetAllFacts(_ context.Context) ([]memory.AtomicFact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]memory.AtomicFact, 0, len(f.facts))
	for _, fact := range f.facts {
		out = append(out, fact)
	}
	return out, nil
}

func (f *fakeStore) GetRecentFacts(ctx context.Context, limit int) ([]memory.AtomicFact, error) {
	all, _ := f.GetAllFacts(ctx)
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (f *fakeStore) CountByLevel(_ context.Context) (map[int]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[int]int)
	for _, fact := range f.facts {
		counts[fact.Level]++
	}
	return counts, nil
}

func (f *fakeStore) CountWindows(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.windows), nil
}

func (f *fakeStore) AvgCompressionRatio(_ context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.stats) == 0 {
		return 0, nil
	}
	var sum float64
	for _, s := range f.stats {
		sum += s.CompressionRatio
	}
	return sum / float64(len(f.stats)), nil
}

func (f *fakeStore) ParentOf(_ context.Context, factID string) (memory.AtomicFact, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for clusterID, members := range f.members {
		for _, m := range members {
			if m == factID {
				for _, fact := range f.facts {
					if fact.ParentClusterID != nil && *fact.ParentClusterID == clusterID {
						return fact, true, nil
					}
				}
			}
		}
	}
	return memory.AtomicFact{}, false, nil
}

func turns(n int) []memory.Turn {
	out := make([]memory.Turn, n)
	for i := range out {
		out[i] = memory.Turn{Speaker: "alice", Content: fmt.Sprintf("Alice works at Acme Corp in message %d.", i)}
	}
	return out
}

func stubExtractFn(facts []memory.AtomicFact) memory.ExtractFn {
	return func(_ context.Context, _ string) (string, error) {
		statements := make([]map[string]interface{}, 0, len(facts))
		for _, f := range facts {
			statements = append(statements, map[string]interface{}{
				"statement":  f.Statement,
				"keywords":   f.Keywords,
				"persons":    f.Persons,
				"entities":   f.Entities,
				"confidence": f.Confidence,
			})
		}
		return jsonEnvelope(statements), nil
	}
}

func jsonEnvelope(facts []map[string]interface{}) string {
	out := `{"facts":[`
	for i, f := range facts {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"statement":%q,"confidence":%v}`, f["statement"], f["confidence"])
	}
	out += `]}`
	return out
}

func TestProcessTranscript_PersistsFactsAndStat(t *testing.T) {
	store := newFakeStore()
	extractFn := stubExtractFn([]memory.AtomicFact{
		{Statement: "Alice works at Acme Corp", Confidence: 0.9},
	})

	cfg := memory.DefaultPipelineConfig()
	cfg.SemanticCompression.WindowSize = 5
	cfg.SemanticCompression.Stride = 5
	cfg.SemanticCompression.EntropyThreshold = 0.0 // keep every window

	orch, err := New(store, "agent-1", cfg, extractFn, nil, nil)
	require.NoError(t, err)

	result, err := orch.ProcessTranscript(context.Background(), turns(5), "session-1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.WindowsCreated)
	assert.Equal(t, 1, result.WindowsProcessed)
	assert.Equal(t, 1, result.FactsExtracted)
	assert.Len(t, store.facts, 1)
	assert.Len(t, store.stats, 1)
}

func TestProcessTranscript_EmptyTranscriptIsNoop(t *testing.T) {
	store := newFakeStore()
	orch, err := New(store, "agent-1", memory.DefaultPipelineConfig(), stubExtractFn(nil), nil, nil)
	require.NoError(t, err)

	result, err := orch.ProcessTranscript(context.Background(), nil, "session-1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.WindowsCreated)
	assert.Empty(t, store.facts)
}

func aliceFact(id string, day int) memory.AtomicFact {
	ts := time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC)
	return memory.AtomicFact{
		ID:          id,
		Statement:   "Alice works at Acme Corp",
		Persons:     []string{"Alice"},
		Entities:    []string{"Acme Corp"},
		Keywords:    []string{"work"},
		Confidence:  0.9,
		ExtractedAt: ts,
		Timestamp:   &ts,
		Level:       0,
	}
}

func TestRunConsolidation_PersistsNewFactsAndMembership(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 3; i++ {
		id := uuid.New().String()
		store.facts[id] = aliceFact(id, i+1)
	}

	consolidateFn := func(_ context.Context, _ string) (string, error) {
		return "Alice has a long history working at Acme Corp.", nil
	}

	cfg := memory.DefaultPipelineConfig()
	cfg.Consolidation.MinFactsForCluster = 2
	cfg.Consolidation.MaxConsolidationLevel = 1

	orch, err := New(store, "agent-1", cfg, nil, consolidateFn, nil)
	require.NoError(t, err)

	result, err := orch.RunConsolidation(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Levels, 1)
	assert.Equal(t, 1, result.Levels[0].ClustersFormed)

	newFact := result.Levels[0].NewFacts[0]
	// ParentOf maps a source fact to the consolidated fact built from
	// it, so look up one of the three originals, not the new fact.
	var anyOriginalID string
	for id := range store.facts {
		if id != newFact.ID {
			anyOriginalID = id
			break
		}
	}
	resolved, ok, err := store.ParentOf(context.Background(), anyOriginalID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, newFact.ID, resolved.ID)
}

func TestRunConsolidation_ShortCircuitsBelowMinimum(t *testing.T) {
	store := newFakeStore()
	id := uuid.New().String()
	store.facts[id] = aliceFact(id, 1)

	cfg := memory.DefaultPipelineConfig()
	cfg.Consolidation.MinFactsForCluster = 3

	orch, err := New(store, "agent-1", cfg, nil, func(context.Context, string) (string, error) { return "x", nil }, nil)
	require.NoError(t, err)

	result, err := orch.RunConsolidation(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Levels)
}

func TestSearch_ReturnsBudgetedFacts(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 3; i++ {
		id := uuid.New().String()
		store.facts[id] = aliceFact(id, i+1)
	}

	orch, err := New(store, "agent-1", memory.DefaultPipelineConfig(), nil, nil, nil)
	require.NoError(t, err)

	result, err := orch.Search(context.Background(), "Where does Alice work?")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Facts)
}

func TestStats_ReportsCounts(t *testing.T) {
	store := newFakeStore()
	id := uuid.New().String()
	store.facts[id] = aliceFact(id, 1)
	store.windows = append(store.windows, memory.ConversationWindow{ID: "w1"})

	orch, err := New(store, "agent-1", memory.DefaultPipelineConfig(), nil, nil, nil)
	require.NoError(t, err)

	stats, err := orch.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalFacts)
	assert.Equal(t, 1, stats.TotalWindows)
	assert.Equal(t, 1, stats.FactsByLevel[0])
}

func TestStartStop_BackgroundConsolidationTicks(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 3; i++ {
		id := uuid.New().String()
		store.facts[id] = aliceFact(id, i+1)
	}

	var calls int32
	consolidateFn := func(_ context.Context, _ string) (string, error) {
		calls++
		return "Alice has a long history working at Acme Corp.", nil
	}

	cfg := memory.DefaultPipelineConfig()
	cfg.Consolidation.MinFactsForCluster = 2
	cfg.BackgroundConsolidation = true
	cfg.ConsolidationInterval = 10 * time.Millisecond

	orch, err := New(store, "agent-1", cfg, nil, consolidateFn, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch.Start(ctx)
	assert.True(t, orch.IsRunning())
	time.Sleep(50 * time.Millisecond)
	orch.Stop()
	assert.False(t, orch.IsRunning())
	assert.Greater(t, calls, int32(0))
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	store := newFakeStore()
	cfg := memory.DefaultPipelineConfig()
	cfg.SemanticCompression.WindowSize = 0

	_, err := New(store, "agent-1", cfg, nil, nil, nil)
	require.Error(t, err)
}
