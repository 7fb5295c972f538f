package entropy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternisai/atomic-memory/pkg/memory"
)

func turns(contents ...string) []memory.Turn {
	out := make([]memory.Turn, len(contents))
	for i, c := range contents {
		out[i] = memory.Turn{Speaker: "speaker", Content: c}
	}
	return out
}

func TestCreateWindows_Empty(t *testing.T) {
	windows := CreateWindows(nil, 10, 5, "session.jsonl")
	assert.Empty(t, windows)
}

func TestCreateWindows_NonOverlapping(t *testing.T) {
	ts := turns("t0", "t1", "t2", "t3", "t4")
	windows := CreateWindows(ts, 2, 2, "session.jsonl")

	require.Len(t, windows, 3)
	assert.Equal(t, 0, windows[0].StartIndex)
	assert.Equal(t, 1, windows[0].EndIndex)
	assert.Equal(t, 2, windows[1].StartIndex)
	assert.Equal(t, 3, windows[1].EndIndex)
	assert.Equal(t, 4, windows[2].StartIndex)
	assert.Equal(t, 4, windows[2].EndIndex) // last window shorter
}

func TestCreateWindows_Overlap(t *testing.T) {
	ts := turns("t0", "t1", "t2", "t3", "t4")
	windows := CreateWindows(ts, 3, 2, "session.jsonl")

	require.Len(t, windows, 3)
	assert.Equal(t, 0, windows[0].StartIndex)
	assert.Equal(t, 2, windows[0].EndIndex)
	assert.Equal(t, 2, windows[1].StartIndex)
	assert.Equal(t, 4, windows[1].EndIndex)
}

func TestCreateWindows_CoversAllIndices(t *testing.T) {
	ts := turns("t0", "t1", "t2", "t3", "t4", "t5", "t6")
	windows := CreateWindows(ts, 3, 2, "session.jsonl")

	covered := make(map[int]bool)
	for _, w := range windows {
		for i := w.StartIndex; i <= w.EndIndex; i++ {
			covered[i] = true
		}
	}
	for i := range ts {
		assert.True(t, covered[i], "index %d not covered", i)
	}
}

func TestScore_KeepsNovelty(t *testing.T) {
	// Previous facts mention only Alice and Google.
	alice := "Alice"
	google := "Google"
	prior := memory.AtomicFact{Persons: []string{alice}, Entities: []string{google}}

	w := memory.ConversationWindow{
		ID: "w1",
		Turns: []memory.Turn{
			{Speaker: "user", Content: "I met John at Microsoft yesterday."},
			{Speaker: "user", Content: "What did you discuss with John?"},
		},
	}

	cfg := Config{EntityWeight: 0.5, EntropyThreshold: 0.3}
	result := Score(context.Background(), w, NewPriorMemory([]memory.AtomicFact{prior}), cfg, nil, nil)

	assert.Contains(t, result.NewEntities, "John")
	assert.Contains(t, result.NewEntities, "Microsoft")
	assert.True(t, result.ShouldKeep)
}

func TestScore_ZeroContentIsZeroNovelty(t *testing.T) {
	w := memory.ConversationWindow{ID: "w2"}
	cfg := Config{EntityWeight: 0.5, EntropyThreshold: 0.3}
	result := Score(context.Background(), w, PriorMemory{Entities: map[string]struct{}{}}, cfg, nil, nil)
	assert.Equal(t, 0.0, result.EntityNovelty)
}

func TestScore_TieKeepsWindow(t *testing.T) {
	w := memory.ConversationWindow{ID: "w3"}
	cfg := Config{EntityWeight: 0.0, EntropyThreshold: 0.5} // entropy = constant divergence 0.5 == threshold
	result := Score(context.Background(), w, PriorMemory{Entities: map[string]struct{}{}}, cfg, nil, nil)
	assert.InDelta(t, 0.5, result.Entropy, 1e-9)
	assert.True(t, result.ShouldKeep)
}

func TestScore_SemanticDivergenceFromEmbeddings(t *testing.T) {
	w := memory.ConversationWindow{ID: "w4"}
	cfg := Config{EntityWeight: 0.0, EntropyThreshold: 0.0} // entropy = semantic_divergence alone
	result := Score(context.Background(), w, PriorMemory{Entities: map[string]struct{}{}}, cfg,
		[]float64{1, 0}, []float64{1, 0})
	assert.InDelta(t, 0.0, result.SemanticDivergence, 1e-9) // identical vectors -> no divergence
}
