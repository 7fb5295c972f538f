package retriever

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternisai/atomic-memory/pkg/memory"
)

type fakeSource struct {
	facts   []memory.AtomicFact
	parents map[string]memory.AtomicFact
}

func (f fakeSource) AllFacts() []memory.AtomicFact { return f.facts }

func (f fakeSource) ParentOf(factID string) (memory.AtomicFact, bool) {
	p, ok := f.parents[factID]
	return p, ok
}

func TestAnalyze_SimpleQuery(t *testing.T) {
	a := Analyze("Where does Alice work?")
	assert.Equal(t, Simple, a.Complexity)
}

func TestAnalyze_ComplexReasoningQuery(t *testing.T) {
	a := Analyze("Why did Alice and Bob decide to collaborate on the API project?")
	assert.True(t, a.RequiresReasoning)
	assert.Equal(t, Complex, a.Complexity)
}

func TestAnalyze_TemporalStopwordStillSetsTemporal(t *testing.T) {
	a := Analyze("What happened this week?")
	assert.True(t, a.Temporal)
}

func TestSelectStrategy_Complex(t *testing.T) {
	cfg := memory.AdaptiveRetrievalConfig{SimpleQueryTokens: 500, ModerateQueryTokens: 1500, ComplexQueryTokens: 3000, CharsPerToken: 4, IncludeParents: true}
	s := SelectStrategy(Complex, cfg)
	assert.Equal(t, 20, s.MaxFacts)
	assert.Equal(t, 3000, s.MaxTokens)
	assert.False(t, s.PreferConsolidated)
}

func TestRetrieve_BudgetEnforcement(t *testing.T) {
	facts := make([]memory.AtomicFact, 4)
	for i := range facts {
		facts[i] = memory.AtomicFact{
			ID:         string(rune('a' + i)),
			Statement:  "this statement is a little over two hundred characters long, padded out so that the char-to-token math at four characters per token gives just over fifty tokens, so no two of these facts fit a budget of one hundred",
			Confidence: 0.9,
		}
	}

	cfg := memory.AdaptiveRetrievalConfig{
		SimpleQueryTokens:   500,
		ModerateQueryTokens: 1500,
		ComplexQueryTokens:  100,
		CharsPerToken:       4,
		IncludeParents:      false,
		PreferConsolidated:  true,
	}

	result, err := Retrieve("Why did Alice and Bob decide to collaborate on the API project over several different approaches and discussions", fakeSource{facts: facts}, cfg, time.Now())
	require.NoError(t, err)
	assert.LessOrEqual(t, result.TotalTokens, 100)
	assert.LessOrEqual(t, len(result.Facts), 1)
}

func TestRetrieve_EmptyQueryIsInvalid(t *testing.T) {
	cfg := memory.AdaptiveRetrievalConfig{CharsPerToken: 4, SimpleQueryTokens: 500, ModerateQueryTokens: 1500, ComplexQueryTokens: 3000}
	_, err := Retrieve("", fakeSource{}, cfg, time.Now())
	require.Error(t, err)
	var qe *memory.QueryInvalidError
	require.ErrorAs(t, err, &qe)
}

func TestRetrieve_PrefersConsolidatedWhenAvailable(t *testing.T) {
	atomic := memory.AtomicFact{ID: "a0", Statement: "Alice works at Acme", Level: 0, Persons: []string{"Alice"}}
	consolidated := memory.AtomicFact{ID: "c0", Statement: "Alice has a long history at Acme", Level: 1, Persons: []string{"Alice"}}

	cfg := memory.AdaptiveRetrievalConfig{SimpleQueryTokens: 500, ModerateQueryTokens: 1500, ComplexQueryTokens: 3000, CharsPerToken: 4}
	result, err := Retrieve("Where does Alice work?", fakeSource{facts: []memory.AtomicFact{atomic, consolidated}}, cfg, time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, result.Facts)
	for _, sf := range result.Facts {
		assert.Equal(t, "c0", sf.Fact.ID)
	}
}

func TestRetrieve_IncludesParentWhenConfigured(t *testing.T) {
	child := memory.AtomicFact{ID: "child", Statement: "Alice works at Acme", Level: 0, Persons: []string{"Alice"}}
	parent := memory.AtomicFact{ID: "parent", Statement: "Alice has worked in tech for years", Level: 1}

	cfg := memory.AdaptiveRetrievalConfig{SimpleQueryTokens: 500, ModerateQueryTokens: 1500, ComplexQueryTokens: 3000, CharsPerToken: 4, IncludeParents: true}
	src := fakeSource{facts: []memory.AtomicFact{child}, parents: map[string]memory.AtomicFact{"child": parent}}

	result, err := Retrieve("Where does Alice work?", src, cfg, time.Now())
	require.NoError(t, err)

	var sawParent bool
	for _, sf := range result.Facts {
		if sf.Fact.ID == "parent" {
			sawParent = true
			assert.Contains(t, sf.Reasons, "parent fact for context")
		}
	}
	assert.True(t, sawParent)
}
