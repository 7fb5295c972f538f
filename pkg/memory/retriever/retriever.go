package retriever

import (
	"sort"
	"time"

	"github.com/eternisai/atomic-memory/pkg/memory"
)

// Result is the public shape returned by the Retriever.
type Result struct {
	Facts       []ScoredFact
	Strategy    Strategy
	Analysis    Analysis
	TotalTokens int
	Compression float64 // tokens sent vs tokens in the full candidate set
}

// FactSource supplies the candidate facts and the parent lookup the
// Retriever needs; the Pipeline Orchestrator wires this to the Store.
// ParentOf returns the consolidated fact that a given fact was folded
// into, if any — the Store tracks this via its cluster-membership
// index since a fact's own ParentClusterID points to its *sources*,
// not its ancestor (see DESIGN.md on resolving this ambiguity).
type FactSource interface {
	AllFacts() []memory.AtomicFact
	ParentOf(factID string) (memory.AtomicFact, bool)
}

// Retrieve runs the full analyse -> strategy -> score -> select
// pipeline for one query, per spec.md §4.5.
func Retrieve(query string, source FactSource, cfg memory.AdaptiveRetrievalConfig, now time.Time) (Result, error) {
	if len(query) == 0 {
		return Result{}, &memory.QueryInvalidError{Reason: "query is empty"}
	}
	const maxQueryLen = 2000
	if len(query) > maxQueryLen {
		return Result{}, &memory.QueryInvalidError{Reason: "query exceeds maximum length"}
	}

	analysis := Analyze(query)
	strategy := SelectStrategy(analysis.Complexity, cfg)

	candidates := filterCandidates(source.AllFacts(), strategy.PreferConsolidated)

	scored := make([]ScoredFact, 0, len(candidates))
	for _, f := range candidates {
		scored = append(scored, ScoreFact(f, analysis, strategy.Weights, now))
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Relevance > scored[j].Relevance })

	selected, totalTokens := selectUnderBudget(scored, strategy, cfg, source)

	fullTokens := 0
	for _, f := range candidates {
		fullTokens += EstimateTokens(f.Statement, cfg.CharsPerToken)
	}
	compression := 0.0
	if fullTokens > 0 {
		compression = 1 - float64(totalTokens)/float64(fullTokens)
	}

	return Result{
		Facts:       selected,
		Strategy:    strategy,
		Analysis:    analysis,
		TotalTokens: totalTokens,
		Compression: compression,
	}, nil
}

func filterCandidates(all []memory.AtomicFact, preferConsolidated bool) []memory.AtomicFact {
	if !preferConsolidated {
		return all
	}
	var consolidated []memory.AtomicFact
	for _, f := range all {
		if f.Level > 0 {
			consolidated = append(consolidated, f)
		}
	}
	if len(consolidated) == 0 {
		return all
	}
	return consolidated
}

func selectUnderBudget(scored []ScoredFact, strategy Strategy, cfg memory.AdaptiveRetrievalConfig, source FactSource) ([]ScoredFact, int) {
	var selected []ScoredFact
	includedParents := make(map[string]struct{})
	var cumulativeTokens int

	for _, sf := range scored {
		if len(selected) >= strategy.MaxFacts {
			break
		}
		tokens := EstimateTokens(sf.Fact.Statement, cfg.CharsPerToken)
		if cumulativeTokens+tokens > strategy.MaxTokens {
			continue
		}
		selected = append(selected, sf)
		cumulativeTokens += tokens

		if !cfg.IncludeParents {
			continue
		}
		parent, ok := source.ParentOf(sf.Fact.ID)
		if !ok {
			continue
		}
		if _, already := includedParents[parent.ID]; already {
			continue
		}
		parentTokens := EstimateTokens(parent.Statement, cfg.CharsPerToken)
		if cumulativeTokens+parentTokens > strategy.MaxTokens {
			continue
		}
		selected = append(selected, ScoredFact{Fact: parent, Relevance: 0.5, Reasons: []string{"parent fact for context"}})
		cumulativeTokens += parentTokens
		includedParents[parent.ID] = struct{}{}
	}

	return selected, cumulativeTokens
}
