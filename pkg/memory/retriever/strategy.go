package retriever

import "github.com/eternisai/atomic-memory/pkg/memory"

// Weights are the scoring weights for one strategy: keyword, entity,
// topic, temporal, recency.
type Weights struct {
	Keyword  float64
	Entity   float64
	Topic    float64
	Temporal float64
	Recency  float64
}

// Strategy is the retrieval configuration selected for one query's
// complexity bucket.
type Strategy struct {
	Complexity         Complexity
	MaxFacts           int
	MaxTokens          int
	PreferConsolidated bool
	Weights            Weights
}

// SelectStrategy picks a Strategy from the table in spec.md §4.5, using
// the token budgets from AdaptiveRetrievalConfig.
func SelectStrategy(complexity Complexity, cfg memory.AdaptiveRetrievalConfig) Strategy {
	switch complexity {
	case Complex:
		return Strategy{
			Complexity:         Complex,
			MaxFacts:           20,
			MaxTokens:          cfg.ComplexQueryTokens,
			PreferConsolidated: false,
			Weights:            Weights{Keyword: 0.25, Entity: 0.25, Topic: 0.25, Temporal: 0.15, Recency: 0.10},
		}
	case Moderate:
		return Strategy{
			Complexity:         Moderate,
			MaxFacts:           10,
			MaxTokens:          cfg.ModerateQueryTokens,
			PreferConsolidated: true,
			Weights:            Weights{Keyword: 0.30, Entity: 0.30, Topic: 0.20, Temporal: 0.10, Recency: 0.10},
		}
	default:
		return Strategy{
			Complexity:         Simple,
			MaxFacts:           5,
			MaxTokens:          cfg.SimpleQueryTokens,
			PreferConsolidated: true,
			Weights:            Weights{Keyword: 0.40, Entity: 0.30, Topic: 0.10, Temporal: 0.10, Recency: 0.10},
		}
	}
}
