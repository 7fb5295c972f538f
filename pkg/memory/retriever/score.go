package retriever

import (
	"math"
	"strings"
	"time"

	"github.com/eternisai/atomic-memory/pkg/memory"
)

// ScoredFact pairs a candidate fact with its relevance score and the
// human-readable reasons it matched.
type ScoredFact struct {
	Fact      memory.AtomicFact
	Relevance float64
	Reasons   []string
}

// ScoreFact computes the relevance of one candidate per spec.md §4.5's
// scoring rules, relative to "now".
func ScoreFact(fact memory.AtomicFact, analysis Analysis, w Weights, now time.Time) ScoredFact {
	var score float64
	var reasons []string

	if len(analysis.Keywords) > 0 {
		matching := countMatches(analysis.Keywords, factKeywordSpace(fact))
		if matching > 0 {
			score += (float64(matching) / float64(len(analysis.Keywords))) * w.Keyword
			reasons = append(reasons, "matches query keywords")
		}
	}

	if len(analysis.Entities) > 0 {
		matching := countMatches(analysis.Entities, fact.Entities)
		denom := len(analysis.Entities)
		if denom == 0 {
			denom = 1
		}
		if matching > 0 {
			score += (float64(matching) / float64(denom)) * w.Entity
			reasons = append(reasons, "matches query entities")
		}
	}

	if fact.Topic != nil {
		for _, t := range analysis.Topics {
			if strings.Contains(strings.ToLower(*fact.Topic), strings.ToLower(t)) {
				score += w.Topic
				reasons = append(reasons, "matches query topic")
				break
			}
		}
	}

	if analysis.Temporal && fact.Timestamp != nil {
		age := now.Sub(*fact.Timestamp)
		switch {
		case age <= 7*24*time.Hour:
			score += w.Temporal
			reasons = append(reasons, "recent relative to a temporal query")
		case age <= 30*24*time.Hour:
			score += w.Temporal * 0.5
			reasons = append(reasons, "moderately recent relative to a temporal query")
		}
	}

	age := now.Sub(fact.ExtractedAt)
	recency := 1 - age.Hours()/(90*24)
	if recency < 0 {
		recency = 0
	}
	if recency > 0 {
		score += recency * w.Recency
		reasons = append(reasons, "recently extracted")
	}

	return ScoredFact{Fact: fact, Relevance: score, Reasons: reasons}
}

func factKeywordSpace(fact memory.AtomicFact) []string {
	space := make([]string, 0, len(fact.Keywords)+len(fact.Entities)+len(fact.Persons)+1)
	space = append(space, fact.Keywords...)
	space = append(space, fact.Entities...)
	space = append(space, fact.Persons...)
	space = append(space, strings.Fields(fact.Statement)...)
	return space
}

func countMatches(query, candidate []string) int {
	set := make(map[string]struct{}, len(candidate))
	for _, c := range candidate {
		set[strings.ToLower(c)] = struct{}{}
	}
	count := 0
	for _, q := range query {
		if _, ok := set[strings.ToLower(q)]; ok {
			count++
		}
	}
	return count
}

// EstimateTokens approximates token count from character length, per
// AdaptiveRetrievalConfig.CharsPerToken.
func EstimateTokens(text string, charsPerToken int) int {
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	return int(math.Ceil(float64(len(text)) / float64(charsPerToken)))
}
