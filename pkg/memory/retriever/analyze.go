// Package retriever implements the Retriever: it classifies a query,
// picks a retrieval strategy, scores all candidate facts, and selects a
// token-bounded subset.
//
// The two-phase "analyse query, then query storage" flow is grounded
// on pkg/agent/memory/evolvingmemory/query.go's Query method; that
// query was a single nearest-vector lookup against Weaviate, here
// generalised into a deterministic keyword/entity/temporal analysis
// followed by pure in-memory scoring, since the engine has no vector
// index of its own.
package retriever

import (
	"regexp"
	"strings"
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "were": {},
	"with": {}, "that": {}, "this": {}, "from": {}, "have": {}, "has": {},
	"had": {}, "not": {}, "you": {}, "your": {}, "what": {}, "who": {},
	"when": {}, "where": {}, "which": {}, "does": {}, "did": {}, "can": {},
}

var temporalLexicon = map[string]struct{}{
	"recent": {}, "lately": {}, "yesterday": {}, "today": {}, "last": {},
	"this": {}, "next": {}, "ago": {}, "before": {}, "after": {}, "when": {},
}

var reasoningLexicon = map[string]struct{}{
	"why": {}, "how": {}, "explain": {}, "compare": {}, "difference": {},
	"relationship": {}, "cause": {}, "effect": {}, "reason": {}, "analysis": {},
}

var topicMarkers = []string{"about", "regarding", "concerning", "related to"}

var capitalizedRun = regexp.MustCompile(`[A-Z][a-z]+(?:\s[A-Z][a-z]+)*`)

// Complexity buckets the query's retrieval strategy.
type Complexity string

const (
	Simple   Complexity = "simple"
	Moderate Complexity = "moderate"
	Complex  Complexity = "complex"
)

// Analysis is the deterministic, LLM-free classification of a query.
type Analysis struct {
	Query             string
	Keywords          []string
	Entities          []string
	Temporal          bool
	Topics            []string
	RequiresReasoning bool
	WordCount         int
	Complexity        Complexity
}

// Analyze classifies a query per spec.md §4.5.
func Analyze(query string) Analysis {
	words := strings.Fields(query)
	lower := strings.Fields(strings.ToLower(query))

	a := Analysis{Query: query, WordCount: len(words)}

	for _, w := range lower {
		trimmed := strings.Trim(w, ".,!?;:\"'")
		if len(trimmed) <= 2 {
			continue
		}

		// Temporal/reasoning lexicon membership is checked before the
		// stopword filter: spec.md requires temporal/reasoning signals
		// independent of keyword extraction, and some lexicon words
		// ("this", "when") are also stopwords.
		if _, ok := temporalLexicon[trimmed]; ok {
			a.Temporal = true
		}
		if _, ok := reasoningLexicon[trimmed]; ok {
			a.RequiresReasoning = true
		}

		if _, stop := stopWords[trimmed]; stop {
			continue
		}
		a.Keywords = append(a.Keywords, trimmed)
	}

	a.Entities = uniqueStrings(capitalizedRun.FindAllString(query, -1))
	a.Topics = extractTopics(lower)
	a.Complexity = classify(a)

	return a
}

func extractTopics(lowerWords []string) []string {
	joined := strings.Join(lowerWords, " ")
	for _, marker := range topicMarkers {
		idx := strings.Index(joined, marker)
		if idx == -1 {
			continue
		}
		after := strings.TrimSpace(joined[idx+len(marker):])
		words := strings.Fields(after)
		if len(words) > 3 {
			words = words[:3]
		}
		if len(words) > 0 {
			return words
		}
	}
	return nil
}

func classify(a Analysis) Complexity {
	if a.RequiresReasoning || a.WordCount > 15 || len(a.Topics) > 0 {
		return Complex
	}
	if a.WordCount > 8 || len(a.Entities) > 2 || a.Temporal {
		return Moderate
	}
	return Simple
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
