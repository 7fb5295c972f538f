// Package consolidator implements the Consolidator: it clusters atomic
// facts by similarity, drives the Consolidation LLM once per cluster,
// and writes higher-level facts, recursing level by level.
//
// Grounded on pkg/agent/memory/evolvingmemory/consolidation.go's
// dependency-injected LLM call shape, generalised from a single
// semantic-search consolidation to the recursive, similarity-clustered
// one this engine requires.
package consolidator

import (
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/eternisai/atomic-memory/pkg/memory"
)

// Similarity computes sim(f1, f2) per the weighted-dimension table:
// only dimensions enabled in cfg contribute to both the numerator and
// the weight normaliser. Returns 0 if no dimension is enabled.
func Similarity(f1, f2 memory.AtomicFact, cfg memory.ConsolidationConfig) float64 {
	var numerator, weight float64

	if cfg.EntityClustering {
		numerator += 0.3 * setOverlap(f1.Entities, f2.Entities)
		weight += 0.3
		numerator += 0.3 * setOverlap(f1.Persons, f2.Persons)
		weight += 0.3
	}

	if cfg.TopicClustering {
		numerator += 0.2 * topicScore(f1.Topic, f2.Topic)
		weight += 0.2
	}

	if cfg.TemporalClustering {
		numerator += 0.2 * temporalScore(f1.Timestamp, f2.Timestamp, cfg.TemporalWindowMs)
		weight += 0.2
	}

	if weight == 0 {
		return 0
	}
	return numerator / weight
}

// temporalScore is 1-Δt/windowMs when both facts have a timestamp and
// their gap is within windowMs, else 0.
func temporalScore(a, b *time.Time, windowMs int64) float64 {
	if a == nil || b == nil || windowMs <= 0 {
		return 0
	}
	delta := a.Sub(*b)
	if delta < 0 {
		delta = -delta
	}
	deltaMs := delta.Milliseconds()
	if deltaMs > windowMs {
		return 0
	}
	return 1 - float64(deltaMs)/float64(windowMs)
}

func setOverlap(a, b []string) float64 {
	union := lo.Uniq(append(lowerAll(a), lowerAll(b)...))
	if len(union) == 0 {
		return 0
	}
	inter := lo.Intersect(lowerAll(a), lowerAll(b))
	return float64(len(inter)) / float64(len(union))
}

func lowerAll(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = strings.ToLower(v)
	}
	return out
}

func topicScore(a, b *string) float64 {
	if a == nil || b == nil {
		return 0
	}
	if strings.EqualFold(*a, *b) {
		return 1
	}
	return 0
}
