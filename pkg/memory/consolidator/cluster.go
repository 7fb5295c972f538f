package consolidator

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/eternisai/atomic-memory/pkg/memory"
)

// ClusterFacts runs the greedy seed-based clustering algorithm: sort by
// timestamp ascending (undated last), then grow a cluster around each
// unassigned seed while the mean similarity to the cluster's current
// members stays >= cfg.SimilarityThreshold, capped at
// cfg.MaxFactsPerCluster. Clusters smaller than cfg.MinFactsForCluster
// are discarded.
func ClusterFacts(facts []memory.AtomicFact, cfg memory.ConsolidationConfig) []memory.FactCluster {
	ordered := append([]memory.AtomicFact(nil), facts...)
	sort.SliceStable(ordered, func(i, j int) bool {
		ti, tj := ordered[i].Timestamp, ordered[j].Timestamp
		if ti == nil && tj == nil {
			return false
		}
		if ti == nil {
			return false
		}
		if tj == nil {
			return true
		}
		return ti.Before(*tj)
	})

	assigned := make([]bool, len(ordered))
	var clusters []memory.FactCluster

	for i := range ordered {
		if assigned[i] {
			continue
		}

		members := []memory.AtomicFact{ordered[i]}
		memberIdx := []int{i}
		assigned[i] = true

		for len(members) < cfg.MaxFactsPerCluster {
			bestIdx := -1
			bestScore := 0.0

			for j := range ordered {
				if assigned[j] {
					continue
				}
				mean := meanSimilarity(ordered[j], members, cfg)
				if mean >= cfg.SimilarityThreshold && mean > bestScore {
					bestScore = mean
					bestIdx = j
				}
			}

			if bestIdx == -1 {
				break
			}
			members = append(members, ordered[bestIdx])
			memberIdx = append(memberIdx, bestIdx)
			assigned[bestIdx] = true
		}

		if len(members) < cfg.MinFactsForCluster {
			// Release members back to the unassigned pool; they may
			// still join a later cluster as a candidate.
			for _, idx := range memberIdx {
				assigned[idx] = false
			}
			assigned[i] = true // the seed itself is never revisited
			continue
		}

		clusters = append(clusters, buildCluster(members, cfg))
	}

	return clusters
}

// meanSimilarity computes mean(sim(candidate, member)) over members.
func meanSimilarity(candidate memory.AtomicFact, members []memory.AtomicFact, cfg memory.ConsolidationConfig) float64 {
	if len(members) == 0 {
		return 0
	}
	var sum float64
	for _, m := range members {
		sum += Similarity(candidate, m, cfg)
	}
	return sum / float64(len(members))
}

func buildCluster(members []memory.AtomicFact, cfg memory.ConsolidationConfig) memory.FactCluster {
	c := memory.FactCluster{
		ID:    uuid.New().String(),
		Facts: members,
	}

	c.CommonEntities = intersectAll(lo.Map(members, func(f memory.AtomicFact, _ int) []string { return f.Entities }))
	c.CommonPersons = intersectAll(lo.Map(members, func(f memory.AtomicFact, _ int) []string { return f.Persons }))
	c.Topic = modalTopic(members)

	for _, m := range members {
		if m.Timestamp == nil {
			continue
		}
		if c.TimeRangeStart == nil || m.Timestamp.Before(*c.TimeRangeStart) {
			t := *m.Timestamp
			c.TimeRangeStart = &t
		}
		if c.TimeRangeEnd == nil || m.Timestamp.After(*c.TimeRangeEnd) {
			t := *m.Timestamp
			c.TimeRangeEnd = &t
		}
	}

	c.CoherenceScore = meanPairwiseSimilarity(members, cfg)

	return c
}

func intersectAll(sets [][]string) []string {
	if len(sets) == 0 {
		return nil
	}
	result := lowerAll(sets[0])
	for _, s := range sets[1:] {
		result = lo.Intersect(result, lowerAll(s))
	}
	return lo.Uniq(result)
}

func modalTopic(facts []memory.AtomicFact) *string {
	counts := map[string]int{}
	for _, f := range facts {
		if f.Topic != nil {
			counts[strings.ToLower(*f.Topic)]++
		}
	}
	best := ""
	bestCount := 0
	for topic, count := range counts {
		if count > bestCount {
			best = topic
			bestCount = count
		}
	}
	if bestCount == 0 {
		return nil
	}
	return &best
}

func meanPairwiseSimilarity(facts []memory.AtomicFact, cfg memory.ConsolidationConfig) float64 {
	if len(facts) < 2 {
		return 1
	}
	var sum float64
	var count int
	for i := 0; i < len(facts); i++ {
		for j := i + 1; j < len(facts); j++ {
			sum += Similarity(facts[i], facts[j], cfg)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
