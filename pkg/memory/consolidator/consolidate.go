package consolidator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/eternisai/atomic-memory/pkg/memory"
)

// BuildPrompt asks the Consolidation LLM for a single statement
// capturing the essence of every member statement: self-contained,
// more abstract than any source, preserving entities/relationships/
// outcomes.
func BuildPrompt(cluster memory.FactCluster) string {
	var b strings.Builder
	b.WriteString("Write a single, self-contained statement that captures the essence of the facts below.\n")
	b.WriteString("It must be more abstract than any individual fact, and must preserve the entities,\n")
	b.WriteString("relationships, and outcomes they describe. Respond with plain text only: one statement,\n")
	b.WriteString("no JSON, no commentary.\n\n")

	for i, f := range cluster.Facts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, f.Statement)
	}

	return b.String()
}

// ConsolidateCluster drives the Consolidation LLM once for a cluster
// and builds the resulting higher-level fact per spec.md §4.4: unioned
// keywords/persons/entities, the cluster's modal topic,
// timestamp=time_range.start, location of the first non-empty source,
// confidence=mean(sources.confidence), level=max(sources.level)+1.
func ConsolidateCluster(ctx context.Context, cluster memory.FactCluster, consolidateFn memory.ConsolidateFn, clock memory.Clock) (memory.AtomicFact, error) {
	prompt := BuildPrompt(cluster)

	statement, err := consolidateFn(ctx, prompt)
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			return memory.AtomicFact{}, &memory.ConsolidateError{Kind: memory.ConsolidateErrorCancelled, ClusterID: cluster.ID, Err: ctx.Err()}
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return memory.AtomicFact{}, &memory.ConsolidateError{Kind: memory.ConsolidateErrorTimeout, ClusterID: cluster.ID, Err: ctx.Err()}
		default:
			return memory.AtomicFact{}, &memory.ConsolidateError{Kind: memory.ConsolidateErrorBadResponse, ClusterID: cluster.ID, Err: err}
		}
	}

	statement = strings.TrimSpace(statement)
	if statement == "" {
		return memory.AtomicFact{}, &memory.ConsolidateError{Kind: memory.ConsolidateErrorBadResponse, ClusterID: cluster.ID, Err: fmt.Errorf("empty consolidation statement")}
	}

	now := time.Now()
	if clock != nil {
		now = clock()
	}

	maxLevel := 0
	var confidenceSum float64
	var keywords, persons, entities []string
	var location *string

	for _, f := range cluster.Facts {
		if f.Level > maxLevel {
			maxLevel = f.Level
		}
		confidenceSum += f.Confidence
		keywords = append(keywords, f.Keywords...)
		persons = append(persons, f.Persons...)
		entities = append(entities, f.Entities...)
		if location == nil && f.Location != nil && *f.Location != "" {
			location = f.Location
		}
	}

	var timestamp *time.Time
	if cluster.TimeRangeStart != nil {
		t := *cluster.TimeRangeStart
		timestamp = &t
	}

	clusterID := cluster.ID
	return memory.AtomicFact{
		ID:              uuid.New().String(),
		Statement:       statement,
		Keywords:        lo.Uniq(keywords),
		Persons:         lo.Uniq(persons),
		Entities:        lo.Uniq(entities),
		Topic:           cluster.Topic,
		Timestamp:       timestamp,
		Location:        location,
		Confidence:      confidenceSum / float64(len(cluster.Facts)),
		ExtractedAt:     now,
		Level:           maxLevel + 1,
		ParentClusterID: &clusterID,
	}, nil
}

// LevelResult summarises one level's consolidation pass.
type LevelResult struct {
	Level             int
	ClustersFormed    int
	ClustersSkipped   int
	NewFacts          []memory.AtomicFact
	ClusterErrors     []error
	CompressionRatios []float64
	// SourceFactIDs maps a new fact's ID to the IDs of the facts its
	// cluster consolidated, so callers can persist the reverse index
	// the Retriever's parent lookup depends on.
	SourceFactIDs map[string][]string
}

// Summary aggregates the full recursive loop's outcome.
type Summary struct {
	FactsConsolidated int
	NewFacts          []memory.AtomicFact
	CompressionRatio  float64 // 0 when no samples, else mean of per-cluster ratios
	Levels            []LevelResult
}

// Run executes the recursive consolidation loop: starting at level 0,
// cluster and consolidate, then advance to the newly created level and
// repeat, until maxConsolidationLevel is reached or no cluster at the
// current level meets the minimum size. allFacts must contain every
// currently-stored fact (all levels); newly consolidated facts are
// appended to the working set as levels advance, so level k+1
// clustering can see level k's freshly written facts.
func Run(ctx context.Context, allFacts []memory.AtomicFact, cfg memory.ConsolidationConfig, consolidateFn memory.ConsolidateFn, clock memory.Clock) Summary {
	working := append([]memory.AtomicFact(nil), allFacts...)
	summary := Summary{}

	for level := 0; level < cfg.MaxConsolidationLevel; level++ {
		levelFacts := lo.Filter(working, func(f memory.AtomicFact, _ int) bool { return f.Level == level })
		if len(levelFacts) < cfg.MinFactsForCluster {
			break
		}

		clusters := ClusterFacts(levelFacts, cfg)
		if len(clusters) == 0 {
			break
		}

		lr := LevelResult{Level: level, SourceFactIDs: make(map[string][]string)}
		for _, cluster := range clusters {
			select {
			case <-ctx.Done():
				lr.ClusterErrors = append(lr.ClusterErrors, &memory.ErrCancelled{Op: "run_consolidation"})
				continue
			default:
			}

			fact, err := ConsolidateCluster(ctx, cluster, consolidateFn, clock)
			if err != nil {
				lr.ClusterErrors = append(lr.ClusterErrors, err)
				lr.ClustersSkipped++
				continue
			}

			lr.ClustersFormed++
			lr.NewFacts = append(lr.NewFacts, fact)

			sourceIDs := make([]string, 0, len(cluster.Facts))
			for _, f := range cluster.Facts {
				sourceIDs = append(sourceIDs, f.ID)
			}
			lr.SourceFactIDs[fact.ID] = sourceIDs

			ratio := compressionRatio(cluster, fact)
			lr.CompressionRatios = append(lr.CompressionRatios, ratio)

			working = append(working, fact)
			summary.NewFacts = append(summary.NewFacts, fact)
			summary.FactsConsolidated += len(cluster.Facts)
		}

		summary.Levels = append(summary.Levels, lr)

		if lr.ClustersFormed == 0 {
			break
		}
	}

	summary.CompressionRatio = meanRatio(summary.Levels)
	return summary
}

func compressionRatio(cluster memory.FactCluster, fact memory.AtomicFact) float64 {
	var sourceChars int
	for _, f := range cluster.Facts {
		sourceChars += len(f.Statement)
	}
	if len(fact.Statement) == 0 {
		return 0
	}
	return float64(sourceChars) / float64(len(fact.Statement))
}

func meanRatio(levels []LevelResult) float64 {
	var sum float64
	var count int
	for _, lr := range levels {
		for _, r := range lr.CompressionRatios {
			sum += r
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
