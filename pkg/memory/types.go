// Package memory implements the long-lived semantic memory engine: it
// distils conversation transcripts into atomic facts, consolidates
// those facts into a hierarchy of higher-level abstractions, and
// serves them back through a query-adaptive retrieval layer.
package memory

import (
	"context"
	"time"
)

// AtomicFact is the smallest self-contained unit of memory. Level 0
// facts are extracted directly from a ConversationWindow by the Fact
// Extractor LLM; level k>0 facts are written by the Consolidator from
// a cluster of level <k facts.
type AtomicFact struct {
	ID      string
	AgentID string

	Statement string
	Keywords  []string
	Persons   []string
	Entities  []string
	Topic     *string
	Timestamp *time.Time
	Location  *string

	Confidence  float64
	ExtractedAt time.Time

	Level           int
	ParentClusterID *string

	SourceWindowID    *string
	SourceSessionFile *string
	SourceChunkID     *string
}

// IsAtomic reports whether this fact was extracted directly from a
// transcript window rather than consolidated from other facts.
func (f AtomicFact) IsAtomic() bool {
	return f.Level == 0
}

// Turn is one message in a conversation transcript.
type Turn struct {
	Speaker   string
	Content   string
	Timestamp *time.Time
}

// ConversationWindow is a contiguous, possibly overlapping slice of a
// transcript considered as a unit for entropy scoring and extraction.
type ConversationWindow struct {
	ID                string
	Turns             []Turn
	StartIndex        int
	EndIndex          int
	Entropy           *float64
	ShouldProcess     bool
	SourceSessionFile string
}

// FactCluster is a transient grouping of same-level facts produced by
// the Consolidator's clustering pass. Only its ID survives persistence,
// as the ParentClusterID of the fact it is consolidated into.
type FactCluster struct {
	ID             string
	Facts          []AtomicFact
	CommonEntities []string
	CommonPersons  []string
	Topic          *string
	TimeRangeStart *time.Time
	TimeRangeEnd   *time.Time
	CoherenceScore float64
}

// CompressionStat is one append-only record per process_transcript
// call, summarising how much a transcript was compressed into facts.
type CompressionStat struct {
	ID                string
	AgentID           string
	InputTokens       int
	OutputFacts       int
	CompressionRatio  float64
	EntropyScore      float64
	ProcessingTimeMs  int64
	CreatedAt         time.Time
	SourceSessionFile string
}

// Clock abstracts wall-clock time so tests can inject deterministic
// instants.
type Clock func() time.Time

// ExtractFn drives the Fact-Extractor LLM: given a prompt, it returns
// the raw model response (expected to contain the facts JSON envelope,
// optionally fenced).
type ExtractFn func(ctx context.Context, prompt string) (string, error)

// ConsolidateFn drives the Consolidation LLM: given a prompt describing
// a cluster of facts, it returns a single plain-text statement.
type ConsolidateFn func(ctx context.Context, prompt string) (string, error)

// EmbeddingFn maps text to a fixed-dimension vector. Optional; when nil
// the Entropy Filter falls back to the constant semantic_divergence.
type EmbeddingFn func(ctx context.Context, text string) ([]float64, error)
