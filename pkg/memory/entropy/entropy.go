// Package entropy implements the Entropy Filter: pure functions that
// window a transcript and score each window's information novelty
// against prior memory, deciding which windows are worth sending to
// the expensive Extractor LLM. No LLM calls are made here.
package entropy

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/eternisai/atomic-memory/pkg/memory"
)

// capitalizedRun matches runs of capitalised words, e.g. "John" or
// "New York City".
var capitalizedRun = regexp.MustCompile(`[A-Z][a-z]+(?: [A-Z][a-z]+)*`)

// Result is the filter's decision for one window, mirroring what gets
// written back onto the window itself.
type Result struct {
	WindowID            string
	Entropy             float64
	ShouldKeep          bool
	EntityNovelty       float64
	SemanticDivergence  float64
	NewEntities         []string
}

// CreateWindows slices turns into overlapping windows of windowSize
// starting at 0, stride, 2*stride, ... as long as the start position is
// strictly less than len(turns). An empty transcript yields zero
// windows. The last window may be shorter than windowSize.
func CreateWindows(turns []memory.Turn, windowSize, stride int, sourceSessionFile string) []memory.ConversationWindow {
	if len(turns) == 0 || windowSize <= 0 || stride <= 0 {
		return nil
	}

	var windows []memory.ConversationWindow
	for start := 0; start < len(turns); start += stride {
		end := start + windowSize
		if end > len(turns) {
			end = len(turns)
		}

		w := memory.ConversationWindow{
			ID:                windowID(start, end-1),
			Turns:             append([]memory.Turn(nil), turns[start:end]...),
			StartIndex:        start,
			EndIndex:          end - 1,
			SourceSessionFile: sourceSessionFile,
		}
		windows = append(windows, w)
	}

	return windows
}

func windowID(start, end int) string {
	return fmt.Sprintf("window-%d-%d", start, end)
}

// PriorMemory is the subset of prior fact fields the filter compares
// new entities against: the union of entities and persons across the
// facts the caller considers "previous".
type PriorMemory struct {
	Entities map[string]struct{} // lower-cased
}

// NewPriorMemory builds a PriorMemory from a slice of facts, folding
// entities and persons to lower case for case-insensitive comparison.
func NewPriorMemory(facts []memory.AtomicFact) PriorMemory {
	set := make(map[string]struct{})
	for _, f := range facts {
		for _, e := range f.Entities {
			set[strings.ToLower(e)] = struct{}{}
		}
		for _, p := range f.Persons {
			set[strings.ToLower(p)] = struct{}{}
		}
	}
	return PriorMemory{Entities: set}
}

// Config is the subset of SemanticCompressionConfig the scorer needs.
type Config struct {
	EntityWeight     float64 // alpha
	EntropyThreshold float64
}

// Score computes entropy and should_keep for one window, per spec.md
// §4.2. windowEmbedding/prevEmbedding are optional ([]float64(nil) when
// unavailable); when both are present, semantic_divergence is
// 1-cosine_similarity, otherwise it is the constant 0.5.
func Score(ctx context.Context, w memory.ConversationWindow, prior PriorMemory, cfg Config, windowEmbedding, prevEmbedding []float64) Result {
	windowEntities := extractEntities(w)

	newEntities := make([]string, 0, len(windowEntities))
	for _, e := range windowEntities {
		if _, seen := prior.Entities[strings.ToLower(e)]; !seen {
			newEntities = append(newEntities, e)
		}
	}

	contentLen := 0
	for _, t := range w.Turns {
		contentLen += len(t.Content)
	}

	entityNovelty := 0.0
	if contentLen > 0 {
		entityNovelty = float64(len(newEntities)) / math.Sqrt(float64(contentLen))
	}

	semanticDivergence := 0.5
	if windowEmbedding != nil && prevEmbedding != nil {
		semanticDivergence = 1 - cosineSimilarity(windowEmbedding, prevEmbedding)
	}

	alpha := cfg.EntityWeight
	entropyVal := alpha*entityNovelty + (1-alpha)*semanticDivergence

	return Result{
		WindowID:           w.ID,
		Entropy:            entropyVal,
		ShouldKeep:         entropyVal >= cfg.EntropyThreshold,
		EntityNovelty:      entityNovelty,
		SemanticDivergence: semanticDivergence,
		NewEntities:        newEntities,
	}
}

// extractEntities collects capitalised token runs from every turn's
// content plus the speaker names, per spec.md §4.2 step 2.
func extractEntities(w memory.ConversationWindow) []string {
	seen := make(map[string]struct{})
	var out []string

	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	for _, t := range w.Turns {
		for _, m := range capitalizedRun.FindAllString(t.Content, -1) {
			add(m)
		}
		add(t.Speaker)
	}

	return out
}

// cosineSimilarity returns the cosine similarity of two equal-length
// vectors, 0 for mismatched lengths or zero vectors.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
