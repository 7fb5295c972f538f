// Package extractor implements the Fact Extractor: it drives the
// Extractor LLM over kept windows with bounded parallelism, then
// parses, validates, and deduplicates the results into AtomicFacts.
//
// JSON parsing is grounded on the defensive-unmarshal style of
// pkg/agent/memory/evolvingmemory/pure.go's ParseMemoryDecisionResponse
// in the teacher repo: never panic on a missing field, classify any
// structural violation as a single BadResponse error.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eternisai/atomic-memory/pkg/memory"
	"github.com/eternisai/atomic-memory/pkg/memory/internal/workerpool"
)

const defaultConfidence = 0.8

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// rawFact mirrors the LLM's per-fact JSON shape from spec.md §6.3.
type rawFact struct {
	Statement  string   `json:"statement"`
	Keywords   []string `json:"keywords"`
	Persons    []string `json:"persons"`
	Entities   []string `json:"entities"`
	Topic      *string  `json:"topic"`
	Timestamp  *string  `json:"timestamp"`
	Location   *string  `json:"location"`
	Confidence *float64 `json:"confidence"`
}

type rawEnvelope struct {
	Facts json.RawMessage `json:"facts"`
}

// ParseResponse extracts the facts array from a raw LLM response,
// accepting either bare JSON or JSON inside a ```json fenced block.
// Returns memory.ExtractError{Kind: ExtractErrorBadResponse} on any
// structural violation.
func ParseResponse(raw string) ([]rawFact, error) {
	body := strings.TrimSpace(raw)
	if m := fencedJSON.FindStringSubmatch(body); m != nil {
		body = strings.TrimSpace(m[1])
	}

	var env rawEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, &memory.ExtractError{Kind: memory.ExtractErrorBadResponse, Err: fmt.Errorf("parsing response envelope: %w", err)}
	}
	if len(env.Facts) == 0 {
		return nil, &memory.ExtractError{Kind: memory.ExtractErrorBadResponse, Err: fmt.Errorf("missing top-level facts field")}
	}

	var facts []rawFact
	if err := json.Unmarshal(env.Facts, &facts); err != nil {
		return nil, &memory.ExtractError{Kind: memory.ExtractErrorBadResponse, Err: fmt.Errorf("facts is not an array: %w", err)}
	}

	return facts, nil
}

// Coerce fills in the defaults spec.md §4.3 requires (empty sets for
// missing keywords/persons/entities, 0.8 default confidence) and
// builds a fresh AtomicFact stamped with level 0.
func coerce(f rawFact, now time.Time, windowID string, sourceSessionFile *string, clock memory.Clock) memory.AtomicFact {
	confidence := defaultConfidence
	if f.Confidence != nil {
		confidence = *f.Confidence
	}

	var ts *time.Time
	if f.Timestamp != nil {
		if t, err := time.Parse(time.RFC3339, *f.Timestamp); err == nil {
			ts = &t
		}
	}

	extractedAt := now
	if clock != nil {
		extractedAt = clock()
	}

	wID := windowID
	return memory.AtomicFact{
		ID:                uuid.New().String(),
		Statement:         f.Statement,
		Keywords:          orEmpty(f.Keywords),
		Persons:           orEmpty(f.Persons),
		Entities:          orEmpty(f.Entities),
		Topic:             f.Topic,
		Timestamp:         ts,
		Location:          f.Location,
		Confidence:        confidence,
		ExtractedAt:       extractedAt,
		Level:             0,
		SourceWindowID:    &wID,
		SourceSessionFile: sourceSessionFile,
	}
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Config is the subset of SemanticCompressionConfig the extractor needs.
type Config struct {
	MaxFactsPerWindow  int
	MinConfidence      float64
	MaxParallelWorkers int
	Timeout            time.Duration
}

// ExtractWindow builds the extraction prompt for one window, drives
// extractFn, parses and filters the response. Previous memory context
// is an optional short summary appended to the prompt.
func ExtractWindow(ctx context.Context, w memory.ConversationWindow, previousMemoryContext string, extractFn memory.ExtractFn, cfg Config, clock memory.Clock) ([]memory.AtomicFact, error) {
	prompt := BuildPrompt(w, previousMemoryContext)

	raw, err := extractFn(ctx, prompt)
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			return nil, &memory.ExtractError{Kind: memory.ExtractErrorCancelled, WindowID: w.ID, Err: ctx.Err()}
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, &memory.ExtractError{Kind: memory.ExtractErrorTimeout, WindowID: w.ID, Err: ctx.Err()}
		default:
			return nil, &memory.ExtractError{Kind: memory.ExtractErrorBadResponse, WindowID: w.ID, Err: err}
		}
	}

	rawFacts, err := ParseResponse(raw)
	if err != nil {
		if ee, ok := err.(*memory.ExtractError); ok {
			ee.WindowID = w.ID
		}
		return nil, err
	}

	now := time.Now()
	sessionFile := w.SourceSessionFile
	var out []memory.AtomicFact
	for _, rf := range rawFacts {
		confidence := defaultConfidence
		if rf.Confidence != nil {
			confidence = *rf.Confidence
		}
		if confidence < cfg.MinConfidence {
			continue
		}
		out = append(out, coerce(rf, now, w.ID, &sessionFile, clock))
		if len(out) >= cfg.MaxFactsPerWindow {
			break
		}
	}

	return out, nil
}

// BuildPrompt reproduces the window's turns with optional timestamps
// and appends the previous-memory summary as context, per spec.md
// §4.3.
func BuildPrompt(w memory.ConversationWindow, previousMemoryContext string) string {
	var b strings.Builder

	b.WriteString("Extract atomic facts from the following conversation window.\n")
	b.WriteString("Each fact must be a complete, self-contained statement with coreferences resolved\n")
	b.WriteString("and temporal expressions normalized. Respond with JSON of the shape:\n")
	b.WriteString(`{"facts":[{"statement":string,"keywords":[string],"persons":[string],"entities":[string],` +
		`"topic"?:string,"timestamp"?:string,"location"?:string,"confidence":number}]}` + "\n\n")

	if previousMemoryContext != "" {
		b.WriteString("Known prior context:\n")
		b.WriteString(previousMemoryContext)
		b.WriteString("\n\n")
	}

	b.WriteString("Conversation:\n")
	for _, t := range w.Turns {
		if t.Timestamp != nil {
			fmt.Fprintf(&b, "[%s] %s: %s\n", t.Timestamp.Format(time.RFC3339), t.Speaker, t.Content)
		} else {
			fmt.Fprintf(&b, "%s: %s\n", t.Speaker, t.Content)
		}
	}

	return b.String()
}

// Dedup collapses facts whose normalized tuple
// (statement_normalized, sorted(entities), sorted(persons)) matches;
// the first occurrence wins. Idempotent: Dedup(Dedup(x)) == Dedup(x).
func Dedup(facts []memory.AtomicFact) []memory.AtomicFact {
	seen := make(map[string]struct{}, len(facts))
	out := make([]memory.AtomicFact, 0, len(facts))

	for _, f := range facts {
		key := dedupKey(f)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}

	return out
}

func dedupKey(f memory.AtomicFact) string {
	norm := strings.Join(strings.Fields(strings.ToLower(f.Statement)), " ")

	entities := append([]string(nil), f.Entities...)
	sort.Strings(entities)
	persons := append([]string(nil), f.Persons...)
	sort.Strings(persons)

	return norm + "|" + strings.Join(entities, ",") + "|" + strings.Join(persons, ",")
}

// windowJob adapts ExtractWindow to workerpool.Job.
type windowJob struct {
	window      memory.ConversationWindow
	prevContext string
	extractFn   memory.ExtractFn
	cfg         Config
	clock       memory.Clock
}

func (j windowJob) Process(ctx context.Context) ([]memory.AtomicFact, error) {
	return ExtractWindow(ctx, j.window, j.prevContext, j.extractFn, j.cfg, j.clock)
}

// WindowResult pairs a window's facts with any (recoverable) error
// extracting it, so a single window's failure never cancels siblings.
type WindowResult struct {
	WindowID string
	Facts    []memory.AtomicFact
	Err      error
}

type poolLogger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debugf(format string, args ...interface{}) {}
func (noopLogger) Infof(format string, args ...interface{})  {}

// ExtractBatch runs ExtractWindow over every kept window with bounded
// parallelism of cfg.MaxParallelWorkers, never cancelling siblings on
// a single window's failure, then deduplicates the combined result.
// A nil logger is replaced with a no-op logger.
func ExtractBatch(ctx context.Context, windows []memory.ConversationWindow, previousMemoryContext string, extractFn memory.ExtractFn, cfg Config, clock memory.Clock, logger poolLogger) ([]memory.AtomicFact, []WindowResult) {
	jobs := make([]windowJob, len(windows))
	for i, w := range windows {
		jobs[i] = windowJob{window: w, prevContext: previousMemoryContext, extractFn: extractFn, cfg: cfg, clock: clock}
	}

	if logger == nil {
		logger = noopLogger{}
	}

	workers := cfg.MaxParallelWorkers
	if workers <= 0 {
		workers = 1
	}
	pool := workerpool.NewWorkerPool[windowJob, []memory.AtomicFact](workers, logger)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	results := pool.Process(ctx, jobs, timeout)

	var allFacts []memory.AtomicFact
	var windowResults []WindowResult
	for r := range results {
		wr := WindowResult{WindowID: r.Job.window.ID, Facts: r.Result, Err: r.Error}
		windowResults = append(windowResults, wr)
		if r.Error == nil {
			allFacts = append(allFacts, r.Result...)
		}
	}

	return Dedup(allFacts), windowResults
}
