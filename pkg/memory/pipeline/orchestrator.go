// Package pipeline wires the Entropy Filter, Fact Extractor,
// Consolidator and Retriever into one Orchestrator: process a
// transcript end to end, run consolidation on demand or on a
// background schedule, and serve queries.
//
// Grounded on pkg/holon/background_processor.go (start/stop via
// stopChan + sync.WaitGroup, ticker-driven background loop; the first
// run happens on the first tick) and evolvingmemory/orchestrator.go (batch/flush
// commit granularity for a streaming pipeline).
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/eternisai/atomic-memory/pkg/memory"
	"github.com/eternisai/atomic-memory/pkg/memory/consolidator"
	"github.com/eternisai/atomic-memory/pkg/memory/entropy"
	"github.com/eternisai/atomic-memory/pkg/memory/extractor"
	"github.com/eternisai/atomic-memory/pkg/memory/retriever"
)

// Store is the subset of store.Store the Orchestrator depends on. Kept
// narrow and local so the pipeline package never imports the store
// package's SQL concerns directly.
type Store interface {
	PutWindowBatch(ctx context.Context, windows []memory.ConversationWindow) error
	PutFactBatch(ctx context.Context, facts []memory.AtomicFact) error
	PutConsolidatedFact(ctx context.Context, f memory.AtomicFact, sourceFactIDs []string) error
	PutStat(ctx context.Context, stat memory.CompressionStat) error
	GetAllFacts(ctx context.Context) ([]memory.AtomicFact, error)
	GetRecentFacts(ctx context.Context, limit int) ([]memory.AtomicFact, error)
	CountByLevel(ctx context.Context) (map[int]int, error)
	CountWindows(ctx context.Context) (int, error)
	AvgCompressionRatio(ctx context.Context) (float64, error)
	ParentOf(ctx context.Context, factID string) (memory.AtomicFact, bool, error)
}

// recentFactsForContext is the window size spec.md §9's process_transcript
// description names for "previous" entity-novelty context.
const recentFactsForContext = 100

// ProcessResult summarises one process_transcript call.
type ProcessResult struct {
	WindowsCreated   int
	WindowsProcessed int
	FactsExtracted   int
	Stat             memory.CompressionStat
}

// ConsolidationResult summarises one run_consolidation call.
type ConsolidationResult struct {
	Levels           []consolidator.LevelResult
	CompressionRatio float64
}

// Orchestrator composes the four components over a Store and an
// agent-scoped LLM pair (extractFn, consolidateFn). One Orchestrator
// serves one agent_id.
type Orchestrator struct {
	store         Store
	agentID       string
	cfg           memory.PipelineConfig
	extractFn     memory.ExtractFn
	consolidateFn memory.ConsolidateFn
	clock         memory.Clock
	logger        *log.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// New constructs an Orchestrator. cfg is validated up front; a nil
// logger falls back to the component's own charmbracelet/log default.
func New(store Store, agentID string, cfg memory.PipelineConfig, extractFn memory.ExtractFn, consolidateFn memory.ConsolidateFn, logger *log.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default().With("component", "pipeline")
	}
	return &Orchestrator{
		store:         store,
		agentID:       agentID,
		cfg:           cfg,
		extractFn:     extractFn,
		consolidateFn: consolidateFn,
		clock:         time.Now,
		logger:        logger,
		stopChan:      make(chan struct{}),
	}, nil
}

// ProcessTranscript windows turns, scores each window's entropy
// against prior memory, extracts facts from the windows worth
// processing, deduplicates and persists them, and records one
// compression_stats row.
func (o *Orchestrator) ProcessTranscript(ctx context.Context, turns []memory.Turn, sourceSessionFile string) (ProcessResult, error) {
	start := o.clock()
	sc := o.cfg.SemanticCompression

	windows := entropy.CreateWindows(turns, sc.WindowSize, sc.Stride, sourceSessionFile)
	if len(windows) == 0 {
		return ProcessResult{}, nil
	}

	priorFacts, err := o.store.GetRecentFacts(ctx, recentFactsForContext)
	if err != nil {
		return ProcessResult{}, err
	}
	prior := entropy.NewPriorMemory(priorFacts)
	entropyCfg := entropy.Config{EntityWeight: sc.EntityWeight, EntropyThreshold: sc.EntropyThreshold}

	var kept []memory.ConversationWindow
	var meanEntropy float64
	for i := range windows {
		result := entropy.Score(ctx, windows[i], prior, entropyCfg, nil, nil)
		e := result.Entropy
		windows[i].Entropy = &e
		windows[i].ShouldProcess = result.ShouldKeep
		meanEntropy += e
		if result.ShouldKeep {
			kept = append(kept, windows[i])
		}
	}
	meanEntropy /= float64(len(windows))

	if err := o.store.PutWindowBatch(ctx, windows); err != nil {
		return ProcessResult{}, err
	}

	extractCfg := extractor.Config{
		MaxFactsPerWindow:  sc.MaxFactsPerWindow,
		MinConfidence:      sc.MinConfidence,
		MaxParallelWorkers: sc.MaxParallelWorkers,
		Timeout:            30 * time.Second,
	}

	var facts []memory.AtomicFact
	if len(kept) > 0 {
		var windowResults []extractor.WindowResult
		facts, windowResults = extractor.ExtractBatch(ctx, kept, "", o.extractFn, extractCfg, o.clock, o.logger)
		for _, wr := range windowResults {
			if wr.Err != nil {
				o.logger.Warn("window extraction failed", "window_id", wr.WindowID, "error", wr.Err)
			}
		}
	}

	for i := range facts {
		facts[i].AgentID = o.agentID
	}

	if len(facts) > 0 {
		if err := o.store.PutFactBatch(ctx, facts); err != nil {
			return ProcessResult{}, err
		}
	}

	inputTokens := retriever.EstimateTokens(transcriptText(turns), o.cfg.AdaptiveRetrieval.CharsPerToken)
	ratio := 0.0
	if len(facts) > 0 {
		ratio = float64(inputTokens) / float64(len(facts))
	}

	stat := memory.CompressionStat{
		ID:                uuid.New().String(),
		AgentID:           o.agentID,
		InputTokens:       inputTokens,
		OutputFacts:       len(facts),
		CompressionRatio:  ratio,
		EntropyScore:      meanEntropy,
		ProcessingTimeMs:  o.clock().Sub(start).Milliseconds(),
		CreatedAt:         o.clock(),
		SourceSessionFile: sourceSessionFile,
	}
	if err := o.store.PutStat(ctx, stat); err != nil {
		return ProcessResult{}, err
	}

	return ProcessResult{
		WindowsCreated:   len(windows),
		WindowsProcessed: len(kept),
		FactsExtracted:   len(facts),
		Stat:             stat,
	}, nil
}

// RunConsolidation loads every fact currently in the store and runs
// the recursive consolidation loop, persisting each newly built fact
// together with its cluster membership.
func (o *Orchestrator) RunConsolidation(ctx context.Context) (ConsolidationResult, error) {
	facts, err := o.store.GetAllFacts(ctx)
	if err != nil {
		return ConsolidationResult{}, err
	}

	summary := consolidator.Run(ctx, facts, o.cfg.Consolidation, o.consolidateFn, o.clock)

	for _, lr := range summary.Levels {
		for _, cf := range lr.NewFacts {
			cf.AgentID = o.agentID
			if err := o.store.PutConsolidatedFact(ctx, cf, lr.SourceFactIDs[cf.ID]); err != nil {
				o.logger.Error("failed to persist consolidated fact", "fact_id", cf.ID, "error", err)
				continue
			}
		}
	}

	return ConsolidationResult{Levels: summary.Levels, CompressionRatio: summary.CompressionRatio}, nil
}

// Search runs the Retriever's query-adaptive selection against every
// fact currently in the store.
func (o *Orchestrator) Search(ctx context.Context, query string) (retriever.Result, error) {
	facts, err := o.store.GetAllFacts(ctx)
	if err != nil {
		return retriever.Result{}, err
	}
	source := newStoreAdapter(ctx, o.store, facts, o.logger)
	return retriever.Retrieve(query, source, o.cfg.AdaptiveRetrieval, o.clock())
}

// Stats reports aggregate counters the teacher's CLI/status surfaces
// (stats subcommand) display.
type Stats struct {
	TotalFacts     int
	FactsByLevel   map[int]int
	TotalWindows   int
	AvgCompression float64
}

// Stats returns the current fact distribution, window count, and
// average compression ratio across the stored compression_stats rows
// (one per ProcessTranscript call).
func (o *Orchestrator) Stats(ctx context.Context) (Stats, error) {
	counts, err := o.store.CountByLevel(ctx)
	if err != nil {
		return Stats{}, err
	}
	totalWindows, err := o.store.CountWindows(ctx)
	if err != nil {
		return Stats{}, err
	}
	avg, err := o.store.AvgCompressionRatio(ctx)
	if err != nil {
		return Stats{}, err
	}

	total := 0
	for _, c := range counts {
		total += c
	}

	return Stats{
		TotalFacts:     total,
		FactsByLevel:   counts,
		TotalWindows:   totalWindows,
		AvgCompression: avg,
	}, nil
}

// Start begins the background consolidation loop, ticking at
// cfg.ConsolidationInterval. A no-op when BackgroundConsolidation is
// disabled or the loop is already running.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running || !o.cfg.BackgroundConsolidation {
		return
	}
	o.running = true
	o.wg.Add(1)

	go func() {
		defer o.wg.Done()
		o.run(ctx)
	}()

	o.logger.Info("background consolidation started", "interval", o.cfg.ConsolidationInterval)
}

// Stop gracefully halts the background consolidation loop, waiting for
// any in-flight run to finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return
	}
	close(o.stopChan)
	o.running = false
	o.wg.Wait()
	o.logger.Info("background consolidation stopped")
}

// IsRunning reports whether the background loop is active.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.ConsolidationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopChan:
			return
		case <-ticker.C:
			if _, err := o.RunConsolidation(ctx); err != nil {
				o.logger.Error("background consolidation run failed", "error", err)
			}
		}
	}
}

func transcriptText(turns []memory.Turn) string {
	var text string
	for _, t := range turns {
		text += fmt.Sprintf("%s: %s\n", t.Speaker, t.Content)
	}
	return text
}
