// Command memoryctl drives one agent's memory engine from the shell:
// feed it a transcript, run consolidation, search stored facts, or
// print aggregate stats.
//
// Flag parsing follows cmd/server/main.go's flags.NewParser(...,
// flags.Default) / ErrHelp idiom; logger setup and config loading
// follow cmd/memtest/main.go's shape.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jessevdk/go-flags"

	"github.com/eternisai/atomic-memory/pkg/config"
	"github.com/eternisai/atomic-memory/pkg/logging"
	"github.com/eternisai/atomic-memory/pkg/memory"
	"github.com/eternisai/atomic-memory/pkg/memory/pipeline"
	"github.com/eternisai/atomic-memory/pkg/memory/store"
	"github.com/eternisai/atomic-memory/providers/openai"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	Level:           log.InfoLevel,
})

var logFactory = logging.NewFactoryWithLogger(logger)

type options struct {
	Process     processCmd     `command:"process" description:"extract facts from a transcript file"`
	Search      searchCmd      `command:"search" description:"retrieve facts relevant to a query"`
	Consolidate consolidateCmd `command:"consolidate" description:"run one consolidation pass"`
	Stats       statsCmd       `command:"stats" description:"print fact/window/compression counters"`
	Serve       serveCmd       `command:"serve" description:"run background consolidation until interrupted"`
}

type processCmd struct {
	TranscriptFile string `long:"transcript" required:"true" description:"path to a JSON array of {speaker, content} turns"`
	SessionFile    string `long:"session" description:"source session identifier stored alongside extracted facts"`
}

type searchCmd struct {
	Query string `long:"query" required:"true" description:"natural language query"`
}

type consolidateCmd struct{}

type statsCmd struct{}

type serveCmd struct{}

// Execute methods satisfy flags.Commander; the parser's CommandHandler
// does the real work below, these are never reached.
func (*processCmd) Execute([]string) error     { return nil }
func (*searchCmd) Execute([]string) error      { return nil }
func (*consolidateCmd) Execute([]string) error { return nil }
func (*statsCmd) Execute([]string) error       { return nil }
func (*serveCmd) Execute([]string) error       { return nil }

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.CommandHandler = func(command flags.Commander, args []string) error {
		cfg, db, orch, err := bootstrap(context.Background())
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck

		ctx := context.Background()
		switch c := command.(type) {
		case *processCmd:
			return runProcess(ctx, orch, c)
		case *searchCmd:
			return runSearch(ctx, orch, c)
		case *consolidateCmd:
			return runConsolidate(ctx, orch)
		case *statsCmd:
			return runStats(ctx, orch)
		case *serveCmd:
			return runServe(ctx, cfg, orch)
		default:
			return fmt.Errorf("unknown command")
		}
	}

	if _, err := parser.Parse(); err != nil {
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			os.Exit(0)
		}
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func bootstrap(ctx context.Context) (*config.Config, *store.Store, *pipeline.Orchestrator, error) {
	cfg, err := config.LoadConfigWithAutoDetection()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	for component, level := range cfg.ComponentLogLevels {
		if lvl, parseErr := log.ParseLevel(level); parseErr == nil {
			logFactory.SetComponentLevel(strings.ToLower(component), lvl)
		}
	}

	var db *store.Store
	switch cfg.DBBackend {
	case "postgres":
		db, err = store.OpenPostgres(ctx, cfg.PostgresDSN, logFactory.ForComponent("store"))
	default:
		db, err = store.OpenSQLite(ctx, cfg.DBPath, logFactory.ForComponent("store"))
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	client := openai.NewClient(cfg.CompletionsAPIKey, cfg.CompletionsAPIURL, cfg.CompletionsModel)

	pcfg := memory.DefaultPipelineConfig()
	pcfg.BackgroundConsolidation = cfg.BackgroundConsolidation
	pcfg.ConsolidationInterval = cfg.ConsolidationInterval

	orch, err := pipeline.New(db, cfg.AgentID, pcfg, client.Extract, client.Consolidate, logFactory.ForComponent("pipeline"))
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, nil, nil, fmt.Errorf("construct orchestrator: %w", err)
	}

	return cfg, db, orch, nil
}

func runProcess(ctx context.Context, orch *pipeline.Orchestrator, c *processCmd) error {
	raw, err := os.ReadFile(c.TranscriptFile)
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}
	var turns []memory.Turn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return fmt.Errorf("parse transcript: %w", err)
	}

	result, err := orch.ProcessTranscript(ctx, turns, c.SessionFile)
	if err != nil {
		return fmt.Errorf("process transcript: %w", err)
	}

	logger.Info("transcript processed",
		"windows_created", result.WindowsCreated,
		"windows_processed", result.WindowsProcessed,
		"facts_extracted", result.FactsExtracted,
		"compression_ratio", result.Stat.CompressionRatio,
	)
	return nil
}

func runSearch(ctx context.Context, orch *pipeline.Orchestrator, c *searchCmd) error {
	result, err := orch.Search(ctx, c.Query)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	for i, sf := range result.Facts {
		fmt.Printf("%d. [%.2f] %s\n", i+1, sf.Relevance, sf.Fact.Statement)
	}
	logger.Info("search complete", "strategy", result.Strategy, "total_tokens", result.TotalTokens, "results", len(result.Facts))
	return nil
}

func runConsolidate(ctx context.Context, orch *pipeline.Orchestrator) error {
	result, err := orch.RunConsolidation(ctx)
	if err != nil {
		return fmt.Errorf("consolidate: %w", err)
	}

	for _, level := range result.Levels {
		logger.Info("consolidation level complete",
			"level", level.Level,
			"clusters_formed", level.ClustersFormed,
			"clusters_skipped", level.ClustersSkipped,
			"new_facts", len(level.NewFacts),
		)
	}
	logger.Info("consolidation complete", "compression_ratio", result.CompressionRatio)
	return nil
}

func runStats(ctx context.Context, orch *pipeline.Orchestrator) error {
	stats, err := orch.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	fmt.Printf("total_facts: %d\n", stats.TotalFacts)
	fmt.Printf("total_windows: %d\n", stats.TotalWindows)
	fmt.Printf("avg_compression_ratio: %.2f\n", stats.AvgCompression)
	for level, count := range stats.FactsByLevel {
		fmt.Printf("facts_by_level[%d]: %d\n", level, count)
	}
	return nil
}

func runServe(ctx context.Context, cfg *config.Config, orch *pipeline.Orchestrator) error {
	if !cfg.BackgroundConsolidation {
		return fmt.Errorf("MEMORY_BACKGROUND_CONSOLIDATION is not enabled")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	orch.Start(runCtx)
	logger.Info("serving", "interval", cfg.ConsolidationInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()
	orch.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_, _ = orch.RunConsolidation(shutdownCtx)
	return nil
}
