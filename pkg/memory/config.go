package memory

import "time"

// SemanticCompressionConfig governs windowing, entropy scoring, and
// fact extraction.
type SemanticCompressionConfig struct {
	Enabled            bool
	WindowSize         int
	Stride             int
	EntropyThreshold   float64
	EntityWeight       float64
	DivergenceWeight   float64
	MaxParallelWorkers int
	MaxFactsPerWindow  int
	MinConfidence      float64
}

// ConsolidationConfig governs clustering and the recursive
// consolidation loop.
type ConsolidationConfig struct {
	Enabled               bool
	MinFactsForCluster    int
	MaxFactsPerCluster    int
	SimilarityThreshold   float64
	MaxConsolidationLevel int
	TemporalWindowMs      int64
	TopicClustering       bool
	EntityClustering      bool
	TemporalClustering    bool
}

// AdaptiveRetrievalConfig governs the Retriever's strategy table.
type AdaptiveRetrievalConfig struct {
	Enabled              bool
	SimpleQueryTokens    int
	ModerateQueryTokens  int
	ComplexQueryTokens   int
	PreferConsolidated   bool
	IncludeParents       bool
	CharsPerToken        int
}

// PipelineConfig composes the three component configs plus the
// Orchestrator's background consolidation schedule.
type PipelineConfig struct {
	SemanticCompression     SemanticCompressionConfig
	Consolidation           ConsolidationConfig
	AdaptiveRetrieval       AdaptiveRetrievalConfig
	BackgroundConsolidation bool
	ConsolidationInterval   time.Duration
}

// DefaultSemanticCompressionConfig returns spec.md §6.4's stated defaults.
func DefaultSemanticCompressionConfig() SemanticCompressionConfig {
	return SemanticCompressionConfig{
		Enabled:            true,
		WindowSize:         10,
		Stride:             5,
		EntropyThreshold:   0.3,
		EntityWeight:       0.5,
		DivergenceWeight:   0.5,
		MaxParallelWorkers: 4,
		MaxFactsPerWindow:  20,
		MinConfidence:      0.7,
	}
}

// DefaultConsolidationConfig returns spec.md §6.4's stated defaults.
func DefaultConsolidationConfig() ConsolidationConfig {
	return ConsolidationConfig{
		Enabled:               true,
		MinFactsForCluster:    3,
		MaxFactsPerCluster:    10,
		SimilarityThreshold:   0.6,
		MaxConsolidationLevel: 3,
		TemporalWindowMs:      7 * 24 * int64(time.Hour/time.Millisecond),
		TopicClustering:       true,
		EntityClustering:      true,
		TemporalClustering:    true,
	}
}

// DefaultAdaptiveRetrievalConfig returns spec.md §6.4's stated defaults.
func DefaultAdaptiveRetrievalConfig() AdaptiveRetrievalConfig {
	return AdaptiveRetrievalConfig{
		Enabled:             true,
		SimpleQueryTokens:   500,
		ModerateQueryTokens: 1500,
		ComplexQueryTokens:  3000,
		PreferConsolidated:  true,
		IncludeParents:      true,
		CharsPerToken:       4,
	}
}

// DefaultPipelineConfig composes the three default configs with
// background consolidation disabled (the caller opts in explicitly).
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		SemanticCompression:     DefaultSemanticCompressionConfig(),
		Consolidation:           DefaultConsolidationConfig(),
		AdaptiveRetrieval:       DefaultAdaptiveRetrievalConfig(),
		BackgroundConsolidation: false,
		ConsolidationInterval:   30 * time.Minute,
	}
}

// Validate checks the configuration for internally inconsistent
// values, returning a ConfigInvalidError on the first violation found.
func (c PipelineConfig) Validate() error {
	sc := c.SemanticCompression
	if sc.WindowSize <= 0 {
		return &ConfigInvalidError{Field: "SemanticCompression.WindowSize", Reason: "must be > 0"}
	}
	if sc.Stride <= 0 {
		return &ConfigInvalidError{Field: "SemanticCompression.Stride", Reason: "must be > 0"}
	}
	if sc.EntropyThreshold < 0 || sc.EntropyThreshold > 1 {
		return &ConfigInvalidError{Field: "SemanticCompression.EntropyThreshold", Reason: "must be in [0,1]"}
	}
	if sc.EntityWeight < 0 || sc.EntityWeight > 1 {
		return &ConfigInvalidError{Field: "SemanticCompression.EntityWeight", Reason: "must be in [0,1]"}
	}
	if sc.MaxParallelWorkers <= 0 {
		return &ConfigInvalidError{Field: "SemanticCompression.MaxParallelWorkers", Reason: "must be > 0"}
	}
	if sc.MinConfidence < 0 || sc.MinConfidence > 1 {
		return &ConfigInvalidError{Field: "SemanticCompression.MinConfidence", Reason: "must be in [0,1]"}
	}

	cc := c.Consolidation
	if cc.MinFactsForCluster <= 0 {
		return &ConfigInvalidError{Field: "Consolidation.MinFactsForCluster", Reason: "must be > 0"}
	}
	if cc.MaxFactsPerCluster < cc.MinFactsForCluster {
		return &ConfigInvalidError{Field: "Consolidation.MaxFactsPerCluster", Reason: "must be >= MinFactsForCluster"}
	}
	if cc.SimilarityThreshold < 0 || cc.SimilarityThreshold > 1 {
		return &ConfigInvalidError{Field: "Consolidation.SimilarityThreshold", Reason: "must be in [0,1]"}
	}
	if cc.MaxConsolidationLevel < 0 {
		return &ConfigInvalidError{Field: "Consolidation.MaxConsolidationLevel", Reason: "must be >= 0"}
	}

	ar := c.AdaptiveRetrieval
	if ar.CharsPerToken <= 0 {
		return &ConfigInvalidError{Field: "AdaptiveRetrieval.CharsPerToken", Reason: "must be > 0"}
	}
	if ar.SimpleQueryTokens <= 0 || ar.ModerateQueryTokens <= 0 || ar.ComplexQueryTokens <= 0 {
		return &ConfigInvalidError{Field: "AdaptiveRetrieval.*QueryTokens", Reason: "must be > 0"}
	}

	if c.BackgroundConsolidation && c.ConsolidationInterval <= 0 {
		return &ConfigInvalidError{Field: "ConsolidationInterval", Reason: "must be > 0 when BackgroundConsolidation is enabled"}
	}

	return nil
}
