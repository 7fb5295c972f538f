// Package logging provides component-aware loggers on top of
// charmbracelet/log, so the parts of the memory engine that take a
// logger (the store and the pipeline orchestrator, whose logger the
// extractor's worker pool also uses) log with a consistent "component"
// field and an independently configurable level.
package logging

import (
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Factory provides component-aware loggers with consistent field naming.
type Factory struct {
	baseLogger *log.Logger
	levels     map[string]log.Level
}

// NewFactory creates a new logger factory writing to stderr at info level.
func NewFactory() *Factory {
	base := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           log.InfoLevel,
	})
	return &Factory{baseLogger: base, levels: map[string]log.Level{}}
}

// NewFactoryWithLogger wraps an existing base logger.
func NewFactoryWithLogger(base *log.Logger) *Factory {
	return &Factory{baseLogger: base, levels: map[string]log.Level{}}
}

// ForComponent returns a logger tagged with the given component name,
// at that component's configured level (or the base level if unset).
func (f *Factory) ForComponent(name string) *log.Logger {
	l := f.baseLogger.With("component", name)
	if lvl, ok := f.levels[name]; ok {
		l.SetLevel(lvl)
	}
	return l
}

// SetComponentLevel overrides the log level for one named component.
func (f *Factory) SetComponentLevel(name string, level log.Level) {
	f.levels[name] = level
}

// LoadLevelsFromEnv reads MEMORY_LOG_LEVEL_<COMPONENT>=<level> pairs,
// e.g. MEMORY_LOG_LEVEL_STORE=debug, to set per-component levels.
func (f *Factory) LoadLevelsFromEnv() {
	const prefix = "MEMORY_LOG_LEVEL_"
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, prefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(k, prefix))
		lvl, err := log.ParseLevel(v)
		if err != nil {
			continue
		}
		f.levels[name] = lvl
	}
}

// WithError adds error context to a logger.
func WithError(logger *log.Logger, err error) *log.Logger {
	if err == nil {
		return logger
	}
	return logger.With("error", err.Error())
}

// WithOperation adds operation context to a logger.
func WithOperation(logger *log.Logger, operation string) *log.Logger {
	return logger.With("operation", operation)
}
