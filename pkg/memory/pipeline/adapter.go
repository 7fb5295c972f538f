package pipeline

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/eternisai/atomic-memory/pkg/memory"
)

// storeAdapter satisfies retriever.FactSource over a context-free,
// error-free signature. The Store's own methods take a ctx and return
// an error; the Retriever's interface has no way to surface either,
// so ParentOf failures are logged and treated as "no parent found"
// rather than propagated.
type storeAdapter struct {
	ctx    context.Context
	store  Store
	facts  []memory.AtomicFact
	logger *log.Logger
}

func newStoreAdapter(ctx context.Context, store Store, facts []memory.AtomicFact, logger *log.Logger) *storeAdapter {
	return &storeAdapter{ctx: ctx, store: store, facts: facts, logger: logger}
}

func (a *storeAdapter) AllFacts() []memory.AtomicFact {
	return a.facts
}

func (a *storeAdapter) ParentOf(factID string) (memory.AtomicFact, bool) {
	fact, ok, err := a.store.ParentOf(a.ctx, factID)
	if err != nil {
		a.logger.Warn("parent lookup failed", "fact_id", factID, "error", err)
		return memory.AtomicFact{}, false
	}
	return fact, ok
}
