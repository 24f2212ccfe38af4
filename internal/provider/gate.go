package provider

import (
	"context"
	"sync"

	"tsingest/internal/domain"

	"golang.org/x/sync/semaphore"
)

// Gate limits how many requests may be in flight per provider name across
// concurrently running domain pipelines.
type Gate struct {
	mu    sync.Mutex
	limit int64
	sems  map[string]*semaphore.Weighted
}

func NewGate(limit int64) *Gate {
	if limit < 1 {
		limit = 1
	}
	return &Gate{limit: limit, sems: make(map[string]*semaphore.Weighted)}
}

func (g *Gate) sem(name string) *semaphore.Weighted {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sems[name]
	if !ok {
		s = semaphore.NewWeighted(g.limit)
		g.sems[name] = s
	}
	return s
}

// Wrap returns an adapter that acquires the provider's slot around each Fetch.
// A nil gate returns the adapter unchanged.
func (g *Gate) Wrap(a Adapter) Adapter {
	if g == nil {
		return a
	}
	return &gatedAdapter{Adapter: a, sem: g.sem(a.Descriptor().Name)}
}

type gatedAdapter struct {
	Adapter
	sem *semaphore.Weighted
}

func (a *gatedAdapter) Fetch(ctx context.Context, window domain.Window, params Params) (domain.Table, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return domain.Table{}, err
	}
	defer a.sem.Release(1)
	return a.Adapter.Fetch(ctx, window, params)
}
