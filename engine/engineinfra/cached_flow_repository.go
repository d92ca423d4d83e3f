package engineinfra

import (
	"context"
	"sync"
	"time"

	"github.com/kanalhq/kanal/engine"
	"github.com/kanalhq/kanal/pkg/kernel"
)

// CachedFlowRepository wraps a FlowRepository with a short-TTL read cache.
// Flow definitions change rarely and every inbound event reads one, so a
// small staleness window trades well against a database round trip per
// message. Writes invalidate immediately.
type CachedFlowRepository struct {
	inner engine.FlowRepository
	ttl   time.Duration

	mu     sync.RWMutex
	byID   map[kernel.FlowID]cachedFlow
	active *cachedActive
}

type cachedFlow struct {
	flow      *engine.Flow
	expiresAt time.Time
}

type cachedActive struct {
	flows     []*engine.Flow
	expiresAt time.Time
}

var _ engine.FlowRepository = (*CachedFlowRepository)(nil)

func NewCachedFlowRepository(inner engine.FlowRepository, ttl time.Duration) *CachedFlowRepository {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedFlowRepository{
		inner: inner,
		ttl:   ttl,
		byID:  make(map[kernel.FlowID]cachedFlow),
	}
}

func (r *CachedFlowRepository) FindByID(ctx context.Context, id kernel.FlowID) (*engine.Flow, error) {
	r.mu.RLock()
	entry, ok := r.byID[id]
	r.mu.RUnlock()

	if ok && time.Now().Before(entry.expiresAt) {
		return entry.flow, nil
	}

	flow, err := r.inner.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.byID[id] = cachedFlow{flow: flow, expiresAt: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return flow, nil
}

func (r *CachedFlowRepository) FindActive(ctx context.Context) ([]*engine.Flow, error) {
	r.mu.RLock()
	entry := r.active
	r.mu.RUnlock()

	if entry != nil && time.Now().Before(entry.expiresAt) {
		return entry.flows, nil
	}

	flows, err := r.inner.FindActive(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.active = &cachedActive{flows: flows, expiresAt: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return flows, nil
}

func (r *CachedFlowRepository) Save(ctx context.Context, flow engine.Flow) error {
	if err := r.inner.Save(ctx, flow); err != nil {
		return err
	}
	r.invalidate(flow.ID)
	return nil
}

func (r *CachedFlowRepository) Delete(ctx context.Context, id kernel.FlowID) error {
	if err := r.inner.Delete(ctx, id); err != nil {
		return err
	}
	r.invalidate(id)
	return nil
}

// List always goes to the source; listing is an authoring operation and
// should see its own writes.
func (r *CachedFlowRepository) List(ctx context.Context, req engine.FlowListRequest) (engine.FlowListResponse, error) {
	return r.inner.List(ctx, req)
}

func (r *CachedFlowRepository) invalidate(id kernel.FlowID) {
	r.mu.Lock()
	delete(r.byID, id)
	r.active = nil
	r.mu.Unlock()
}
