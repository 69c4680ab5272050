package retriever

import (
	"context"
	"time"

	"github.com/kart-io/memoryd/internal/model"
	"github.com/kart-io/memoryd/pkg/cache"
)

// CachedUnitGetter decorates a UnitGetter with an in-memory TTL cache so
// Stage A's semantic branch doesn't round-trip the structured store for
// every (unit_id, similarity) hit it resolves — the same unit is frequently
// re-requested across successive searches within a conversation.
type CachedUnitGetter struct {
	delegate UnitGetter
	store    cache.Cache[string, cachedUnit]
	ttl      time.Duration
}

type cachedUnit struct {
	unit     *model.MemoryUnit
	cachedAt time.Time
}

// NewCachedUnitGetter wraps delegate with a cache.MemoryCache keyed by unit
// id. ttl <= 0 disables expiry checks (entries live until evicted by Del).
func NewCachedUnitGetter(delegate UnitGetter, ttl time.Duration) *CachedUnitGetter {
	return &CachedUnitGetter{
		delegate: delegate,
		store:    cache.NewMemoryCache[string, cachedUnit](),
		ttl:      ttl,
	}
}

// GetMemoryUnit satisfies UnitGetter, serving from cache when the entry is
// present and unexpired, falling through to the delegate otherwise.
func (c *CachedUnitGetter) GetMemoryUnit(ctx context.Context, unitID string) (*model.MemoryUnit, error) {
	if entry, ok := c.store.Get(unitID); ok {
		if c.ttl <= 0 || time.Since(entry.cachedAt) < c.ttl {
			return entry.unit, nil
		}
		c.store.Del(unitID)
	}

	unit, err := c.delegate.GetMemoryUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	c.store.Set(unitID, cachedUnit{unit: unit, cachedAt: time.Now()})
	return unit, nil
}

// Invalidate drops a cached entry, used after a write that changes a unit
// already resolved once this process's lifetime (e.g. expiry or deletion).
func (c *CachedUnitGetter) Invalidate(unitID string) {
	c.store.Del(unitID)
}
