package store

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"idleforge/internal/economy"
)

const DefaultCacheSize = 256

// Cached fronts another Store with an LRU of the most recently saved or
// loaded snapshots. Writes go through to the backend first; a failed
// write evicts the entry so the cache never holds unsaved state.
type Cached struct {
	next  Store
	cache *lru.Cache
}

func NewCached(next Store, size int) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create snapshot cache: %w", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

func (c *Cached) Save(ctx context.Context, playerID string, snap economy.Snapshot) error {
	if err := c.next.Save(ctx, playerID, snap); err != nil {
		c.cache.Remove(playerID)
		return err
	}
	c.cache.Add(playerID, clone(snap))
	return nil
}

func (c *Cached) Load(ctx context.Context, playerID string) (economy.Snapshot, error) {
	if v, ok := c.cache.Get(playerID); ok {
		return clone(v.(economy.Snapshot)), nil
	}
	snap, err := c.next.Load(ctx, playerID)
	if err != nil {
		return economy.Snapshot{}, err
	}
	c.cache.Add(playerID, clone(snap))
	return snap, nil
}

func (c *Cached) Len() int {
	return c.cache.Len()
}
