// Package cache implements the time-bounded per-list state cache.
//
// The cache is a derived view of the remote store. It is written only by the
// execution engine (Put after confirmed reads, Invalidate after mutations);
// every other component reads it. A miss always means "go to remote".
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/list-rotator/internal/domain"
)

// retention is how long entries survive in Redis. Deliberately much longer
// than the freshness window so the degraded read path can still serve stale
// data while the remote store is down.
const retention = 24 * time.Hour

// StateCache caches per-list size and sync timestamp with a fixed freshness
// window. Safe for concurrent use.
type StateCache struct {
	client    *redis.Client
	freshness time.Duration
}

// New creates a state cache. freshness defaults to one hour.
func New(client *redis.Client, freshness time.Duration) *StateCache {
	if freshness <= 0 {
		freshness = time.Hour
	}
	return &StateCache{client: client, freshness: freshness}
}

func key(list domain.ListHandle) string {
	return fmt.Sprintf("listmeta:%s", list)
}

// Get returns the cached metadata for a list, or ok=false if absent or older
// than the freshness window. Callers must treat a miss as "go to remote".
func (c *StateCache) Get(ctx context.Context, list domain.ListHandle) (*domain.ListMetadata, bool, error) {
	meta, ok, err := c.read(ctx, list)
	if err != nil || !ok {
		return nil, false, err
	}
	if time.Since(meta.LastSyncedAt) > c.freshness {
		return nil, false, nil
	}
	return meta, true, nil
}

// GetStale returns cached metadata regardless of age. Used only by the
// read-only pre-send validation path when the remote store is unavailable;
// callers must surface the result as degraded.
func (c *StateCache) GetStale(ctx context.Context, list domain.ListHandle) (*domain.ListMetadata, bool, error) {
	return c.read(ctx, list)
}

func (c *StateCache) read(ctx context.Context, list domain.ListHandle) (*domain.ListMetadata, bool, error) {
	data, err := c.client.Get(ctx, key(list)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", list, err)
	}

	var meta domain.ListMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		// A corrupt entry is a miss, not an error.
		return nil, false, nil
	}
	return &meta, true, nil
}

// Put records a freshly observed list size.
func (c *StateCache) Put(ctx context.Context, list domain.ListHandle, size int) error {
	meta := domain.ListMetadata{
		List:         list,
		Size:         size,
		LastSyncedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", list, err)
	}
	if err := c.client.Set(ctx, key(list), data, retention).Err(); err != nil {
		return fmt.Errorf("cache put %s: %w", list, err)
	}
	return nil
}

// Invalidate drops the entry for a list. Called by the execution engine
// immediately after any mutation touching that list, so no caller observes
// stale post-mutation state for longer than one remote round-trip.
func (c *StateCache) Invalidate(ctx context.Context, list domain.ListHandle) error {
	if err := c.client.Del(ctx, key(list)).Err(); err != nil {
		return fmt.Errorf("cache invalidate %s: %w", list, err)
	}
	return nil
}
