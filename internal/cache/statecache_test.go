package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/list-rotator/internal/domain"
)

func setupCache(t *testing.T, freshness time.Duration) (*StateCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client, freshness), mr
}

func TestStateCache_PutGet(t *testing.T) {
	c, _ := setupCache(t, time.Hour)
	ctx := context.Background()

	if err := c.Put(ctx, domain.ListCampaign1, 1040); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	meta, ok, err := c.Get(ctx, domain.ListCampaign1)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !ok {
		t.Fatal("Get() miss for freshly written entry")
	}
	if meta.Size != 1040 {
		t.Errorf("Size = %d, want 1040", meta.Size)
	}
	if meta.List != domain.ListCampaign1 {
		t.Errorf("List = %s, want %s", meta.List, domain.ListCampaign1)
	}
}

func TestStateCache_MissOnAbsent(t *testing.T) {
	c, _ := setupCache(t, time.Hour)

	_, ok, err := c.Get(context.Background(), domain.ListMaster)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if ok {
		t.Error("Get() hit for absent entry")
	}
}

func TestStateCache_StaleIsMiss(t *testing.T) {
	c, _ := setupCache(t, 50*time.Millisecond)
	ctx := context.Background()

	if err := c.Put(ctx, domain.ListCampaign2, 900); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	time.Sleep(80 * time.Millisecond)

	if _, ok, _ := c.Get(ctx, domain.ListCampaign2); ok {
		t.Error("Get() hit for entry older than the freshness window")
	}

	// The degraded path still sees it.
	meta, ok, err := c.GetStale(ctx, domain.ListCampaign2)
	if err != nil {
		t.Fatalf("GetStale() error: %v", err)
	}
	if !ok {
		t.Fatal("GetStale() miss for retained entry")
	}
	if meta.Size != 900 {
		t.Errorf("stale Size = %d, want 900", meta.Size)
	}
}

func TestStateCache_Invalidate(t *testing.T) {
	c, _ := setupCache(t, time.Hour)
	ctx := context.Background()

	if err := c.Put(ctx, domain.ListSuppression, 245); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := c.Invalidate(ctx, domain.ListSuppression); err != nil {
		t.Fatalf("Invalidate() error: %v", err)
	}

	if _, ok, _ := c.Get(ctx, domain.ListSuppression); ok {
		t.Error("Get() hit after Invalidate()")
	}
	if _, ok, _ := c.GetStale(ctx, domain.ListSuppression); ok {
		t.Error("GetStale() hit after Invalidate(): invalidation must drop the entry entirely")
	}
}

func TestStateCache_CorruptEntryIsMiss(t *testing.T) {
	c, mr := setupCache(t, time.Hour)

	mr.Set("listmeta:master", "{not json")
	_, ok, err := c.Get(context.Background(), domain.ListMaster)
	if err != nil {
		t.Fatalf("Get() error on corrupt entry: %v", err)
	}
	if ok {
		t.Error("Get() hit for corrupt entry")
	}
}
