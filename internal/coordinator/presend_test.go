package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/list-rotator/internal/domain"
)

type fakeCache struct {
	fresh map[domain.ListHandle]int
	stale map[domain.ListHandle]int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		fresh: make(map[domain.ListHandle]int),
		stale: make(map[domain.ListHandle]int),
	}
}

func (c *fakeCache) Get(_ context.Context, list domain.ListHandle) (*domain.ListMetadata, bool, error) {
	if n, ok := c.fresh[list]; ok {
		return &domain.ListMetadata{List: list, Size: n}, true, nil
	}
	return nil, false, nil
}

func (c *fakeCache) GetStale(_ context.Context, list domain.ListHandle) (*domain.ListMetadata, bool, error) {
	if n, ok := c.stale[list]; ok {
		return &domain.ListMetadata{List: list, Size: n}, true, nil
	}
	return c.Get(context.Background(), list)
}

type fakeCounts struct {
	counts map[domain.ListHandle]int
	err    error
	calls  int
}

func (f *fakeCounts) GetCount(_ context.Context, list domain.ListHandle) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[list], nil
}

func presendCoordinator(cache Cache, counts CountReader) *Coordinator {
	deps, _, _ := testDeps(&fakeEngine{}, &fakeAdvisor{})
	deps.Cache = cache
	deps.Counts = counts
	return New(deps, Config{TolerancePct: 5})
}

func TestValidatePreSend_FreshCacheHit(t *testing.T) {
	cache := newFakeCache()
	cache.fresh[domain.ListCampaign1] = 1000
	cache.fresh[domain.ListCampaign2] = 1010
	cache.fresh[domain.ListCampaign3] = 990
	counts := &fakeCounts{}
	c := presendCoordinator(cache, counts)

	report, err := c.ValidatePreSend(context.Background(), domain.ListCampaign1, 1000)
	require.NoError(t, err)

	assert.True(t, report.CountMatches)
	assert.True(t, report.Balanced)
	assert.False(t, report.Degraded)
	assert.Zero(t, counts.calls, "fresh cache hits never touch the provider")
}

func TestValidatePreSend_CacheMissReadsProvider(t *testing.T) {
	cache := newFakeCache()
	counts := &fakeCounts{counts: map[domain.ListHandle]int{
		domain.ListCampaign1: 900,
		domain.ListCampaign2: 1000,
		domain.ListCampaign3: 1000,
	}}
	c := presendCoordinator(cache, counts)

	report, err := c.ValidatePreSend(context.Background(), domain.ListCampaign1, 1000)
	require.NoError(t, err)

	assert.False(t, report.CountMatches)
	assert.Equal(t, 900, report.ObservedCount)
	assert.False(t, report.Balanced)
	assert.Empty(t, cache.fresh, "lock-free reads never write the cache")
}

func TestValidatePreSend_DegradesToStaleCache(t *testing.T) {
	cache := newFakeCache()
	cache.stale[domain.ListCampaign1] = 1000
	cache.stale[domain.ListCampaign2] = 1000
	cache.stale[domain.ListCampaign3] = 1000
	counts := &fakeCounts{err: errors.New("provider down")}
	c := presendCoordinator(cache, counts)

	report, err := c.ValidatePreSend(context.Background(), domain.ListCampaign1, 1000)
	require.NoError(t, err)

	assert.True(t, report.Degraded, "stale reads must be flagged")
	assert.True(t, report.CountMatches)
}

func TestValidatePreSend_NoDataAnywhereFails(t *testing.T) {
	c := presendCoordinator(newFakeCache(), &fakeCounts{err: errors.New("provider down")})

	_, err := c.ValidatePreSend(context.Background(), domain.ListCampaign1, 1000)
	assert.Error(t, err)
}

func TestValidatePreSend_UnknownList(t *testing.T) {
	c := presendCoordinator(newFakeCache(), &fakeCounts{})

	_, err := c.ValidatePreSend(context.Background(), domain.ListHandle("vip"), 10)
	assert.Error(t, err)
}
