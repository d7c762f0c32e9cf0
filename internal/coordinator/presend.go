package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/list-rotator/internal/balance"
	"github.com/ignite/list-rotator/internal/domain"
	"github.com/ignite/list-rotator/internal/pkg/logger"
)

// ValidatePreSend checks a campaign list synchronously before a send goes
// out: does the observed size match what the sender expects, and are the
// campaign lists balanced. Read-only, takes no lock, and runs even while a
// maintenance run holds the list set.
//
// Counts come from the cache when fresh, otherwise from the provider. When
// the provider is unreachable the check degrades to the last stale cached
// value rather than blocking the send pipeline; the report says so.
func (c *Coordinator) ValidatePreSend(ctx context.Context, list domain.ListHandle, expectedCount int) (*domain.ValidationReport, error) {
	if !list.Valid() {
		return nil, fmt.Errorf("unknown list %q", list)
	}

	report := &domain.ValidationReport{
		List:          list,
		ExpectedCount: expectedCount,
		GeneratedAt:   time.Now().UTC(),
	}

	observed, degraded, err := c.readCount(ctx, list)
	if err != nil {
		return nil, fmt.Errorf("pre-send validation: %w", err)
	}
	report.ObservedCount = observed
	report.CountMatches = observed == expectedCount
	report.Degraded = degraded

	sizes := make(domain.ListSnapshot, 3)
	for _, l := range domain.CampaignLists() {
		n, stale, err := c.readCount(ctx, l)
		if err != nil {
			return nil, fmt.Errorf("pre-send validation: %w", err)
		}
		sizes[l] = n
		report.Degraded = report.Degraded || stale
	}
	c1, c2, c3 := sizes.CampaignSizes()
	report.DeviationPct = balance.Deviation(c1, c2, c3)
	report.Balanced = balance.IsBalanced(c1, c2, c3, c.cfg.TolerancePct)

	if !report.CountMatches || !report.Balanced {
		logger.Warn("pre-send validation flagged list",
			"list", string(list),
			"expected", expectedCount, "observed", observed,
			"deviation_pct", report.DeviationPct, "degraded", report.Degraded)
	}
	return report, nil
}

// readCount returns a list's size: fresh cache, then provider, then stale
// cache as a last resort. The bool reports a stale read.
func (c *Coordinator) readCount(ctx context.Context, list domain.ListHandle) (int, bool, error) {
	if c.deps.Cache != nil {
		if meta, ok, err := c.deps.Cache.Get(ctx, list); err == nil && ok {
			return meta.Size, false, nil
		} else if err != nil {
			logger.Warn("cache read failed", "list", string(list), "error", err)
		}
	}

	if c.deps.Counts != nil {
		n, err := c.deps.Counts.GetCount(ctx, list)
		if err == nil {
			// Deliberately not written back: cache writes happen only
			// under the list-set lock, and this path holds no lock.
			return n, false, nil
		}
		logger.Warn("provider count failed, trying stale cache",
			"list", string(list), "error", err)
	}

	if c.deps.Cache != nil {
		if meta, ok, err := c.deps.Cache.GetStale(ctx, list); err == nil && ok {
			return meta.Size, true, nil
		}
	}
	return 0, false, fmt.Errorf("no count available for %s", list)
}
