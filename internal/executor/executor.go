package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ignite/list-rotator/internal/domain"
	"github.com/ignite/list-rotator/internal/ledger"
	"github.com/ignite/list-rotator/internal/pkg/logger"
	"github.com/ignite/list-rotator/internal/pkg/retry"
)

// compensationAttempts bounds the re-add tries after a failed destination add.
const compensationAttempts = 2

// ListStore is the remote list surface the executor mutates and counts.
type ListStore interface {
	AddMember(ctx context.Context, list domain.ListHandle, contactID domain.ContactID) error
	RemoveMember(ctx context.Context, list domain.ListHandle, contactID domain.ContactID) error
	GetCount(ctx context.Context, list domain.ListHandle) (int, error)
}

// Ledger records membership changes after the remote side has confirmed them.
type Ledger interface {
	ApplyMove(ctx context.Context, id domain.ContactID, to domain.ListHandle) error
	ApplySuppression(ctx context.Context, id domain.ContactID) error
}

// StateCache is the slice of the cache the executor needs: invalidate what a
// run touched, refresh what a snapshot observed.
type StateCache interface {
	Invalidate(ctx context.Context, list domain.ListHandle) error
	Put(ctx context.Context, list domain.ListHandle, size int) error
}

// Config holds the executor's concurrency and retry settings.
type Config struct {
	// MaxInflight bounds concurrent provider calls within a run.
	MaxInflight int
	// Retry is the per-operation schedule for transient provider errors.
	Retry retry.Policy
}

// Executor applies validated plans against the remote lists.
type Executor struct {
	store  ListStore
	ledger Ledger
	cache  StateCache
	cfg    Config

	mu      sync.Mutex
	touched map[domain.ListHandle]bool
}

// New creates an executor. cache may be nil when no cache is wired.
func New(store ListStore, ledger Ledger, cache StateCache, cfg Config) *Executor {
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 10
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	return &Executor{
		store:   store,
		ledger:  ledger,
		cache:   cache,
		cfg:     cfg,
		touched: make(map[domain.ListHandle]bool),
	}
}

// ========== Suppression ==========

// ApplySuppression executes the accepted entries of a validated suppression
// plan. Each contact is removed from every campaign list first, then added
// to the suppression list; a contact that cannot be fully removed is marked
// failed and is NOT suppressed, so it stays visible for manual follow-up.
func (e *Executor) ApplySuppression(ctx context.Context, entries []domain.SuppressionEntry) []domain.OperationResult {
	results := make([]domain.OperationResult, len(entries))
	e.forEach(ctx, len(entries), func(ctx context.Context, i int) {
		results[i] = e.suppressOne(ctx, entries[i])
	}, func(i int) {
		results[i] = domain.OperationResult{
			ContactID: entries[i].ContactID,
			Status:    domain.OpSkipped,
			To:        domain.ListSuppression,
			Error:     "run canceled before operation started",
		}
	})
	e.invalidateTouched(ctx)
	return results
}

func (e *Executor) suppressOne(ctx context.Context, entry domain.SuppressionEntry) domain.OperationResult {
	res := domain.OperationResult{ContactID: entry.ContactID, To: domain.ListSuppression}

	for _, list := range domain.CampaignLists() {
		attempts, err := e.callRemote(ctx, func(ctx context.Context) error {
			return e.store.RemoveMember(ctx, list, entry.ContactID)
		})
		res.Attempts += attempts
		if err != nil {
			// Incomplete removal: leaving the contact suppressed while it
			// still sits on a campaign list would silently violate the
			// suppression guarantee, so fail the whole operation instead.
			res.Status = domain.OpFailed
			res.Error = fmt.Sprintf("remove from %s: %v", list, err)
			logger.Warn("suppression incomplete, contact left unsuppressed",
				"contact_id", entry.ContactID, "list", list, "error", err)
			return res
		}
		e.markTouched(list)
	}

	attempts, err := e.callRemote(ctx, func(ctx context.Context) error {
		return e.store.AddMember(ctx, domain.ListSuppression, entry.ContactID)
	})
	res.Attempts += attempts
	if err != nil {
		res.Status = domain.OpFailed
		res.Error = fmt.Sprintf("add to suppression list: %v", err)
		return res
	}
	e.markTouched(domain.ListSuppression)

	if err := e.ledger.ApplySuppression(ctx, entry.ContactID); err != nil {
		// Remote state is correct; the ledger catches up at the next
		// reconciliation sweep.
		logger.Error("ledger suppression write failed",
			"contact_id", entry.ContactID, "error", err)
	}
	res.Status = domain.OpApplied
	return res
}

// ========== Rebalancing ==========

// ApplyRebalancing executes the accepted movements of a validated
// rebalancing plan. Remove-then-add per contact; when the destination add
// fails the contact is re-added to its source, and if that compensation also
// fails the contact is flagged orphaned.
func (e *Executor) ApplyRebalancing(ctx context.Context, movements []domain.Movement) []domain.OperationResult {
	results := make([]domain.OperationResult, len(movements))
	e.forEach(ctx, len(movements), func(ctx context.Context, i int) {
		results[i] = e.moveOne(ctx, movements[i])
	}, func(i int) {
		results[i] = domain.OperationResult{
			ContactID: movements[i].ContactID,
			Status:    domain.OpSkipped,
			From:      movements[i].From,
			To:        movements[i].To,
			Error:     "run canceled before operation started",
		}
	})
	e.invalidateTouched(ctx)
	return results
}

func (e *Executor) moveOne(ctx context.Context, mv domain.Movement) domain.OperationResult {
	res := domain.OperationResult{ContactID: mv.ContactID, From: mv.From, To: mv.To}

	if mv.From != domain.ListNone {
		attempts, err := e.callRemote(ctx, func(ctx context.Context) error {
			return e.store.RemoveMember(ctx, mv.From, mv.ContactID)
		})
		res.Attempts += attempts
		if err != nil {
			res.Status = domain.OpFailed
			res.Error = fmt.Sprintf("remove from %s: %v", mv.From, err)
			return res
		}
		e.markTouched(mv.From)
	}

	attempts, err := e.callRemote(ctx, func(ctx context.Context) error {
		return e.store.AddMember(ctx, mv.To, mv.ContactID)
	})
	res.Attempts += attempts
	if err != nil {
		res.Error = fmt.Sprintf("add to %s: %v", mv.To, err)
		if mv.From == domain.ListNone {
			// Backfill never removed anything, so there is nothing to undo.
			res.Status = domain.OpFailed
			return res
		}
		res.Status = e.compensate(ctx, mv, &res)
		return res
	}
	e.markTouched(mv.To)

	if err := e.ledger.ApplyMove(ctx, mv.ContactID, mv.To); err != nil {
		if errors.Is(err, ledger.ErrSuppressed) {
			// The contact was suppressed underneath this movement. Undo
			// the add; a suppressed contact stays off campaign lists, so
			// the source is not restored either.
			undoCtx := context.WithoutCancel(ctx)
			if rmErr := e.store.RemoveMember(undoCtx, mv.To, mv.ContactID); rmErr != nil {
				logger.Error("suppressed contact left on campaign list",
					"contact_id", mv.ContactID, "list", mv.To, "error", rmErr)
			}
			res.Status = domain.OpFailed
			res.Error = fmt.Sprintf("move to %s refused: contact is suppressed", mv.To)
			return res
		}
		logger.Error("ledger move write failed",
			"contact_id", mv.ContactID, "to", mv.To, "error", err)
	}
	res.Status = domain.OpApplied
	return res
}

// compensate re-adds a contact to its source list after a failed destination
// add. Uses the run context's values but not its cancellation: a canceled
// run must still try to undo its half-done movement.
func (e *Executor) compensate(ctx context.Context, mv domain.Movement, res *domain.OperationResult) domain.OpStatus {
	undoCtx := context.WithoutCancel(ctx)
	for attempt := 1; attempt <= compensationAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(e.cfg.Retry.Delay(attempt - 1))
		}
		res.Attempts++
		if err := e.store.AddMember(undoCtx, mv.From, mv.ContactID); err != nil {
			continue
		}
		e.markTouched(mv.From)
		logger.Warn("movement rolled back after destination failure",
			"contact_id", mv.ContactID, "from", mv.From, "to", mv.To)
		return domain.OpFailed
	}
	// The contact is on neither list now. Flag it loudly; the weekly
	// reconciliation sweep and the operator both need to see it.
	logger.Error("compensation failed, contact orphaned",
		"contact_id", mv.ContactID, "from", mv.From, "to", mv.To)
	res.Error += "; compensation failed, contact on neither list"
	return domain.OpOrphaned
}

// ========== Snapshots ==========

// Snapshot fetches current sizes for all five lists from the provider and
// refreshes the cache with them. Used for before/after run states.
func (e *Executor) Snapshot(ctx context.Context) (domain.ListSnapshot, error) {
	snap := make(domain.ListSnapshot, len(domain.AllLists()))
	for _, list := range domain.AllLists() {
		n, err := e.store.GetCount(ctx, list)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", list, err)
		}
		snap[list] = n
		if e.cache != nil {
			if err := e.cache.Put(ctx, list, n); err != nil {
				logger.Warn("cache refresh failed", "list", list, "error", err)
			}
		}
	}
	return snap, nil
}

// ========== Internals ==========

// forEach runs fn(i) for each index with at most cfg.MaxInflight in flight.
// Indices whose turn comes after ctx is canceled get skip(i) instead; ops
// already started run to completion.
func (e *Executor) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int), skip func(i int)) {
	sem := make(chan struct{}, e.cfg.MaxInflight)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			skip(i)
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(ctx, i)
		}(i)
	}
	wg.Wait()
}

// callRemote wraps one provider mutation in the bounded retry schedule,
// retrying only transient failures.
func (e *Executor) callRemote(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	return retry.Do(ctx, e.cfg.Retry, domain.IsTransient, fn)
}

func (e *Executor) markTouched(list domain.ListHandle) {
	e.mu.Lock()
	e.touched[list] = true
	e.mu.Unlock()
}

// invalidateTouched drops cached sizes for every list this run mutated so
// no consumer sees pre-run counts as fresh.
func (e *Executor) invalidateTouched(ctx context.Context) {
	e.mu.Lock()
	lists := make([]domain.ListHandle, 0, len(e.touched))
	for list := range e.touched {
		lists = append(lists, list)
	}
	e.touched = make(map[domain.ListHandle]bool)
	e.mu.Unlock()

	if e.cache == nil {
		return
	}
	sort.Slice(lists, func(i, j int) bool { return lists[i] < lists[j] })
	for _, list := range lists {
		if err := e.cache.Invalidate(context.WithoutCancel(ctx), list); err != nil {
			logger.Warn("cache invalidation failed", "list", list, "error", err)
		}
	}
}
