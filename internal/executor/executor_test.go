package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/list-rotator/internal/domain"
	ledgersvc "github.com/ignite/list-rotator/internal/ledger"
	"github.com/ignite/list-rotator/internal/pkg/retry"
)

// fakeStore is an in-memory provider with programmable failures.
type fakeStore struct {
	mu      sync.Mutex
	members map[domain.ListHandle]map[domain.ContactID]bool
	// failAdd and failRemove map "list/contact" to a queue of errors; each
	// call consumes one until the queue is empty.
	failAdd    map[string][]error
	failRemove map[string][]error
	addCalls   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		members:    make(map[domain.ListHandle]map[domain.ContactID]bool),
		failAdd:    make(map[string][]error),
		failRemove: make(map[string][]error),
	}
}

func opKey(list domain.ListHandle, id domain.ContactID) string {
	return fmt.Sprintf("%s/%d", list, id)
}

func (s *fakeStore) seed(list domain.ListHandle, ids ...domain.ContactID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[list] == nil {
		s.members[list] = make(map[domain.ContactID]bool)
	}
	for _, id := range ids {
		s.members[list][id] = true
	}
}

func (s *fakeStore) pop(queue map[string][]error, key string) error {
	if errs := queue[key]; len(errs) > 0 {
		queue[key] = errs[1:]
		return errs[0]
	}
	return nil
}

func (s *fakeStore) AddMember(_ context.Context, list domain.ListHandle, id domain.ContactID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addCalls++
	if err := s.pop(s.failAdd, opKey(list, id)); err != nil {
		return err
	}
	if s.members[list] == nil {
		s.members[list] = make(map[domain.ContactID]bool)
	}
	s.members[list][id] = true
	return nil
}

func (s *fakeStore) RemoveMember(_ context.Context, list domain.ListHandle, id domain.ContactID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pop(s.failRemove, opKey(list, id)); err != nil {
		return err
	}
	delete(s.members[list], id)
	return nil
}

func (s *fakeStore) GetCount(_ context.Context, list domain.ListHandle) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members[list]), nil
}

func (s *fakeStore) has(list domain.ListHandle, id domain.ContactID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[list][id]
}

// fakeLedger records confirmed mutations.
type fakeLedger struct {
	mu         sync.Mutex
	moves      map[domain.ContactID]domain.ListHandle
	moveErrs   map[domain.ContactID]error
	suppressed map[domain.ContactID]bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		moves:      make(map[domain.ContactID]domain.ListHandle),
		moveErrs:   make(map[domain.ContactID]error),
		suppressed: make(map[domain.ContactID]bool),
	}
}

func (l *fakeLedger) ApplyMove(_ context.Context, id domain.ContactID, to domain.ListHandle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.moveErrs[id]; err != nil {
		return err
	}
	l.moves[id] = to
	return nil
}

func (l *fakeLedger) ApplySuppression(_ context.Context, id domain.ContactID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.suppressed[id] = true
	return nil
}

// fakeCache tracks invalidations.
type fakeCache struct {
	mu          sync.Mutex
	invalidated map[domain.ListHandle]int
	put         map[domain.ListHandle]int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		invalidated: make(map[domain.ListHandle]int),
		put:         make(map[domain.ListHandle]int),
	}
}

func (c *fakeCache) Invalidate(_ context.Context, list domain.ListHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated[list]++
	return nil
}

func (c *fakeCache) Put(_ context.Context, list domain.ListHandle, size int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put[list] = size
	return nil
}

func fastPolicy() retry.Policy {
	return retry.Policy{Attempts: 3, Base: time.Millisecond, Factor: 2, Cap: 2 * time.Millisecond}
}

func newTestExecutor(store *fakeStore, ledger *fakeLedger, cache *fakeCache) *Executor {
	return New(store, ledger, cache, Config{MaxInflight: 4, Retry: fastPolicy()})
}

func transient(msg string) error {
	return &domain.TransientError{Op: "test", Err: fmt.Errorf("%s", msg)}
}

func permanent(msg string) error {
	return &domain.PermanentError{Op: "test", Err: fmt.Errorf("%s", msg)}
}

func statusCounts(results []domain.OperationResult) map[domain.OpStatus]int {
	out := make(map[domain.OpStatus]int)
	for _, r := range results {
		out[r.Status]++
	}
	return out
}

// ========== Suppression ==========

func TestApplySuppression_RemovesFromCampaignsThenSuppresses(t *testing.T) {
	store := newFakeStore()
	store.seed(domain.ListMaster, 1)
	store.seed(domain.ListCampaign2, 1)
	ledger := newFakeLedger()
	cache := newFakeCache()
	ex := newTestExecutor(store, ledger, cache)

	results := ex.ApplySuppression(context.Background(), []domain.SuppressionEntry{
		{ContactID: 1, Reason: "hard_bounce"},
	})

	require.Len(t, results, 1)
	assert.Equal(t, domain.OpApplied, results[0].Status)
	assert.False(t, store.has(domain.ListCampaign2, 1))
	assert.True(t, store.has(domain.ListSuppression, 1))
	assert.True(t, store.has(domain.ListMaster, 1), "suppression must not touch the master list")
	assert.True(t, ledger.suppressed[1])
	assert.Positive(t, cache.invalidated[domain.ListSuppression])
}

func TestApplySuppression_PartialRemovalFailsContact(t *testing.T) {
	store := newFakeStore()
	store.seed(domain.ListCampaign1, 1)
	// Permanent failure exhausts no retries and aborts the contact.
	store.failRemove[opKey(domain.ListCampaign1, 1)] = []error{permanent("forbidden")}
	ledger := newFakeLedger()
	ex := newTestExecutor(store, ledger, newFakeCache())

	results := ex.ApplySuppression(context.Background(), []domain.SuppressionEntry{
		{ContactID: 1, Reason: "hard_bounce"},
	})

	require.Len(t, results, 1)
	assert.Equal(t, domain.OpFailed, results[0].Status)
	assert.False(t, store.has(domain.ListSuppression, 1),
		"a contact that could not be fully removed must not be suppressed")
	assert.False(t, ledger.suppressed[1])
}

func TestApplySuppression_RetriesTransientFailures(t *testing.T) {
	store := newFakeStore()
	store.seed(domain.ListCampaign1, 1)
	store.failRemove[opKey(domain.ListCampaign1, 1)] = []error{
		transient("timeout"), transient("timeout"),
	}
	ledger := newFakeLedger()
	ex := newTestExecutor(store, ledger, newFakeCache())

	results := ex.ApplySuppression(context.Background(), []domain.SuppressionEntry{
		{ContactID: 1, Reason: "hard_bounce"},
	})

	require.Len(t, results, 1)
	assert.Equal(t, domain.OpApplied, results[0].Status)
	assert.True(t, store.has(domain.ListSuppression, 1))
	assert.GreaterOrEqual(t, results[0].Attempts, 3+3, "two retried removes plus the other calls")
}

// ========== Rebalancing ==========

func TestApplyRebalancing_PartialFailure(t *testing.T) {
	store := newFakeStore()
	ledger := newFakeLedger()
	var movements []domain.Movement
	for id := domain.ContactID(1); id <= 10; id++ {
		store.seed(domain.ListCampaign1, id)
		movements = append(movements, domain.Movement{
			ContactID: id, From: domain.ListCampaign1, To: domain.ListCampaign2,
		})
	}
	// Movement #5 permanently fails at the destination; all three attempts
	// of compensation succeed first try.
	store.failAdd[opKey(domain.ListCampaign2, 5)] = []error{permanent("rejected")}
	ex := newTestExecutor(store, ledger, newFakeCache())

	results := ex.ApplyRebalancing(context.Background(), movements)

	counts := statusCounts(results)
	assert.Equal(t, 9, counts[domain.OpApplied])
	assert.Equal(t, 1, counts[domain.OpFailed])
	// Contact 5 was rolled back onto its source list.
	assert.True(t, store.has(domain.ListCampaign1, 5))
	assert.False(t, store.has(domain.ListCampaign2, 5))
	_, moved := ledger.moves[5]
	assert.False(t, moved, "a failed movement must not reach the ledger")
	assert.Equal(t, domain.ListCampaign2, ledger.moves[6])
}

func TestApplyRebalancing_CompensationFailureOrphans(t *testing.T) {
	store := newFakeStore()
	store.seed(domain.ListCampaign1, 1)
	store.failAdd[opKey(domain.ListCampaign2, 1)] = []error{permanent("rejected")}
	// Both compensation attempts fail too.
	store.failRemove[opKey(domain.ListCampaign1, 1)] = nil
	ex := newTestExecutor(store, newFakeLedger(), newFakeCache())

	// Queue compensation failures after the initial remove succeeded.
	store.failAdd[opKey(domain.ListCampaign1, 1)] = []error{
		permanent("rejected"), permanent("rejected"),
	}

	results := ex.ApplyRebalancing(context.Background(), []domain.Movement{
		{ContactID: 1, From: domain.ListCampaign1, To: domain.ListCampaign2},
	})

	require.Len(t, results, 1)
	assert.Equal(t, domain.OpOrphaned, results[0].Status)
	assert.Contains(t, results[0].Error, "compensation failed")
	assert.False(t, store.has(domain.ListCampaign1, 1))
	assert.False(t, store.has(domain.ListCampaign2, 1))
}

func TestApplyRebalancing_SuppressedContactNeverReportsApplied(t *testing.T) {
	store := newFakeStore()
	store.seed(domain.ListCampaign1, 1)
	led := newFakeLedger()
	led.moveErrs[1] = ledgersvc.ErrSuppressed
	ex := newTestExecutor(store, led, newFakeCache())

	results := ex.ApplyRebalancing(context.Background(), []domain.Movement{
		{ContactID: 1, From: domain.ListCampaign1, To: domain.ListCampaign2},
	})

	require.Len(t, results, 1)
	assert.Equal(t, domain.OpFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "suppressed")
	// The add was undone and the contact stays off both campaign lists.
	assert.False(t, store.has(domain.ListCampaign2, 1))
	assert.False(t, store.has(domain.ListCampaign1, 1))
	_, moved := led.moves[1]
	assert.False(t, moved)
}

func TestApplyRebalancing_BackfillFailureNeedsNoCompensation(t *testing.T) {
	store := newFakeStore()
	store.seed(domain.ListMaster, 1)
	store.failAdd[opKey(domain.ListCampaign3, 1)] = []error{permanent("rejected")}
	ex := newTestExecutor(store, newFakeLedger(), newFakeCache())

	results := ex.ApplyRebalancing(context.Background(), []domain.Movement{
		{ContactID: 1, From: domain.ListNone, To: domain.ListCampaign3},
	})

	require.Len(t, results, 1)
	assert.Equal(t, domain.OpFailed, results[0].Status)
	assert.True(t, store.has(domain.ListMaster, 1))
}

func TestApplyRebalancing_CancellationSkipsRemaining(t *testing.T) {
	store := newFakeStore()
	var movements []domain.Movement
	for id := domain.ContactID(1); id <= 50; id++ {
		store.seed(domain.ListCampaign1, id)
		movements = append(movements, domain.Movement{
			ContactID: id, From: domain.ListCampaign1, To: domain.ListCampaign2,
		})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex := newTestExecutor(store, newFakeLedger(), newFakeCache())

	results := ex.ApplyRebalancing(ctx, movements)

	counts := statusCounts(results)
	assert.Equal(t, 50, counts[domain.OpSkipped])
	assert.Zero(t, counts[domain.OpApplied])
}

func TestApplyRebalancing_BoundedConcurrency(t *testing.T) {
	store := newFakeStore()
	var movements []domain.Movement
	for id := domain.ContactID(1); id <= 30; id++ {
		store.seed(domain.ListCampaign1, id)
		movements = append(movements, domain.Movement{
			ContactID: id, From: domain.ListCampaign1, To: domain.ListCampaign2,
		})
	}
	ex := New(store, newFakeLedger(), newFakeCache(), Config{MaxInflight: 3, Retry: fastPolicy()})

	results := ex.ApplyRebalancing(context.Background(), movements)

	assert.Equal(t, 30, statusCounts(results)[domain.OpApplied])
}

// ========== Snapshot ==========

func TestSnapshot_RefreshesCache(t *testing.T) {
	store := newFakeStore()
	store.seed(domain.ListMaster, 1, 2, 3)
	store.seed(domain.ListCampaign1, 1)
	cache := newFakeCache()
	ex := newTestExecutor(store, newFakeLedger(), cache)

	snap, err := ex.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, snap[domain.ListMaster])
	assert.Equal(t, 1, snap[domain.ListCampaign1])
	assert.Equal(t, 0, snap[domain.ListSuppression])
	assert.Equal(t, 3, cache.put[domain.ListMaster])
}
