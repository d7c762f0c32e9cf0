package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/list-rotator/internal/domain"
)

// fakeRepo is an in-memory Repository for exercising service logic.
type fakeRepo struct {
	rows       map[domain.ContactID]*domain.Membership
	observedAt map[domain.ContactID]time.Time
	upserts    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rows:       make(map[domain.ContactID]*domain.Membership),
		observedAt: make(map[domain.ContactID]time.Time),
	}
}

func (r *fakeRepo) Get(_ context.Context, id domain.ContactID) (*domain.Membership, error) {
	m, ok := r.rows[id]
	if !ok {
		return nil, ErrUnknownContact
	}
	cp := *m
	return &cp, nil
}

func (r *fakeRepo) GetBatch(_ context.Context, ids []domain.ContactID) (map[domain.ContactID]domain.Membership, error) {
	out := make(map[domain.ContactID]domain.Membership)
	for _, id := range ids {
		if m, ok := r.rows[id]; ok {
			out[id] = *m
		}
	}
	return out, nil
}

func (r *fakeRepo) OldestMasterCandidates(_ context.Context, limit int) ([]domain.Membership, error) {
	var out []domain.Membership
	for _, m := range r.rows {
		if m.InMaster && !m.Suppressed && m.Campaign == domain.ListNone {
			out = append(out, *m)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].EnrolledAt.Before(out[i].EnrolledAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) SetCampaign(_ context.Context, id domain.ContactID, list domain.ListHandle) error {
	m, ok := r.rows[id]
	if !ok {
		m = &domain.Membership{ContactID: id, Campaign: domain.ListNone}
		r.rows[id] = m
	}
	m.Campaign = list
	return nil
}

func (r *fakeRepo) MarkSuppressed(_ context.Context, id domain.ContactID) error {
	m, ok := r.rows[id]
	if !ok {
		m = &domain.Membership{ContactID: id, Campaign: domain.ListNone}
		r.rows[id] = m
	}
	m.Suppressed = true
	m.Campaign = domain.ListNone
	return nil
}

func (r *fakeRepo) Upsert(_ context.Context, m domain.Membership, observedAt time.Time) error {
	r.upserts++
	cp := m
	r.rows[m.ContactID] = &cp
	r.observedAt[m.ContactID] = observedAt
	return nil
}

func (r *fakeRepo) PruneStale(_ context.Context, observedBefore time.Time) (int, error) {
	pruned := 0
	for id, at := range r.observedAt {
		if at.Before(observedBefore) {
			delete(r.rows, id)
			delete(r.observedAt, id)
			pruned++
		}
	}
	return pruned, nil
}

// pagedSource serves canned pages per list.
type pagedSource struct {
	pages map[domain.ListHandle][][]domain.MembershipRecord
	err   error
}

func (s *pagedSource) FetchMembers(_ context.Context, list domain.ListHandle, token string) ([]domain.MembershipRecord, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	pages := s.pages[list]
	idx := 0
	if token != "" {
		for i := range pages {
			if token == pageToken(i) {
				idx = i
			}
		}
	}
	if idx >= len(pages) {
		return nil, "", nil
	}
	next := ""
	if idx+1 < len(pages) {
		next = pageToken(idx + 1)
	}
	return pages[idx], next, nil
}

func pageToken(i int) string { return string(rune('a' + i)) }

func rec(id domain.ContactID, list domain.ListHandle, enrolled time.Time) domain.MembershipRecord {
	return domain.MembershipRecord{ContactID: id, List: list, EnrolledAt: enrolled}
}

// ========== Moves and suppression ==========

func TestApplyMove_RejectsNonCampaignTarget(t *testing.T) {
	svc := NewService(newFakeRepo())
	err := svc.ApplyMove(context.Background(), 1, domain.ListMaster)
	assert.Error(t, err)
}

func TestApplyMove_RejectsSuppressedContact(t *testing.T) {
	repo := newFakeRepo()
	repo.rows[5] = &domain.Membership{ContactID: 5, Suppressed: true, Campaign: domain.ListNone}
	svc := NewService(repo)

	err := svc.ApplyMove(context.Background(), 5, domain.ListCampaign1)
	assert.ErrorIs(t, err, ErrSuppressed)
	assert.Equal(t, domain.ListNone, repo.rows[5].Campaign)
}

func TestApplyMove_UnknownContactIsRecorded(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	require.NoError(t, svc.ApplyMove(context.Background(), 9, domain.ListCampaign2))
	assert.Equal(t, domain.ListCampaign2, repo.rows[9].Campaign)
}

func TestApplyMove_ClearToNoneSkipsSuppressionCheck(t *testing.T) {
	repo := newFakeRepo()
	repo.rows[5] = &domain.Membership{ContactID: 5, Suppressed: true, Campaign: domain.ListNone}
	svc := NewService(repo)

	assert.NoError(t, svc.ApplyMove(context.Background(), 5, domain.ListNone))
}

func TestApplySuppression_ClearsCampaign(t *testing.T) {
	repo := newFakeRepo()
	repo.rows[3] = &domain.Membership{ContactID: 3, InMaster: true, Campaign: domain.ListCampaign3}
	svc := NewService(repo)

	require.NoError(t, svc.ApplySuppression(context.Background(), 3))
	assert.True(t, repo.rows[3].Suppressed)
	assert.Equal(t, domain.ListNone, repo.rows[3].Campaign)
}

// ========== Reconciliation ==========

func TestReconcile_MergesAcrossLists(t *testing.T) {
	enrolled := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	src := &pagedSource{pages: map[domain.ListHandle][][]domain.MembershipRecord{
		domain.ListMaster: {{
			rec(1, domain.ListMaster, enrolled),
			rec(2, domain.ListMaster, enrolled.Add(time.Hour)),
		}},
		domain.ListCampaign2: {{rec(1, domain.ListCampaign2, time.Time{})}},
	}}
	repo := newFakeRepo()
	svc := NewService(repo)

	stats, err := svc.Reconcile(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Observed)

	m := repo.rows[1]
	assert.True(t, m.InMaster)
	assert.Equal(t, domain.ListCampaign2, m.Campaign)
	assert.Equal(t, enrolled, m.EnrolledAt)

	assert.Equal(t, domain.ListNone, repo.rows[2].Campaign)
}

func TestReconcile_SuppressionClearsCampaign(t *testing.T) {
	src := &pagedSource{pages: map[domain.ListHandle][][]domain.MembershipRecord{
		domain.ListCampaign1:   {{rec(7, domain.ListCampaign1, time.Time{})}},
		domain.ListSuppression: {{rec(7, domain.ListSuppression, time.Time{})}},
	}}
	repo := newFakeRepo()

	_, err := NewService(repo).Reconcile(context.Background(), src)
	require.NoError(t, err)

	m := repo.rows[7]
	assert.True(t, m.Suppressed)
	assert.Equal(t, domain.ListNone, m.Campaign, "remote suppression wins over campaign membership")
}

func TestReconcile_MultiCampaignKeepsFirstObservation(t *testing.T) {
	src := &pagedSource{pages: map[domain.ListHandle][][]domain.MembershipRecord{
		domain.ListCampaign1: {{rec(4, domain.ListCampaign1, time.Time{})}},
		domain.ListCampaign2: {{rec(4, domain.ListCampaign2, time.Time{})}},
	}}
	repo := newFakeRepo()

	_, err := NewService(repo).Reconcile(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, domain.ListCampaign1, repo.rows[4].Campaign)
}

func TestReconcile_PinsMissingEnrollment(t *testing.T) {
	src := &pagedSource{pages: map[domain.ListHandle][][]domain.MembershipRecord{
		domain.ListCampaign3: {{rec(8, domain.ListCampaign3, time.Time{})}},
	}}
	repo := newFakeRepo()
	before := time.Now().UTC()

	_, err := NewService(repo).Reconcile(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, repo.rows[8].EnrolledAt.Before(before),
		"contacts never seen in master get enrollment pinned to the pass")
}

func TestReconcile_PrunesUnobserved(t *testing.T) {
	repo := newFakeRepo()
	stale := time.Now().UTC().Add(-time.Hour)
	repo.rows[99] = &domain.Membership{ContactID: 99, InMaster: true, Campaign: domain.ListNone}
	repo.observedAt[99] = stale

	src := &pagedSource{pages: map[domain.ListHandle][][]domain.MembershipRecord{
		domain.ListMaster: {{rec(1, domain.ListMaster, stale)}},
	}}

	stats, err := NewService(repo).Reconcile(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Observed)
	assert.Equal(t, 1, stats.Pruned)
	_, gone := repo.rows[99]
	assert.False(t, gone)
	_, kept := repo.rows[1]
	assert.True(t, kept)
}

func TestReconcile_PagesThroughSource(t *testing.T) {
	enrolled := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	src := &pagedSource{pages: map[domain.ListHandle][][]domain.MembershipRecord{
		domain.ListMaster: {
			{rec(1, domain.ListMaster, enrolled)},
			{rec(2, domain.ListMaster, enrolled), rec(3, domain.ListMaster, enrolled)},
		},
	}}
	repo := newFakeRepo()

	stats, err := NewService(repo).Reconcile(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Observed)
}

func TestReconcile_FetchErrorAborts(t *testing.T) {
	src := &pagedSource{err: errors.New("provider down")}
	repo := newFakeRepo()

	_, err := NewService(repo).Reconcile(context.Background(), src)
	require.Error(t, err)
	assert.Zero(t, repo.upserts, "nothing written on a failed pass")
}

func TestBackfillCandidates_FIFO(t *testing.T) {
	repo := newFakeRepo()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	repo.rows[1] = &domain.Membership{ContactID: 1, InMaster: true, Campaign: domain.ListNone, EnrolledAt: base.Add(2 * time.Hour)}
	repo.rows[2] = &domain.Membership{ContactID: 2, InMaster: true, Campaign: domain.ListNone, EnrolledAt: base}
	repo.rows[3] = &domain.Membership{ContactID: 3, InMaster: true, Campaign: domain.ListCampaign1, EnrolledAt: base.Add(time.Hour)}
	repo.rows[4] = &domain.Membership{ContactID: 4, InMaster: true, Suppressed: true, Campaign: domain.ListNone, EnrolledAt: base}

	got, err := NewService(repo).BackfillCandidates(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2, "campaign members and suppressed contacts are not candidates")
	assert.Equal(t, domain.ContactID(2), got[0].ContactID, "oldest enrollment first")
	assert.Equal(t, domain.ContactID(1), got[1].ContactID)
}
