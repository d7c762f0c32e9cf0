package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/list-rotator/internal/domain"
	"github.com/ignite/list-rotator/internal/pkg/logger"
)

// Service implements ledger business logic on top of a Repository.
// Safe for concurrent reads; writes happen only from the execution engine
// while it holds the list-set lock.
type Service struct {
	repo Repository
}

// NewService creates a ledger service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Membership returns the best-known state for one contact.
func (s *Service) Membership(ctx context.Context, id domain.ContactID) (*domain.Membership, error) {
	return s.repo.Get(ctx, id)
}

// MembershipBatch returns best-known state for many contacts at once.
// Unknown contacts are absent from the result.
func (s *Service) MembershipBatch(ctx context.Context, ids []domain.ContactID) (map[domain.ContactID]domain.Membership, error) {
	if len(ids) == 0 {
		return map[domain.ContactID]domain.Membership{}, nil
	}
	return s.repo.GetBatch(ctx, ids)
}

// BackfillCandidates returns up to limit master contacts eligible for
// campaign backfill, oldest enrolled first.
func (s *Service) BackfillCandidates(ctx context.Context, limit int) ([]domain.Membership, error) {
	return s.repo.OldestMasterCandidates(ctx, limit)
}

// ApplyMove records a confirmed campaign move. Rejects moves onto a
// suppressed contact: suppression is monotonic.
func (s *Service) ApplyMove(ctx context.Context, id domain.ContactID, to domain.ListHandle) error {
	if to != domain.ListNone && !to.IsCampaign() {
		return fmt.Errorf("move target %q is not a campaign list", to)
	}
	if to != domain.ListNone {
		m, err := s.repo.Get(ctx, id)
		if err != nil && err != ErrUnknownContact {
			return err
		}
		if m != nil && m.Suppressed {
			return ErrSuppressed
		}
	}
	return s.repo.SetCampaign(ctx, id, to)
}

// ApplySuppression records a confirmed suppression. Idempotent.
func (s *Service) ApplySuppression(ctx context.Context, id domain.ContactID) error {
	return s.repo.MarkSuppressed(ctx, id)
}

// MemberSource supplies pages of remote list members during reconciliation,
// ordered oldest-enrolled-first.
type MemberSource interface {
	FetchMembers(ctx context.Context, list domain.ListHandle, pageToken string) ([]domain.MembershipRecord, string, error)
}

// ReconcileStats summarizes one reconciliation pass.
type ReconcileStats struct {
	Observed int
	Pruned   int
}

// Reconcile re-derives the ledger from full remote reads. The remote store
// always wins: contacts not observed in this pass are pruned afterwards.
func (s *Service) Reconcile(ctx context.Context, src MemberSource) (ReconcileStats, error) {
	var stats ReconcileStats
	start := time.Now().UTC()

	// Accumulate per-contact state across all five lists before writing, so
	// a contact seen in master and campaign_2 produces one coherent row.
	states := make(map[domain.ContactID]*domain.Membership)

	for _, list := range domain.AllLists() {
		token := ""
		for {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			records, next, err := src.FetchMembers(ctx, list, token)
			if err != nil {
				return stats, fmt.Errorf("reconcile fetch %s: %w", list, err)
			}
			for _, rec := range records {
				m, ok := states[rec.ContactID]
				if !ok {
					m = &domain.Membership{ContactID: rec.ContactID, Campaign: domain.ListNone}
					states[rec.ContactID] = m
				}
				switch {
				case list == domain.ListMaster:
					m.InMaster = true
					if m.EnrolledAt.IsZero() || rec.EnrolledAt.Before(m.EnrolledAt) {
						m.EnrolledAt = rec.EnrolledAt
					}
				case list == domain.ListSuppression:
					m.Suppressed = true
				case list.IsCampaign():
					if m.Campaign != domain.ListNone && m.Campaign != list {
						// Remote store disagrees with our invariant. Keep
						// the first observation and surface the anomaly.
						logger.Warn("contact on multiple campaign lists",
							"contact_id", rec.ContactID, "first", string(m.Campaign), "second", string(list))
						continue
					}
					m.Campaign = list
				}
			}
			if next == "" {
				break
			}
			token = next
		}
	}

	for _, m := range states {
		// Remote truth wins: a suppressed contact keeps no campaign row.
		if m.Suppressed {
			m.Campaign = domain.ListNone
		}
		// Contacts observed only outside master carry no enrollment time;
		// pin it to this pass so LEAST() in the upsert stays meaningful.
		if m.EnrolledAt.IsZero() {
			m.EnrolledAt = start
		}
		if err := s.repo.Upsert(ctx, *m, start); err != nil {
			return stats, fmt.Errorf("reconcile upsert contact %d: %w", m.ContactID, err)
		}
		stats.Observed++
	}

	pruned, err := s.repo.PruneStale(ctx, start)
	if err != nil {
		return stats, fmt.Errorf("reconcile prune: %w", err)
	}
	stats.Pruned = pruned

	logger.Info("ledger reconciled", "observed", stats.Observed, "pruned", stats.Pruned)
	return stats, nil
}
