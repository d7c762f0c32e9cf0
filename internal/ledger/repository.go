package ledger

import (
	"context"
	"time"

	"github.com/ignite/list-rotator/internal/domain"
)

// Repository defines the data access contract for the membership ledger.
type Repository interface {
	// Get returns the membership state for one contact, or ErrUnknownContact.
	Get(ctx context.Context, id domain.ContactID) (*domain.Membership, error)

	// GetBatch returns membership state for many contacts. Unknown contacts
	// are simply absent from the result map.
	GetBatch(ctx context.Context, ids []domain.ContactID) (map[domain.ContactID]domain.Membership, error)

	// OldestMasterCandidates returns up to limit contacts that are in
	// master, not suppressed, and not on any campaign list, ordered by
	// original enrollment time ascending (FIFO bias).
	OldestMasterCandidates(ctx context.Context, limit int) ([]domain.Membership, error)

	// SetCampaign records a confirmed campaign membership change. A list of
	// ListNone clears campaign membership.
	SetCampaign(ctx context.Context, id domain.ContactID, list domain.ListHandle) error

	// MarkSuppressed records a confirmed suppression and clears campaign
	// membership. Idempotent; suppression never reverts through this call.
	MarkSuppressed(ctx context.Context, id domain.ContactID) error

	// Upsert writes a full membership observation during reconciliation.
	Upsert(ctx context.Context, m domain.Membership, observedAt time.Time) error

	// PruneStale removes contacts whose membership was not observed in the
	// latest reconciliation pass.
	PruneStale(ctx context.Context, observedBefore time.Time) (int, error)
}
