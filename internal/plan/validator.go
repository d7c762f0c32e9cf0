package plan

import (
	"context"
	"fmt"

	"github.com/ignite/list-rotator/internal/balance"
	"github.com/ignite/list-rotator/internal/domain"
)

// MembershipView is the read-only ledger surface the validator consults.
type MembershipView interface {
	MembershipBatch(ctx context.Context, ids []domain.ContactID) (map[domain.ContactID]domain.Membership, error)
	BackfillCandidates(ctx context.Context, limit int) ([]domain.Membership, error)
}

// SuppressionHistory is the durable record of every suppression ever
// applied. The ledger's Suppressed flag alone is not enough: a contact that
// vanishes from all remote lists is pruned from the ledger, and on re-entry
// to master only the history row still proves it must never reach a
// campaign list again.
type SuppressionHistory interface {
	HasSuppressionHistory(ctx context.Context, id domain.ContactID) (bool, error)
}

// Config holds the validator's safety knobs.
type Config struct {
	// TolerancePct is the balance tolerance; the overcorrection guard
	// rejects movements that would push a list more than 1.5× this far
	// from target in the wrong direction.
	TolerancePct float64
	// SuppressionCapPct caps accepted suppressions per run as a percentage
	// of the combined campaign-list size.
	SuppressionCapPct float64
}

// DefaultConfig returns the production safety settings.
func DefaultConfig() Config {
	return Config{TolerancePct: balance.DefaultTolerancePct, SuppressionCapPct: 10.0}
}

// Validator checks advisory plans against the membership ledger and the
// balance invariants.
type Validator struct {
	view    MembershipView
	history SuppressionHistory
	cfg     Config
}

// NewValidator creates a validator over the given membership view. history
// may be nil, dropping the suppression-history check (tests only).
func NewValidator(view MembershipView, history SuppressionHistory, cfg Config) *Validator {
	if cfg.TolerancePct <= 0 {
		cfg.TolerancePct = balance.DefaultTolerancePct
	}
	if cfg.SuppressionCapPct <= 0 {
		cfg.SuppressionCapPct = 10.0
	}
	return &Validator{view: view, history: history, cfg: cfg}
}

// ========== Suppression ==========

// ValidateSuppression reduces a suppression plan to its safe subset. The
// returned error covers only ledger lookup failures; bad plan entries are
// rejections, not errors.
func (v *Validator) ValidateSuppression(ctx context.Context, p domain.SuppressionPlan, before domain.ListSnapshot) (domain.ValidatedSuppressionPlan, error) {
	var out domain.ValidatedSuppressionPlan

	ids := make([]domain.ContactID, 0, len(p.Entries))
	for _, e := range p.Entries {
		if e.ContactID > 0 {
			ids = append(ids, e.ContactID)
		}
	}
	states, err := v.view.MembershipBatch(ctx, ids)
	if err != nil {
		return out, fmt.Errorf("validate suppression: %w", err)
	}

	cap := int(v.cfg.SuppressionCapPct / 100.0 * float64(before.CombinedCampaignSize()))
	seen := make(map[domain.ContactID]bool, len(p.Entries))

	for _, e := range p.Entries {
		switch {
		case e.ContactID <= 0 || e.Reason == "":
			out.Rejected = append(out.Rejected, domain.RejectedEntry{
				ContactID: e.ContactID,
				Reason:    domain.RejectMalformed,
				Detail:    "missing contact id or reason",
			})
			continue
		case seen[e.ContactID]:
			out.Rejected = append(out.Rejected, domain.RejectedEntry{
				ContactID: e.ContactID,
				Reason:    domain.RejectMalformed,
				Detail:    "duplicate entry",
			})
			continue
		}
		seen[e.ContactID] = true

		m, known := states[e.ContactID]
		switch {
		case !known:
			out.Rejected = append(out.Rejected, domain.RejectedEntry{
				ContactID: e.ContactID,
				Reason:    domain.RejectUnknownContact,
			})
		case m.Suppressed:
			// Idempotent no-op, not an error.
			out.Rejected = append(out.Rejected, domain.RejectedEntry{
				ContactID: e.ContactID,
				Reason:    domain.RejectAlreadySuppressed,
			})
		case !m.InMaster && m.Campaign == domain.ListNone:
			out.Rejected = append(out.Rejected, domain.RejectedEntry{
				ContactID: e.ContactID,
				Reason:    domain.RejectUnknownContact,
				Detail:    "not in master or any campaign list",
			})
		case len(out.Accepted) >= cap:
			// Beyond the safety cap: deferred, not dropped.
			out.Rejected = append(out.Rejected, domain.RejectedEntry{
				ContactID: e.ContactID,
				Reason:    domain.RejectDeferredCapExceeded,
				Detail:    fmt.Sprintf("run cap %d reached", cap),
			})
			out.TruncatedForSafety = true
		default:
			out.Accepted = append(out.Accepted, e)
		}
	}

	return out, nil
}

// ========== Rebalancing ==========

// ValidateRebalancing reduces a rebalancing plan to its safe subset,
// simulating each accepted movement so later movements are judged against
// the state the earlier ones will have produced. suppressing is the set of
// contacts the same run has already accepted for suppression; a movement or
// backfill pick for one of them would land the contact on a campaign list
// and the suppression list in a single run.
func (v *Validator) ValidateRebalancing(ctx context.Context, p domain.RebalancingPlan, before domain.ListSnapshot, suppressing []domain.SuppressionEntry) (domain.ValidatedRebalancingPlan, error) {
	var out domain.ValidatedRebalancingPlan

	suppressed := make(map[domain.ContactID]bool, len(suppressing))
	for _, e := range suppressing {
		suppressed[e.ContactID] = true
	}

	ids := make([]domain.ContactID, 0, len(p.Movements))
	for _, mv := range p.Movements {
		if mv.ContactID > 0 {
			ids = append(ids, mv.ContactID)
		}
	}
	states, err := v.view.MembershipBatch(ctx, ids)
	if err != nil {
		return out, fmt.Errorf("validate rebalancing: %w", err)
	}

	sim := newSimulation(before, p.Targets, v.cfg.TolerancePct)
	moved := make(map[domain.ContactID]bool, len(p.Movements))

	for _, mv := range p.Movements {
		rej := v.checkMovement(mv, states, sim, moved, suppressed)
		if rej == nil {
			rej, err = v.checkHistory(ctx, mv.ContactID)
			if err != nil {
				return out, err
			}
		}
		if rej != nil {
			out.Rejected = append(out.Rejected, *rej)
			continue
		}
		sim.apply(mv)
		moved[mv.ContactID] = true
		out.Accepted = append(out.Accepted, mv)
	}

	// Count-based backfill: the plan names how many, we choose whom.
	// Oldest-enrolled-first from master, partial fill accepted.
	if p.BackfillCount > 0 {
		deficit, accepted, err := v.selectBackfill(ctx, p, sim, moved, suppressed)
		if err != nil {
			return out, err
		}
		out.Accepted = append(out.Accepted, accepted...)
		out.BackfillDeficit = deficit
	}

	return out, nil
}

func (v *Validator) checkMovement(mv domain.Movement, states map[domain.ContactID]domain.Membership, sim *simulation, moved, suppressed map[domain.ContactID]bool) *domain.RejectedEntry {
	if mv.ContactID <= 0 || !mv.To.IsCampaign() || (mv.From != domain.ListNone && !mv.From.IsCampaign()) {
		return &domain.RejectedEntry{
			ContactID: mv.ContactID,
			Reason:    domain.RejectMalformed,
			Detail:    "movement must target a campaign list",
		}
	}
	if moved[mv.ContactID] {
		return &domain.RejectedEntry{
			ContactID: mv.ContactID,
			Reason:    domain.RejectMalformed,
			Detail:    "contact already has a movement this run",
		}
	}

	if suppressed[mv.ContactID] {
		return &domain.RejectedEntry{
			ContactID: mv.ContactID,
			Reason:    domain.RejectAlreadySuppressed,
			Detail:    "accepted for suppression this run",
		}
	}

	m, known := states[mv.ContactID]
	if !known {
		return &domain.RejectedEntry{
			ContactID: mv.ContactID,
			Reason:    domain.RejectStaleSource,
			Detail:    "contact not in ledger",
		}
	}
	if m.Suppressed {
		// Suppression is monotonic; a suppressed contact never re-enters a
		// campaign list through rebalancing.
		return &domain.RejectedEntry{
			ContactID: mv.ContactID,
			Reason:    domain.RejectAlreadySuppressed,
		}
	}
	if m.Campaign == mv.To {
		return &domain.RejectedEntry{
			ContactID: mv.ContactID,
			Reason:    domain.RejectAlreadyMember,
		}
	}
	if m.Campaign != mv.From {
		return &domain.RejectedEntry{
			ContactID: mv.ContactID,
			Reason:    domain.RejectStaleSource,
			Detail:    fmt.Sprintf("ledger has %q, plan says %q", m.Campaign, mv.From),
		}
	}
	if mv.From == domain.ListNone && !m.InMaster {
		return &domain.RejectedEntry{
			ContactID: mv.ContactID,
			Reason:    domain.RejectUnknownContact,
			Detail:    "backfill source must be a master contact",
		}
	}
	if !sim.allows(mv) {
		return &domain.RejectedEntry{
			ContactID: mv.ContactID,
			Reason:    domain.RejectOvercorrection,
			Detail:    sim.explain(mv),
		}
	}
	return nil
}

// checkHistory rejects a move target with a suppression history row. The
// ledger's Suppressed flag already catches the common case; the history row
// is the one that survives ledger pruning.
func (v *Validator) checkHistory(ctx context.Context, id domain.ContactID) (*domain.RejectedEntry, error) {
	if v.history == nil {
		return nil, nil
	}
	ever, err := v.history.HasSuppressionHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("suppression history lookup for contact %d: %w", id, err)
	}
	if ever {
		return &domain.RejectedEntry{
			ContactID: id,
			Reason:    domain.RejectAlreadySuppressed,
			Detail:    "suppression history on record",
		}, nil
	}
	return nil, nil
}

func (v *Validator) selectBackfill(ctx context.Context, p domain.RebalancingPlan, sim *simulation, moved, suppressed map[domain.ContactID]bool) (deficit int, accepted []domain.Movement, err error) {
	to := p.BackfillTo
	if !to.IsCampaign() {
		return p.BackfillCount, nil, nil
	}

	// Over-fetch to survive candidates already claimed by explicit
	// movements or by this run's suppression plan.
	candidates, err := v.view.BackfillCandidates(ctx, p.BackfillCount+len(moved)+len(suppressed))
	if err != nil {
		return 0, nil, fmt.Errorf("select backfill: %w", err)
	}

	remaining := p.BackfillCount
	for _, c := range candidates {
		if remaining == 0 {
			break
		}
		if moved[c.ContactID] || suppressed[c.ContactID] {
			continue
		}
		if rej, err := v.checkHistory(ctx, c.ContactID); err != nil {
			return 0, nil, err
		} else if rej != nil {
			continue
		}
		mv := domain.Movement{ContactID: c.ContactID, From: domain.ListNone, To: to}
		if !sim.allows(mv) {
			break // destination is full; further backfill only overshoots
		}
		sim.apply(mv)
		moved[c.ContactID] = true
		accepted = append(accepted, mv)
		remaining--
	}
	return remaining, accepted, nil
}
