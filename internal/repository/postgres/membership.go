package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/list-rotator/internal/domain"
	"github.com/ignite/list-rotator/internal/ledger"
)

// MembershipRepo implements ledger.Repository against PostgreSQL.
//
// Schema:
//
//	CREATE TABLE list_memberships (
//	    contact_id    BIGINT PRIMARY KEY,
//	    in_master     BOOLEAN NOT NULL DEFAULT false,
//	    campaign_list TEXT,
//	    suppressed    BOOLEAN NOT NULL DEFAULT false,
//	    enrolled_at   TIMESTAMPTZ NOT NULL,
//	    observed_at   TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX idx_memberships_backfill ON list_memberships (enrolled_at)
//	    WHERE in_master AND NOT suppressed AND campaign_list IS NULL;
type MembershipRepo struct{ db *sql.DB }

// NewMembershipRepo creates a Postgres-backed membership repository.
func NewMembershipRepo(db *sql.DB) *MembershipRepo { return &MembershipRepo{db: db} }

func (r *MembershipRepo) Get(ctx context.Context, id domain.ContactID) (*domain.Membership, error) {
	var (
		m        domain.Membership
		campaign sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT contact_id, in_master, campaign_list, suppressed, enrolled_at
		FROM list_memberships WHERE contact_id = $1
	`, int64(id)).Scan(&m.ContactID, &m.InMaster, &campaign, &m.Suppressed, &m.EnrolledAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrUnknownContact
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	m.Campaign = domain.ListHandle(campaign.String)
	return &m, nil
}

func (r *MembershipRepo) GetBatch(ctx context.Context, ids []domain.ContactID) (map[domain.ContactID]domain.Membership, error) {
	out := make(map[domain.ContactID]domain.Membership, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]interface{}, len(ids))
	placeholders := ""
	for i, id := range ids {
		if i > 0 {
			placeholders += ","
		}
		placeholders += fmt.Sprintf("$%d", i+1)
		args[i] = int64(id)
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT contact_id, in_master, campaign_list, suppressed, enrolled_at
		FROM list_memberships WHERE contact_id IN (%s)
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("batch memberships: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m        domain.Membership
			campaign sql.NullString
		)
		if err := rows.Scan(&m.ContactID, &m.InMaster, &campaign, &m.Suppressed, &m.EnrolledAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		m.Campaign = domain.ListHandle(campaign.String)
		out[m.ContactID] = m
	}
	return out, rows.Err()
}

func (r *MembershipRepo) OldestMasterCandidates(ctx context.Context, limit int) ([]domain.Membership, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT contact_id, in_master, campaign_list, suppressed, enrolled_at
		FROM list_memberships
		WHERE in_master AND NOT suppressed AND campaign_list IS NULL
		ORDER BY enrolled_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("backfill candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.Membership
	for rows.Next() {
		var (
			m        domain.Membership
			campaign sql.NullString
		)
		if err := rows.Scan(&m.ContactID, &m.InMaster, &campaign, &m.Suppressed, &m.EnrolledAt); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		m.Campaign = domain.ListHandle(campaign.String)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MembershipRepo) SetCampaign(ctx context.Context, id domain.ContactID, list domain.ListHandle) error {
	campaign := sql.NullString{String: string(list), Valid: list != domain.ListNone}
	_, err := r.db.ExecContext(ctx, `
		UPDATE list_memberships
		SET campaign_list = $2, observed_at = NOW()
		WHERE contact_id = $1
	`, int64(id), campaign)
	if err != nil {
		return fmt.Errorf("set campaign: %w", err)
	}
	return nil
}

func (r *MembershipRepo) MarkSuppressed(ctx context.Context, id domain.ContactID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE list_memberships
		SET suppressed = true, campaign_list = NULL, observed_at = NOW()
		WHERE contact_id = $1
	`, int64(id))
	if err != nil {
		return fmt.Errorf("mark suppressed: %w", err)
	}
	return nil
}

func (r *MembershipRepo) Upsert(ctx context.Context, m domain.Membership, observedAt time.Time) error {
	campaign := sql.NullString{String: string(m.Campaign), Valid: m.Campaign != domain.ListNone}
	// Suppression stays monotonic even during reconciliation: OR with the
	// existing flag so a remote read glitch cannot un-suppress a contact.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO list_memberships (contact_id, in_master, campaign_list, suppressed, enrolled_at, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (contact_id) DO UPDATE SET
			in_master = EXCLUDED.in_master,
			campaign_list = EXCLUDED.campaign_list,
			suppressed = list_memberships.suppressed OR EXCLUDED.suppressed,
			enrolled_at = LEAST(list_memberships.enrolled_at, EXCLUDED.enrolled_at),
			observed_at = EXCLUDED.observed_at
	`, int64(m.ContactID), m.InMaster, campaign, m.Suppressed, m.EnrolledAt, observedAt)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

func (r *MembershipRepo) PruneStale(ctx context.Context, observedBefore time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM list_memberships WHERE observed_at < $1
	`, observedBefore)
	if err != nil {
		return 0, fmt.Errorf("prune stale memberships: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
