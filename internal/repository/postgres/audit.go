package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/list-rotator/internal/audit"
	"github.com/ignite/list-rotator/internal/domain"
)

// AuditRepo implements audit.Writer against PostgreSQL.
//
// Schema:
//
//	CREATE TABLE maintenance_runs (
//	    id            UUID PRIMARY KEY,
//	    workflow      TEXT NOT NULL,
//	    send_id       TEXT,
//	    status        TEXT NOT NULL,
//	    before_state  JSONB NOT NULL,
//	    after_state   JSONB,
//	    suppressed    INT NOT NULL DEFAULT 0,
//	    rebalanced    INT NOT NULL DEFAULT 0,
//	    rejected      JSONB,
//	    operations    JSONB,
//	    used_fallback BOOLEAN NOT NULL DEFAULT false,
//	    abort_reason  TEXT,
//	    started_at    TIMESTAMPTZ NOT NULL,
//	    finished_at   TIMESTAMPTZ
//	);
//
//	CREATE TABLE contact_suppression_history (
//	    contact_id BIGINT PRIMARY KEY,
//	    run_id     UUID NOT NULL REFERENCES maintenance_runs(id),
//	    reason     TEXT NOT NULL,
//	    evidence   TEXT,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//
// The primary key on contact_id makes suppression history append-only and
// once-per-contact at the storage layer.
type AuditRepo struct{ db *sql.DB }

// NewAuditRepo creates a Postgres-backed audit writer.
func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{db: db} }

func (r *AuditRepo) RecordRun(ctx context.Context, run *domain.MaintenanceRun) error {
	before, err := json.Marshal(run.BeforeState)
	if err != nil {
		return fmt.Errorf("marshal before state: %w", err)
	}
	after, err := json.Marshal(run.AfterState)
	if err != nil {
		return fmt.Errorf("marshal after state: %w", err)
	}
	rejected, err := json.Marshal(run.Rejected)
	if err != nil {
		return fmt.Errorf("marshal rejections: %w", err)
	}
	operations, err := json.Marshal(run.Operations)
	if err != nil {
		return fmt.Errorf("marshal operations: %w", err)
	}

	// ON CONFLICT DO NOTHING: a crash between audit write and ack must not
	// produce a second row on restart.
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO maintenance_runs
			(id, workflow, send_id, status, before_state, after_state,
			 suppressed, rebalanced, rejected, operations,
			 used_fallback, abort_reason, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`, run.ID, run.Workflow, run.SendID, run.Status, before, after,
		run.Suppressed, run.Rebalanced, rejected, operations,
		run.UsedFallback, run.AbortReason, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

func (r *AuditRepo) RecordSuppressions(ctx context.Context, runID string, entries []domain.SuppressionEntry) error {
	for _, e := range entries {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO contact_suppression_history (contact_id, run_id, reason, evidence, created_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (contact_id) DO NOTHING
		`, int64(e.ContactID), runID, e.Reason, e.Evidence)
		if err != nil {
			return fmt.Errorf("record suppression history for contact %d: %w", e.ContactID, err)
		}
	}
	return nil
}

func (r *AuditRepo) GetRun(ctx context.Context, runID string) (*domain.MaintenanceRun, error) {
	var (
		run        domain.MaintenanceRun
		sendID     sql.NullString
		abort      sql.NullString
		finished   sql.NullTime
		before     []byte
		after      []byte
		rejected   []byte
		operations []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, workflow, send_id, status, before_state, after_state,
		       suppressed, rebalanced, rejected, operations,
		       used_fallback, abort_reason, started_at, finished_at
		FROM maintenance_runs WHERE id = $1
	`, runID).Scan(&run.ID, &run.Workflow, &sendID, &run.Status, &before, &after,
		&run.Suppressed, &run.Rebalanced, &rejected, &operations,
		&run.UsedFallback, &abort, &run.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return nil, audit.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	run.SendID = sendID.String
	run.AbortReason = abort.String
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	if len(before) > 0 {
		if err := json.Unmarshal(before, &run.BeforeState); err != nil {
			return nil, fmt.Errorf("unmarshal before state: %w", err)
		}
	}
	if len(after) > 0 {
		if err := json.Unmarshal(after, &run.AfterState); err != nil {
			return nil, fmt.Errorf("unmarshal after state: %w", err)
		}
	}
	if len(rejected) > 0 {
		if err := json.Unmarshal(rejected, &run.Rejected); err != nil {
			return nil, fmt.Errorf("unmarshal rejections: %w", err)
		}
	}
	if len(operations) > 0 {
		if err := json.Unmarshal(operations, &run.Operations); err != nil {
			return nil, fmt.Errorf("unmarshal operations: %w", err)
		}
	}
	return &run, nil
}

func (r *AuditRepo) HasSuppressionHistory(ctx context.Context, id domain.ContactID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM contact_suppression_history WHERE contact_id = $1)`,
		int64(id),
	).Scan(&exists)
	return exists, err
}
