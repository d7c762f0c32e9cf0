// Package audit durably records maintenance runs and suppression history.
//
// Audit writes happen strictly after a run's state machine finalizes, so the
// log never reflects a run state earlier than what actually happened. All
// writes are idempotent: re-recording an already-recorded run (crash and
// restart) produces zero duplicate rows.
package audit

import (
	"context"

	"github.com/ignite/list-rotator/internal/domain"
)

// Writer is the durable audit contract consumed by the coordinator.
type Writer interface {
	// RecordRun persists a finalized MaintenanceRun exactly once.
	RecordRun(ctx context.Context, run *domain.MaintenanceRun) error

	// RecordSuppressions persists one history row per accepted suppression,
	// exactly once per contact.
	RecordSuppressions(ctx context.Context, runID string, entries []domain.SuppressionEntry) error

	// GetRun loads a recorded run by id, or ErrRunNotFound.
	GetRun(ctx context.Context, runID string) (*domain.MaintenanceRun, error)

	// HasSuppressionHistory reports whether the contact has ever been
	// suppressed. Supports the monotonic-suppression invariant check.
	HasSuppressionHistory(ctx context.Context, id domain.ContactID) (bool, error)
}
