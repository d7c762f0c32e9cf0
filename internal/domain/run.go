package domain

import "time"

// WorkflowKind identifies which of the three workflows a run executes.
type WorkflowKind string

const (
	WorkflowPostSend    WorkflowKind = "post_send_maintenance"
	WorkflowWeeklySweep WorkflowKind = "weekly_sweep"
	WorkflowPreSend     WorkflowKind = "pre_send_validation"
)

// RunStatus is the terminal state of a MaintenanceRun.
type RunStatus string

const (
	RunRunning        RunStatus = "running"
	RunSuccess        RunStatus = "success"
	RunPartialSuccess RunStatus = "partial_success"
	RunFailed         RunStatus = "failed"
)

// OpStatus is the outcome of a single per-contact operation.
type OpStatus string

const (
	OpApplied  OpStatus = "applied"
	OpFailed   OpStatus = "failed"
	OpOrphaned OpStatus = "orphaned"
	OpSkipped  OpStatus = "skipped"
)

// OperationResult records the outcome of one per-contact operation within a run.
type OperationResult struct {
	ContactID ContactID  `json:"contact_id"`
	Status    OpStatus   `json:"status"`
	From      ListHandle `json:"from,omitempty"`
	To        ListHandle `json:"to,omitempty"`
	Error     string     `json:"error,omitempty"`
	Attempts  int        `json:"attempts"`
}

// MaintenanceRun is one audited execution of a workflow against the five-list
// set. Created at workflow start, finalized at workflow end, never mutated
// afterward.
type MaintenanceRun struct {
	ID           string       `json:"id" db:"id"`
	Workflow     WorkflowKind `json:"workflow" db:"workflow"`
	SendID       string       `json:"send_id,omitempty" db:"send_id"`
	Status       RunStatus    `json:"status" db:"status"`
	BeforeState  ListSnapshot `json:"before_state" db:"before_state"`
	AfterState   ListSnapshot `json:"after_state,omitempty" db:"after_state"`
	Suppressed   int          `json:"suppressed" db:"suppressed"`
	Rebalanced   int          `json:"rebalanced" db:"rebalanced"`
	Rejected     []RejectedEntry   `json:"rejected,omitempty"`
	Operations   []OperationResult `json:"operations,omitempty"`
	UsedFallback bool         `json:"used_fallback" db:"used_fallback"`
	AbortReason  string       `json:"abort_reason,omitempty" db:"abort_reason"`
	StartedAt    time.Time    `json:"started_at" db:"started_at"`
	FinishedAt   time.Time    `json:"finished_at,omitempty" db:"finished_at"`
}

// Counts summarizes a run for notification: applied, failed, rejected, deferred.
func (r *MaintenanceRun) Counts() (applied, failed, rejected, deferred int) {
	for _, op := range r.Operations {
		switch op.Status {
		case OpApplied:
			applied++
		case OpFailed, OpOrphaned:
			failed++
		}
	}
	for _, rej := range r.Rejected {
		switch {
		case rej.Reason.IsDeferral():
			deferred++
		case rej.Reason.IsNoOp():
			// Requested state already holds; idempotent reruns stay clean.
		default:
			rejected++
		}
	}
	return applied, failed, rejected, deferred
}

// Finalize resolves the terminal status from the recorded operations, per the
// coordinator state machine: all applied → success; some applied → partial;
// none applied out of a non-empty plan → failed.
func (r *MaintenanceRun) Finalize(now time.Time) {
	applied, failed, rejected, _ := r.Counts()
	switch {
	case applied > 0 && failed == 0 && rejected == 0:
		r.Status = RunSuccess
	case applied > 0:
		r.Status = RunPartialSuccess
	case failed > 0 || rejected > 0:
		r.Status = RunFailed
	default:
		// Empty plan: nothing to do counts as success.
		r.Status = RunSuccess
	}
	r.FinishedAt = now
}

// ContactSuppressionHistory is one durable audit row per accepted suppression,
// written exactly once.
type ContactSuppressionHistory struct {
	ContactID ContactID `json:"contact_id" db:"contact_id"`
	RunID     string    `json:"run_id" db:"run_id"`
	Reason    string    `json:"reason" db:"reason"`
	Evidence  string    `json:"evidence" db:"evidence"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ValidationReport is the synchronous result of the read-only pre-send check.
type ValidationReport struct {
	List          ListHandle `json:"list"`
	ExpectedCount int        `json:"expected_count"`
	ObservedCount int        `json:"observed_count"`
	CountMatches  bool       `json:"count_matches"`
	DeviationPct  float64    `json:"deviation_pct"`
	Balanced      bool       `json:"balanced"`
	// Degraded is set when the observed counts came from a stale cache
	// because the remote store was unavailable.
	Degraded    bool      `json:"degraded"`
	GeneratedAt time.Time `json:"generated_at"`
}
