package domain

// SuppressionEntry is one proposed suppression from the advisory component.
// Untrusted until validated.
type SuppressionEntry struct {
	ContactID ContactID `json:"contact_id"`
	Reason    string    `json:"reason"`
	Evidence  string    `json:"evidence"`
}

// SuppressionPlan is an externally produced set of proposed suppressions.
type SuppressionPlan struct {
	Entries []SuppressionEntry `json:"entries"`
}

// Movement is one proposed contact move in a rebalancing plan. From is
// ListNone for backfill from master.
type Movement struct {
	ContactID ContactID  `json:"contact_id"`
	From      ListHandle `json:"from"`
	To        ListHandle `json:"to"`
}

// RebalancingPlan is an externally produced set of target counts and ordered
// movements. Untrusted until validated.
type RebalancingPlan struct {
	Targets   ListSnapshot `json:"targets"`
	Movements []Movement   `json:"movements"`
	// BackfillCount asks the validator to select contacts itself (FIFO,
	// oldest enrolled first) when the plan names a count instead of ids.
	BackfillCount int `json:"backfill_count,omitempty"`
	// BackfillTo names the destination for count-based backfill.
	BackfillTo ListHandle `json:"backfill_to,omitempty"`
}

// RejectReason enumerates why the validator refused a plan entry.
type RejectReason string

const (
	RejectAlreadySuppressed   RejectReason = "already_suppressed"
	RejectUnknownContact      RejectReason = "unknown_contact"
	RejectDeferredCapExceeded RejectReason = "deferred_cap_exceeded"
	RejectStaleSource         RejectReason = "stale_source"
	RejectAlreadyMember       RejectReason = "already_member"
	RejectOvercorrection      RejectReason = "overcorrection"
	RejectMalformed           RejectReason = "malformed"
)

// IsDeferral reports whether the rejection should be surfaced for manual
// follow-up rather than counted as an error.
func (r RejectReason) IsDeferral() bool {
	return r == RejectDeferredCapExceeded
}

// IsNoOp reports whether the rejection means the requested state already
// holds. Re-running an applied plan rejects every entry with one of these;
// that run is a clean no-op, not a failure.
func (r RejectReason) IsNoOp() bool {
	return r == RejectAlreadySuppressed || r == RejectAlreadyMember
}

// RejectedEntry records a validator rejection. Rejections are data, never
// errors; they flow into the MaintenanceRun record.
type RejectedEntry struct {
	ContactID ContactID    `json:"contact_id"`
	Reason    RejectReason `json:"reason"`
	Detail    string       `json:"detail,omitempty"`
}

// ValidatedSuppressionPlan is the safe subset of a SuppressionPlan.
type ValidatedSuppressionPlan struct {
	Accepted           []SuppressionEntry `json:"accepted"`
	Rejected           []RejectedEntry    `json:"rejected"`
	TruncatedForSafety bool               `json:"truncated_for_safety"`
}

// ValidatedRebalancingPlan is the safe subset of a RebalancingPlan.
type ValidatedRebalancingPlan struct {
	Accepted           []Movement      `json:"accepted"`
	Rejected           []RejectedEntry `json:"rejected"`
	TruncatedForSafety bool            `json:"truncated_for_safety"`
	// BackfillDeficit is how many requested backfill slots could not be
	// filled from master (partial fill accepted, deficit reported).
	BackfillDeficit int `json:"backfill_deficit,omitempty"`
}
