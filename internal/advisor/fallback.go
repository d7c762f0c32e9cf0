package advisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/ignite/list-rotator/internal/domain"
	"github.com/ignite/list-rotator/internal/pkg/logger"
)

// hardBounceCategories are provider bounce categories treated as permanent
// delivery failures. Only these trigger fallback suppression.
var hardBounceCategories = map[string]bool{
	"bad-mailbox":      true,
	"bad-domain":       true,
	"inactive-mailbox": true,
	"routing-errors":   true,
	"policy-related":   true,
	"spam-related":     true,
}

// Fallback is the rule-based planner used when the model advisor times out
// or returns an invalid reply. It is deliberately conservative: suppress on
// hard-bounce evidence only, never rebalance.
type Fallback struct{}

// NewFallback creates the rule-based planner.
func NewFallback() *Fallback { return &Fallback{} }

// Propose derives a suppression plan from the run's bounce evidence. The
// rebalancing plan is always empty; moving contacts around needs more
// judgment than a rule table has.
func (f *Fallback) Propose(_ context.Context, in Input) (*Proposal, error) {
	var p Proposal
	seen := make(map[domain.ContactID]bool, len(in.Bounces))
	for _, b := range in.Bounces {
		if b.ContactID <= 0 || seen[b.ContactID] {
			continue
		}
		if !isHardBounce(b) {
			continue
		}
		seen[b.ContactID] = true
		p.Suppression.Entries = append(p.Suppression.Entries, domain.SuppressionEntry{
			ContactID: b.ContactID,
			Reason:    "hard_bounce",
			Evidence:  bounceEvidence(b),
		})
	}
	logger.Info("fallback plan built",
		"bounces", len(in.Bounces), "suppressions", len(p.Suppression.Entries))
	return &p, nil
}

func isHardBounce(b domain.BounceEvent) bool {
	if b.Type == domain.BounceHard {
		return true
	}
	return hardBounceCategories[strings.ToLower(b.Category)]
}

func bounceEvidence(b domain.BounceEvent) string {
	s := fmt.Sprintf("%s bounce, category %s", b.Type, b.Category)
	if b.DSNCode != "" {
		s += ", dsn " + b.DSNCode
	}
	return s
}
