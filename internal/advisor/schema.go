package advisor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ignite/list-rotator/internal/domain"
)

// wireProposal is the exact shape the model must produce. Unknown fields are
// rejected so a drifting model cannot smuggle data past validation.
type wireProposal struct {
	Suppression struct {
		Entries []wireSuppression `json:"entries"`
	} `json:"suppression"`
	Rebalancing struct {
		Targets   map[string]int `json:"targets"`
		Movements []wireMovement `json:"movements"`
	} `json:"rebalancing"`
}

type wireSuppression struct {
	ContactID  int64   `json:"contact_id"`
	Reason     string  `json:"reason"`
	Evidence   string  `json:"evidence"`
	Confidence float64 `json:"confidence"`
}

type wireMovement struct {
	ContactID  int64   `json:"contact_id"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	Confidence float64 `json:"confidence"`
}

// minConfidence drops low-conviction proposals before they reach the
// validator at all.
const minConfidence = 0.5

// parseProposal validates the model's reply against the schema and converts
// it to domain plans. Every failure wraps domain.ErrAdvisorySchema.
func parseProposal(raw string) (*Proposal, error) {
	raw = strings.TrimSpace(raw)
	// Models sometimes fence their JSON despite instructions.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty reply", domain.ErrAdvisorySchema)
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	var wire wireProposal
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAdvisorySchema, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after proposal object", domain.ErrAdvisorySchema)
	}

	var p Proposal
	for i, e := range wire.Suppression.Entries {
		if e.ContactID <= 0 {
			return nil, fmt.Errorf("%w: suppression entry %d has no contact_id", domain.ErrAdvisorySchema, i)
		}
		if e.Reason == "" {
			return nil, fmt.Errorf("%w: suppression entry %d has no reason", domain.ErrAdvisorySchema, i)
		}
		if e.Confidence < 0 || e.Confidence > 1 {
			return nil, fmt.Errorf("%w: suppression entry %d confidence %v outside [0,1]", domain.ErrAdvisorySchema, i, e.Confidence)
		}
		if e.Confidence < minConfidence {
			continue
		}
		p.Suppression.Entries = append(p.Suppression.Entries, domain.SuppressionEntry{
			ContactID: domain.ContactID(e.ContactID),
			Reason:    e.Reason,
			Evidence:  e.Evidence,
		})
	}

	if len(wire.Rebalancing.Targets) > 0 {
		targets := make(domain.ListSnapshot, len(wire.Rebalancing.Targets))
		for name, count := range wire.Rebalancing.Targets {
			list := domain.ListHandle(name)
			if !list.IsCampaign() {
				return nil, fmt.Errorf("%w: target for non-campaign list %q", domain.ErrAdvisorySchema, name)
			}
			if count < 0 {
				return nil, fmt.Errorf("%w: negative target for %q", domain.ErrAdvisorySchema, name)
			}
			targets[list] = count
		}
		p.Rebalancing.Targets = targets
	}

	for i, mv := range wire.Rebalancing.Movements {
		if mv.ContactID <= 0 {
			return nil, fmt.Errorf("%w: movement %d has no contact_id", domain.ErrAdvisorySchema, i)
		}
		to := domain.ListHandle(mv.To)
		from := domain.ListHandle(mv.From)
		if !to.IsCampaign() {
			return nil, fmt.Errorf("%w: movement %d targets non-campaign list %q", domain.ErrAdvisorySchema, i, mv.To)
		}
		if from != domain.ListNone && !from.IsCampaign() {
			return nil, fmt.Errorf("%w: movement %d sources non-campaign list %q", domain.ErrAdvisorySchema, i, mv.From)
		}
		if mv.Confidence < 0 || mv.Confidence > 1 {
			return nil, fmt.Errorf("%w: movement %d confidence %v outside [0,1]", domain.ErrAdvisorySchema, i, mv.Confidence)
		}
		if mv.Confidence < minConfidence {
			continue
		}
		p.Rebalancing.Movements = append(p.Rebalancing.Movements, domain.Movement{
			ContactID: domain.ContactID(mv.ContactID),
			From:      from,
			To:        to,
		})
	}

	return &p, nil
}
