package plan

import (
	"fmt"
	"math"

	"github.com/ignite/list-rotator/internal/balance"
	"github.com/ignite/list-rotator/internal/domain"
)

// simulation tracks what the campaign lists will look like after the
// accepted movements so far, and enforces the over-correction guard: no
// accepted movement may leave a list more than 1.5× the tolerance away from
// its target in the wrong direction.
type simulation struct {
	sizes   map[domain.ListHandle]int
	targets map[domain.ListHandle]int
	margin  map[domain.ListHandle]int
}

func newSimulation(before domain.ListSnapshot, planTargets domain.ListSnapshot, tolerancePct float64) *simulation {
	s := &simulation{
		sizes:   make(map[domain.ListHandle]int, 3),
		targets: make(map[domain.ListHandle]int, 3),
		margin:  make(map[domain.ListHandle]int, 3),
	}

	c1, c2, c3 := before.CampaignSizes()
	equal := balance.Targets(c1, c2, c3)
	for i, list := range domain.CampaignLists() {
		s.sizes[list] = before[list]
		target := equal[i]
		// The plan may carry explicit targets; trust them only if they
		// conserve the total, otherwise fall back to the equal split.
		if planTargets != nil && planTargets.CombinedCampaignSize() == before.CombinedCampaignSize() {
			target = planTargets[list]
		}
		s.targets[list] = target
		s.margin[list] = int(math.Ceil(float64(target) * 1.5 * tolerancePct / 100.0))
	}
	return s
}

// allows reports whether applying mv keeps both ends inside the guard band.
func (s *simulation) allows(mv domain.Movement) bool {
	if mv.To.IsCampaign() {
		if s.sizes[mv.To]+1 > s.targets[mv.To]+s.margin[mv.To] {
			return false
		}
	}
	if mv.From.IsCampaign() {
		if s.sizes[mv.From]-1 < s.targets[mv.From]-s.margin[mv.From] {
			return false
		}
	}
	return true
}

func (s *simulation) apply(mv domain.Movement) {
	if mv.From.IsCampaign() {
		s.sizes[mv.From]--
	}
	if mv.To.IsCampaign() {
		s.sizes[mv.To]++
	}
}

func (s *simulation) explain(mv domain.Movement) string {
	if mv.To.IsCampaign() && s.sizes[mv.To]+1 > s.targets[mv.To]+s.margin[mv.To] {
		return fmt.Sprintf("%s would reach %d, over target %d by more than %d",
			mv.To, s.sizes[mv.To]+1, s.targets[mv.To], s.margin[mv.To])
	}
	return fmt.Sprintf("%s would drop to %d, under target %d by more than %d",
		mv.From, s.sizes[mv.From]-1, s.targets[mv.From], s.margin[mv.From])
}
