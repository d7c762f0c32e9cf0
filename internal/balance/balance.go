// Package balance computes campaign-list deviation from the equal-split
// target. Pure functions, no I/O.
package balance

import "math"

// DefaultTolerancePct is the maximum allowed deviation before a rebalancing
// proposal is triggered.
const DefaultTolerancePct = 5.0

// Deviation returns the worst-case percentage deviation of the three
// campaign lists from their mean. An empty universe reports 0 so that empty
// test lists never raise a false alarm.
func Deviation(c1, c2, c3 int) float64 {
	total := c1 + c2 + c3
	if total == 0 {
		return 0
	}
	mean := float64(total) / 3.0
	worst := 0.0
	for _, c := range []int{c1, c2, c3} {
		d := math.Abs(float64(c)-mean) / mean
		if d > worst {
			worst = d
		}
	}
	return worst * 100
}

// IsBalanced reports whether all three lists are within tolerancePct of the
// equal-split target.
func IsBalanced(c1, c2, c3 int, tolerancePct float64) bool {
	return Deviation(c1, c2, c3) <= tolerancePct
}

// Targets returns the equal-split target for each list. The remainder of an
// uneven total is assigned to the first lists so targets always sum to the
// total.
func Targets(c1, c2, c3 int) [3]int {
	total := c1 + c2 + c3
	base := total / 3
	rem := total % 3
	var t [3]int
	for i := range t {
		t[i] = base
		if i < rem {
			t[i]++
		}
	}
	return t
}
