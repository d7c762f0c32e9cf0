// Package plan validates untrusted advisory plans before execution.
//
// Plans arrive from the advisory component and are treated as
// recommendations, never ground truth. Validation turns a plan into a safe
// subset: entries that would violate an invariant (duplicate membership,
// monotonic suppression, bounded imbalance) are rejected with a reason, and
// rejections are data that flow into the run record. Malformed input never
// raises an error. Validation never mutates state.
package plan
