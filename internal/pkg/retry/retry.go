// Package retry provides bounded retry with exponential backoff for remote
// calls: a generic combinator for per-contact list operations and an HTTP
// client wrapper for provider API requests.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy describes a bounded retry schedule. Attempts counts the total number
// of tries including the first; the delay before try n is
// min(Base * Factor^(n-2), Cap).
type Policy struct {
	Attempts int
	Base     time.Duration
	Factor   float64
	Cap      time.Duration
	// Jitter randomizes each delay between 50% and 100% of the computed
	// value. Off by default so tests stay deterministic.
	Jitter bool
}

// DefaultPolicy is the engine-wide schedule for remote list operations:
// 3 attempts, 1s base, doubling, capped at 4s.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Base: time.Second, Factor: 2, Cap: 4 * time.Second}
}

// Delay returns the backoff before the given retry (retry 1 is the first
// re-attempt).
func (p Policy) Delay(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	d := float64(p.Base) * math.Pow(p.Factor, float64(retry-1))
	if d > float64(p.Cap) {
		d = float64(p.Cap)
	}
	if p.Jitter {
		d = d/2 + rand.Float64()*d/2
	}
	return time.Duration(d)
}

// Retryable decides whether an error is worth another attempt.
type Retryable func(error) bool

// Do runs fn up to p.Attempts times, sleeping per the policy between tries.
// It stops early when fn succeeds, when retryable reports the error as
// permanent, or when ctx is done. The last error is returned along with the
// number of attempts actually made.
func Do(ctx context.Context, p Policy, retryable Retryable, fn func(ctx context.Context) error) (int, error) {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(p.Delay(attempt - 1))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return attempt - 1, lastErr
			}
		}
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return attempt - 1, lastErr
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if retryable != nil && !retryable(lastErr) {
			return attempt, lastErr
		}
	}
	return p.Attempts, lastErr
}
