package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine. Validator rejections are never errors; these
// cover remote-store failures and coordination faults only.
var (
	// ErrLockHeld means another mutating workflow holds the five-list lock.
	// Callers should retry later; this is not a run failure.
	ErrLockHeld = errors.New("list set is locked by another maintenance run")

	// ErrAdvisoryTimeout means the advisory service exceeded its deadline.
	// Triggers the rule-based fallback plan, not a run failure.
	ErrAdvisoryTimeout = errors.New("advisory service timed out")

	// ErrAdvisorySchema means the advisory payload failed schema validation.
	// Like a timeout, it triggers the rule-based fallback.
	ErrAdvisorySchema = errors.New("advisory payload failed schema validation")

	// ErrSnapshotUnavailable means the before-state snapshot could not be
	// read. The only remote fault that aborts a run before any mutation.
	ErrSnapshotUnavailable = errors.New("cannot snapshot current list state")
)

// TransientError wraps a remote-store failure that is safe to retry
// (rate limiting, 5xx, network timeouts).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient remote error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a remote-store failure that retrying cannot fix
// (unknown contact or list, auth failure).
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent remote error during %s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Transient marks err as retryable.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// Permanent marks err as not retryable.
func Permanent(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Op: op, Err: err}
}

// IsTransient reports whether err is marked retryable. Unclassified errors
// are treated as permanent so that a bug never turns into a retry storm.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
