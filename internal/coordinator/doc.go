// Package coordinator runs the maintenance workflows end to end: it owns
// the trigger queue, the run state machine and the five-list lock.
//
// Exactly one mutating run executes at a time across all deployments; the
// distributed lock enforces it and triggers arriving mid-run wait in the
// queue. Pre-send validation is read-only and bypasses both the queue and
// the lock, so it stays available while maintenance runs.
//
// A run's lifecycle is snapshot, advise, validate, execute, finalize,
// record. The audit row is written only after the terminal status is known,
// and notification, archival and cache bookkeeping can never change that
// status.
package coordinator
