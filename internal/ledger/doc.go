// Package ledger maintains the best-known mapping of contact to current
// list membership.
//
// The remote store is authoritative; this ledger is a reconciled cache that
// exists to detect duplicate membership cheaply and to support FIFO-biased
// backfill selection. It is written only by the execution engine after a
// confirmed remote mutation, and re-derived from full remote reads during
// the weekly sweep; on any disagreement the remote store wins.
//
// The service layer contains the invariant checks (one active campaign list
// per contact, monotonic suppression) and depends on the Repository
// interface defined in repository.go. It never imports database/sql.
package ledger
