// Package executor applies validated suppression and rebalancing plans to
// the remote list provider, one independent operation per contact.
//
// Every remote mutation is idempotent at the provider (adds tolerate
// already-member, removes tolerate not-a-member), so a crash-and-rerun of
// the same validated plan converges instead of corrupting state. The
// membership ledger is updated only after the remote mutation is confirmed.
//
// Failures are isolated: one contact failing never aborts the others, and a
// rebalancing movement that gets a contact out of its source list but cannot
// get it into the destination is compensated by re-adding it to the source.
// A contact whose compensation also fails is flagged orphaned for manual
// follow-up.
package executor
