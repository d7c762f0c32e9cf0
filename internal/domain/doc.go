// Package domain defines the core business types for the list rotation engine.
//
// Types in this package are pure value objects with no behavior beyond
// validation and classification helpers. They are the shared language between
// the coordinator, validator, executor, and repositories.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Constants and enums belong here
package domain
