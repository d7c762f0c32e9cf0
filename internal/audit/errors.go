package audit

import "errors"

// ErrRunNotFound is returned when a run id has no audit record.
var ErrRunNotFound = errors.New("maintenance run not found")
