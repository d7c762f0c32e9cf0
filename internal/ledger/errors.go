package ledger

import "errors"

// Sentinel errors for the ledger service layer.
var (
	ErrUnknownContact = errors.New("contact not present in ledger")

	// ErrSuppressed is returned when a caller tries to give a suppressed
	// contact a campaign membership. Suppression is monotonic.
	ErrSuppressed = errors.New("contact is suppressed")
)
