package domain

import "time"

// ContactID is the provider-assigned numeric identifier for a contact.
type ContactID int64

// Contact is a single member of the contact universe. Identity is immutable
// once created; list membership is tracked separately in MembershipRecord.
type Contact struct {
	ID    ContactID `json:"id" db:"contact_id"`
	Email string    `json:"email" db:"email"`
}

// MembershipRecord is one reconciled (contact, list) observation. The remote
// store is authoritative; these records are a local consistency aid.
type MembershipRecord struct {
	ContactID  ContactID  `json:"contact_id" db:"contact_id"`
	List       ListHandle `json:"list" db:"list_handle"`
	EnrolledAt time.Time  `json:"enrolled_at" db:"enrolled_at"`
	ObservedAt time.Time  `json:"observed_at" db:"observed_at"`
}

// Membership is the best-known full membership state for one contact.
type Membership struct {
	ContactID ContactID `json:"contact_id"`
	// InMaster reports master-list membership.
	InMaster bool `json:"in_master"`
	// Campaign is the active campaign list, or ListNone. A contact has at
	// most one active campaign membership at a time.
	Campaign ListHandle `json:"campaign"`
	// Suppressed is monotonic: once set it never reverts through this engine.
	Suppressed bool `json:"suppressed"`
	// EnrolledAt is the original master enrollment time, used for FIFO bias.
	EnrolledAt time.Time `json:"enrolled_at"`
}

// BounceType classifies a bounce event from the remote provider.
type BounceType string

const (
	BounceHard BounceType = "hard"
	BounceSoft BounceType = "soft"
	BounceFBL  BounceType = "fbl"
)

// BounceEvent is one delivery failure reported by the provider for a send.
type BounceEvent struct {
	ContactID ContactID  `json:"contact_id"`
	Email     string     `json:"email"`
	Type      BounceType `json:"type"`
	Category  string     `json:"category"`
	DSNCode   string     `json:"dsn_code,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
