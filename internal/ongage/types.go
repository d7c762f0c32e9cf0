package ongage

import (
	"time"

	"github.com/ignite/list-rotator/internal/domain"
)

// Config holds Ongage API credentials and the remote list mapping.
type Config struct {
	BaseURL     string
	Username    string
	Password    string
	AccountCode string
	Timeout     time.Duration
	// ListIDs maps each logical handle to its remote list identifier.
	ListIDs map[domain.ListHandle]string
}

// Metadata is the envelope header every Ongage response carries.
type Metadata struct {
	Error bool   `json:"error"`
	Total int    `json:"total,omitempty"`
	Code  string `json:"code,omitempty"`
}

// Member is one contact as returned by the members endpoint, ordered
// oldest-enrolled-first by the provider.
type Member struct {
	ID         domain.ContactID `json:"id"`
	Email      string           `json:"email"`
	EnrolledAt int64            `json:"created"` // unix seconds
}

// Enrolled returns the enrollment time as a time.Time.
func (m Member) Enrolled() time.Time {
	return time.Unix(m.EnrolledAt, 0).UTC()
}

type countResponse struct {
	Metadata Metadata `json:"metadata"`
	Payload  struct {
		Count int `json:"count"`
	} `json:"payload"`
}

type membersResponse struct {
	Metadata Metadata `json:"metadata"`
	Payload  struct {
		Members  []Member `json:"members"`
		NextPage string   `json:"next_page,omitempty"`
	} `json:"payload"`
}

type mutationResponse struct {
	Metadata Metadata `json:"metadata"`
	Payload  struct {
		Status string `json:"status"`
	} `json:"payload"`
}

type bounceEventsResponse struct {
	Metadata Metadata `json:"metadata"`
	Payload  []struct {
		ContactID domain.ContactID `json:"contact_id"`
		Email     string           `json:"email"`
		Type      string           `json:"bounce_type"`
		Category  string           `json:"bounce_category"`
		DSNCode   string           `json:"dsn_code"`
		Timestamp int64            `json:"timestamp"`
	} `json:"payload"`
}

// bounceType maps the provider's bounce_type field to our classification.
func bounceType(s string) domain.BounceType {
	switch s {
	case "hard", "bounce_hard":
		return domain.BounceHard
	case "fbl", "complaint":
		return domain.BounceFBL
	default:
		return domain.BounceSoft
	}
}
