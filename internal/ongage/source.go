package ongage

import (
	"context"
	"time"

	"github.com/ignite/list-rotator/internal/domain"
)

// RecordSource adapts the client's paged member reads to the membership
// record shape the ledger reconciles from.
type RecordSource struct {
	Client *Client
}

// FetchMembers returns one page of (contact, list) observations.
func (s RecordSource) FetchMembers(ctx context.Context, list domain.ListHandle, pageToken string) ([]domain.MembershipRecord, string, error) {
	members, next, err := s.Client.FetchMembers(ctx, list, pageToken)
	if err != nil {
		return nil, "", err
	}
	now := time.Now().UTC()
	records := make([]domain.MembershipRecord, 0, len(members))
	for _, m := range members {
		records = append(records, domain.MembershipRecord{
			ContactID:  m.ID,
			List:       list,
			EnrolledAt: m.Enrolled(),
			ObservedAt: now,
		})
	}
	return records, next, nil
}
