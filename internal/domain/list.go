package domain

import "time"

// ListHandle identifies one of the five logical lists the engine manages.
type ListHandle string

const (
	ListMaster      ListHandle = "master"
	ListCampaign1   ListHandle = "campaign_1"
	ListCampaign2   ListHandle = "campaign_2"
	ListCampaign3   ListHandle = "campaign_3"
	ListSuppression ListHandle = "suppression"

	// ListNone marks a backfill movement that has no source list.
	ListNone ListHandle = ""
)

// CampaignLists returns the three rotating campaign lists in fixed order.
func CampaignLists() []ListHandle {
	return []ListHandle{ListCampaign1, ListCampaign2, ListCampaign3}
}

// AllLists returns every managed list, master first, suppression last.
func AllLists() []ListHandle {
	return []ListHandle{ListMaster, ListCampaign1, ListCampaign2, ListCampaign3, ListSuppression}
}

// IsCampaign reports whether the handle is one of the three campaign lists.
func (l ListHandle) IsCampaign() bool {
	switch l {
	case ListCampaign1, ListCampaign2, ListCampaign3:
		return true
	}
	return false
}

// Valid reports whether the handle names a managed list.
func (l ListHandle) Valid() bool {
	switch l {
	case ListMaster, ListCampaign1, ListCampaign2, ListCampaign3, ListSuppression:
		return true
	}
	return false
}

// ListMetadata is the cached per-list state snapshot.
type ListMetadata struct {
	List         ListHandle `json:"list"`
	Size         int        `json:"size"`
	LastSyncedAt time.Time  `json:"last_synced_at"`
}

// ListSnapshot maps each list to its observed size at a point in time.
// Used for before/after state on a MaintenanceRun.
type ListSnapshot map[ListHandle]int

// CampaignSizes returns the three campaign-list sizes in fixed order.
func (s ListSnapshot) CampaignSizes() (c1, c2, c3 int) {
	return s[ListCampaign1], s[ListCampaign2], s[ListCampaign3]
}

// CombinedCampaignSize returns the total size of the three campaign lists.
func (s ListSnapshot) CombinedCampaignSize() int {
	c1, c2, c3 := s.CampaignSizes()
	return c1 + c2 + c3
}
