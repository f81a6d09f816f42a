package domain

import "time"

// StagedState is the resolution state of an item held in staging.
type StagedState string

const (
	// StagedPending items still need resolution.
	StagedPending StagedState = "pending"
	// StagedAdded items are in the cart but not yet cleared from the source.
	StagedAdded StagedState = "added"
)

// StagedItem is one RawItem held in the StagingRecord.
type StagedItem struct {
	Item  RawItem     `json:"item"`
	State StagedState `json:"state"`
}

// StagingRecord is the durable recovery point for a cycle. It exists iff at
// least one scraped item is not yet fully resolved.
type StagingRecord struct {
	CycleID   string       `json:"cycleId"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
	Items     []StagedItem `json:"items"`
}

// Pending returns the items that still need resolution, in order.
func (r *StagingRecord) Pending() []RawItem {
	return r.inState(StagedPending)
}

// AwaitingClear returns items already added to the cart whose source clear
// has not been confirmed.
func (r *StagingRecord) AwaitingClear() []RawItem {
	return r.inState(StagedAdded)
}

// Empty reports whether the record holds nothing worth persisting.
func (r *StagingRecord) Empty() bool {
	return r == nil || len(r.Items) == 0
}

// Contains reports whether an item with the given identity is staged.
func (r *StagingRecord) Contains(identity string) bool {
	if r == nil {
		return false
	}
	for _, si := range r.Items {
		if si.Item.Identity() == identity {
			return true
		}
	}
	return false
}

func (r *StagingRecord) inState(state StagedState) []RawItem {
	if r == nil {
		return nil
	}
	var items []RawItem
	for _, si := range r.Items {
		if si.State == state {
			items = append(items, si.Item)
		}
	}
	return items
}
