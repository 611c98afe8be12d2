package addon

// Ledger is the per-organization record of purchased incremental capacity
// layered on top of the base plan. Values are absolute quantities, never
// deltas, and must never go below zero.
type Ledger struct {
	ID             string `json:"id" gorm:"primaryKey"`
	OrganizationID string `json:"organizationId" gorm:"uniqueIndex"`
	ExtraMessages  int64  `json:"extraMessages"`
	ExtraStorage   int64  `json:"extraStorage"` // in bytes
	ExtraUsers     int64  `json:"extraUsers"`
}

// Quantities carries the per-resource values of a ledger mutation. A nil field
// leaves that resource untouched.
type Quantities struct {
	Messages *int64 `json:"messages,omitempty"`
	Storage  *int64 `json:"storage,omitempty"`
	Users    *int64 `json:"users,omitempty"`
}

// Empty reports whether the mutation carries no values at all
func (q Quantities) Empty() bool {
	return q.Messages == nil && q.Storage == nil && q.Users == nil
}
