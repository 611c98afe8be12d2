package organization

// Organization describes a tenant. It is the billing and access-control
// boundary; PlanID is the bound fallback plan used when the tenant has no
// active subscription.
type Organization struct {
	ID     string `json:"id" gorm:"primaryKey"`
	Name   string `json:"name"`
	PlanID string `json:"planId" gorm:"index"`
}
