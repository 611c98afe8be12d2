package subscription

import (
	"time"

	"github.com/jackoliverdev/centrus/plan"
)

// Subscription binds an organization to an external recurring-payment
// agreement. The primary key is the payment processor's subscription id, which
// makes webhook-driven writes idempotent via upsert.
type Subscription struct {
	ID             string    `json:"id" gorm:"primaryKey"`        // Corresponds to Stripe's Subscription ID
	PlanID         string    `json:"planId" gorm:"index"`         // The catalog Plan this subscription is for
	OrganizationID string    `json:"organizationId" gorm:"index"` // The tenant being billed
	UserID         string    `json:"userId"`                      // Who initiated the checkout
	CustomerID     string    `json:"customerId" gorm:"index"`     // Corresponds to Stripe's Customer ID
	Status         Status    `json:"status" gorm:"index"`
	Mode           plan.Mode `json:"mode" gorm:"index"` // live vs dev payment environment
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
