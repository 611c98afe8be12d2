package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackoliverdev/centrus/plan"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ManagerOptions struct {
	StripeClient *client.API
	DB           *gorm.DB
	Logger       *zap.Logger
}

// Manager handles the database and payment-processor operations relating to
// Subscriptions
type Manager struct {
	ManagerOptions
}

func NewManager(option ManagerOptions) (*Manager, error) {
	if option.StripeClient == nil {
		return nil, fmt.Errorf("nil StripeClient is invalid")
	}
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&Subscription{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize subscription.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// Upsert creates or refreshes a Subscription keyed by the external
// subscription id. Checkout completion and the created webhook both land here,
// in either order, and redelivery is a no-op.
func (m *Manager) Upsert(ctx context.Context, sub *Subscription) error {
	if sub == nil || len(sub.ID) == 0 {
		return fmt.Errorf("Subscription with external ID is required")
	}
	if len(sub.OrganizationID) == 0 {
		return fmt.Errorf("Subscription.OrganizationID is required")
	}
	if len(sub.PlanID) == 0 {
		return fmt.Errorf("Subscription.PlanID is required")
	}
	result := m.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"plan_id", "organization_id", "user_id", "customer_id", "status", "mode",
		}),
	}).Create(sub)
	if result.Error != nil {
		m.Logger.Error("Unable to upsert subscription in database",
			zap.String("SubscriptionID", sub.ID),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot upsert subscription")
	}
	return nil
}

// GetByID will try to return the subscription by its external id
func (m *Manager) GetByID(ctx context.Context, subID string) (*Subscription, error) {
	if len(subID) == 0 {
		return nil, fmt.Errorf("SubscriptionID is required")
	}
	var sub Subscription
	result := m.DB.WithContext(ctx).First(&sub, "id = ?", subID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		return nil, result.Error
	}

	return &sub, nil
}

// GetActive returns "the" active subscription for the organization in the
// given mode. Uniqueness is intended but not enforced by the schema, so the
// most recent active row wins.
func (m *Manager) GetActive(ctx context.Context, orgID string, mode plan.Mode) (*Subscription, error) {
	if len(orgID) == 0 {
		return nil, fmt.Errorf("OrganizationID is required")
	}
	var sub Subscription
	result := m.DB.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Where("status = ?", StatusActive).
		Where("mode = ?", mode).
		Order("created_at desc").
		First(&sub)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, result.Error
	}

	return &sub, nil
}

// UpdateStatus transitions the subscription's lifecycle status. A missing
// subscription returns nil, nil so webhook retries stay a no-op.
func (m *Manager) UpdateStatus(ctx context.Context, subID string, status Status) (*Subscription, error) {
	if len(subID) == 0 {
		return nil, nil
	}
	result := m.DB.WithContext(ctx).
		Model(&Subscription{}).
		Where("id = ?", subID).
		Update("status", status)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot update subscription status")
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return m.GetByID(ctx, subID)
}

// ChangePlan rebinds the subscription to another catalog plan and reactivates
// it. Driven by the updated webhook when the customer changes plan via the
// external billing portal. A missing subscription returns nil, nil.
func (m *Manager) ChangePlan(ctx context.Context, subID, planID string) (*Subscription, error) {
	if len(subID) == 0 || len(planID) == 0 {
		return nil, nil
	}
	result := m.DB.WithContext(ctx).
		Model(&Subscription{}).
		Where("id = ?", subID).
		Updates(map[string]interface{}{
			"plan_id": planID,
			"status":  StatusActive,
		})
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot change subscription plan")
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return m.GetByID(ctx, subID)
}

// CancelOnStripe cancels the recurring agreement with the payment processor.
// The local status transition is the caller's responsibility and must only
// happen after the processor confirms.
func (m *Manager) CancelOnStripe(ctx context.Context, subID string) error {
	if len(subID) == 0 {
		return fmt.Errorf("SubscriptionID is required")
	}
	cancelParams := &stripe.SubscriptionCancelParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}
	if _, err := m.StripeClient.Subscriptions.Cancel(subID, cancelParams); err != nil {
		return extErrors.Wrap(err, "Unable to cancel subscription on Stripe")
	}
	return nil
}
