package accounting

import (
	"context"
	"fmt"
	"time"

	"github.com/jackoliverdev/centrus/addon"
	"github.com/jackoliverdev/centrus/broker"
	"github.com/jackoliverdev/centrus/plan"
	"github.com/jackoliverdev/centrus/subscription"
	"github.com/jackoliverdev/centrus/usage"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

type ManagerOptions struct {
	Catalog       Catalog
	Subscriptions SubscriptionStore
	Ledger        LedgerStore
	Organizations OrganizationStore
	Usage         UsageSource
	Events        broker.Producer
	Logger        *zap.Logger
	Mode          plan.Mode
}

// Manager merges catalog, ledger, subscription and usage into the effective
// plan view, and owns the state transitions triggered by checkout completion,
// webhook events and admin overrides. It depends downward only; the leaf
// stores never reference it back.
type Manager struct {
	ManagerOptions
	now func() time.Time
}

func NewManager(option ManagerOptions) (*Manager, error) {
	if option.Catalog == nil {
		return nil, fmt.Errorf("nil Catalog is invalid")
	}
	if option.Subscriptions == nil {
		return nil, fmt.Errorf("nil Subscriptions is invalid")
	}
	if option.Ledger == nil {
		return nil, fmt.Errorf("nil Ledger is invalid")
	}
	if option.Organizations == nil {
		return nil, fmt.Errorf("nil Organizations is invalid")
	}
	if option.Usage == nil {
		return nil, fmt.Errorf("nil Usage is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Mode == "" {
		option.Mode = plan.ModeDev
	}
	return &Manager{
		ManagerOptions: option,
		now:            time.Now,
	}, nil
}

// EffectivePlanView composes the organization's plan, addon extras, effective
// limits and current usage. Missing subscription or ledger rows degrade to the
// free plan and zero extras; only genuine store failures are surfaced.
func (m *Manager) EffectivePlanView(ctx context.Context, orgID string) (*PlanView, error) {
	if len(orgID) == 0 {
		return nil, fmt.Errorf("empty OrganizationID is invalid")
	}

	sub, err := m.Subscriptions.GetActive(ctx, orgID, m.Mode)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot load active subscription")
	}

	var p plan.Plan
	var subID string
	var anchor time.Time
	if sub != nil {
		subID = sub.ID
		anchor = sub.CreatedAt
		var ok bool
		p, ok = m.Catalog.GetByID(ctx, sub.PlanID)
		if !ok {
			m.Logger.Warn("Active subscription references unknown plan, falling back to free",
				zap.String("OrganizationID", orgID),
				zap.String("SubscriptionID", sub.ID),
				zap.String("PlanID", sub.PlanID),
			)
			p = m.Catalog.FreePlan()
		}
	} else {
		p = m.fallbackPlan(ctx, orgID)
	}

	ledger, err := m.Ledger.Get(ctx, orgID)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot load addon ledger")
	}

	limits := UsageLimits{
		Messages: EffectiveLimit(p.MessageLimit, ledger.ExtraMessages),
		Storage:  EffectiveLimit(p.StorageLimit, ledger.ExtraStorage),
		Users:    EffectiveLimit(p.UserLimit, ledger.ExtraUsers),
	}

	periodStart := usage.CurrentPeriodStart(anchor, m.now())
	snap, err := m.Usage.Snapshot(ctx, orgID, periodStart)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot load usage snapshot")
	}

	return &PlanView{
		Plan:           p,
		Addon:          *ledger,
		UsageLimits:    limits,
		Usages:         snap,
		FormattedStats: buildStats(limits, snap),
		SubscriptionID: subID,
	}, nil
}

// fallbackPlan resolves the plan for an organization without an active
// subscription: the tenant's bound plan if it resolves, otherwise free
func (m *Manager) fallbackPlan(ctx context.Context, orgID string) plan.Plan {
	org, err := m.Organizations.GetByID(ctx, orgID)
	if err != nil {
		m.Logger.Error("Unable to load organization, falling back to free plan",
			zap.String("OrganizationID", orgID),
			zap.Error(err),
		)
		return m.Catalog.FreePlan()
	}
	if org != nil && len(org.PlanID) > 0 {
		if p, ok := m.Catalog.GetByID(ctx, org.PlanID); ok {
			return p
		}
	}
	return m.Catalog.FreePlan()
}

// CheckoutResult carries the identifiers extracted from a completed checkout
// session or a created-subscription webhook
type CheckoutResult struct {
	SubscriptionID string
	CustomerID     string
	OrganizationID string
	UserID         string
	PlanID         string
}

// ActivateSubscription finalizes a subscription after checkout completes. The
// upsert is keyed on the external subscription id, so the completed-checkout
// callback and the created webhook can land in either order and redelivery is
// a no-op.
func (m *Manager) ActivateSubscription(ctx context.Context, res CheckoutResult) (*subscription.Subscription, error) {
	if len(res.SubscriptionID) == 0 || len(res.OrganizationID) == 0 || len(res.PlanID) == 0 {
		return nil, nil
	}
	p, ok := m.Catalog.GetByID(ctx, res.PlanID)
	if !ok {
		m.Logger.Warn("Checkout referenced unknown plan, ignoring",
			zap.String("PlanID", res.PlanID),
			zap.String("SubscriptionID", res.SubscriptionID),
		)
		return nil, nil
	}
	sub := &subscription.Subscription{
		ID:             res.SubscriptionID,
		PlanID:         p.ID,
		OrganizationID: res.OrganizationID,
		UserID:         res.UserID,
		CustomerID:     res.CustomerID,
		Status:         subscription.StatusActive,
		Mode:           m.Mode,
	}
	if err := m.Subscriptions.Upsert(ctx, sub); err != nil {
		return nil, err
	}
	if err := m.Organizations.BindPlan(ctx, res.OrganizationID, p.ID); err != nil {
		m.Logger.Error("Unable to bind organization to purchased plan",
			zap.String("OrganizationID", res.OrganizationID),
			zap.String("PlanID", p.ID),
			zap.Error(err),
		)
	}
	m.publish(&broker.Event{
		Type:           broker.EventSubscriptionActivated,
		OrganizationID: res.OrganizationID,
		SubscriptionID: sub.ID,
		PlanSlug:       string(p.Slug),
	})
	return sub, nil
}

// MarkActive handles the created/resumed webhooks for a subscription that
// already has a local record. Missing records are a nil no-op.
func (m *Manager) MarkActive(ctx context.Context, subID string) (*subscription.Subscription, error) {
	sub, err := m.Subscriptions.UpdateStatus(ctx, subID, subscription.StatusActive)
	if err != nil || sub == nil {
		return sub, err
	}
	m.publish(&broker.Event{
		Type:           broker.EventSubscriptionResumed,
		OrganizationID: sub.OrganizationID,
		SubscriptionID: sub.ID,
	})
	return sub, nil
}

// MarkPaused handles the paused webhook. Missing records are a nil no-op.
func (m *Manager) MarkPaused(ctx context.Context, subID string) (*subscription.Subscription, error) {
	sub, err := m.Subscriptions.UpdateStatus(ctx, subID, subscription.StatusPaused)
	if err != nil || sub == nil {
		return sub, err
	}
	m.publish(&broker.Event{
		Type:           broker.EventSubscriptionPaused,
		OrganizationID: sub.OrganizationID,
		SubscriptionID: sub.ID,
	})
	return sub, nil
}

// MarkCancelled handles the deleted webhook. Applying it twice leaves the
// record cancelled.
func (m *Manager) MarkCancelled(ctx context.Context, subID string) (*subscription.Subscription, error) {
	sub, err := m.Subscriptions.UpdateStatus(ctx, subID, subscription.StatusCancelled)
	if err != nil || sub == nil {
		return sub, err
	}
	m.publish(&broker.Event{
		Type:           broker.EventSubscriptionCancelled,
		OrganizationID: sub.OrganizationID,
		SubscriptionID: sub.ID,
	})
	return sub, nil
}

// ChangePlanFromPrice handles the updated webhook: the customer changed plan
// via the external billing portal and all we have is the new price id. An
// unrecognized price id is acknowledged and logged, not retried: redelivery
// cannot fix a catalog mismatch.
func (m *Manager) ChangePlanFromPrice(ctx context.Context, subID, priceID string) (*subscription.Subscription, error) {
	p, ok := m.Catalog.GetByPriceID(ctx, priceID, m.Mode)
	if !ok {
		m.Logger.Warn("Webhook price id does not resolve to a catalog plan, ignoring",
			zap.String("SubscriptionID", subID),
			zap.String("PriceID", priceID),
		)
		return nil, nil
	}
	sub, err := m.Subscriptions.ChangePlan(ctx, subID, p.ID)
	if err != nil || sub == nil {
		return sub, err
	}
	if err := m.Organizations.BindPlan(ctx, sub.OrganizationID, p.ID); err != nil {
		m.Logger.Error("Unable to propagate plan change to organization",
			zap.String("OrganizationID", sub.OrganizationID),
			zap.String("PlanID", p.ID),
			zap.Error(err),
		)
	}
	m.publish(&broker.Event{
		Type:           broker.EventPlanChanged,
		OrganizationID: sub.OrganizationID,
		SubscriptionID: sub.ID,
		PlanSlug:       string(p.Slug),
	})
	return sub, nil
}

// SwitchToFree cancels the current recurring agreement and binds the
// organization to the free plan. An empty subscription id is a nil no-op. The
// external cancel must succeed before any local write happens.
func (m *Manager) SwitchToFree(ctx context.Context, orgID, subID string) (*subscription.Subscription, error) {
	if len(subID) == 0 {
		return nil, nil
	}
	if err := m.Subscriptions.CancelOnStripe(ctx, subID); err != nil {
		return nil, err
	}
	sub, err := m.Subscriptions.UpdateStatus(ctx, subID, subscription.StatusCancelled)
	if err != nil {
		return nil, err
	}
	free := m.Catalog.FreePlan()
	if err := m.Organizations.BindPlan(ctx, orgID, free.ID); err != nil {
		return nil, err
	}
	m.publish(&broker.Event{
		Type:           broker.EventSubscriptionCancelled,
		OrganizationID: orgID,
		SubscriptionID: subID,
		PlanSlug:       string(free.Slug),
	})
	return sub, nil
}

// GrantAddon applies a confirmed addon purchase to the ledger. Only the
// payment webhook calls this; requesting a checkout never touches the ledger.
func (m *Manager) GrantAddon(ctx context.Context, orgID string, q addon.Quantities) error {
	if err := m.Ledger.Increment(ctx, orgID, q); err != nil {
		return err
	}
	m.publish(&broker.Event{
		Type:           broker.EventAddonGranted,
		OrganizationID: orgID,
	})
	return nil
}

// OverrideAddon performs the admin absolute set of ledger quantities
func (m *Manager) OverrideAddon(ctx context.Context, orgID string, q addon.Quantities) (*addon.Ledger, error) {
	ledger, err := m.Ledger.SetQuantities(ctx, orgID, q)
	if err != nil {
		return nil, err
	}
	m.publish(&broker.Event{
		Type:           broker.EventAddonGranted,
		OrganizationID: orgID,
	})
	return ledger, nil
}

// publish is best effort: losing a notification must never fail a billing
// state change that has already been committed
func (m *Manager) publish(e *broker.Event) {
	if m.Events == nil {
		return
	}
	if err := m.Events.PublishBillingEvent(e); err != nil {
		m.Logger.Error("Unable to publish billing event",
			zap.String("EventType", string(e.Type)),
			zap.String("OrganizationID", e.OrganizationID),
			zap.Error(err),
		)
	}
}
