package accounting

import (
	"context"
	"time"

	"github.com/jackoliverdev/centrus/addon"
	"github.com/jackoliverdev/centrus/organization"
	"github.com/jackoliverdev/centrus/plan"
	"github.com/jackoliverdev/centrus/subscription"
	"github.com/jackoliverdev/centrus/usage"
)

// Catalog is the read-only plan lookup the accounting layer depends on
type Catalog interface {
	GetByID(ctx context.Context, planID string) (plan.Plan, bool)
	GetBySlug(ctx context.Context, slug plan.Slug) (plan.Plan, bool)
	GetByPriceID(ctx context.Context, priceID string, mode plan.Mode) (plan.Plan, bool)
	FreePlan() plan.Plan
}

// SubscriptionStore is the slice of subscription.Manager the accounting layer uses
type SubscriptionStore interface {
	Upsert(ctx context.Context, sub *subscription.Subscription) error
	GetActive(ctx context.Context, orgID string, mode plan.Mode) (*subscription.Subscription, error)
	UpdateStatus(ctx context.Context, subID string, status subscription.Status) (*subscription.Subscription, error)
	ChangePlan(ctx context.Context, subID, planID string) (*subscription.Subscription, error)
	CancelOnStripe(ctx context.Context, subID string) error
}

// LedgerStore is the slice of addon.Manager the accounting layer uses
type LedgerStore interface {
	Get(ctx context.Context, orgID string) (*addon.Ledger, error)
	SetQuantities(ctx context.Context, orgID string, q addon.Quantities) (*addon.Ledger, error)
	Increment(ctx context.Context, orgID string, q addon.Quantities) error
}

// OrganizationStore is the slice of organization.Manager the accounting layer uses
type OrganizationStore interface {
	GetByID(ctx context.Context, id string) (*organization.Organization, error)
	BindPlan(ctx context.Context, orgID, planID string) error
}

// UsageSource computes current consumption for an organization
type UsageSource interface {
	Snapshot(ctx context.Context, orgID string, periodStart time.Time) (usage.Snapshot, error)
}

// UsageLimits is the effective capacity of an organization: the base plan
// limit plus the addon extra, except that an unlimited base stays unlimited.
type UsageLimits struct {
	Messages int64 `json:"messages"`
	Storage  int64 `json:"storage"`
	Users    int64 `json:"users"`
}

// FormattedStats is the per-resource usage/limit/percentage triple the billing
// UI renders. An unknown usage is reported as -1 with a zero percentage.
type FormattedStats struct {
	MessageUsage      int64   `json:"messageUsage"`
	MessageLimit      int64   `json:"messageLimit"`
	MessagePercentage float64 `json:"messagePercentage"`
	StorageUsage      int64   `json:"storageUsage"`
	StorageLimit      int64   `json:"storageLimit"`
	StoragePercentage float64 `json:"storagePercentage"`
	UserUsage         int64   `json:"userUsage"`
	UserLimit         int64   `json:"userLimit"`
	UserPercentage    float64 `json:"userPercentage"`
}

// PlanView is the composed "effective limits vs. usage" answer to "what is my
// organization's plan"
type PlanView struct {
	Plan           plan.Plan      `json:"plan"`
	Addon          addon.Ledger   `json:"addon"`
	UsageLimits    UsageLimits    `json:"usageLimits"`
	Usages         usage.Snapshot `json:"usages"`
	FormattedStats FormattedStats `json:"formattedStats"`
	SubscriptionID string         `json:"subscriptionId"`
}

// EffectiveLimit combines a base plan limit with an addon extra. Addons are
// additive capacity and meaningless when the base is already unlimited.
func EffectiveLimit(base, extra int64) int64 {
	if base == plan.Unlimited {
		return plan.Unlimited
	}
	return base + extra
}

// Percentage returns usage over limit as 0..100, rounded to two decimals and
// clamped at 100. An unlimited limit reads as 0. A zero limit means no
// capacity at all, so any usage reads as 100.
func Percentage(used, limit int64) float64 {
	if limit == plan.Unlimited {
		return 0
	}
	if limit == 0 {
		if used > 0 {
			return 100
		}
		return 0
	}
	if used <= 0 {
		return 0
	}
	pct := float64(used) / float64(limit) * 100
	if pct > 100 {
		return 100
	}
	// two decimal places is plenty for a progress bar
	return float64(int64(pct*100+0.5)) / 100
}

func buildStats(limits UsageLimits, snap usage.Snapshot) FormattedStats {
	stats := FormattedStats{
		MessageUsage: -1,
		MessageLimit: limits.Messages,
		StorageUsage: -1,
		StorageLimit: limits.Storage,
		UserUsage:    -1,
		UserLimit:    limits.Users,
	}
	if snap.MessagesKnown {
		stats.MessageUsage = snap.Messages
		stats.MessagePercentage = Percentage(snap.Messages, limits.Messages)
	}
	if snap.StorageKnown {
		stats.StorageUsage = snap.Storage
		stats.StoragePercentage = Percentage(snap.Storage, limits.Storage)
	}
	if snap.UsersKnown {
		stats.UserUsage = snap.Users
		stats.UserPercentage = Percentage(snap.Users, limits.Users)
	}
	return stats
}
