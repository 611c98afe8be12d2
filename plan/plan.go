package plan

import (
	"encoding/json"
	"io/ioutil"

	extErrors "github.com/pkg/errors"
)

// Mode separates the production and sandbox payment environments
type Mode string

// define constants
const (
	ModeLive Mode = "live"
	ModeDev  Mode = "dev"
)

// Slug is the unique enum-like key identifying a Plan
type Slug string

// Defining the purchasable tiers and addon SKUs
const (
	SlugFree              Slug = "free"
	SlugSmallTeamMonthly  Slug = "small_team_monthly"
	SlugSmallTeamAnnually Slug = "small_team_annually"
	SlugLargeTeamMonthly  Slug = "large_team_monthly"
	SlugLargeTeamAnnually Slug = "large_team_annually"
	SlugEnterprise        Slug = "enterprise"
	SlugAddonMessages     Slug = "addon_messages"
	SlugAddonStorage      Slug = "addon_storage"
	SlugAddonUsers        Slug = "addon_users"
	SlugCustom            Slug = "custom"
)

// Duration is the billing frequency of a Plan
type Duration string

// define constants
const (
	DurationMonthly    Duration = "monthly"
	DurationAnnually   Duration = "annually"
	DurationDiscounted Duration = "discounted"
)

// Unlimited is the conventional sentinel for "no limit" on a Plan
const Unlimited int64 = -1

// Plan describes a priced tier or an addon SKU. Rows are managed by platform
// operators and are read-only from the tenant's perspective.
type Plan struct {
	ID                 string   `json:"id" gorm:"primaryKey"`
	Name               string   `json:"name"`
	Slug               Slug     `json:"slug" gorm:"uniqueIndex"`
	Duration           Duration `json:"duration"`
	MessageLimit       int64    `json:"messageLimit"` // -1 means unlimited
	StorageLimit       int64    `json:"storageLimit"` // in bytes, -1 means unlimited
	UserLimit          int64    `json:"userLimit"`    // -1 means unlimited
	UnitSize           int64    `json:"unitSize"`     // the quantity one addon unit grants
	Price              float64  `json:"price"`
	LivePriceID        string   `json:"livePriceId" gorm:"index"`
	SandboxPriceID     string   `json:"sandboxPriceId" gorm:"index"`
	CustomIntegrations bool     `json:"customIntegrations"`
	PrioritySupport    bool     `json:"prioritySupport"`
	AddonsAllowed      bool     `json:"addonsAllowed"`
}

// IsAddon reports whether the Plan is an addon SKU rather than a base tier
func (p *Plan) IsAddon() bool {
	switch p.Slug {
	case SlugAddonMessages, SlugAddonStorage, SlugAddonUsers:
		return true
	}
	return false
}

// PriceID returns the external price identifier for the given payment mode
func (p *Plan) PriceID(mode Mode) string {
	if mode == ModeLive {
		return p.LivePriceID
	}
	return p.SandboxPriceID
}

// loadPlansFromFile will read from the plan JSON file to define what plans are
// available for purchase. The catalog is upserted into the database by the
// Manager on startup.
func loadPlansFromFile(filename string) ([]Plan, error) {
	jsonBytes, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot open plans JSON file")
	}
	plans := make([]Plan, 0, 1)
	if err := json.Unmarshal(jsonBytes, &plans); err != nil {
		return nil, extErrors.Wrap(err, "Invalid plan JSON file")
	}
	return plans, nil
}
