package plan

import (
	"context"
	"fmt"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ManagerOptions struct {
	DB             *gorm.DB
	Logger         *zap.Logger
	PathToPlanJSON string
}

// Manager serves the Plan catalog. The catalog is loaded once on startup and
// immutable afterwards, so lookups are answered from memory.
type Manager struct {
	ManagerOptions
	planArray    []Plan
	idIndexMap   map[string]int
	slugIndexMap map[Slug]int
}

func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if len(option.PathToPlanJSON) == 0 {
		return nil, fmt.Errorf("empty PathToPlanJSON is invalid")
	}
	if err := option.DB.AutoMigrate(&Plan{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize plan.Manager")
	}

	plans, err := loadPlansFromFile(option.PathToPlanJSON)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot populate defined Plans")
	}

	idMap, slugMap, err := indexPlans(plans)
	if err != nil {
		return nil, err
	}

	result := option.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "slug", "duration",
			"message_limit", "storage_limit", "user_limit", "unit_size",
			"price", "live_price_id", "sandbox_price_id",
			"custom_integrations", "priority_support", "addons_allowed",
		}),
	}).Create(&plans)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot synchronize Plan catalog in database")
	}

	return &Manager{
		ManagerOptions: option,
		planArray:      plans,
		idIndexMap:     idMap,
		slugIndexMap:   slugMap,
	}, nil
}

// indexPlans builds the id and slug lookup maps. Indexes are offset by one so
// a zero map value always means "not defined".
func indexPlans(plans []Plan) (map[string]int, map[Slug]int, error) {
	idMap := make(map[string]int)
	slugMap := make(map[Slug]int)
	for index, p := range plans {
		if len(p.ID) == 0 {
			return nil, nil, fmt.Errorf("Plan %s has no ID defined", p.Slug)
		}
		if idMap[p.ID] != 0 {
			return nil, nil, fmt.Errorf("Plan ID %s is defined more than once", p.ID)
		}
		if slugMap[p.Slug] != 0 {
			return nil, nil, fmt.Errorf("Plan slug %s is defined more than once", p.Slug)
		}
		idMap[p.ID] = index + 1
		slugMap[p.Slug] = index + 1
	}
	if slugMap[SlugFree] == 0 {
		return nil, nil, fmt.Errorf("Plan catalog must define the %s plan", SlugFree)
	}
	return idMap, slugMap, nil
}

// List returns every defined Plan, base tiers and addon SKUs alike
func (m *Manager) List(ctx context.Context) []Plan {
	plans := make([]Plan, len(m.planArray))
	copy(plans, m.planArray)
	return plans
}

func (m *Manager) GetByID(ctx context.Context, planID string) (Plan, bool) {
	index := m.idIndexMap[planID]
	if index == 0 {
		return Plan{}, false
	}
	return m.planArray[index-1], true
}

func (m *Manager) GetBySlug(ctx context.Context, slug Slug) (Plan, bool) {
	index := m.slugIndexMap[slug]
	if index == 0 {
		return Plan{}, false
	}
	return m.planArray[index-1], true
}

// GetByPriceID resolves a Plan from an external price identifier. Webhook
// handlers use this to map a payment-processor price onto the catalog; an
// unrecognized price id returns false and the caller decides whether that is
// fatal.
func (m *Manager) GetByPriceID(ctx context.Context, priceID string, mode Mode) (Plan, bool) {
	if len(priceID) == 0 {
		return Plan{}, false
	}
	for _, p := range m.planArray {
		if p.PriceID(mode) == priceID {
			return p, true
		}
	}
	return Plan{}, false
}

// FreePlan returns the fallback plan. Existence is guaranteed by NewManager.
func (m *Manager) FreePlan() Plan {
	return m.planArray[m.slugIndexMap[SlugFree]-1]
}
