package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func testCatalog() []Plan {
	return []Plan{
		{
			ID:           "plan_free",
			Slug:         SlugFree,
			Duration:     DurationMonthly,
			MessageLimit: 50,
			StorageLimit: 104857600,
			UserLimit:    3,
		},
		{
			ID:             "plan_small_team_monthly",
			Slug:           SlugSmallTeamMonthly,
			Duration:       DurationMonthly,
			MessageLimit:   1000,
			StorageLimit:   1073741824,
			UserLimit:      10,
			LivePriceID:    "price_live_stm",
			SandboxPriceID: "price_dev_stm",
			AddonsAllowed:  true,
		},
		{
			ID:             "plan_addon_messages",
			Slug:           SlugAddonMessages,
			Duration:       DurationMonthly,
			UnitSize:       500,
			LivePriceID:    "price_live_msg",
			SandboxPriceID: "price_dev_msg",
		},
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	plans := testCatalog()
	idMap, slugMap, err := indexPlans(plans)
	require.NoError(t, err)
	return &Manager{
		planArray:    plans,
		idIndexMap:   idMap,
		slugIndexMap: slugMap,
	}
}

func TestIndexPlansRejectsDuplicateSlug(t *testing.T) {
	plans := testCatalog()
	plans = append(plans, Plan{ID: "plan_free_again", Slug: SlugFree})

	_, _, err := indexPlans(plans)
	require.Error(t, err)
}

func TestIndexPlansRejectsDuplicateID(t *testing.T) {
	plans := testCatalog()
	plans = append(plans, Plan{ID: "plan_small_team_monthly", Slug: SlugLargeTeamMonthly})

	_, _, err := indexPlans(plans)
	require.Error(t, err)
}

func TestIndexPlansRejectsMissingID(t *testing.T) {
	plans := testCatalog()
	plans[1].ID = ""

	_, _, err := indexPlans(plans)
	require.Error(t, err)
}

func TestIndexPlansRequiresFreePlan(t *testing.T) {
	plans := testCatalog()[1:]

	_, _, err := indexPlans(plans)
	require.Error(t, err)
}

func TestLookups(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	found, ok := m.GetByID(ctx, "plan_small_team_monthly")
	require.True(t, ok)
	require.Equal(t, SlugSmallTeamMonthly, found.Slug)

	_, ok = m.GetByID(ctx, "plan_unknown")
	require.False(t, ok)

	found, ok = m.GetBySlug(ctx, SlugAddonMessages)
	require.True(t, ok)
	require.EqualValues(t, 500, found.UnitSize)

	_, ok = m.GetBySlug(ctx, SlugEnterprise)
	require.False(t, ok)

	require.Equal(t, SlugFree, m.FreePlan().Slug)
	require.Len(t, m.List(ctx), 3)
}

func TestGetByPriceID(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	found, ok := m.GetByPriceID(ctx, "price_live_stm", ModeLive)
	require.True(t, ok)
	require.Equal(t, SlugSmallTeamMonthly, found.Slug)

	// a live price id does not resolve in sandbox mode
	_, ok = m.GetByPriceID(ctx, "price_live_stm", ModeDev)
	require.False(t, ok)

	_, ok = m.GetByPriceID(ctx, "", ModeLive)
	require.False(t, ok)
}

func TestShippedCatalogIsWellFormed(t *testing.T) {
	plans, err := loadPlansFromFile("../plans.json")
	require.NoError(t, err)

	_, slugMap, err := indexPlans(plans)
	require.NoError(t, err)
	require.NotZero(t, slugMap[SlugFree])

	for _, p := range plans {
		if p.IsAddon() {
			require.Positive(t, p.UnitSize, "addon %s must grant at least one unit", p.Slug)
			require.NotEmpty(t, p.SandboxPriceID, "addon %s must be purchasable in sandbox", p.Slug)
		}
	}
}
