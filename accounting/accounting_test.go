package accounting

import (
	"testing"

	"github.com/jackoliverdev/centrus/plan"
	"github.com/jackoliverdev/centrus/usage"

	"github.com/stretchr/testify/require"
)

func TestEffectiveLimit(t *testing.T) {
	cases := []struct {
		name     string
		base     int64
		extra    int64
		expected int64
	}{
		{"addon on top of base", 1000, 500, 1500},
		{"zero extra", 1000, 0, 1000},
		{"unlimited stays unlimited", plan.Unlimited, 500, plan.Unlimited},
		{"unlimited with zero extra", plan.Unlimited, 0, plan.Unlimited},
		{"zero base with extra", 0, 250, 250},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.expected, EffectiveLimit(c.base, c.extra))
		})
	}
}

func TestPercentage(t *testing.T) {
	cases := []struct {
		name     string
		used     int64
		limit    int64
		expected float64
	}{
		{"typical", 1200, 1500, 80},
		{"empty", 0, 1000, 0},
		{"full", 1000, 1000, 100},
		{"over limit clamps", 2500, 1000, 100},
		{"unlimited reads as zero", 1200, plan.Unlimited, 0},
		{"zero limit with usage", 5, 0, 100},
		{"zero limit without usage", 0, 0, 0},
		{"rounds to two decimals", 1, 3, 33.33},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.expected, Percentage(c.used, c.limit))
		})
	}
}

func TestBuildStats(t *testing.T) {
	limits := UsageLimits{
		Messages: 1500,
		Storage:  plan.Unlimited,
		Users:    10,
	}

	t.Run("all aggregates known", func(t *testing.T) {
		snap := usage.Snapshot{
			Messages:      1200,
			MessagesKnown: true,
			Storage:       2048,
			StorageKnown:  true,
			Users:         10,
			UsersKnown:    true,
		}
		stats := buildStats(limits, snap)
		require.Equal(t, int64(1200), stats.MessageUsage)
		require.Equal(t, int64(1500), stats.MessageLimit)
		require.Equal(t, float64(80), stats.MessagePercentage)
		require.Equal(t, plan.Unlimited, stats.StorageLimit)
		require.Equal(t, float64(0), stats.StoragePercentage)
		require.Equal(t, float64(100), stats.UserPercentage)
	})

	t.Run("failed aggregate reports unknown", func(t *testing.T) {
		snap := usage.Snapshot{
			Messages:      1200,
			MessagesKnown: true,
		}
		stats := buildStats(limits, snap)
		require.Equal(t, int64(1200), stats.MessageUsage)
		require.Equal(t, int64(-1), stats.StorageUsage)
		require.Equal(t, float64(0), stats.StoragePercentage)
		require.Equal(t, int64(-1), stats.UserUsage)
	})
}
