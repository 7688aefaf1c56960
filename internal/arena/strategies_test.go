package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkrueger/edgebot/internal/config"
	"github.com/dkrueger/edgebot/internal/domain"
)

func rosterByName(t *testing.T, roster []domain.StrategyParams) map[string]domain.StrategyParams {
	t.Helper()
	out := make(map[string]domain.StrategyParams, len(roster))
	for _, p := range roster {
		out[p.Name] = p
	}
	return out
}

func TestBuiltinsCoverTheStockSet(t *testing.T) {
	byName := rosterByName(t, Builtins())
	require.Len(t, byName, 5)

	base := byName["baseline"]
	assert.InDelta(t, 0.5, base.KellyFraction, 1e-9)
	assert.InDelta(t, 0.02, base.MinEdge, 1e-9)
	assert.InDelta(t, 0.70, base.TPRatio, 1e-9)
	assert.True(t, base.TrailingEnabled)
	assert.Equal(t, 8, base.MaxOpenPositions)

	agg := byName["aggressive"]
	assert.InDelta(t, 0.75, agg.KellyFraction, 1e-9)
	assert.InDelta(t, 0.01, agg.MinEdge, 1e-9)
	assert.Equal(t, 12, agg.MaxOpenPositions)
	assert.InDelta(t, 0.35, agg.CorrelatedExposureLimit, 1e-9)

	cons := byName["conservative"]
	assert.InDelta(t, 0.25, cons.KellyFraction, 1e-9)
	assert.InDelta(t, 0.55, cons.MinConfidence, 1e-9)
	assert.Equal(t, 5, cons.MaxOpenPositions)

	snipe := byName["sniper"]
	assert.InDelta(t, 0.06, snipe.MinEdge, 1e-9)
	assert.False(t, snipe.TrailingEnabled)
	assert.InDelta(t, 6.0, snipe.TimeoutHours, 1e-9)
	assert.InDelta(t, 0.60, snipe.MinConfidence, 1e-9)

	trend := byName["trend_follower"]
	assert.InDelta(t, 0.90, trend.TPRatio, 1e-9)
	assert.InDelta(t, 0.30, trend.TrailingActivation, 1e-9)
	assert.InDelta(t, 0.20, trend.TrailingDistance, 1e-9)
	assert.InDelta(t, 48.0, trend.TimeoutHours, 1e-9)
}

func TestBuildRosterDefaultsToAllBuiltins(t *testing.T) {
	roster, err := BuildRoster(config.ArenaConfig{}, nil)
	require.NoError(t, err)
	require.Len(t, roster, 5)

	for _, p := range roster {
		assert.InDelta(t, float64(defaultSimBankroll), p.Bankroll, 1e-9)
		assert.False(t, p.LiveMirror)
	}
	// Default order is deterministic: sorted by name.
	assert.Equal(t, "aggressive", roster[0].Name)
	assert.Equal(t, "trend_follower", roster[4].Name)
}

func TestBuildRosterActiveSubsetAndLiveFlag(t *testing.T) {
	cfg := config.ArenaConfig{
		Active:       []string{"baseline", "sniper"},
		LiveStrategy: "baseline",
		SimBankroll:  2500,
	}

	roster, err := BuildRoster(cfg, nil)
	require.NoError(t, err)
	require.Len(t, roster, 2)

	byName := rosterByName(t, roster)
	assert.True(t, byName["baseline"].LiveMirror)
	assert.False(t, byName["sniper"].LiveMirror)
	assert.InDelta(t, 2500.0, byName["baseline"].Bankroll, 1e-9)
}

func TestBuildRosterCustomTOMLStrategy(t *testing.T) {
	cfg := config.ArenaConfig{
		Active: []string{"house"},
		Strategies: map[string]config.StrategyTOML{
			"house": {
				KellyFraction:      0.4,
				EstimateDiscount:   0.6,
				MinEdge:            0.05,
				MaxPositionPct:     0.08,
				TPRatio:            0.6,
				SLRatio:            0.8,
				TrailingStop:       true,
				TrailingActivation: 0.4,
				TrailingDistance:   0.25,
				TimeoutHours:       12,
				MaxOpenPositions:   6,
				MinConfidence:      0.5,
				CorrelatedLimitPct: 0.15,
			},
		},
	}

	roster, err := BuildRoster(cfg, nil)
	require.NoError(t, err)
	require.Len(t, roster, 1)

	p := roster[0]
	assert.Equal(t, "house", p.Name)
	assert.InDelta(t, 0.4, p.KellyFraction, 1e-9)
	assert.InDelta(t, 0.05, p.MinEdge, 1e-9)
	assert.True(t, p.TrailingEnabled)
	assert.Equal(t, 6, p.MaxOpenPositions)
}

func TestBuildRosterOverridesPatchSingleFields(t *testing.T) {
	minEdge := 0.09
	trailing := false
	overrides := map[string]config.StrategyOverride{
		"baseline": {MinEdge: &minEdge, TrailingStop: &trailing},
	}

	roster, err := BuildRoster(config.ArenaConfig{Active: []string{"baseline"}}, overrides)
	require.NoError(t, err)
	require.Len(t, roster, 1)

	p := roster[0]
	assert.InDelta(t, 0.09, p.MinEdge, 1e-9)
	assert.False(t, p.TrailingEnabled)
	// Untouched fields keep their builtin values.
	assert.InDelta(t, 0.5, p.KellyFraction, 1e-9)
	assert.InDelta(t, 0.70, p.TPRatio, 1e-9)
}

func TestBuildRosterRejectsUnknownNames(t *testing.T) {
	kelly := 0.3
	_, err := BuildRoster(config.ArenaConfig{}, map[string]config.StrategyOverride{
		"phantom": {KellyFraction: &kelly},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "phantom")

	_, err = BuildRoster(config.ArenaConfig{Active: []string{"no_such"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_such")

	_, err = BuildRoster(config.ArenaConfig{
		Active:       []string{"baseline"},
		LiveStrategy: "sniper",
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sniper")
}

func TestBuildRosterDropsDuplicateActiveEntries(t *testing.T) {
	roster, err := BuildRoster(config.ArenaConfig{
		Active: []string{"baseline", "baseline", "sniper"},
	}, nil)
	require.NoError(t, err)
	assert.Len(t, roster, 2)
}
