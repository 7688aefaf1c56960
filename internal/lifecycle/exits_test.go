package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkrueger/edgebot/internal/domain"
)

var exitNow = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

func trailingParams() domain.StrategyParams {
	return domain.StrategyParams{
		Name:               "baseline",
		TrailingEnabled:    true,
		TrailingActivation: 0.5,
		TrailingDistance:   0.30,
		TightenAfterHours:  12,
		TimeoutHours:       24,
	}
}

func openPosition(entry, target, stop float64) domain.Position {
	return domain.Position{
		ID:           "pos-1",
		MarketID:     "mkt-1",
		Direction:    domain.BuyYes,
		EntryPrice:   entry,
		CurrentPrice: entry,
		PeakPrice:    entry,
		Shares:       100,
		FilledShares: 100,
		Cost:         entry * 100,
		TakeProfit:   target,
		StopLoss:     stop,
		Status:       domain.PositionStatusOpen,
		OpenedAt:     exitNow.Add(-1 * time.Hour),
	}
}

func TestExitLevelsConfidenceTiers(t *testing.T) {
	var params domain.StrategyParams

	highTarget, _ := ExitLevels(0.50, 0.70, 0.80, 0.05, params)
	midTarget, _ := ExitLevels(0.50, 0.70, 0.65, 0.05, params)
	lowTarget, _ := ExitLevels(0.50, 0.70, 0.50, 0.05, params)

	assert.InDelta(t, 0.67, highTarget, 1e-9) // 85% of the expected move
	assert.InDelta(t, 0.64, midTarget, 1e-9)  // 70%
	assert.InDelta(t, 0.61, lowTarget, 1e-9)  // 55%
	assert.NotEqual(t, highTarget, lowTarget)
}

func TestExitLevelsSizeTiers(t *testing.T) {
	var params domain.StrategyParams

	_, wideStop := ExitLevels(0.50, 0.70, 0.65, 0.02, params)
	_, baseStop := ExitLevels(0.50, 0.70, 0.65, 0.05, params)
	_, tightStop := ExitLevels(0.50, 0.70, 0.65, 0.12, params)

	assert.InDelta(t, 0.325, wideStop, 1e-9) // tiny position rides out 35%
	assert.InDelta(t, 0.375, baseStop, 1e-9)
	assert.InDelta(t, 0.41, tightStop, 1e-9) // big position cuts at 18%
}

func TestExitLevelsStrategyPins(t *testing.T) {
	params := domain.StrategyParams{TPRatio: 0.90, SLRatio: 0.70}

	target, stop := ExitLevels(0.50, 0.70, 0.95, 0.12, params)

	assert.InDelta(t, 0.68, target, 1e-9)
	assert.InDelta(t, 0.35, stop, 1e-9)
}

func TestEvaluateExitTakeProfit(t *testing.T) {
	pos := openPosition(0.50, 0.64, 0.375)

	reason, closed := EvaluateExit(&pos, 0.64, trailingParams(), exitNow)

	require.True(t, closed)
	assert.Equal(t, domain.ExitTakeProfit, reason)
}

func TestEvaluateExitStopLoss(t *testing.T) {
	pos := openPosition(0.50, 0.64, 0.375)

	reason, closed := EvaluateExit(&pos, 0.37, trailingParams(), exitNow)

	require.True(t, closed)
	assert.Equal(t, domain.ExitStopLoss, reason)
}

func TestTrailingStopLocksInGains(t *testing.T) {
	pos := openPosition(0.50, 0.70, 0.375)
	params := trailingParams()

	// Rally to 50% of the expected move arms the trail.
	reason, closed := EvaluateExit(&pos, 0.60, params, exitNow)
	require.False(t, closed, "rally should not close, got %s", reason)
	assert.True(t, pos.TrailingActive)
	assert.InDelta(t, 0.60, pos.PeakPrice, 1e-9)

	// A pullback smaller than the trail distance keeps the position open.
	_, closed = EvaluateExit(&pos, 0.55, params, exitNow)
	require.False(t, closed)
	assert.InDelta(t, 0.60, pos.PeakPrice, 1e-9, "peak is monotone")

	// Falling through 30% below the peak closes on the trail, not the stop.
	reason, closed = EvaluateExit(&pos, 0.41, params, exitNow)
	require.True(t, closed)
	assert.Equal(t, domain.ExitTrailingStop, reason)
}

func TestTrailingNeverFiresWhenDisabled(t *testing.T) {
	pos := openPosition(0.50, 0.70, 0.375)
	params := trailingParams()
	params.TrailingEnabled = false

	_, closed := EvaluateExit(&pos, 0.60, params, exitNow)
	require.False(t, closed)

	_, closed = EvaluateExit(&pos, 0.41, params, exitNow)
	assert.False(t, closed)
	assert.False(t, pos.TrailingActive)
}

func TestOriginalStopWinsBelowBothLevels(t *testing.T) {
	pos := openPosition(0.50, 0.70, 0.375)
	params := trailingParams()

	_, closed := EvaluateExit(&pos, 0.60, params, exitNow)
	require.False(t, closed)

	// 0.37 breaches the original stop and the 0.42 trail; the stop reason
	// wins because it is checked first.
	reason, closed := EvaluateExit(&pos, 0.37, params, exitNow)
	require.True(t, closed)
	assert.Equal(t, domain.ExitStopLoss, reason)
}

func TestTimeTightenedStopMovesOnce(t *testing.T) {
	pos := openPosition(0.50, 0.70, 0.375)
	pos.OpenedAt = exitNow.Add(-13 * time.Hour)
	params := trailingParams()

	// First pass inside the tighten window halves the distance to entry.
	_, closed := EvaluateExit(&pos, 0.45, params, exitNow)
	require.False(t, closed)
	assert.True(t, pos.Tightened)
	assert.InDelta(t, 0.4375, pos.StopLoss, 1e-9)

	// Second pass must not tighten again.
	_, closed = EvaluateExit(&pos, 0.45, params, exitNow)
	require.False(t, closed)
	assert.InDelta(t, 0.4375, pos.StopLoss, 1e-9)

	// The tightened stop is live immediately.
	reason, closed := EvaluateExit(&pos, 0.43, params, exitNow)
	require.True(t, closed)
	assert.Equal(t, domain.ExitStopLoss, reason)
}

func TestTightenWindowDefaultsWhenUnset(t *testing.T) {
	params := trailingParams()
	params.TightenAfterHours = 0

	// One hour in, the default 12h window has not opened yet.
	young := openPosition(0.50, 0.70, 0.375)
	_, closed := EvaluateExit(&young, 0.45, params, exitNow)
	require.False(t, closed)
	assert.False(t, young.Tightened)
	assert.InDelta(t, 0.375, young.StopLoss, 1e-9)

	old := openPosition(0.50, 0.70, 0.375)
	old.OpenedAt = exitNow.Add(-13 * time.Hour)
	_, closed = EvaluateExit(&old, 0.45, params, exitNow)
	require.False(t, closed)
	assert.True(t, old.Tightened)
	assert.InDelta(t, 0.4375, old.StopLoss, 1e-9)
}

func TestTightenClosesSameSweepWhenBreached(t *testing.T) {
	pos := openPosition(0.50, 0.70, 0.375)
	pos.OpenedAt = exitNow.Add(-13 * time.Hour)

	// 0.40 sits above the original 0.375 stop but below the tightened
	// 0.4375 one, so the same evaluation closes it.
	reason, closed := EvaluateExit(&pos, 0.40, trailingParams(), exitNow)
	require.True(t, closed)
	assert.Equal(t, domain.ExitStopLoss, reason)
}

func TestTimeoutFlatVersusAged(t *testing.T) {
	params := trailingParams()
	params.TrailingEnabled = false

	flat := openPosition(0.50, 0.70, 0.375)
	flat.OpenedAt = exitNow.Add(-25 * time.Hour)
	reason, closed := EvaluateExit(&flat, 0.51, params, exitNow)
	require.True(t, closed)
	assert.Equal(t, domain.ExitTimeoutFlat, reason)

	aged := openPosition(0.50, 0.70, 0.375)
	aged.OpenedAt = exitNow.Add(-25 * time.Hour)
	reason, closed = EvaluateExit(&aged, 0.55, params, exitNow)
	require.True(t, closed)
	assert.Equal(t, domain.ExitTimeoutAged, reason)
}

func TestEvaluateExitUpdatesRollingState(t *testing.T) {
	pos := openPosition(0.50, 0.70, 0.375)
	params := trailingParams()

	_, closed := EvaluateExit(&pos, 0.58, params, exitNow)
	require.False(t, closed)
	assert.InDelta(t, 0.58, pos.CurrentPrice, 1e-9)
	assert.InDelta(t, 0.58, pos.PeakPrice, 1e-9)

	_, closed = EvaluateExit(&pos, 0.52, params, exitNow)
	require.False(t, closed)
	assert.InDelta(t, 0.52, pos.CurrentPrice, 1e-9)
	assert.InDelta(t, 0.58, pos.PeakPrice, 1e-9)
}
