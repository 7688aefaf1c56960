package edge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dkrueger/edgebot/internal/domain"
)

func TestFractionKnownValues(t *testing.T) {
	// entry 0.50 pays even odds: f = (0.7 - 0.3) / 1.
	assert.InDelta(t, 0.40, Fraction(0.50, 0.70), 1e-9)

	// entry 0.25 pays 3:1: f = (3*0.5 - 0.5) / 3.
	assert.InDelta(t, 1.0/3.0, Fraction(0.25, 0.50), 1e-9)
}

func TestFractionNeverNegative(t *testing.T) {
	assert.Zero(t, Fraction(0.50, 0.40))
	assert.Zero(t, Fraction(0.50, 0.50))
}

func TestFractionDegeneratePrices(t *testing.T) {
	assert.Zero(t, Fraction(0, 0.70))
	assert.Zero(t, Fraction(0.0005, 0.70))
	assert.Zero(t, Fraction(1.0, 0.99))
}

func TestConfidenceScaledClampsThenScales(t *testing.T) {
	// Raw fraction 0.40 hits the 0.10 ceiling before confidence applies.
	assert.InDelta(t, 0.075, ConfidenceScaled(0.50, 0.70, 0.75, 0.10), 1e-9)

	// Raw fraction 0.04 is under the ceiling and scales directly.
	assert.InDelta(t, 0.02, ConfidenceScaled(0.50, 0.52, 0.50, 0.10), 1e-9)
}

func TestDiscountedBlendsTowardEntry(t *testing.T) {
	params := domain.StrategyParams{
		Name:             "baseline",
		KellyFraction:    0.5,
		EstimateDiscount: 0.5,
		MaxPositionPct:   0.15,
	}

	// Full confidence: effective prob 0.5 + 0.2*0.5 = 0.60, raw fraction
	// 0.20 capped at 0.15, halved by the strategy's Kelly fraction.
	assert.InDelta(t, 0.075, Discounted(0.50, 0.70, 1.0, params), 1e-9)

	// Half confidence cuts the blend to 0.25: effective 0.55, fraction 0.10.
	assert.InDelta(t, 0.05, Discounted(0.50, 0.70, 0.5, params), 1e-9)
}

func TestDiscountedConfidenceFloorAtHalf(t *testing.T) {
	params := domain.StrategyParams{
		KellyFraction:    0.5,
		EstimateDiscount: 0.5,
		MaxPositionPct:   0.15,
	}
	assert.Equal(t, Discounted(0.50, 0.70, 0.5, params), Discounted(0.50, 0.70, 0.0, params))
}

func TestDiscountedNeverNegative(t *testing.T) {
	params := domain.StrategyParams{
		KellyFraction:    1.0,
		EstimateDiscount: 1.0,
		MaxPositionPct:   0.15,
	}
	assert.Zero(t, Discounted(0.60, 0.40, 1.0, params))
}

func TestSizerAdapters(t *testing.T) {
	params := domain.StrategyParams{
		KellyFraction:    0.5,
		EstimateDiscount: 0.5,
		MaxPositionPct:   0.15,
	}

	confidence := ConfidenceSizer(0.10)
	assert.InDelta(t, ConfidenceScaled(0.50, 0.70, 0.8, 0.10), confidence(0.50, 0.70, 0.8, params), 1e-12)

	discounted := DiscountedSizer()
	assert.InDelta(t, Discounted(0.50, 0.70, 0.8, params), discounted(0.50, 0.70, 0.8, params), 1e-12)
}

func TestFeeSpreadOnly(t *testing.T) {
	// Fee-free market at 0.50: spread cost 0.003 * 2 * 0.5 * 0.5.
	assert.InDelta(t, 0.0015, Fee(0.50, false), 1e-9)
}

func TestFeeTakerPlusSpread(t *testing.T) {
	// Fee-bearing at 0.50: 0.0175*0.25 taker plus 0.0015 spread.
	assert.InDelta(t, 0.005875, Fee(0.50, true), 1e-9)

	// Fee shrinks toward the extremes where p*(1-p) collapses.
	assert.Less(t, Fee(0.05, true), Fee(0.50, true))
	assert.Less(t, Fee(0.95, true), Fee(0.50, true))
}
