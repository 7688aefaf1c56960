package edge

import "github.com/dkrueger/edgebot/internal/domain"

// Fraction returns the raw Kelly fraction (b·p-q)/b for a binary contract
// bought at entry with win probability sideProb. b is the net odds per
// dollar staked: 1/entry - 1. Returns 0 when there is no positive edge or
// the entry price yields no payout.
func Fraction(entry, sideProb float64) float64 {
	if entry <= 0.001 {
		return 0
	}
	b := 1/entry - 1
	if b <= 0 {
		return 0
	}
	q := 1 - sideProb
	f := (b*sideProb - q) / b
	if f < 0 {
		return 0
	}
	return f
}

// ConfidenceScaled is the primary-book sizing rule: the raw fraction is
// clamped to [0, maxKelly] and then scaled by the estimate's confidence, so
// weakly corroborated edges bet a sliver of what fully trusted ones would.
func ConfidenceScaled(entry, sideProb, confidence, maxKelly float64) float64 {
	f := Fraction(entry, sideProb)
	if f > maxKelly {
		f = maxKelly
	}
	return f * confidence
}

// Discounted is the per-strategy sizing rule. The side probability is first
// pulled toward the entry price by discount*clamp(confidence, 0.5, 1) so low
// confidence defers to the market, then the fraction is clamped to the
// strategy's per-position cap and scaled by its Kelly fraction.
func Discounted(entry, sideProb, confidence float64, params domain.StrategyParams) float64 {
	blend := params.EstimateDiscount * clampf(confidence, 0.5, 1.0)
	eff := clampf(entry+(sideProb-entry)*blend, 0.01, 0.99)

	f := Fraction(entry, eff)
	if f > params.MaxPositionPct {
		f = params.MaxPositionPct
	}
	return f * params.KellyFraction
}

// ConfidenceSizer adapts ConfidenceScaled to the Engine's Sizer signature
// with a fixed Kelly ceiling; strategy params are ignored.
func ConfidenceSizer(maxKelly float64) Sizer {
	return func(entry, sideProb, confidence float64, _ domain.StrategyParams) float64 {
		return ConfidenceScaled(entry, sideProb, confidence, maxKelly)
	}
}

// DiscountedSizer adapts Discounted to the Engine's Sizer signature; each
// strategy's own discount, cap, and Kelly fraction apply.
func DiscountedSizer() Sizer {
	return func(entry, sideProb, confidence float64, params domain.StrategyParams) float64 {
		return Discounted(entry, sideProb, confidence, params)
	}
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
