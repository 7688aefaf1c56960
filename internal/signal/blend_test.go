package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dkrueger/edgebot/internal/domain"
)

func TestDiscountPullsTowardMarketPrice(t *testing.T) {
	// External says 0.80, market says 0.50: half the move survives.
	assert.InDelta(t, 0.65, Discount(0.80, 0.50, 0.5), 1e-9)

	// Symmetric on the way down.
	assert.InDelta(t, 0.35, Discount(0.20, 0.50, 0.5), 1e-9)

	// Zero discount collapses to the market price, full discount keeps the
	// external estimate.
	assert.InDelta(t, 0.50, Discount(0.80, 0.50, 0), 1e-9)
	assert.InDelta(t, 0.80, Discount(0.80, 0.50, 1), 1e-9)
}

func TestDiscountClamps(t *testing.T) {
	assert.Equal(t, probCeil, Discount(1.0, 0.97, 1))
	assert.Equal(t, probFloor, Discount(0.0, 0.03, 1))
}

func TestBlendOverridesProbabilityKeepsMaxConfidence(t *testing.T) {
	est := domain.ProbabilityEstimate{
		MarketID:    "mkt-1",
		MarketPrice: 0.50,
		Probability: 0.56,
		Confidence:  0.70,
		SignalCount: 4,
	}
	ext := domain.ExternalEstimate{
		MarketID:    "mkt-1",
		Probability: 0.90,
		Confidence:  0.60,
		Reasoning:   "strong catalyst",
	}

	out := Blend(est, ext, 0.5)

	assert.InDelta(t, 0.70, out.Probability, 1e-9)
	assert.Equal(t, 0.70, out.Confidence, "confidence takes the max of both inputs")
	assert.Equal(t, "strong catalyst", out.Reasoning)
	assert.Equal(t, 4, out.SignalCount)

	ext.Confidence = 0.85
	out = Blend(est, ext, 0.5)
	assert.Equal(t, 0.85, out.Confidence)
}

func TestFromExternalSeedsEstimate(t *testing.T) {
	mkt := domain.Market{ID: "mkt-9", Question: "q", YesPrice: 0.40}
	ext := domain.ExternalEstimate{MarketID: "mkt-9", Probability: 0.60, Confidence: 0.55}

	est := FromExternal(mkt, ext, 0.5)

	assert.InDelta(t, 0.50, est.Probability, 1e-9)
	assert.Equal(t, 0.55, est.Confidence)
	assert.Equal(t, 1, est.SignalCount)
	assert.Equal(t, 4.0, est.AvgImportance)
}
