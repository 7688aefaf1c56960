package edge

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkrueger/edgebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// rejectRecorder captures the last rejection handed to the engine's audit
// callback.
type rejectRecorder struct {
	calls    int
	strategy string
	reason   domain.RejectReason
	detail   map[string]any
}

func (r *rejectRecorder) fn() RejectFunc {
	return func(_ context.Context, strategy string, _ domain.ProbabilityEstimate, reason domain.RejectReason, detail map[string]any) {
		r.calls++
		r.strategy = strategy
		r.reason = reason
		r.detail = detail
	}
}

var testNow = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

func marketExpiring(hours float64) domain.Market {
	exp := testNow.Add(time.Duration(hours * float64(time.Hour)))
	return domain.Market{
		ID:        "mkt-1",
		Question:  "Will the thing happen?",
		Category:  "crypto",
		YesPrice:  0.50,
		ExpiresAt: &exp,
	}
}

func estimateAt(price, prob, conf float64) domain.ProbabilityEstimate {
	return domain.ProbabilityEstimate{
		MarketID:      "mkt-1",
		Question:      "Will the thing happen?",
		MarketPrice:   price,
		Probability:   prob,
		Confidence:    conf,
		SignalCount:   3,
		AvgImportance: 4.0,
		BestFreshness: 0.9,
		UniqueSources: 3,
	}
}

func baselineParams() domain.StrategyParams {
	return domain.StrategyParams{
		Name:           "baseline",
		MinEdge:        0.02,
		MaxPositionPct: 0.15,
	}
}

func newTestEngine(rec *rejectRecorder) *Engine {
	var onReject RejectFunc
	if rec != nil {
		onReject = rec.fn()
	}
	return NewEngine(ConfidenceSizer(0.10), 5, onReject, testLogger())
}

func TestEvaluateBuyYes(t *testing.T) {
	eng := newTestEngine(nil)
	mkt := marketExpiring(48)

	dec, ok := eng.Evaluate(context.Background(), estimateAt(0.50, 0.70, 1.0), mkt, 1000, 1000, baselineParams(), testNow)
	require.True(t, ok)

	assert.Equal(t, domain.BuyYes, dec.Direction)
	assert.InDelta(t, 0.50, dec.EntryPrice, 1e-9)
	assert.InDelta(t, 0.20, dec.RawEdge, 1e-9)
	assert.InDelta(t, 0.1985, dec.FeeAdjustedEdge, 1e-9) // 0.20 minus spread at 0.50
	assert.InDelta(t, 0.10, dec.KellyFraction, 1e-9)     // raw 0.40 clamped to the ceiling
	assert.Equal(t, 200, dec.ExpectedShares)
	assert.InDelta(t, 100.0, dec.PositionSize, 1e-9)
	assert.InDelta(t, 0.70, dec.Probability, 1e-9)
	assert.Equal(t, domain.ReliabilityHigh, dec.Reliability)
	assert.Equal(t, "baseline", dec.Strategy)
}

func TestEvaluateThinEdgeRejected(t *testing.T) {
	rec := &rejectRecorder{}
	eng := newTestEngine(rec)
	mkt := marketExpiring(48)

	_, ok := eng.Evaluate(context.Background(), estimateAt(0.50, 0.51, 1.0), mkt, 1000, 1000, baselineParams(), testNow)
	require.False(t, ok)

	assert.Equal(t, domain.RejectEdgeBelowMin, rec.reason)
	assert.Equal(t, "baseline", rec.strategy)
	assert.InDelta(t, 0.02, rec.detail["min_edge"].(float64), 1e-9)
}

func TestEvaluateBuyNo(t *testing.T) {
	eng := newTestEngine(nil)
	mkt := marketExpiring(48)

	dec, ok := eng.Evaluate(context.Background(), estimateAt(0.70, 0.45, 0.8), mkt, 1000, 1000, baselineParams(), testNow)
	require.True(t, ok)

	assert.Equal(t, domain.BuyNo, dec.Direction)
	assert.InDelta(t, 0.30, dec.EntryPrice, 1e-9)
	assert.InDelta(t, 0.25, dec.RawEdge, 1e-9)
	assert.InDelta(t, 0.45, dec.Probability, 1e-9)
	assert.InDelta(t, 0.55, dec.SideProbability(), 1e-9)
}

func TestPositionSizeRespectsExposureBudget(t *testing.T) {
	eng := newTestEngine(nil)
	mkt := marketExpiring(48)

	// Kelly alone would bet $100; only $7.50 of budget remains.
	dec, ok := eng.Evaluate(context.Background(), estimateAt(0.50, 0.70, 1.0), mkt, 1000, 7.5, baselineParams(), testNow)
	require.True(t, ok)

	assert.LessOrEqual(t, dec.PositionSize, 7.5)
	assert.InDelta(t, 7.5, dec.PositionSize, 1e-9)
	assert.Equal(t, 15, dec.ExpectedShares)
}

func TestPositionSizeRespectsPerPositionCap(t *testing.T) {
	eng := newTestEngine(nil)
	mkt := marketExpiring(48)
	params := baselineParams()
	params.MaxPositionPct = 0.05

	dec, ok := eng.Evaluate(context.Background(), estimateAt(0.50, 0.70, 1.0), mkt, 1000, 1000, params, testNow)
	require.True(t, ok)

	assert.LessOrEqual(t, dec.PositionSize, 0.05*1000)
	assert.InDelta(t, 50.0, dec.PositionSize, 1e-9)
}

func TestExpiringSoonRejected(t *testing.T) {
	rec := &rejectRecorder{}
	eng := newTestEngine(rec)
	mkt := marketExpiring(0.5)

	_, ok := eng.Evaluate(context.Background(), estimateAt(0.50, 0.70, 1.0), mkt, 1000, 1000, baselineParams(), testNow)
	require.False(t, ok)

	assert.Equal(t, domain.RejectExpiringSoon, rec.reason)
	assert.InDelta(t, 0.5, rec.detail["hours_left"].(float64), 1e-9)
}

func TestShortExpiryRaisesMinEdge(t *testing.T) {
	rec := &rejectRecorder{}
	eng := newTestEngine(rec)
	mkt := marketExpiring(3)

	// A 3.85% net edge clears the configured 2% floor but not the 5% one
	// imposed inside the final six hours.
	_, ok := eng.Evaluate(context.Background(), estimateAt(0.50, 0.54, 1.0), mkt, 1000, 1000, baselineParams(), testNow)
	require.False(t, ok)

	assert.Equal(t, domain.RejectEdgeBelowMin, rec.reason)
	assert.InDelta(t, 0.05, rec.detail["min_edge"].(float64), 1e-9)
}

func TestFarExpiryShrinksDeviation(t *testing.T) {
	eng := newTestEngine(nil)
	mkt := marketExpiring(48)
	mkt.ExpiresAt = nil // unknown expiry is treated as far-dated

	dec, ok := eng.Evaluate(context.Background(), estimateAt(0.50, 0.70, 1.0), mkt, 1000, 1000, baselineParams(), testNow)
	require.True(t, ok)

	assert.InDelta(t, 0.64, dec.Probability, 1e-9) // 0.50 + 0.20*0.7
	assert.InDelta(t, 0.14, dec.RawEdge, 1e-9)
}

func TestLotteryTicketRejected(t *testing.T) {
	rec := &rejectRecorder{}
	eng := newTestEngine(rec)
	mkt := marketExpiring(48)

	_, ok := eng.Evaluate(context.Background(), estimateAt(0.02, 0.30, 1.0), mkt, 1000, 1000, baselineParams(), testNow)
	require.False(t, ok)

	assert.Equal(t, domain.RejectLotteryTicket, rec.reason)
	assert.InDelta(t, 0.02, rec.detail["entry_price"].(float64), 1e-9)
}

func TestPriceTooHighRejected(t *testing.T) {
	rec := &rejectRecorder{}
	eng := newTestEngine(rec)
	mkt := marketExpiring(48)
	params := baselineParams()
	params.MinEdge = 0.0001

	_, ok := eng.Evaluate(context.Background(), estimateAt(0.9995, 0.9999, 1.0), mkt, 1000, 1000, params, testNow)
	require.False(t, ok)

	assert.Equal(t, domain.RejectPriceTooHigh, rec.reason)
}

func TestExtremeEntryNeedsHalfEntryEdge(t *testing.T) {
	rec := &rejectRecorder{}
	eng := newTestEngine(rec)
	mkt := marketExpiring(48)
	params := baselineParams()
	params.MinEdge = 0.001

	// Entry 0.992 survives the price ceiling but the required edge jumps to
	// half the entry price.
	_, ok := eng.Evaluate(context.Background(), estimateAt(0.992, 0.9999, 1.0), mkt, 1000, 1000, params, testNow)
	require.False(t, ok)

	assert.Equal(t, domain.RejectEdgeBelowMin, rec.reason)
	assert.InDelta(t, 0.496, rec.detail["min_edge"].(float64), 1e-9)
}

func TestAbsurdEdgeRejected(t *testing.T) {
	rec := &rejectRecorder{}
	eng := newTestEngine(rec)
	mkt := marketExpiring(48)

	_, ok := eng.Evaluate(context.Background(), estimateAt(0.50, 0.95, 1.0), mkt, 1000, 1000, baselineParams(), testNow)
	require.False(t, ok)

	assert.Equal(t, domain.RejectAbsurdEdge, rec.reason)
}

func TestExtremeLowPriceMismatchRejected(t *testing.T) {
	rec := &rejectRecorder{}
	eng := newTestEngine(rec)
	mkt := marketExpiring(48)

	_, ok := eng.Evaluate(context.Background(), estimateAt(0.08, 0.40, 1.0), mkt, 1000, 1000, baselineParams(), testNow)
	require.False(t, ok)

	assert.Equal(t, domain.RejectExtremeLowPrice, rec.reason)
}

func TestExtremeHighPriceMismatchRejected(t *testing.T) {
	rec := &rejectRecorder{}
	eng := newTestEngine(rec)
	mkt := marketExpiring(48)

	// BUY_NO at entry 0.07 looks fine in side space; the guard works on the
	// YES-space gap between a 0.93 price and a 0.60 estimate.
	_, ok := eng.Evaluate(context.Background(), estimateAt(0.93, 0.60, 1.0), mkt, 1000, 1000, baselineParams(), testNow)
	require.False(t, ok)

	assert.Equal(t, domain.RejectExtremeHighPrice, rec.reason)
}

func TestTooFewSharesRejected(t *testing.T) {
	rec := &rejectRecorder{}
	eng := newTestEngine(rec)
	mkt := marketExpiring(48)

	// A $20 bankroll sizes to $2, four shares at 0.50.
	_, ok := eng.Evaluate(context.Background(), estimateAt(0.50, 0.70, 1.0), mkt, 20, 20, baselineParams(), testNow)
	require.False(t, ok)

	assert.Equal(t, domain.RejectTooFewShares, rec.reason)
	assert.Equal(t, 4, rec.detail["expected_shares"].(int))
}

func TestFeeBearingMarketPaysTakerFee(t *testing.T) {
	eng := newTestEngine(nil)
	mkt := marketExpiring(48)
	mkt.Category = "sports"

	dec, ok := eng.Evaluate(context.Background(), estimateAt(0.50, 0.70, 1.0), mkt, 1000, 1000, baselineParams(), testNow)
	require.True(t, ok)

	assert.InDelta(t, 0.194125, dec.FeeAdjustedEdge, 1e-9)
}

func TestReliabilityTiers(t *testing.T) {
	high := estimateAt(0.50, 0.70, 0.6)
	assert.Equal(t, domain.ReliabilityHigh, reliability(high))

	medium := estimateAt(0.50, 0.70, 0.4)
	medium.SignalCount = 2
	medium.AvgImportance = 3.0
	assert.Equal(t, domain.ReliabilityMedium, reliability(medium))

	low := estimateAt(0.50, 0.70, 0.9)
	low.SignalCount = 1
	assert.Equal(t, domain.ReliabilityLow, reliability(low))
}

func TestNilRejectFuncIsSafe(t *testing.T) {
	eng := newTestEngine(nil)
	mkt := marketExpiring(0.5)

	assert.NotPanics(t, func() {
		eng.Evaluate(context.Background(), estimateAt(0.50, 0.70, 1.0), mkt, 1000, 1000, baselineParams(), testNow)
	})
}
