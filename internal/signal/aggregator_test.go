package signal

import (
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

func testMarket(price, volume float64) domain.Market {
	return domain.Market{
		ID:       "mkt-1",
		Question: "Will BTC close above 100k this week?",
		YesPrice: price,
		Volume:   volume,
	}
}

func testSignal(now time.Time) domain.Signal {
	return domain.Signal{
		ID:           "sig-1",
		MarketID:     "mkt-1",
		Source:       "Reuters",
		SourceType:   "news",
		Title:        "BTC rallies on ETF inflows",
		Sentiment:    1.0,
		MatchQuality: 1.0,
		Importance:   5,
		Direction:    domain.DirectionUp,
		PublishedAt:  now,
	}
}

func TestEstimateNoSignals(t *testing.T) {
	agg := NewAggregator(nil, testLogger())
	now := time.Now().UTC()

	est := agg.Estimate(testMarket(0.42, 0), nil, now)

	assert.Equal(t, 0.42, est.Probability)
	assert.Equal(t, 0.0, est.Confidence)
	assert.Equal(t, 0, est.SignalCount)
}

func TestEstimateSingleFreshSignal(t *testing.T) {
	agg := NewAggregator(nil, testLogger())
	now := time.Now().UTC()

	est := agg.Estimate(testMarket(0.50, 0), []domain.Signal{testSignal(now)}, now)

	// Importance 5 cap, full credibility/match/freshness: shift = 0.18.
	require.InDelta(t, 0.68, est.Probability, 1e-9)
	assert.Equal(t, 1, est.SignalCount)
	assert.Equal(t, 1, est.UniqueSources)
	assert.InDelta(t, 5.0, est.AvgImportance, 1e-9)
	assert.InDelta(t, 1.0, est.BestFreshness, 1e-9)
	assert.Greater(t, est.Confidence, 0.0)
}

func TestUnknownDirectionIsThirtyPercentOfKnownUp(t *testing.T) {
	agg := NewAggregator(nil, testLogger())
	now := time.Now().UTC()
	mkt := testMarket(0.50, 0)

	up := testSignal(now)
	unknown := testSignal(now)
	unknown.Direction = domain.DirectionUnknown

	upShift := agg.Estimate(mkt, []domain.Signal{up}, now).Probability - mkt.YesPrice
	unknownShift := agg.Estimate(mkt, []domain.Signal{unknown}, now).Probability - mkt.YesPrice

	require.NotZero(t, upShift)
	assert.InDelta(t, unknownDirectionFactor, unknownShift/upShift, 1e-9)
}

func TestDownDirectionInvertsSentiment(t *testing.T) {
	agg := NewAggregator(nil, testLogger())
	now := time.Now().UTC()
	mkt := testMarket(0.50, 0)

	down := testSignal(now)
	down.Direction = domain.DirectionDown

	est := agg.Estimate(mkt, []domain.Signal{down}, now)
	assert.InDelta(t, 0.32, est.Probability, 1e-9)
}

func TestUrgentBoostsCap(t *testing.T) {
	agg := NewAggregator(nil, testLogger())
	now := time.Now().UTC()
	mkt := testMarket(0.50, 0)

	urgent := testSignal(now)
	urgent.Urgent = true

	est := agg.Estimate(mkt, []domain.Signal{urgent}, now)
	// 0.18 * 1.5 = 0.27, but urgent also reclassifies the news type; with a
	// zero-age signal freshness stays 1.0 either way.
	assert.InDelta(t, 0.77, est.Probability, 1e-9)
}

func TestVolumeDampening(t *testing.T) {
	agg := NewAggregator(nil, testLogger())
	now := time.Now().UTC()
	sig := []domain.Signal{testSignal(now)}

	quiet := agg.Estimate(testMarket(0.50, 0), sig, now)
	mid := agg.Estimate(testMarket(0.50, 500_000), sig, now)
	deep := agg.Estimate(testMarket(0.50, 2_000_000), sig, now)

	assert.InDelta(t, 0.50+0.18, quiet.Probability, 1e-9)
	assert.InDelta(t, 0.50+0.18*0.65, mid.Probability, 1e-9)
	assert.InDelta(t, 0.50+0.18*0.4, deep.Probability, 1e-9)
}

func TestProbabilityClamped(t *testing.T) {
	agg := NewAggregator(nil, testLogger())
	now := time.Now().UTC()

	high := agg.Estimate(testMarket(0.95, 0), []domain.Signal{testSignal(now)}, now)
	assert.Equal(t, probCeil, high.Probability)

	down := testSignal(now)
	down.Direction = domain.DirectionDown
	low := agg.Estimate(testMarket(0.05, 0), []domain.Signal{down}, now)
	assert.Equal(t, probFloor, low.Probability)
}

func TestZeroWeightReturnsMarketPrice(t *testing.T) {
	agg := NewAggregator(nil, testLogger())
	now := time.Now().UTC()

	sig := testSignal(now)
	sig.MatchQuality = 0

	est := agg.Estimate(testMarket(0.50, 0), []domain.Signal{sig}, now)
	assert.Equal(t, 0.50, est.Probability)
	assert.Equal(t, 0.0, est.Confidence)
}

func TestConfidenceCappedAtMax(t *testing.T) {
	agg := NewAggregator(nil, testLogger())
	now := time.Now().UTC()

	sigs := make([]domain.Signal, 0, 3)
	for _, src := range []string{"Reuters", "AP", "Bloomberg"} {
		s := testSignal(now)
		s.Source = src
		sigs = append(sigs, s)
	}

	est := agg.Estimate(testMarket(0.50, 0), sigs, now)
	assert.Equal(t, maxConfidence, est.Confidence)
	assert.Equal(t, 3, est.UniqueSources)
}

func TestCredibilityOverrideWins(t *testing.T) {
	agg := NewAggregator(map[string]float64{"Reuters": 0.5}, testLogger())
	now := time.Now().UTC()

	est := agg.Estimate(testMarket(0.50, 0), []domain.Signal{testSignal(now)}, now)
	// Shift halves with credibility; the weighted average divides it back out
	// of the weight but not the shift itself.
	assert.InDelta(t, 0.50+0.18*0.5, est.Probability, 1e-9)
}

func TestFreshnessMonotoneAndBounded(t *testing.T) {
	now := time.Now().UTC()
	base := testSignal(now)

	prev := 1.1
	for age := 0.0; age <= 72; age += 0.5 {
		sig := base
		sig.PublishedAt = now.Add(-time.Duration(age * float64(time.Hour)))
		f := Freshness(sig, now)

		require.LessOrEqual(t, f, prev, "freshness must not increase with age (age=%.1fh)", age)
		require.GreaterOrEqual(t, f, minFreshness)
		require.LessOrEqual(t, f, 1.0)
		prev = f
	}
}

func TestFreshnessFutureTimestampCountsAsNow(t *testing.T) {
	now := time.Now().UTC()
	sig := testSignal(now.Add(30 * time.Minute))
	assert.Equal(t, 1.0, Freshness(sig, now))
}

func TestFreshnessHalfLifeByType(t *testing.T) {
	now := time.Now().UTC()

	// A breaking signal halves in one hour.
	sig := testSignal(now.Add(-1 * time.Hour))
	sig.Urgent = true
	sig.Title = "exchange halts withdrawals"
	assert.InDelta(t, 0.5, Freshness(sig, now), 1e-9)

	// A trending signal barely decays over the same hour.
	trend := testSignal(now.Add(-1 * time.Hour))
	trend.Source = "CoinGecko-Trending"
	trend.Title = "bitcoin trending"
	assert.Greater(t, Freshness(trend, now), 0.9)
}
