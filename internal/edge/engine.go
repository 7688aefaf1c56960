// Package edge converts probability estimates into sized trade decisions
// through an ordered filter pipeline. Every rejection carries a typed reason
// and the figures that produced it; rejections are expected outcomes, not
// errors.
package edge

import (
	"context"
	"log/slog"
	"time"

	"github.com/dkrueger/edgebot/internal/domain"
)

const (
	// Expiry handling: too-late markets are skipped, short-dated ones need a
	// larger edge, far-dated ones get their deviation shrunk.
	minExpiryHours     = 1.0
	shortExpiryHours   = 6.0
	shortExpiryMinEdge = 0.05
	farExpiryHours     = 720.0
	farExpiryShrink    = 0.7

	// Entry price bounds. Sub-3-cent contracts are almost always priced
	// correctly; buying above 99.9 cents cannot pay for its own spread.
	lotteryTicketPrice = 0.03
	maxEntryPrice      = 0.999

	// Sanity guards against model hallucination.
	maxPlausibleEdge = 0.40
	lowPriceBound    = 0.10
	lowPriceProb     = 0.35
	highPriceBound   = 0.90
	highPriceProb    = 0.65

	// Extreme entries need an edge worth half the entry price to be credible.
	extremeEntryLow  = 0.01
	extremeEntryHigh = 0.99

	minPositionUSD = 1.0

	defaultMinShares = 5
)

// Sizer converts the chosen side's entry price, probability, and confidence
// into a bankroll fraction. The built-in rules live in kelly.go.
type Sizer func(entry, sideProb, confidence float64, params domain.StrategyParams) float64

// RejectFunc receives every filtered estimate together with the figures that
// killed it. Implementations write the audit journal.
type RejectFunc func(ctx context.Context, strategy string, est domain.ProbabilityEstimate, reason domain.RejectReason, detail map[string]any)

// Engine evaluates probability estimates for one namespace's tunables.
type Engine struct {
	sizer     Sizer
	minShares int
	onReject  RejectFunc
	logger    *slog.Logger
}

// NewEngine creates an Engine. onReject may be nil when the caller does not
// audit (tests); minShares <= 0 falls back to the default.
func NewEngine(sizer Sizer, minShares int, onReject RejectFunc, logger *slog.Logger) *Engine {
	if minShares <= 0 {
		minShares = defaultMinShares
	}
	return &Engine{
		sizer:     sizer,
		minShares: minShares,
		onReject:  onReject,
		logger:    logger.With(slog.String("component", "edge_engine")),
	}
}

// Evaluate runs the ordered filter pipeline for one estimate. It returns the
// sized decision and true, or a zero decision and false after recording the
// rejection reason. exposureLeft is the namespace's remaining budget in
// dollars; the returned PositionSize never exceeds it, the per-position cap,
// or the sized Kelly cost.
func (e *Engine) Evaluate(
	ctx context.Context,
	est domain.ProbabilityEstimate,
	mkt domain.Market,
	bankroll, exposureLeft float64,
	params domain.StrategyParams,
	now time.Time,
) (domain.TradeDecision, bool) {
	minEdge := params.MinEdge
	prob := est.Probability
	price := est.MarketPrice

	// 1. Expiry.
	hoursLeft := mkt.HoursToExpiry(now)
	if hoursLeft < minExpiryHours {
		e.reject(ctx, params.Name, est, domain.RejectExpiringSoon, map[string]any{
			"hours_left": hoursLeft,
		})
		return domain.TradeDecision{}, false
	}
	if hoursLeft < shortExpiryHours && minEdge < shortExpiryMinEdge {
		minEdge = shortExpiryMinEdge
	}
	if hoursLeft > farExpiryHours {
		prob = price + (prob-price)*farExpiryShrink
	}

	// 2. Both-sided fee-adjusted edges; pick the larger side clearing minEdge.
	yesRaw := prob - price
	noRaw := price - prob
	yesFee := Fee(price, mkt.FeeBearing())
	noFee := Fee(1-price, mkt.FeeBearing())
	yesEdge := yesRaw - yesFee
	noEdge := noRaw - noFee

	var (
		direction               domain.TradeDirection
		entry, rawEdge, netEdge float64
	)
	switch {
	case yesEdge > noEdge && yesEdge >= minEdge:
		direction, entry = domain.BuyYes, price
		rawEdge, netEdge = yesRaw, yesEdge
	case noEdge >= minEdge:
		direction, entry = domain.BuyNo, 1-price
		rawEdge, netEdge = noRaw, noEdge
	default:
		e.reject(ctx, params.Name, est, domain.RejectEdgeBelowMin, map[string]any{
			"yes_edge": yesEdge,
			"no_edge":  noEdge,
			"min_edge": minEdge,
		})
		return domain.TradeDecision{}, false
	}

	// 3. Entry bounds. Near-extreme entries that survive them must clear an
	// edge worth half the entry price.
	if entry < lotteryTicketPrice {
		e.reject(ctx, params.Name, est, domain.RejectLotteryTicket, map[string]any{
			"entry_price": entry,
			"direction":   string(direction),
		})
		return domain.TradeDecision{}, false
	}
	if entry >= maxEntryPrice {
		e.reject(ctx, params.Name, est, domain.RejectPriceTooHigh, map[string]any{
			"entry_price": entry,
			"direction":   string(direction),
		})
		return domain.TradeDecision{}, false
	}
	if entry < extremeEntryLow || entry > extremeEntryHigh {
		if raised := max(minEdge, entry*0.5); netEdge < raised {
			e.reject(ctx, params.Name, est, domain.RejectEdgeBelowMin, map[string]any{
				"edge":        netEdge,
				"min_edge":    raised,
				"entry_price": entry,
			})
			return domain.TradeDecision{}, false
		}
	}

	// 4. Hallucination guards.
	if netEdge > maxPlausibleEdge {
		e.reject(ctx, params.Name, est, domain.RejectAbsurdEdge, map[string]any{
			"edge":      netEdge,
			"direction": string(direction),
		})
		return domain.TradeDecision{}, false
	}
	if price < lowPriceBound && prob > lowPriceProb {
		e.reject(ctx, params.Name, est, domain.RejectExtremeLowPrice, map[string]any{
			"market_price": price,
			"probability":  prob,
		})
		return domain.TradeDecision{}, false
	}
	if price > highPriceBound && prob < highPriceProb {
		e.reject(ctx, params.Name, est, domain.RejectExtremeHighPrice, map[string]any{
			"market_price": price,
			"probability":  prob,
		})
		return domain.TradeDecision{}, false
	}

	// 5. Size. The cost is bounded by the sizer output, the per-position cap,
	// and the remaining exposure budget, in that order.
	sideProb := prob
	if direction == domain.BuyNo {
		sideProb = 1 - prob
	}
	fraction := e.sizer(entry, sideProb, est.Confidence, params)
	cost := fraction * bankroll
	if limit := params.MaxPositionPct * bankroll; cost > limit {
		cost = limit
	}
	if cost > exposureLeft {
		cost = exposureLeft
	}
	if cost < 0 {
		cost = 0
	}

	// 6. Whole shares.
	shares := int(cost / entry)
	cost = float64(shares) * entry
	if shares < e.minShares || cost < minPositionUSD {
		e.reject(ctx, params.Name, est, domain.RejectTooFewShares, map[string]any{
			"expected_shares": shares,
			"kelly_fraction":  fraction,
			"cost":            cost,
		})
		return domain.TradeDecision{}, false
	}

	decision := domain.TradeDecision{
		MarketID:        est.MarketID,
		Question:        est.Question,
		Direction:       direction,
		EntryPrice:      entry,
		RawEdge:         rawEdge,
		FeeAdjustedEdge: netEdge,
		KellyFraction:   fraction,
		PositionSize:    cost,
		ExpectedShares:  shares,
		Confidence:      est.Confidence,
		Probability:     prob,
		Reliability:     reliability(est),
		Strategy:        params.Name,
	}

	e.logger.Debug("decision sized",
		slog.String("market_id", est.MarketID),
		slog.String("strategy", params.Name),
		slog.String("direction", string(direction)),
		slog.Float64("edge", netEdge),
		slog.Float64("cost", cost),
		slog.Int("shares", shares),
	)
	return decision, true
}

// reject records a filter outcome. Rejections are part of normal operation;
// they are logged at debug and handed to the audit callback.
func (e *Engine) reject(ctx context.Context, strategy string, est domain.ProbabilityEstimate, reason domain.RejectReason, detail map[string]any) {
	e.logger.Debug("estimate filtered",
		slog.String("market_id", est.MarketID),
		slog.String("strategy", strategy),
		slog.String("reason", string(reason)),
	)
	if e.onReject != nil {
		e.onReject(ctx, strategy, est, reason, detail)
	}
}

// reliability grades corroboration strength. Informational only.
func reliability(est domain.ProbabilityEstimate) domain.Reliability {
	switch {
	case est.SignalCount >= 3 && est.AvgImportance >= 3.5 && est.Confidence > 0.5:
		return domain.ReliabilityHigh
	case est.SignalCount >= 2 && est.AvgImportance >= 2.5:
		return domain.ReliabilityMedium
	default:
		return domain.ReliabilityLow
	}
}
