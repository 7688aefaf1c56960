package domain

// TradeDirection is the side of a binary market a decision buys.
type TradeDirection string

const (
	BuyYes TradeDirection = "BUY_YES"
	BuyNo  TradeDirection = "BUY_NO"
)

// Reliability grades the evidence behind a decision. Informational only; it
// never blocks a trade.
type Reliability string

const (
	ReliabilityHigh   Reliability = "high"
	ReliabilityMedium Reliability = "medium"
	ReliabilityLow    Reliability = "low"
)

// RejectReason enumerates why an estimate did not become a decision, or a
// decision did not become a position. Rejections are expected outcomes, not
// errors; every one is written to the audit journal with its figures.
type RejectReason string

const (
	// Edge engine filters, in evaluation order.
	RejectExpiringSoon     RejectReason = "expiring_soon"
	RejectEdgeBelowMin     RejectReason = "edge_below_threshold"
	RejectLotteryTicket    RejectReason = "lottery_ticket"
	RejectPriceTooHigh     RejectReason = "price_too_high"
	RejectAbsurdEdge       RejectReason = "absurd_edge"
	RejectExtremeLowPrice  RejectReason = "extreme_low_price_mismatch"
	RejectExtremeHighPrice RejectReason = "extreme_high_price_mismatch"
	RejectTooFewShares     RejectReason = "too_few_shares"

	// Namespace entry guards.
	RejectMaxPositions    RejectReason = "max_positions"
	RejectDuplicateMarket RejectReason = "duplicate_market"
	RejectCooldownActive  RejectReason = "cooldown_active"
	RejectBelowMinConf    RejectReason = "below_min_confidence"
	RejectCorrelatedExp   RejectReason = "correlated_exposure"
	RejectExposureBudget  RejectReason = "exposure_budget"

	// Cycle-level guard: the per-window alert budget ran out before this
	// decision's turn.
	RejectAlertBudget RejectReason = "alert_budget"
)

// TradeDecision is the sized output of the edge engine for one market. It is
// ephemeral: within the cycle that produced it, it either becomes a Position
// or is discarded with an audited RejectReason.
type TradeDecision struct {
	MarketID        string
	Question        string
	Direction       TradeDirection
	EntryPrice      float64
	RawEdge         float64
	FeeAdjustedEdge float64
	KellyFraction   float64
	PositionSize    float64 // dollars
	ExpectedShares  int
	Confidence      float64
	Probability     float64 // fused YES probability backing the decision
	Reliability     Reliability
	Strategy        string
}

// SideProbability returns the model probability of the side the decision buys.
func (d TradeDecision) SideProbability() float64 {
	if d.Direction == BuyNo {
		return 1 - d.Probability
	}
	return d.Probability
}
