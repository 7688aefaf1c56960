package domain

import "time"

// StrategyParams is one namespace's full tunable set. Shared read-only
// across every position tagged with the strategy name.
//
// TPRatio and SLRatio of zero defer to the confidence and size tiers in the
// lifecycle manager; a non-zero value pins the ratio for every position the
// strategy opens.
type StrategyParams struct {
	Name                    string
	KellyFraction           float64
	EstimateDiscount        float64
	MinEdge                 float64
	MaxPositionPct          float64
	TPRatio                 float64
	SLRatio                 float64
	TrailingEnabled         bool
	TrailingActivation      float64
	TrailingDistance        float64
	TightenAfterHours       float64
	TimeoutHours            float64
	MaxOpenPositions        int
	MinConfidence           float64
	CorrelatedExposureLimit float64
	Bankroll                float64
	LiveMirror              bool
}

// StrategyState is the persisted mutable book of one strategy namespace.
// Everything else about a namespace (open cost, counts) derives from its
// positions; only the running bankroll and realized totals need a row.
type StrategyState struct {
	Strategy    string
	Bankroll    float64
	RealizedPnL float64
	Wins        int
	Losses      int
	UpdatedAt   time.Time
}

// ApplyClose folds a closed position's outcome into the book.
func (s *StrategyState) ApplyClose(pnl float64) {
	s.Bankroll += pnl
	s.RealizedPnL += pnl
	if pnl >= 0 {
		s.Wins++
	} else {
		s.Losses++
	}
}

// WinRate returns closed-trade win rate in [0,1], zero when nothing closed.
func (s *StrategyState) WinRate() float64 {
	total := s.Wins + s.Losses
	if total == 0 {
		return 0
	}
	return float64(s.Wins) / float64(total)
}
