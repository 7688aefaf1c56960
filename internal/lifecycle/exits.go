package lifecycle

import (
	"math"
	"time"

	"github.com/dkrueger/edgebot/internal/domain"
)

// Take-profit ratio tiers by confidence. A confident estimate lets the
// position run most of the expected move; a shaky one grabs profit early.
const (
	baseTPRatio     = 0.70
	highConfTPRatio = 0.85
	lowConfTPRatio  = 0.55
	highConfidence  = 0.75
	lowConfidence   = 0.55
)

// Stop-loss ratio tiers by position size as a fraction of bankroll. Small
// positions can afford a wider stop; large ones cut losses sooner.
const (
	baseSLRatio      = 0.75
	wideSLRatio      = 0.65
	tightSLRatio     = 0.82
	smallPositionPct = 0.03
	largePositionPct = 0.10
)

// flatMoveBand separates a timed-out position that never moved from one
// that drifted without hitting either exit level.
const flatMoveBand = 0.02

// defaultTightenAfterHours applies when a strategy leaves TightenAfterHours
// unset, mirroring how zero TPRatio/SLRatio defer to the tier tables.
const defaultTightenAfterHours = 12

// ExitLevels computes take-profit and stop-loss side prices for a new
// position. A strategy that pins TPRatio or SLRatio overrides the tier
// tables; a zero value defers to them. costFraction is cost/bankroll.
func ExitLevels(entry, sideProb, confidence, costFraction float64, params domain.StrategyParams) (target, stop float64) {
	tp := params.TPRatio
	if tp == 0 {
		switch {
		case confidence >= highConfidence:
			tp = highConfTPRatio
		case confidence <= lowConfidence:
			tp = lowConfTPRatio
		default:
			tp = baseTPRatio
		}
	}

	sl := params.SLRatio
	if sl == 0 {
		switch {
		case costFraction <= smallPositionPct:
			sl = wideSLRatio
		case costFraction >= largePositionPct:
			sl = tightSLRatio
		default:
			sl = baseSLRatio
		}
	}

	target = entry + (sideProb-entry)*tp
	stop = entry * sl
	return target, stop
}

// EvaluateExit applies the exit rules to one open position at the given side
// price. It mutates the position's rolling state (current price, monotone
// peak, trailing activation, one-shot stop tightening) and returns the exit
// reason when a rule fires. Callers persist the position afterwards whether
// or not it closed.
//
// Rule order: take profit, stop loss, trailing stop, time-tightened stop,
// timeout.
func EvaluateExit(pos *domain.Position, sidePrice float64, params domain.StrategyParams, now time.Time) (domain.ExitReason, bool) {
	pos.CurrentPrice = sidePrice
	if sidePrice > pos.PeakPrice {
		pos.PeakPrice = sidePrice
	}

	if sidePrice >= pos.TakeProfit {
		return domain.ExitTakeProfit, true
	}

	if sidePrice <= pos.StopLoss {
		return domain.ExitStopLoss, true
	}

	if params.TrailingEnabled {
		band := pos.TakeProfit - pos.EntryPrice
		if !pos.TrailingActive && band > 0 {
			progress := (pos.PeakPrice - pos.EntryPrice) / band
			if progress >= params.TrailingActivation {
				pos.TrailingActive = true
			}
		}
		if pos.TrailingActive {
			// The trailing floor only ever tightens the original stop.
			floor := pos.PeakPrice * (1 - params.TrailingDistance)
			if floor > pos.StopLoss && sidePrice <= floor {
				return domain.ExitTrailingStop, true
			}
		}
	}

	age := pos.AgeHours(now)

	tightenAfter := params.TightenAfterHours
	if tightenAfter <= 0 {
		tightenAfter = defaultTightenAfterHours
	}
	if !pos.Tightened && age > tightenAfter && age < params.TimeoutHours {
		if tightened := (pos.StopLoss + pos.EntryPrice) / 2; tightened > pos.StopLoss {
			pos.StopLoss = tightened
		}
		pos.Tightened = true
		if sidePrice <= pos.StopLoss {
			return domain.ExitStopLoss, true
		}
	}

	if params.TimeoutHours > 0 && age >= params.TimeoutHours {
		if math.Abs(sidePrice-pos.EntryPrice) < flatMoveBand {
			return domain.ExitTimeoutFlat, true
		}
		return domain.ExitTimeoutAged, true
	}

	return "", false
}
