package domain

import (
	"fmt"
	"time"
)

// PositionStatus tracks a position through its fill and exit lifecycle.
type PositionStatus string

const (
	PositionStatusPending   PositionStatus = "pending"
	PositionStatusPartial   PositionStatus = "partial"
	PositionStatusOpen      PositionStatus = "open"
	PositionStatusClosed    PositionStatus = "closed"
	PositionStatusCancelled PositionStatus = "cancelled"
)

// ExitReason records which exit rule closed a position.
type ExitReason string

const (
	ExitTakeProfit   ExitReason = "TAKE_PROFIT"
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitTrailingStop ExitReason = "TRAILING_STOP"
	ExitTimeoutFlat  ExitReason = "TIMEOUT_FLAT"
	ExitTimeoutAged  ExitReason = "TIMEOUT_AGED"
	ExitManual       ExitReason = "MANUAL"
)

// Position represents a simulated or mirrored trading position from entry
// through exit. Prices are stated for the side actually held, so a BUY_NO
// entry at 0.30 means the NO token cost 0.30.
type Position struct {
	ID             string
	MarketID       string
	Question       string
	Strategy       string
	Direction      TradeDirection
	EntryPrice     float64
	CurrentPrice   float64
	PeakPrice      float64
	Shares         float64
	FilledShares   float64
	Cost           float64
	TakeProfit     float64
	StopLoss       float64
	Confidence     float64
	Probability    float64
	Status         PositionStatus
	ExitReason     ExitReason
	ExitPrice      float64
	RealizedPnL    float64
	TrailingActive bool
	Tightened      bool
	OpenedAt       time.Time
	FilledAt       *time.Time
	ClosedAt       *time.Time
	UpdatedAt      time.Time
}

// canTransition enumerates the legal status edges.
var canTransition = map[PositionStatus][]PositionStatus{
	PositionStatusPending: {PositionStatusPartial, PositionStatusOpen, PositionStatusCancelled},
	PositionStatusPartial: {PositionStatusOpen, PositionStatusCancelled},
	PositionStatusOpen:    {PositionStatusClosed},
}

// Transition moves the position to next, rejecting illegal edges.
func (p *Position) Transition(next PositionStatus) error {
	for _, allowed := range canTransition[p.Status] {
		if allowed == next {
			p.Status = next
			return nil
		}
	}
	return fmt.Errorf("position %s: illegal transition %s -> %s: %w", p.ID, p.Status, next, ErrDataIntegrity)
}

// IsTerminal reports whether the position can no longer change state.
func (p *Position) IsTerminal() bool {
	return p.Status == PositionStatusClosed || p.Status == PositionStatusCancelled
}

// UnrealizedPnL values the filled shares at the current price.
func (p *Position) UnrealizedPnL() float64 {
	return (p.CurrentPrice - p.EntryPrice) * p.FilledShares
}

// PnLAt computes realized profit for an exit at the given side price.
// Both directions hold their own token, so profit is always exit minus entry.
func (p *Position) PnLAt(exitPrice float64) float64 {
	return (exitPrice - p.EntryPrice) * p.FilledShares
}

// Progress reports how far the current price has travelled from entry
// toward the take-profit target, clamped to [0, 1]. A zero-width band
// counts as full progress.
func (p *Position) Progress() float64 {
	band := p.TakeProfit - p.EntryPrice
	if band == 0 {
		return 1
	}
	prog := (p.CurrentPrice - p.EntryPrice) / band
	if prog < 0 {
		return 0
	}
	if prog > 1 {
		return 1
	}
	return prog
}

// AgeHours returns hours since the position was opened.
func (p *Position) AgeHours(now time.Time) float64 {
	return now.Sub(p.OpenedAt).Hours()
}
