package domain

import (
	"strings"
	"time"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive  MarketStatus = "active"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusSettled MarketStatus = "settled"
)

// feeBearingCategories lists market categories that charge taker fees.
// Everything else trades fee-free on Polymarket.
var feeBearingCategories = map[string]bool{
	"sports": true,
	"nba":    true,
	"nfl":    true,
	"mlb":    true,
	"soccer": true,
}

// Market represents a Polymarket prediction market.
type Market struct {
	ID          string
	Question    string
	Slug        string
	Outcomes    [2]string // e.g. ["Yes","No"] or ["Up","Down"]
	TokenIDs    [2]string // ERC-1155 token IDs (76-digit strings)
	ConditionID string
	NegRisk     bool
	Category    string
	Tags        []string
	YesPrice    float64
	Volume      float64
	Volume24h   float64
	Liquidity   float64
	Status      MarketStatus
	ExpiresAt   *time.Time
	ClosedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FeeBearing reports whether the market's category or tags put it in a
// fee-charging bucket.
func (m *Market) FeeBearing() bool {
	if feeBearingCategories[strings.ToLower(m.Category)] {
		return true
	}
	for _, t := range m.Tags {
		if feeBearingCategories[strings.ToLower(t)] {
			return true
		}
	}
	return false
}

// HoursToExpiry returns hours until expiry, or a large positive value when
// the market has no expiry on record.
func (m *Market) HoursToExpiry(now time.Time) float64 {
	if m.ExpiresAt == nil {
		return 24 * 365
	}
	return m.ExpiresAt.Sub(now).Hours()
}

// YesToken returns the token ID backing the YES outcome.
func (m *Market) YesToken() string { return m.TokenIDs[0] }

// NoToken returns the token ID backing the NO outcome.
func (m *Market) NoToken() string { return m.TokenIDs[1] }
