package domain

import "time"

// TopBook is the best bid/ask view of one asset. Exit checks and live
// mirroring never look deeper than this.
type TopBook struct {
	AssetID   string
	BestBid   float64
	BestAsk   float64
	Timestamp time.Time
}

// Mid returns the midpoint price, or the one-sided quote when the other
// side is empty.
func (t TopBook) Mid() float64 {
	switch {
	case t.BestBid > 0 && t.BestAsk > 0:
		return (t.BestBid + t.BestAsk) / 2
	case t.BestBid > 0:
		return t.BestBid
	default:
		return t.BestAsk
	}
}

// Spread returns ask minus bid, zero when either side is empty.
func (t TopBook) Spread() float64 {
	if t.BestBid <= 0 || t.BestAsk <= 0 {
		return 0
	}
	return t.BestAsk - t.BestBid
}

// Crossed reports whether a buy at the given price would lift the ask.
func (t TopBook) Crossed(price float64) bool {
	return t.BestAsk > 0 && price >= t.BestAsk
}

// PriceChange is an incremental top-of-book update from the market feed.
type PriceChange struct {
	AssetID   string
	Side      string // "BUY" or "SELL"
	Price     float64
	Size      float64 // 0 means remove level
	Timestamp time.Time
}

// LastTradePrice is the most recent trade execution for an asset.
type LastTradePrice struct {
	AssetID   string
	Price     float64
	Size      float64
	Timestamp time.Time
}
