package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest yes-token prices.
type PriceCache interface {
	SetPrice(ctx context.Context, assetID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, assetID string) (float64, time.Time, error)
	GetPrices(ctx context.Context, assetIDs []string) (map[string]float64, error)
}

// BookCache stores the live top of book per asset.
type BookCache interface {
	SetTop(ctx context.Context, book TopBook) error
	GetTop(ctx context.Context, assetID string) (TopBook, error)
}

// MarketCache provides fast market metadata lookups.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id string) (Market, error)
	GetByToken(ctx context.Context, tokenID string) (Market, error)
	Invalidate(ctx context.Context, id string) error
}

// CooldownCache tracks per-market entry cooldowns scoped to a strategy
// namespace. A market on cooldown is skipped until the TTL expires.
type CooldownCache interface {
	Mark(ctx context.Context, namespace, marketID string, ttl time.Duration) error
	Active(ctx context.Context, namespace, marketID string) (bool, error)
}

// AlertLimiter enforces the hourly entry budget for the primary namespace.
type AlertLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking. Acquire returns ErrLockHeld when
// another holder owns the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
