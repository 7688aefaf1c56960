package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dkrueger/edgebot/internal/domain"
)

// PriceCache keeps the latest yes-token price per asset in a Redis hash at
// "price:{assetID}" with fields "price" and "ts" (Unix nanoseconds).
// Side-space conversion happens at the consumer.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.rdb}
}

func priceKey(assetID string) string {
	return "price:" + assetID
}

// SetPrice stores the latest price and observation time for an asset.
func (pc *PriceCache) SetPrice(ctx context.Context, assetID string, price float64, ts time.Time) error {
	err := pc.rdb.HSet(ctx, priceKey(assetID),
		"price", strconv.FormatFloat(price, 'f', -1, 64),
		"ts", strconv.FormatInt(ts.UnixNano(), 10),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set price %s: %w", assetID, err)
	}
	return nil
}

// GetPrice returns the latest price and observation time for an asset, or
// domain.ErrNotFound when nothing has been cached for it.
func (pc *PriceCache) GetPrice(ctx context.Context, assetID string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(assetID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", assetID, err)
	}

	price, tsNano, err := parsePriceHash(vals)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, time.Time{}, domain.ErrNotFound
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: price %s: %w", assetID, err)
	}
	return price, time.Unix(0, tsNano), nil
}

// GetPrices fetches prices for many assets in one pipelined round trip.
// Assets with no cached price are omitted from the result map.
func (pc *PriceCache) GetPrices(ctx context.Context, assetIDs []string) (map[string]float64, error) {
	if len(assetIDs) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(assetIDs))
	for _, id := range assetIDs {
		cmds[id] = pipe.HGetAll(ctx, priceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]float64, len(assetIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		price, _, err := parsePriceHash(vals)
		if err != nil {
			continue
		}
		result[id] = price
	}
	return result, nil
}

// parsePriceHash decodes the "price" and "ts" fields of a price hash.
// An empty or partial hash maps to domain.ErrNotFound.
func parsePriceHash(vals map[string]string) (float64, int64, error) {
	priceStr, okPrice := vals["price"]
	tsStr, okTS := vals["ts"]
	if !okPrice || !okTS {
		return 0, 0, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse price: %w", err)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse ts: %w", err)
	}
	return price, tsNano, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
