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

// bookTTL bounds how long a quote survives without a feed update. Exit checks
// fall back to the last scanned market price when the book has gone stale.
const bookTTL = 10 * time.Minute

// BookCache implements domain.BookCache using one Redis hash per asset.
// Only the top of book is kept; nothing in the decision path looks deeper.
//
// Key schema:
//
//	book:{assetID} - hash with fields "bid", "ask", "ts"
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.rdb}
}

func bookKey(assetID string) string {
	return "book:" + assetID
}

// SetTop stores the best bid/ask for an asset.
func (bc *BookCache) SetTop(ctx context.Context, book domain.TopBook) error {
	key := bookKey(book.AssetID)
	fields := map[string]interface{}{
		"bid": strconv.FormatFloat(book.BestBid, 'f', -1, 64),
		"ask": strconv.FormatFloat(book.BestAsk, 'f', -1, 64),
		"ts":  strconv.FormatInt(book.Timestamp.UnixNano(), 10),
	}

	pipe := bc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, bookTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s: %w", book.AssetID, err)
	}
	return nil
}

// GetTop retrieves the best bid/ask for an asset. It returns
// domain.ErrNotFound when no quote is cached.
func (bc *BookCache) GetTop(ctx context.Context, assetID string) (domain.TopBook, error) {
	vals, err := bc.rdb.HGetAll(ctx, bookKey(assetID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.TopBook{}, fmt.Errorf("redis: get book %s: %w", assetID, err)
	}
	if len(vals) == 0 {
		return domain.TopBook{}, domain.ErrNotFound
	}

	book := domain.TopBook{AssetID: assetID}
	if bid, err := strconv.ParseFloat(vals["bid"], 64); err == nil {
		book.BestBid = bid
	}
	if ask, err := strconv.ParseFloat(vals["ask"], 64); err == nil {
		book.BestAsk = ask
	}
	if tsNano, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		book.Timestamp = time.Unix(0, tsNano)
	}

	return book, nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
