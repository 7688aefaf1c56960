package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dkrueger/edgebot/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// AlertLimiter implements domain.AlertLimiter with a sliding window backed by
// Redis sorted sets and an atomic Lua script. The scanner uses it for the
// hourly entry budget; the HTTP middleware reuses it for per-client request
// limits.
type AlertLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
}

// NewAlertLimiter creates an AlertLimiter backed by the given Client.
func NewAlertLimiter(c *Client) *AlertLimiter {
	return &AlertLimiter{
		rdb:           c.rdb,
		slidingWindow: redis.NewScript(slidingWindowLua),
	}
}

func limiterKey(key string) string {
	return "limit:" + key
}

// Allow checks whether an event for the given key fits under the sliding
// window. It returns true if the event is allowed (and counts it), or false
// when the budget for the window is spent.
func (al *AlertLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now().UnixMicro()
	windowMicro := window.Microseconds()

	result, err := al.slidingWindow.Run(
		ctx,
		al.rdb,
		[]string{limiterKey(key)},
		now,
		windowMicro,
		limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: alert limit allow %s: %w", key, err)
	}

	if len(result) < 2 {
		return false, fmt.Errorf("redis: alert limit allow %s: unexpected result length %d", key, len(result))
	}

	return result[0] == 1, nil
}

// Compile-time interface check.
var _ domain.AlertLimiter = (*AlertLimiter)(nil)
