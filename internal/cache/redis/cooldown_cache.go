package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dkrueger/edgebot/internal/domain"
)

// CooldownCache implements domain.CooldownCache with plain TTL keys. Each
// strategy namespace gets its own keyspace so one book's entries never block
// another's.
//
// Key schema:
//
//	cooldown:{namespace}:{marketID} - "1" with TTL
type CooldownCache struct {
	rdb *redis.Client
}

// NewCooldownCache creates a CooldownCache backed by the given Client.
func NewCooldownCache(c *Client) *CooldownCache {
	return &CooldownCache{rdb: c.rdb}
}

func cooldownKey(namespace, marketID string) string {
	return "cooldown:" + namespace + ":" + marketID
}

// Mark starts (or restarts) the cooldown clock for a market in a namespace.
// A non-positive ttl is a no-op so disabled cooldowns cost nothing.
func (cc *CooldownCache) Mark(ctx context.Context, namespace, marketID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := cc.rdb.Set(ctx, cooldownKey(namespace, marketID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis: mark cooldown %s/%s: %w", namespace, marketID, err)
	}
	return nil
}

// Active reports whether the market is still cooling down in the namespace.
func (cc *CooldownCache) Active(ctx context.Context, namespace, marketID string) (bool, error) {
	n, err := cc.rdb.Exists(ctx, cooldownKey(namespace, marketID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: check cooldown %s/%s: %w", namespace, marketID, err)
	}
	return n > 0, nil
}

// Compile-time interface check.
var _ domain.CooldownCache = (*CooldownCache)(nil)
