package bids

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PriceCache keeps the last observed highest bid per auction in Redis so the
// validator can reject obviously-low bids without touching Postgres. Entries
// are hints with a short TTL, never ground truth.
type PriceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPriceCache creates a Redis-backed highest-bid cache.
func NewPriceCache(client *redis.Client, ttl time.Duration) *PriceCache {
	return &PriceCache{
		client: client,
		ttl:    ttl,
	}
}

func priceKey(auctionID uuid.UUID) string {
	return fmt.Sprintf("curio:auction:%s:highest_bid", auctionID)
}

// Get returns the cached highest bid for an auction. The second return value
// is false on a cache miss.
func (c *PriceCache) Get(ctx context.Context, auctionID uuid.UUID) (int64, bool, error) {
	val, err := c.client.Get(ctx, priceKey(auctionID)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read price cache: %w", err)
	}
	return val, true, nil
}

// Set records an observed highest bid.
func (c *PriceCache) Set(ctx context.Context, auctionID uuid.UUID, amount int64) error {
	if err := c.client.Set(ctx, priceKey(auctionID), amount, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write price cache: %w", err)
	}
	return nil
}
