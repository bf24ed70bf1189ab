package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/khetibazaar/mandicore/internal/domain"
)

// ReferencePriceCache implements domain.ReferencePriceCache using Redis
// hashes. Each resolved price is stored at "refprice:{commodity}:{state}:
// {district}" with fields "price", "verified", and "source", expiring after
// the resolver's TTL so stale market signals age out on their own.
type ReferencePriceCache struct {
	rdb *redis.Client
}

// NewReferencePriceCache creates a ReferencePriceCache backed by the given
// Client.
func NewReferencePriceCache(c *Client) *ReferencePriceCache {
	return &ReferencePriceCache{rdb: c.Underlying()}
}

func refPriceKey(commodity, state, district string) string {
	return "refprice:" + domain.NormalizeName(commodity) + ":" +
		domain.NormalizeName(state) + ":" + domain.NormalizeName(district)
}

// Get retrieves a cached resolved price. Returns domain.ErrNotFound on a
// miss or a malformed entry.
func (c *ReferencePriceCache) Get(ctx context.Context, commodity, state, district string) (domain.ResolvedPrice, error) {
	key := refPriceKey(commodity, state, district)
	vals, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.ResolvedPrice{}, fmt.Errorf("redis: get reference price %s: %w", key, err)
	}
	if len(vals) == 0 {
		return domain.ResolvedPrice{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return domain.ResolvedPrice{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return domain.ResolvedPrice{}, domain.ErrNotFound
	}

	return domain.ResolvedPrice{
		Price:    price,
		Verified: vals["verified"] == "1",
		Source:   vals["source"],
	}, nil
}

// Set stores a resolved price with the given TTL.
func (c *ReferencePriceCache) Set(ctx context.Context, commodity, state, district string, price domain.ResolvedPrice, ttl time.Duration) error {
	key := refPriceKey(commodity, state, district)

	verified := "0"
	if price.Verified {
		verified = "1"
	}
	fields := map[string]interface{}{
		"price":    strconv.FormatFloat(price.Price, 'f', -1, 64),
		"verified": verified,
		"source":   price.Source,
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set reference price %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ReferencePriceCache = (*ReferencePriceCache)(nil)
