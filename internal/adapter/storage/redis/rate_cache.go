package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RateCache implements ports.RateCache. Rates are stored as decimal strings.
type RateCache struct {
	client goredis.UniversalClient
	prefix string
}

// NewRateCache creates a Redis-backed rate cache.
func NewRateCache(client goredis.UniversalClient) *RateCache {
	return &RateCache{client: client, prefix: "rate:"}
}

func (c *RateCache) key(base, quote string) string {
	return c.prefix + strings.ToUpper(base) + ":" + strings.ToUpper(quote)
}

// Get reports ok=false on a miss.
func (c *RateCache) Get(ctx context.Context, base, quote string) (decimal.Decimal, bool, error) {
	val, err := c.client.Get(ctx, c.key(base, quote)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, fmt.Errorf("redis rate get: %w", err)
	}
	rate, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("redis rate decode %q: %w", val, err)
	}
	return rate, true, nil
}

func (c *RateCache) Set(ctx context.Context, base, quote string, rate decimal.Decimal, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(base, quote), rate.String(), ttl).Err(); err != nil {
		return fmt.Errorf("redis rate set: %w", err)
	}
	return nil
}
