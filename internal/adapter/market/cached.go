package market

import (
	"context"
	"strings"
	"time"

	"custody-engine/internal/core/ports"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CachedRates fronts a RateProvider with a RateCache. Cache failures are
// logged and never fail the lookup.
type CachedRates struct {
	next  ports.RateProvider
	cache ports.RateCache
	ttl   time.Duration
	log   zerolog.Logger
}

var _ ports.RateProvider = (*CachedRates)(nil)

func NewCachedRates(next ports.RateProvider, cache ports.RateCache, ttl time.Duration, log zerolog.Logger) *CachedRates {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedRates{next: next, cache: cache, ttl: ttl, log: log}
}

func (c *CachedRates) Rate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	base, quote = strings.ToUpper(base), strings.ToUpper(quote)

	rate, ok, err := c.cache.Get(ctx, base, quote)
	if err != nil {
		c.log.Warn().Err(err).Str("pair", base+"/"+quote).Msg("rate cache read failed")
	} else if ok {
		return rate, nil
	}

	rate, err = c.next.Rate(ctx, base, quote)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.cache.Set(ctx, base, quote, rate, c.ttl); err != nil {
		c.log.Warn().Err(err).Str("pair", base+"/"+quote).Msg("rate cache write failed")
	}
	return rate, nil
}
