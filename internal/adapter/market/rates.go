package market

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// RateConfig configures the reference-rate service.
type RateConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// MaxAge rejects rates older than this. Zero disables the check.
	MaxAge time.Duration
}

// rateResult is the wire shape of GET /v1/rates.
type rateResult struct {
	Base      string          `json:"base"`
	Quote     string          `json:"quote"`
	Rate      decimal.Decimal `json:"rate"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RateClient implements ports.RateProvider over HTTP.
type RateClient struct {
	http   httpClient
	maxAge time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

var _ ports.RateProvider = (*RateClient)(nil)

func NewRateClient(cfg RateConfig, log zerolog.Logger) *RateClient {
	return &RateClient{
		http:   newHTTPClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout),
		maxAge: cfg.MaxAge,
		now:    time.Now,
		log:    log,
	}
}

// Rate returns how many units of quote one unit of base is worth. Failures
// are MKT_002.
func (c *RateClient) Rate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	base, quote = strings.ToUpper(base), strings.ToUpper(quote)

	var res rateResult
	q := url.Values{"base": {base}, "quote": {quote}}
	if err := c.http.getJSON(ctx, "/v1/rates", q, &res); err != nil {
		c.log.Warn().Err(err).Str("pair", base+"/"+quote).Msg("rate request failed")
		return decimal.Zero, apperror.ErrRateUnavailable(err)
	}
	if err := c.validate(res, base, quote); err != nil {
		c.log.Warn().Err(err).Str("pair", base+"/"+quote).Msg("rate rejected")
		return decimal.Zero, apperror.ErrRateUnavailable(err)
	}
	return res.Rate, nil
}

func (c *RateClient) validate(res rateResult, base, quote string) error {
	if !strings.EqualFold(res.Base, base) || !strings.EqualFold(res.Quote, quote) {
		return fmt.Errorf("asked for %s/%s, got %s/%s", base, quote, res.Base, res.Quote)
	}
	if !res.Rate.IsPositive() {
		return fmt.Errorf("non-positive rate %s", res.Rate)
	}
	if c.maxAge > 0 {
		if res.UpdatedAt.IsZero() {
			return fmt.Errorf("rate has no timestamp")
		}
		if age := c.now().Sub(res.UpdatedAt); age > c.maxAge {
			return fmt.Errorf("rate is stale: %s old", age.Truncate(time.Second))
		}
	}
	return nil
}
