package market

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"time"

	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
)

// NativeToken is how the quote service names the chain's native asset.
var NativeToken = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// QuoteConfig configures the swap-quote service.
type QuoteConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// Router, when set, is the only contract a quote may target.
	Router common.Address
}

// quoteResult is the wire shape of GET /swap/v1/quote. Amounts are decimal
// strings in base units.
type quoteResult struct {
	SellToken       string `json:"sellToken"`
	BuyToken        string `json:"buyToken"`
	SellAmount      string `json:"sellAmount"`
	BuyAmount       string `json:"buyAmount"`
	To              string `json:"to"`
	Data            string `json:"data"`
	Value           string `json:"value"`
	Gas             string `json:"gas"`
	AllowanceTarget string `json:"allowanceTarget"`
	ExpiresAt       int64  `json:"expiresAt"`
}

// QuoteClient implements ports.SwapQuoter over HTTP.
type QuoteClient struct {
	http   httpClient
	router common.Address
	now    func() time.Time
	log    zerolog.Logger
}

var _ ports.SwapQuoter = (*QuoteClient)(nil)

func NewQuoteClient(cfg QuoteConfig, log zerolog.Logger) *QuoteClient {
	return &QuoteClient{
		http:   newHTTPClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout),
		router: cfg.Router,
		now:    time.Now,
		log:    log,
	}
}

// Quote fetches executable calldata for req. Failures are MKT_001.
func (c *QuoteClient) Quote(ctx context.Context, req ports.QuoteRequest) (*ports.Quote, error) {
	if req.SellAmount == nil || req.SellAmount.Sign() <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	sell, buy := tokenParam(req.SellToken), tokenParam(req.BuyToken)

	q := url.Values{
		"sellToken":          {sell.Hex()},
		"buyToken":           {buy.Hex()},
		"sellAmount":         {req.SellAmount.String()},
		"takerAddress":       {req.Taker.Hex()},
		"slippagePercentage": {strconv.FormatFloat(float64(req.SlippageBps)/10000, 'f', -1, 64)},
	}
	var res quoteResult
	if err := c.http.getJSON(ctx, "/swap/v1/quote", q, &res); err != nil {
		c.log.Warn().Err(err).Str("sell", sell.Hex()).Str("buy", buy.Hex()).Msg("quote request failed")
		return nil, apperror.ErrQuoteUnavailable(err)
	}
	quote, err := c.decode(res, sell, buy, req.SellAmount)
	if err != nil {
		c.log.Warn().Err(err).Str("sell", sell.Hex()).Str("buy", buy.Hex()).Msg("quote rejected")
		return nil, apperror.ErrQuoteUnavailable(err)
	}
	return quote, nil
}

func (c *QuoteClient) decode(res quoteResult, sell, buy common.Address, sellAmount *big.Int) (*ports.Quote, error) {
	if !sameAddress(res.SellToken, sell) || !sameAddress(res.BuyToken, buy) {
		return nil, fmt.Errorf("quote is for %s -> %s", res.SellToken, res.BuyToken)
	}
	quotedSell, err := parseAmount("sellAmount", res.SellAmount, false)
	if err != nil {
		return nil, err
	}
	if quotedSell.Cmp(sellAmount) != 0 {
		return nil, fmt.Errorf("quote sells %s, asked for %s", quotedSell, sellAmount)
	}
	buyAmount, err := parseAmount("buyAmount", res.BuyAmount, false)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(res.To) {
		return nil, fmt.Errorf("invalid quote target %q", res.To)
	}
	to := common.HexToAddress(res.To)
	if c.router != (common.Address{}) && to != c.router {
		return nil, fmt.Errorf("quote targets %s, expected router %s", to.Hex(), c.router.Hex())
	}
	data, err := hexutil.Decode(res.Data)
	if err != nil || len(data) == 0 {
		return nil, fmt.Errorf("invalid quote calldata")
	}
	value, err := parseAmount("value", res.Value, true)
	if err != nil {
		return nil, err
	}
	if res.ExpiresAt > 0 && !c.now().Before(time.Unix(res.ExpiresAt, 0)) {
		return nil, fmt.Errorf("quote expired at %s", time.Unix(res.ExpiresAt, 0).UTC().Format(time.RFC3339))
	}

	quote := &ports.Quote{
		To:              to,
		Data:            data,
		Value:           value,
		BuyAmount:       buyAmount,
		AllowanceTarget: to,
	}
	if res.AllowanceTarget != "" {
		if !common.IsHexAddress(res.AllowanceTarget) {
			return nil, fmt.Errorf("invalid allowance target %q", res.AllowanceTarget)
		}
		if target := common.HexToAddress(res.AllowanceTarget); target != (common.Address{}) {
			quote.AllowanceTarget = target
		}
	}
	if res.Gas != "" {
		gas, err := strconv.ParseUint(res.Gas, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid gas %q", res.Gas)
		}
		quote.Gas = gas
	}
	return quote, nil
}

// tokenParam maps the domain's zero address for the native asset to the
// service's sentinel.
func tokenParam(token common.Address) common.Address {
	if token == (common.Address{}) {
		return NativeToken
	}
	return token
}

func sameAddress(s string, want common.Address) bool {
	return common.IsHexAddress(s) && common.HexToAddress(s) == want
}

// parseAmount parses a base-10 amount; zero is accepted only when allowZero.
// An empty string counts as zero.
func parseAmount(field, s string, allowZero bool) (*big.Int, error) {
	if s == "" && allowZero {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s %q", field, s)
	}
	if v.Sign() < 0 || (v.Sign() == 0 && !allowZero) {
		return nil, fmt.Errorf("%s must be positive, got %s", field, v)
	}
	return v, nil
}
