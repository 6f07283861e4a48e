package ports

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// RateProvider converts between assets and reference currencies.
type RateProvider interface {
	// Rate returns how many units of quote one unit of base is worth.
	Rate(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

// QuoteRequest asks the quote service for swap calldata.
type QuoteRequest struct {
	SellToken   common.Address // zero address for the native asset
	BuyToken    common.Address
	SellAmount  *big.Int
	Taker       common.Address
	SlippageBps int
}

// Quote is a validated swap quote.
type Quote struct {
	To              common.Address
	Data            []byte
	Value           *big.Int
	BuyAmount       *big.Int
	AllowanceTarget common.Address
	Gas             uint64
}

// SwapQuoter fetches executable swap quotes.
type SwapQuoter interface {
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
}

// RateCache memoizes reference rates.
type RateCache interface {
	Get(ctx context.Context, base, quote string) (decimal.Decimal, bool, error)
	Set(ctx context.Context, base, quote string, rate decimal.Decimal, ttl time.Duration) error
}
