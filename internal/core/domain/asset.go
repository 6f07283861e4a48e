package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Asset is a chain asset the engine can move. The native asset has a zero
// contract address.
type Asset struct {
	Symbol   string         `json:"symbol"`
	Contract common.Address `json:"contract"`
	Decimals uint8          `json:"decimals"`
	Native   bool           `json:"native"`
}

// ToBaseUnits encodes amount in the asset's smallest unit. Digits beyond the
// asset's precision are truncated, so the result never exceeds amount.
func (a Asset) ToBaseUnits(amount decimal.Decimal) *big.Int {
	return amount.Shift(int32(a.Decimals)).Truncate(0).BigInt()
}

// FromBaseUnits decodes a smallest-unit integer into an asset amount.
func (a Asset) FromBaseUnits(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -int32(a.Decimals))
}

// AssetRegistry resolves asset symbols configured for the chain.
type AssetRegistry struct {
	native   Asset
	bySymbol map[string]Asset
}

// NewAssetRegistry builds a registry from the native asset and token list.
func NewAssetRegistry(native Asset, tokens []Asset) (*AssetRegistry, error) {
	if native.Symbol == "" {
		return nil, fmt.Errorf("native asset symbol is required")
	}
	native.Native = true
	native.Contract = common.Address{}
	r := &AssetRegistry{
		native:   native,
		bySymbol: map[string]Asset{strings.ToUpper(native.Symbol): native},
	}
	for _, t := range tokens {
		key := strings.ToUpper(t.Symbol)
		if key == "" {
			return nil, fmt.Errorf("token symbol is required")
		}
		if _, dup := r.bySymbol[key]; dup {
			return nil, fmt.Errorf("duplicate asset symbol %q", t.Symbol)
		}
		if t.Contract == (common.Address{}) {
			return nil, fmt.Errorf("token %q has no contract address", t.Symbol)
		}
		t.Native = false
		r.bySymbol[key] = t
	}
	return r, nil
}

// Lookup returns the asset registered under symbol.
func (r *AssetRegistry) Lookup(symbol string) (Asset, bool) {
	a, ok := r.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return a, ok
}

// Native returns the chain's native asset.
func (r *AssetRegistry) Native() Asset {
	return r.native
}
