package domain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status LedgerStatus
		want   bool
	}{
		{"pending", LedgerStatusPending, false},
		{"success", LedgerStatusSuccess, true},
		{"partial failure", LedgerStatusPartialFailure, true},
		{"error", LedgerStatusError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}

func TestCategory_LedgerKind(t *testing.T) {
	assert.Equal(t, LedgerKindTokenTrade, CategoryTrade.LedgerKind())
	assert.Equal(t, LedgerKindTokenTransfer, CategoryTransfer.LedgerKind())
	assert.Equal(t, LedgerKindGiftCardPurchase, CategoryGiftCard.LedgerKind())
	assert.Equal(t, LedgerKindNFTTrade, CategoryNFT.LedgerKind())
	assert.Equal(t, LedgerKind(""), Category("BOGUS").LedgerKind())
}

func TestSpendingPolicy_Accessors(t *testing.T) {
	ceiling := decimal.NewFromInt(50)
	daily := decimal.NewFromInt(100)
	p := &SpendingPolicy{
		TradingEnabled:            true,
		MaxTradeValue:             &ceiling,
		DailyTradeLimit:           &daily,
		AllowedAssets:             []string{"USDC"},
		AllowedGiftCardCategories: []string{"games"},
		AllowedNFTCollections:     []string{"0xabc"},
	}

	assert.True(t, p.Enabled(CategoryTrade))
	assert.False(t, p.Enabled(CategoryTransfer))
	assert.False(t, p.Enabled(CategoryNFT))
	assert.Equal(t, &ceiling, p.Ceiling(CategoryTrade))
	assert.Nil(t, p.Ceiling(CategoryTransfer))
	assert.Equal(t, &daily, p.DailyLimit(CategoryTrade))
	assert.Nil(t, p.DailyLimit(CategoryGiftCard))
	assert.Equal(t, []string{"USDC"}, p.ItemAllowList(CategoryTransfer))
	assert.Equal(t, []string{"games"}, p.ItemAllowList(CategoryGiftCard))
	assert.Equal(t, []string{"0xabc"}, p.ItemAllowList(CategoryNFT))
}

func TestAction_ListedItem(t *testing.T) {
	assert.Equal(t, "USDC", Action{Category: CategoryTrade, Asset: "USDC", Item: "x"}.ListedItem())
	assert.Equal(t, "games", Action{Category: CategoryGiftCard, Asset: "USD", Item: "games"}.ListedItem())
	assert.Equal(t, "punks", Action{Category: CategoryNFT, Asset: "ETH", Item: "punks"}.ListedItem())
}

func TestContainsFold(t *testing.T) {
	list := []string{"0xAbCd", " usdc "}
	assert.True(t, ContainsFold(list, "0xabcd"))
	assert.True(t, ContainsFold(list, "USDC"))
	assert.False(t, ContainsFold(list, "dai"))
	assert.False(t, ContainsFold(nil, "dai"))
}

func TestAsset_BaseUnits(t *testing.T) {
	usdc := Asset{Symbol: "USDC", Decimals: 6}

	assert.Equal(t, big.NewInt(5_000_000), usdc.ToBaseUnits(decimal.NewFromInt(5)))
	// Digits below the asset precision are truncated, never rounded up.
	assert.Equal(t, big.NewInt(1_234_567), usdc.ToBaseUnits(decimal.RequireFromString("1.2345679")))
	assert.True(t, decimal.RequireFromString("1.234567").Equal(usdc.FromBaseUnits(big.NewInt(1_234_567))))
	assert.True(t, decimal.Zero.Equal(usdc.FromBaseUnits(nil)))
}

func TestAssetRegistry(t *testing.T) {
	usdc := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	reg, err := NewAssetRegistry(
		Asset{Symbol: "ETH", Decimals: 18},
		[]Asset{{Symbol: "USDC", Contract: usdc, Decimals: 6}},
	)
	require.NoError(t, err)

	eth, ok := reg.Lookup("eth")
	require.True(t, ok)
	assert.True(t, eth.Native)
	assert.Equal(t, eth, reg.Native())

	tok, ok := reg.Lookup(" usdc ")
	require.True(t, ok)
	assert.False(t, tok.Native)
	assert.Equal(t, usdc, tok.Contract)

	_, ok = reg.Lookup("DAI")
	assert.False(t, ok)
}

func TestAssetRegistry_Invalid(t *testing.T) {
	_, err := NewAssetRegistry(Asset{}, nil)
	assert.Error(t, err)

	_, err = NewAssetRegistry(Asset{Symbol: "ETH", Decimals: 18}, []Asset{{Symbol: "USDC", Decimals: 6}})
	assert.Error(t, err, "token without contract")

	addr := common.HexToAddress("0x01")
	_, err = NewAssetRegistry(Asset{Symbol: "ETH", Decimals: 18}, []Asset{{Symbol: "eth", Contract: addr, Decimals: 18}})
	assert.Error(t, err, "duplicate symbol")
}

func TestIntentBase_ActsAsDependent(t *testing.T) {
	guardian := uuid.New()
	assert.False(t, IntentBase{OwnerID: guardian, GuardianID: guardian}.ActsAsDependent())
	assert.True(t, IntentBase{OwnerID: uuid.New(), GuardianID: guardian}.ActsAsDependent())
}

func TestBuildIdempotencyKey(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000:chore-17", BuildIdempotencyKey(id, "chore-17"))
}

func TestDecisionBuilders(t *testing.T) {
	allow := Allow(decimal.NewFromInt(10), "USD")
	assert.True(t, allow.Allowed)
	assert.Equal(t, "USD", allow.ReferenceCurrency)

	deny := Deny(DenialCategoryDisabled, "trading is disabled")
	assert.False(t, deny.Allowed)
	assert.Equal(t, DenialCategoryDisabled, deny.Reason)
}
