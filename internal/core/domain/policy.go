package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Category is the spending category a monetary action falls into.
type Category string

const (
	CategoryTrade    Category = "TRADE"
	CategoryTransfer Category = "TRANSFER"
	CategoryGiftCard Category = "GIFT_CARD"
	CategoryNFT      Category = "NFT"
)

// LedgerKind returns the ledger kind used to account for spending in c.
func (c Category) LedgerKind() LedgerKind {
	switch c {
	case CategoryTrade:
		return LedgerKindTokenTrade
	case CategoryTransfer:
		return LedgerKindTokenTransfer
	case CategoryGiftCard:
		return LedgerKindGiftCardPurchase
	case CategoryNFT:
		return LedgerKindNFTTrade
	}
	return ""
}

// SpendingPolicy is the guardian-controlled policy for one dependent.
type SpendingPolicy struct {
	DependentID       uuid.UUID `json:"dependent_id"`
	FamilyID          uuid.UUID `json:"family_id"`
	GuardianID        uuid.UUID `json:"guardian_id"`
	ReferenceCurrency string    `json:"reference_currency"`

	TradingEnabled    bool `json:"trading_enabled"`
	NFTTradingEnabled bool `json:"nft_trading_enabled"`
	GiftCardsEnabled  bool `json:"gift_cards_enabled"`
	TransfersEnabled  bool `json:"transfers_enabled"`

	MaxTradeValue    *decimal.Decimal `json:"max_trade_value,omitempty"`
	MaxTransferValue *decimal.Decimal `json:"max_transfer_value,omitempty"`
	MaxGiftCardValue *decimal.Decimal `json:"max_gift_card_value,omitempty"`
	MaxNFTValue      *decimal.Decimal `json:"max_nft_value,omitempty"`

	DailyTradeLimit    *decimal.Decimal `json:"daily_trade_limit,omitempty"`
	DailyTransferLimit *decimal.Decimal `json:"daily_transfer_limit,omitempty"`
	DailyGiftCardLimit *decimal.Decimal `json:"daily_gift_card_limit,omitempty"`
	DailyNFTLimit      *decimal.Decimal `json:"daily_nft_limit,omitempty"`

	AllowedAssets             []string `json:"allowed_assets"`
	AllowedCounterparties     []string `json:"allowed_counterparties"`
	AllowedGiftCardCategories []string `json:"allowed_gift_card_categories"`
	AllowedNFTCollections     []string `json:"allowed_nft_collections"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Enabled reports whether the category toggle for c is on.
func (p *SpendingPolicy) Enabled(c Category) bool {
	switch c {
	case CategoryTrade:
		return p.TradingEnabled
	case CategoryTransfer:
		return p.TransfersEnabled
	case CategoryGiftCard:
		return p.GiftCardsEnabled
	case CategoryNFT:
		return p.NFTTradingEnabled
	}
	return false
}

// Ceiling returns the single-action value ceiling for c, or nil.
func (p *SpendingPolicy) Ceiling(c Category) *decimal.Decimal {
	switch c {
	case CategoryTrade:
		return p.MaxTradeValue
	case CategoryTransfer:
		return p.MaxTransferValue
	case CategoryGiftCard:
		return p.MaxGiftCardValue
	case CategoryNFT:
		return p.MaxNFTValue
	}
	return nil
}

// DailyLimit returns the per-day limit for c, or nil.
func (p *SpendingPolicy) DailyLimit(c Category) *decimal.Decimal {
	switch c {
	case CategoryTrade:
		return p.DailyTradeLimit
	case CategoryTransfer:
		return p.DailyTransferLimit
	case CategoryGiftCard:
		return p.DailyGiftCardLimit
	case CategoryNFT:
		return p.DailyNFTLimit
	}
	return nil
}

// ItemAllowList returns the allow-list that the action's asset or item is
// checked against for c.
func (p *SpendingPolicy) ItemAllowList(c Category) []string {
	switch c {
	case CategoryTrade, CategoryTransfer:
		return p.AllowedAssets
	case CategoryGiftCard:
		return p.AllowedGiftCardCategories
	case CategoryNFT:
		return p.AllowedNFTCollections
	}
	return nil
}

// Action is a proposed monetary action submitted for authorization.
type Action struct {
	Category     Category
	Asset        string          // symbol the amount is denominated in
	Amount       decimal.Decimal // in Asset units, positive
	Counterparty string          // recipient address or identifier, optional
	Item         string          // gift-card category or NFT collection
	BuyAsset     string          // asset a trade receives, optional
}

// ListedItem returns the value checked against the category allow-list.
func (a Action) ListedItem() string {
	if a.Category == CategoryGiftCard || a.Category == CategoryNFT {
		return a.Item
	}
	return a.Asset
}

// DenialReason identifies the first failing policy check.
type DenialReason string

const (
	DenialNoPolicy               DenialReason = "NO_POLICY"
	DenialCategoryDisabled       DenialReason = "CATEGORY_DISABLED"
	DenialAssetNotAllowed        DenialReason = "ASSET_NOT_ALLOWED"
	DenialCounterpartyNotAllowed DenialReason = "COUNTERPARTY_NOT_ALLOWED"
	DenialCeilingExceeded        DenialReason = "CEILING_EXCEEDED"
	DenialDailyLimitExceeded     DenialReason = "DAILY_LIMIT_EXCEEDED"
	DenialPriceUnavailable       DenialReason = "PRICE_UNAVAILABLE"
)

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool         `json:"allowed"`
	Reason  DenialReason `json:"reason,omitempty"`
	Message string       `json:"message,omitempty"`
	// Value is the action's value in the reference currency; zero when no
	// ceiling or daily limit required pricing it.
	Value             decimal.Decimal  `json:"value"`
	ReferenceCurrency string           `json:"reference_currency"`
	Remaining         *decimal.Decimal `json:"remaining,omitempty"`
}

// Allow builds an allowing decision.
func Allow(value decimal.Decimal, currency string) Decision {
	return Decision{Allowed: true, Value: value, ReferenceCurrency: currency}
}

// Deny builds a denying decision.
func Deny(reason DenialReason, message string) Decision {
	return Decision{Allowed: false, Reason: reason, Message: message}
}

// ContainsFold reports whether list contains s, ignoring case.
func ContainsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(s)) {
			return true
		}
	}
	return false
}
