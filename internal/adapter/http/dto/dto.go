package dto

import (
	"github.com/shopspring/decimal"
)

// CreateWalletRequest provisions a wallet. An empty PrivateKey generates one.
type CreateWalletRequest struct {
	PrivateKey string `json:"private_key,omitempty" binding:"omitempty,hex_key"`
}

// WalletResponse describes a wallet key version. Key material is never returned.
type WalletResponse struct {
	OwnerID   string `json:"owner_id"`
	Address   string `json:"address"`
	Version   int    `json:"version"`
	KeyName   string `json:"key_name"`
	CreatedAt string `json:"created_at"`
}

// AddressResponse is the response for an address lookup.
type AddressResponse struct {
	OwnerID string `json:"owner_id"`
	Address string `json:"address"`
}

// PolicyRequest is the body of a policy replacement. Limits are decimal
// amounts in the reference currency; a missing limit means no limit.
type PolicyRequest struct {
	GuardianID        string `json:"guardian_id" binding:"required,uuid"`
	FamilyID          string `json:"family_id" binding:"required,uuid"`
	ReferenceCurrency string `json:"reference_currency" binding:"required,alpha,min=3,max=5"`

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
}

// AuthorizeRequest is a dry-run policy evaluation.
type AuthorizeRequest struct {
	Category     string `json:"category" binding:"required,oneof=TRADE TRANSFER GIFT_CARD NFT"`
	Asset        string `json:"asset" binding:"required,max=16"`
	Amount       string `json:"amount" binding:"required,positive_decimal"`
	Counterparty string `json:"counterparty,omitempty" binding:"max=100"`
	Item         string `json:"item,omitempty" binding:"max=100"`
	BuyAsset     string `json:"buy_asset,omitempty" binding:"max=16"`
}

// IntentRequest carries the identity fields common to every intent.
type IntentRequest struct {
	OwnerID     string `json:"owner_id" binding:"required,uuid"`
	GuardianID  string `json:"guardian_id" binding:"required,uuid"`
	FamilyID    string `json:"family_id" binding:"required,uuid"`
	Reference   string `json:"reference,omitempty" binding:"omitempty,max=100,safe_id"`
	Description string `json:"description,omitempty" binding:"max=255"`
}

// TransferRequest moves funds to an address or a custodied account.
type TransferRequest struct {
	IntentRequest
	Asset            string `json:"asset" binding:"required,max=16"`
	Amount           string `json:"amount" binding:"required,positive_decimal"`
	RecipientAddress string `json:"recipient_address,omitempty" binding:"omitempty,eth_address"`
	RecipientID      string `json:"recipient_id,omitempty" binding:"omitempty,uuid"`
}

// SwapRequest trades one asset for another.
type SwapRequest struct {
	IntentRequest
	SellAsset   string `json:"sell_asset" binding:"required,max=16"`
	BuyAsset    string `json:"buy_asset" binding:"required,max=16,nefield=SellAsset"`
	SellAmount  string `json:"sell_amount" binding:"required,positive_decimal"`
	IsTrade     bool   `json:"is_trade"`
	SlippageBps int    `json:"slippage_bps" binding:"gte=0,lte=5000"`
}

// ServiceRequest pays for a gift card or an NFT.
type ServiceRequest struct {
	IntentRequest
	Category      string `json:"category" binding:"required,oneof=GIFT_CARD NFT"`
	PaymentAsset  string `json:"payment_asset" binding:"required,max=16"`
	PaymentAmount string `json:"payment_amount" binding:"required,positive_decimal"`
	FiatAmount    string `json:"fiat_amount" binding:"required,positive_decimal"`
	FiatCurrency  string `json:"fiat_currency" binding:"required,alpha,len=3"`
	ServiceRef    string `json:"service_ref" binding:"required,max=100,safe_id"`
	Item          string `json:"item" binding:"required,max=100"`
}

// RewardRequest pays a dependent from the guardian wallet.
type RewardRequest struct {
	GuardianID  string `json:"guardian_id" binding:"required,uuid"`
	DependentID string `json:"dependent_id" binding:"required,uuid,nefield=GuardianID"`
	FamilyID    string `json:"family_id" binding:"required,uuid"`
	Kind        string `json:"kind" binding:"required,oneof=ALLOWANCE CHORE_REWARD"`
	Asset       string `json:"asset" binding:"required,max=16"`
	Amount      string `json:"amount" binding:"required,positive_decimal"`
	Description string `json:"description,omitempty" binding:"max=255"`
	EventRef    string `json:"event_ref" binding:"required,max=100,safe_id"`
}

// TopUpResponse reports a gas top-up performed for an intent.
type TopUpResponse struct {
	FunderID  string `json:"funder_id"`
	TxHash    string `json:"tx_hash"`
	AmountWei string `json:"amount_wei"`
	EntryID   string `json:"entry_id"`
}

// OutcomeResponse is the result of an executed intent.
type OutcomeResponse struct {
	EntryID   string         `json:"entry_id"`
	Status    string         `json:"status"`
	Stage     string         `json:"stage"`
	TxHash    string         `json:"tx_hash,omitempty"`
	FeeTxHash string         `json:"fee_tx_hash,omitempty"`
	Asset     string         `json:"asset"`
	Amount    string         `json:"amount"`
	Fee       string         `json:"fee"`
	TopUp     *TopUpResponse `json:"top_up,omitempty"`
}

// LedgerEntryResponse is the user-facing view of a ledger entry.
type LedgerEntryResponse struct {
	ID                string  `json:"id"`
	OwnerID           string  `json:"owner_id"`
	FamilyID          string  `json:"family_id"`
	Kind              string  `json:"kind"`
	Asset             string  `json:"asset"`
	Amount            string  `json:"amount"`
	ReferenceValue    string  `json:"reference_value"`
	ReferenceCurrency string  `json:"reference_currency,omitempty"`
	Description       string  `json:"description"`
	Counterparty      string  `json:"counterparty,omitempty"`
	Reference         *string `json:"reference,omitempty"`
	Status            string  `json:"status"`
	ChainTxHash       *string `json:"chain_tx_hash,omitempty"`
	FeeTxHash         *string `json:"fee_tx_hash,omitempty"`
	Note              *string `json:"note,omitempty"`
	CreatedAt         string  `json:"created_at"`
	FinalizedAt       *string `json:"finalized_at,omitempty"`
}

// LedgerListResponse wraps a paginated ledger list.
type LedgerListResponse struct {
	Items      []LedgerEntryResponse `json:"items"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalPages int                   `json:"total_pages"`
}
