package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerKind classifies a monetary action.
type LedgerKind string

const (
	LedgerKindAllowance        LedgerKind = "ALLOWANCE"
	LedgerKindChoreReward      LedgerKind = "CHORE_REWARD"
	LedgerKindGiftCardPurchase LedgerKind = "GIFT_CARD_PURCHASE"
	LedgerKindTokenTrade       LedgerKind = "TOKEN_TRADE"
	LedgerKindNFTTrade         LedgerKind = "NFT_TRADE"
	LedgerKindTokenTransfer    LedgerKind = "TOKEN_TRANSFER"
	LedgerKindDeposit          LedgerKind = "DEPOSIT"
	// LedgerKindGasTopUp rows are internal bookkeeping and never user-facing.
	LedgerKindGasTopUp LedgerKind = "GAS_TOPUP"
)

// LedgerStatus is the lifecycle state of a ledger entry.
type LedgerStatus string

const (
	LedgerStatusPending        LedgerStatus = "PENDING"
	LedgerStatusSuccess        LedgerStatus = "SUCCESS"
	LedgerStatusPartialFailure LedgerStatus = "PARTIAL_FAILURE"
	LedgerStatusError          LedgerStatus = "ERROR"
)

// IsTerminal returns true if no further transition is allowed.
func (s LedgerStatus) IsTerminal() bool {
	return s == LedgerStatusSuccess ||
		s == LedgerStatusPartialFailure ||
		s == LedgerStatusError
}

// LedgerEntry is an append-only record of one monetary action.
type LedgerEntry struct {
	ID                uuid.UUID       `json:"id"`
	OwnerID           uuid.UUID       `json:"owner_id"`
	FamilyID          uuid.UUID       `json:"family_id"`
	Kind              LedgerKind      `json:"kind"`
	Asset             string          `json:"asset"`
	Amount            decimal.Decimal `json:"amount"` // signed, negative for outgoing
	ReferenceValue    decimal.Decimal `json:"reference_value"`
	ReferenceCurrency string          `json:"reference_currency,omitempty"`
	Description       string          `json:"description"`
	Counterparty      string          `json:"counterparty,omitempty"`
	Reference         *string         `json:"reference,omitempty"`
	Status            LedgerStatus    `json:"status"`
	ChainTxHash       *string         `json:"chain_tx_hash,omitempty"`
	FeeTxHash         *string         `json:"fee_tx_hash,omitempty"`
	Internal          bool            `json:"-"`
	Note              *string         `json:"note,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	FinalizedAt       *time.Time      `json:"finalized_at,omitempty"`
}

// EntryDraft is the input to Ledger.Append.
type EntryDraft struct {
	OwnerID           uuid.UUID
	FamilyID          uuid.UUID
	Kind              LedgerKind
	Asset             string
	Amount            decimal.Decimal
	ReferenceValue    decimal.Decimal
	ReferenceCurrency string
	Description       string
	Counterparty      string
	Reference         string
	Internal          bool
	// Status defaults to PENDING. Reward payouts append with a terminal status.
	Status      LedgerStatus
	ChainTxHash string
}

// Finalization moves a PENDING entry to a terminal status.
type Finalization struct {
	Status    LedgerStatus
	TxHash    string
	FeeTxHash string
	Amount    *decimal.Decimal // overrides the appended amount (swap net proceeds)
	Note      string
}

// LedgerEvent is published after a ledger write commits.
type LedgerEvent struct {
	Type      string       `json:"type"`
	EntryID   uuid.UUID    `json:"entry_id"`
	OwnerID   uuid.UUID    `json:"owner_id"`
	FamilyID  uuid.UUID    `json:"family_id"`
	Kind      LedgerKind   `json:"kind"`
	Status    LedgerStatus `json:"status"`
	Asset     string       `json:"asset"`
	Amount    string       `json:"amount"`
	TxHash    string       `json:"tx_hash,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

const (
	LedgerEventAppended  = "ledger.entry.appended"
	LedgerEventFinalized = "ledger.entry.finalized"
)
