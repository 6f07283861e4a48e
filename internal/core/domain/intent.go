package domain

import (
	"math/big"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Stage is a step of the per-intent execution pipeline.
type Stage string

const (
	StageIntentReceived    Stage = "INTENT_RECEIVED"
	StagePolicyChecked     Stage = "POLICY_CHECKED"
	StageSecretResolved    Stage = "SECRET_RESOLVED"
	StageGasEnsured        Stage = "GAS_ENSURED"
	StageApprovalSubmitted Stage = "APPROVAL_SUBMITTED"
	StageActionSubmitted   Stage = "ACTION_SUBMITTED"
	StageConfirmed         Stage = "CONFIRMED"
	StagePartialFailure    Stage = "PARTIAL_FAILURE"
)

// IntentBase carries the identity fields shared by every intent.
type IntentBase struct {
	OwnerID    uuid.UUID // account whose custodial wallet signs
	GuardianID uuid.UUID // family funding wallet for gas top-ups
	FamilyID   uuid.UUID
	// Reference is an optional caller idempotency key, unique per owner.
	Reference   string
	Description string
}

// ActsAsDependent reports whether the signer is a dependent and therefore
// subject to spending policy.
func (b IntentBase) ActsAsDependent() bool {
	return b.OwnerID != b.GuardianID
}

// TransferIntent moves a native or token amount to a recipient.
type TransferIntent struct {
	IntentBase
	Asset            string
	Amount           decimal.Decimal
	RecipientAddress string
	RecipientID      *uuid.UUID // custodied recipient, resolved to its address
}

// SwapIntent trades one asset for another through the DEX router.
type SwapIntent struct {
	IntentBase
	SellAsset  string
	BuyAsset   string
	SellAmount decimal.Decimal
	// IsTrade marks a dependent-initiated trade that carries the platform fee.
	IsTrade     bool
	SlippageBps int
}

// ServiceIntent pays the service router for an off-chain fulfilment such as
// a gift card or an NFT purchase.
type ServiceIntent struct {
	IntentBase
	Category      Category // CategoryGiftCard or CategoryNFT
	PaymentAsset  string
	PaymentAmount decimal.Decimal
	FiatAmount    decimal.Decimal
	FiatCurrency  string
	ServiceRef    string // opaque fulfilment reference passed to the router
	Item          string // gift-card category or NFT collection
}

// RewardIntent pays a dependent from the guardian wallet after a domain event
// (chore approval, scheduled allowance) has been validated upstream.
type RewardIntent struct {
	GuardianID  uuid.UUID
	DependentID uuid.UUID
	FamilyID    uuid.UUID
	Kind        LedgerKind // LedgerKindAllowance or LedgerKindChoreReward
	Asset       string
	Amount      decimal.Decimal
	Description string
	EventRef    string // identifier of the validated domain event
}

// TopUp describes a gas top-up sent by the relay.
type TopUp struct {
	FunderID uuid.UUID `json:"funder_id"`
	TxHash   string    `json:"tx_hash"`
	Amount   *big.Int  `json:"amount"`
	EntryID  uuid.UUID `json:"entry_id"`
}

// Outcome is the structured result of an executed intent.
type Outcome struct {
	EntryID   uuid.UUID       `json:"entry_id"`
	Status    LedgerStatus    `json:"status"`
	Stage     Stage           `json:"stage"`
	TxHash    string          `json:"tx_hash,omitempty"`
	FeeTxHash string          `json:"fee_tx_hash,omitempty"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	TopUp     *TopUp          `json:"top_up,omitempty"`
}

// BuildIdempotencyKey constructs the cache key for an intent reference.
func BuildIdempotencyKey(ownerID uuid.UUID, reference string) string {
	return ownerID.String() + ":" + reference
}
