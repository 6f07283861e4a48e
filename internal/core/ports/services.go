package ports

import (
	"context"
	"math/big"
	"time"

	"custody-engine/internal/core/domain"
	"custody-engine/pkg/keysigner"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// KeyManager wraps and unwraps data encryption keys under a root key held by
// a key management service.
type KeyManager interface {
	Wrap(ctx context.Context, dek []byte) ([]byte, error)
	Unwrap(ctx context.Context, wrapped []byte) ([]byte, error)
	// KeyName identifies the root key recorded alongside each envelope.
	KeyName() string
}

// EnvelopeCrypto performs envelope encryption of hex-encoded secrets.
type EnvelopeCrypto interface {
	Encrypt(ctx context.Context, plaintextHex string) (*domain.Envelope, error)
	Decrypt(ctx context.Context, encryptedData, encryptedDEK string) (string, error)
}

// KeyCustody owns the lifecycle of custodial wallet keys.
type KeyCustody interface {
	CreateSecret(ctx context.Context, ownerID uuid.UUID, privateKeyHex string) (*domain.WalletSecret, error)
	// GetDecryptedSecret returns a signer for one operation; callers must Destroy it.
	GetDecryptedSecret(ctx context.Context, ownerID uuid.UUID, purpose string) (*keysigner.Signer, error)
	Address(ctx context.Context, ownerID uuid.UUID) (common.Address, error)
	RotateSecret(ctx context.Context, ownerID uuid.UUID) (*domain.WalletSecret, error)
}

// PolicyEngine evaluates proposed actions against spending policy.
type PolicyEngine interface {
	Authorize(ctx context.Context, dependentID uuid.UUID, action domain.Action) (domain.Decision, error)
	GetPolicy(ctx context.Context, dependentID uuid.UUID) (*domain.SpendingPolicy, error)
	PutPolicy(ctx context.Context, guardianID uuid.UUID, policy *domain.SpendingPolicy) error
}

// GasRelay keeps signing wallets able to pay network fees.
type GasRelay interface {
	// EnsureFeeBalance tops up signer from funderID when its native balance is
	// below minimumRequired. A nil TopUp means no top-up was needed.
	EnsureFeeBalance(ctx context.Context, signer common.Address, funderID uuid.UUID, minimumRequired *big.Int) (*domain.TopUp, error)
}

// Orchestrator executes guarded monetary intents.
type Orchestrator interface {
	Transfer(ctx context.Context, intent domain.TransferIntent) (*domain.Outcome, error)
	Swap(ctx context.Context, intent domain.SwapIntent) (*domain.Outcome, error)
	RequestService(ctx context.Context, intent domain.ServiceIntent) (*domain.Outcome, error)
	PayReward(ctx context.Context, intent domain.RewardIntent) (*domain.Outcome, error)
}

// Ledger is the append-only record of monetary actions.
type Ledger interface {
	Append(ctx context.Context, draft domain.EntryDraft) (uuid.UUID, error)
	Finalize(ctx context.Context, id uuid.UUID, f domain.Finalization) error
	AttachTxHash(ctx context.Context, id uuid.UUID, txHash string) error
	Get(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error)
	FindByReference(ctx context.Context, ownerID uuid.UUID, reference string) (*domain.LedgerEntry, error)
	List(ctx context.Context, params LedgerListParams) ([]domain.LedgerEntry, int64, error)
	SpentSince(ctx context.Context, ownerID uuid.UUID, kind domain.LedgerKind, since time.Time) (decimal.Decimal, error)
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]domain.LedgerEntry, error)
}

// AuditService records audited actions.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// TokenService handles JWT token operations for service callers.
type TokenService interface {
	Generate(subject string, scopes []string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Subject string
	Scopes  []string
}

// SignerLocker serializes chain operations per signing address so nonces are
// never reused. The returned unlock must be called exactly once.
type SignerLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached value or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// EventPublisher publishes ledger events.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.LedgerEvent) error
}
