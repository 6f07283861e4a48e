package ports

import (
	"context"
	"errors"
	"time"

	"custody-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ErrConflict is returned by repositories when an insert violates a unique
// constraint (a second current secret, a reused intent reference).
var ErrConflict = errors.New("unique constraint conflict")

// WalletSecretRepository persists versioned envelope-encrypted wallet keys.
// Methods accepting pgx.Tx are used inside transaction blocks for pessimistic locking.
type WalletSecretRepository interface {
	OwnerExists(ctx context.Context, ownerID uuid.UUID) (bool, error)
	GetCurrent(ctx context.Context, ownerID uuid.UUID) (*domain.WalletSecret, error)
	GetCurrentForUpdate(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID) (*domain.WalletSecret, error)
	Insert(ctx context.Context, tx pgx.Tx, secret *domain.WalletSecret) error
	Archive(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error
	ListVersions(ctx context.Context, ownerID uuid.UUID) ([]domain.WalletSecret, error)
}

// PolicyRepository persists spending policies keyed by dependent.
type PolicyRepository interface {
	Get(ctx context.Context, dependentID uuid.UUID) (*domain.SpendingPolicy, error)
	Upsert(ctx context.Context, policy *domain.SpendingPolicy) error
}

// LedgerRepository persists ledger entries. Status transitions are guarded in
// SQL so only PENDING rows can be finalized.
type LedgerRepository interface {
	Insert(ctx context.Context, entry *domain.LedgerEntry) error
	Get(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error)
	GetByReference(ctx context.Context, ownerID uuid.UUID, reference string) (*domain.LedgerEntry, error)
	// Finalize returns the updated row, or nil when the row is missing or no
	// longer PENDING.
	Finalize(ctx context.Context, id uuid.UUID, f domain.Finalization, at time.Time) (*domain.LedgerEntry, error)
	AttachTxHash(ctx context.Context, id uuid.UUID, txHash string) (bool, error)
	List(ctx context.Context, params LedgerListParams) ([]domain.LedgerEntry, int64, error)
	SumReferenceValue(ctx context.Context, ownerID uuid.UUID, kind domain.LedgerKind, since time.Time) (decimal.Decimal, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.LedgerEntry, error)
}

// LedgerListParams holds filter + pagination for listing ledger entries.
type LedgerListParams struct {
	OwnerID  uuid.UUID
	Status   *domain.LedgerStatus
	Kind     *domain.LedgerKind
	From     *int64 // Unix timestamp
	To       *int64 // Unix timestamp
	Page     int
	PageSize int
}

// AuditRepository persists audit records.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
