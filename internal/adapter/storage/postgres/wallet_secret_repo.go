package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custody-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const walletSecretColumns = `id, owner_id, address, version, encrypted_secret, wrapped_dek, key_name, is_current, created_at, archived_at`

// WalletSecretRepo implements ports.WalletSecretRepository. A partial unique
// index on (owner_id) WHERE is_current keeps at most one current version.
type WalletSecretRepo struct {
	pool Pool
}

// NewWalletSecretRepo creates a new WalletSecretRepo.
func NewWalletSecretRepo(pool Pool) *WalletSecretRepo {
	return &WalletSecretRepo{pool: pool}
}

// OwnerExists reports whether ownerID is a known account.
func (r *WalletSecretRepo) OwnerExists(ctx context.Context, ownerID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM owners WHERE id = $1)`, ownerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check owner exists: %w", err)
	}
	return exists, nil
}

// GetCurrent fetches the owner's current secret version (without locking).
func (r *WalletSecretRepo) GetCurrent(ctx context.Context, ownerID uuid.UUID) (*domain.WalletSecret, error) {
	query := `SELECT ` + walletSecretColumns + ` FROM wallet_secrets WHERE owner_id = $1 AND is_current`

	s, err := scanWalletSecret(r.pool.QueryRow(ctx, query, ownerID))
	if err != nil {
		return nil, fmt.Errorf("get current secret: %w", err)
	}
	return s, nil
}

// GetCurrentForUpdate fetches the current version with a row lock.
// This MUST be called within a transaction.
func (r *WalletSecretRepo) GetCurrentForUpdate(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID) (*domain.WalletSecret, error) {
	query := `SELECT ` + walletSecretColumns + ` FROM wallet_secrets WHERE owner_id = $1 AND is_current FOR UPDATE`

	s, err := scanWalletSecret(tx.QueryRow(ctx, query, ownerID))
	if err != nil {
		return nil, fmt.Errorf("get current secret for update: %w", err)
	}
	return s, nil
}

// Insert stores a new version. A second current version for the same owner
// returns ports.ErrConflict.
func (r *WalletSecretRepo) Insert(ctx context.Context, tx pgx.Tx, s *domain.WalletSecret) error {
	query := `INSERT INTO wallet_secrets (` + walletSecretColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := tx.Exec(ctx, query,
		s.ID, s.OwnerID, s.Address, s.Version, s.EncryptedSecret,
		s.WrappedDEK, s.KeyName, s.Current, s.CreatedAt, s.ArchivedAt,
	)
	if err != nil {
		return conflictOr("insert wallet secret", err)
	}
	return nil
}

// Archive clears the current flag on a version.
func (r *WalletSecretRepo) Archive(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	query := `UPDATE wallet_secrets SET is_current = FALSE, archived_at = $1 WHERE id = $2 AND is_current`

	tag, err := tx.Exec(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("archive wallet secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("current wallet secret not found: %s", id)
	}
	return nil
}

// ListVersions returns every version for the owner, newest first.
func (r *WalletSecretRepo) ListVersions(ctx context.Context, ownerID uuid.UUID) ([]domain.WalletSecret, error) {
	query := `SELECT ` + walletSecretColumns + ` FROM wallet_secrets WHERE owner_id = $1 ORDER BY version DESC`

	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list secret versions: %w", err)
	}
	defer rows.Close()

	var out []domain.WalletSecret
	for rows.Next() {
		s, err := scanWalletSecret(rows)
		if err != nil {
			return nil, fmt.Errorf("scan secret row: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate secret rows: %w", err)
	}
	return out, nil
}

func scanWalletSecret(row rowScanner) (*domain.WalletSecret, error) {
	s := &domain.WalletSecret{}
	err := row.Scan(
		&s.ID, &s.OwnerID, &s.Address, &s.Version, &s.EncryptedSecret,
		&s.WrappedDEK, &s.KeyName, &s.Current, &s.CreatedAt, &s.ArchivedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}
