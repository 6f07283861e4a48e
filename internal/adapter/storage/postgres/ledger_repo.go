package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const ledgerColumns = `id, owner_id, family_id, kind, asset, amount, reference_value, reference_currency,
	description, counterparty, reference, status, chain_tx_hash, fee_tx_hash, internal, note,
	created_at, finalized_at`

// LedgerRepo implements ports.LedgerRepository. Rows are never deleted, and
// only PENDING rows are updated.
type LedgerRepo struct {
	pool Pool
}

// NewLedgerRepo creates a new LedgerRepo.
func NewLedgerRepo(pool Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// Insert appends an entry. A reused (owner_id, reference) returns ports.ErrConflict.
func (r *LedgerRepo) Insert(ctx context.Context, e *domain.LedgerEntry) error {
	query := `INSERT INTO ledger_entries (` + ledgerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := r.pool.Exec(ctx, query,
		e.ID, e.OwnerID, e.FamilyID, e.Kind, e.Asset, e.Amount, e.ReferenceValue, e.ReferenceCurrency,
		e.Description, e.Counterparty, e.Reference, e.Status, e.ChainTxHash, e.FeeTxHash, e.Internal, e.Note,
		e.CreatedAt, e.FinalizedAt,
	)
	if err != nil {
		return conflictOr("insert ledger entry", err)
	}
	return nil
}

// Get fetches an entry by ID.
func (r *LedgerRepo) Get(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE id = $1`

	e, err := scanLedgerEntry(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return e, nil
}

// GetByReference fetches the owner's entry carrying an intent reference.
func (r *LedgerRepo) GetByReference(ctx context.Context, ownerID uuid.UUID, reference string) (*domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE owner_id = $1 AND reference = $2`

	e, err := scanLedgerEntry(r.pool.QueryRow(ctx, query, ownerID, reference))
	if err != nil {
		return nil, fmt.Errorf("get ledger entry by reference: %w", err)
	}
	return e, nil
}

// Finalize moves a PENDING row to f.Status in a single guarded UPDATE. It
// returns nil when the row is missing or already terminal.
func (r *LedgerRepo) Finalize(ctx context.Context, id uuid.UUID, f domain.Finalization, at time.Time) (*domain.LedgerEntry, error) {
	query := `UPDATE ledger_entries SET
			status = $2,
			chain_tx_hash = COALESCE(NULLIF($3, ''), chain_tx_hash),
			fee_tx_hash = COALESCE(NULLIF($4, ''), fee_tx_hash),
			amount = COALESCE($5, amount),
			note = COALESCE(NULLIF($6, ''), note),
			finalized_at = $7
		WHERE id = $1 AND status = 'PENDING'
		RETURNING ` + ledgerColumns

	e, err := scanLedgerEntry(r.pool.QueryRow(ctx, query, id, f.Status, f.TxHash, f.FeeTxHash, f.Amount, f.Note, at))
	if err != nil {
		return nil, fmt.Errorf("finalize ledger entry: %w", err)
	}
	return e, nil
}

// AttachTxHash records the submitted hash on a PENDING row so the reconciler
// can find it. It reports false when the row is not PENDING.
func (r *LedgerRepo) AttachTxHash(ctx context.Context, id uuid.UUID, txHash string) (bool, error) {
	query := `UPDATE ledger_entries SET chain_tx_hash = $2 WHERE id = $1 AND status = 'PENDING'`

	tag, err := r.pool.Exec(ctx, query, id, txHash)
	if err != nil {
		return false, fmt.Errorf("attach tx hash: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// List fetches the owner's user-facing entries with filtering and pagination.
func (r *LedgerRepo) List(ctx context.Context, params ports.LedgerListParams) ([]domain.LedgerEntry, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("owner_id = $%d", argIdx), "NOT internal")
	args = append(args, params.OwnerID)
	argIdx++

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, *params.Kind)
		argIdx++
	}
	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= to_timestamp($%d)", argIdx))
		args = append(args, *params.From)
		argIdx++
	}
	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= to_timestamp($%d)", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_entries "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ledger entries: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM ledger_entries %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		ledgerColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	entries, err := r.query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, total, nil
}

// SumReferenceValue totals the reference value the owner spent in kind since
// the given time. Internal rows never count; every status does.
func (r *LedgerRepo) SumReferenceValue(ctx context.Context, ownerID uuid.UUID, kind domain.LedgerKind, since time.Time) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(reference_value), 0) FROM ledger_entries
		WHERE owner_id = $1 AND kind = $2 AND NOT internal AND created_at >= $3`

	var total decimal.Decimal
	if err := r.pool.QueryRow(ctx, query, ownerID, kind, since).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("sum reference value: %w", err)
	}
	return total, nil
}

// ListStalePending returns PENDING rows created before createdBefore, oldest first.
func (r *LedgerRepo) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries
		WHERE status = 'PENDING' AND created_at < $1 ORDER BY created_at LIMIT $2`

	entries, err := r.query(ctx, query, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending: %w", err)
	}
	return entries, nil
}

func (r *LedgerRepo) query(ctx context.Context, query string, args ...any) ([]domain.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return out, nil
}

func scanLedgerEntry(row rowScanner) (*domain.LedgerEntry, error) {
	e := &domain.LedgerEntry{}
	err := row.Scan(
		&e.ID, &e.OwnerID, &e.FamilyID, &e.Kind, &e.Asset, &e.Amount, &e.ReferenceValue, &e.ReferenceCurrency,
		&e.Description, &e.Counterparty, &e.Reference, &e.Status, &e.ChainTxHash, &e.FeeTxHash, &e.Internal, &e.Note,
		&e.CreatedAt, &e.FinalizedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}
