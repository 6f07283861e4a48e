package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// LedgerService implements ports.Ledger.
type LedgerService struct {
	repo   ports.LedgerRepository
	events ports.EventPublisher
	log    zerolog.Logger
	now    func() time.Time
}

// NewLedgerService creates a new LedgerService. events may be nil.
func NewLedgerService(repo ports.LedgerRepository, events ports.EventPublisher, log zerolog.Logger) *LedgerService {
	return &LedgerService{repo: repo, events: events, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Append records a new entry. No policy validation happens here. A reused
// (owner, reference) pair yields TXN_001 naming the existing entry.
func (s *LedgerService) Append(ctx context.Context, draft domain.EntryDraft) (uuid.UUID, error) {
	if draft.OwnerID == uuid.Nil || draft.Kind == "" || draft.Asset == "" {
		return uuid.Nil, apperror.Validation("ledger entry requires owner, kind and asset")
	}
	status := draft.Status
	if status == "" {
		status = domain.LedgerStatusPending
	}
	if status != domain.LedgerStatusPending && !status.IsTerminal() {
		return uuid.Nil, apperror.Validation(fmt.Sprintf("unknown ledger status %q", status))
	}

	now := s.now()
	entry := &domain.LedgerEntry{
		ID:                uuid.New(),
		OwnerID:           draft.OwnerID,
		FamilyID:          draft.FamilyID,
		Kind:              draft.Kind,
		Asset:             draft.Asset,
		Amount:            draft.Amount,
		ReferenceValue:    draft.ReferenceValue,
		ReferenceCurrency: draft.ReferenceCurrency,
		Description:       draft.Description,
		Counterparty:      draft.Counterparty,
		Reference:         optional(draft.Reference),
		Status:            status,
		ChainTxHash:       optional(draft.ChainTxHash),
		Internal:          draft.Internal,
		CreatedAt:         now,
	}
	if status.IsTerminal() {
		entry.FinalizedAt = &now
	}

	if err := s.repo.Insert(ctx, entry); err != nil {
		if errors.Is(err, ports.ErrConflict) && draft.Reference != "" {
			existing, getErr := s.repo.GetByReference(ctx, draft.OwnerID, draft.Reference)
			if getErr == nil && existing != nil {
				return existing.ID, apperror.ErrDuplicateIntent(existing.ID)
			}
		}
		return uuid.Nil, apperror.ErrDatabaseError(fmt.Errorf("insert ledger entry: %w", err))
	}

	s.log.Info().
		Str("entry_id", entry.ID.String()).
		Str("owner_id", entry.OwnerID.String()).
		Str("kind", string(entry.Kind)).
		Str("status", string(entry.Status)).
		Str("amount", entry.Amount.String()).
		Str("asset", entry.Asset).
		Msg("ledger entry appended")
	s.publish(ctx, domain.LedgerEventAppended, entry)

	return entry.ID, nil
}

// Finalize moves a PENDING entry to a terminal status. Finalizing an entry
// that is already terminal is a logged no-op.
func (s *LedgerService) Finalize(ctx context.Context, id uuid.UUID, f domain.Finalization) error {
	if !f.Status.IsTerminal() {
		return apperror.Validation(fmt.Sprintf("cannot finalize to non-terminal status %q", f.Status))
	}

	entry, err := s.repo.Finalize(ctx, id, f, s.now())
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("finalize ledger entry: %w", err))
	}
	if entry == nil {
		existing, err := s.repo.Get(ctx, id)
		if err != nil {
			return apperror.ErrDatabaseError(fmt.Errorf("get ledger entry: %w", err))
		}
		if existing == nil {
			return apperror.ErrNotFound("ledger entry")
		}
		s.log.Warn().
			Str("entry_id", id.String()).
			Str("current_status", string(existing.Status)).
			Str("requested_status", string(f.Status)).
			Msg("ledger entry already finalized, ignoring")
		return nil
	}

	s.log.Info().
		Str("entry_id", id.String()).
		Str("status", string(entry.Status)).
		Str("tx_hash", f.TxHash).
		Msg("ledger entry finalized")
	s.publish(ctx, domain.LedgerEventFinalized, entry)
	return nil
}

// AttachTxHash records the hash of a submitted transaction on a PENDING entry.
func (s *LedgerService) AttachTxHash(ctx context.Context, id uuid.UUID, txHash string) error {
	ok, err := s.repo.AttachTxHash(ctx, id, txHash)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("attach tx hash: %w", err))
	}
	if !ok {
		s.log.Warn().Str("entry_id", id.String()).Str("tx_hash", txHash).Msg("tx hash not attached, entry missing or not pending")
	}
	return nil
}

// Get returns an entry by ID.
func (s *LedgerService) Get(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get ledger entry: %w", err))
	}
	if entry == nil {
		return nil, apperror.ErrNotFound("ledger entry")
	}
	return entry, nil
}

// FindByReference returns the owner's entry for an intent reference, or nil.
func (s *LedgerService) FindByReference(ctx context.Context, ownerID uuid.UUID, reference string) (*domain.LedgerEntry, error) {
	entry, err := s.repo.GetByReference(ctx, ownerID, reference)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get ledger entry by reference: %w", err))
	}
	return entry, nil
}

// List returns the owner's user-facing entries, newest first.
func (s *LedgerService) List(ctx context.Context, params ports.LedgerListParams) ([]domain.LedgerEntry, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = defaultPageSize
	}
	if params.PageSize > maxPageSize {
		params.PageSize = maxPageSize
	}
	entries, total, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.ErrDatabaseError(fmt.Errorf("list ledger entries: %w", err))
	}
	return entries, total, nil
}

// SpentSince sums reference value of the owner's non-internal entries of kind
// created at or after since. Entries count in every status.
func (s *LedgerService) SpentSince(ctx context.Context, ownerID uuid.UUID, kind domain.LedgerKind, since time.Time) (decimal.Decimal, error) {
	total, err := s.repo.SumReferenceValue(ctx, ownerID, kind, since)
	if err != nil {
		return decimal.Zero, apperror.ErrDatabaseError(fmt.Errorf("sum spending: %w", err))
	}
	return total, nil
}

// ListStalePending returns entries still PENDING after olderThan.
func (s *LedgerService) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]domain.LedgerEntry, error) {
	entries, err := s.repo.ListStalePending(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("list stale pending: %w", err))
	}
	return entries, nil
}

func (s *LedgerService) publish(ctx context.Context, eventType string, entry *domain.LedgerEntry) {
	if s.events == nil {
		return
	}
	ev := domain.LedgerEvent{
		Type:      eventType,
		EntryID:   entry.ID,
		OwnerID:   entry.OwnerID,
		FamilyID:  entry.FamilyID,
		Kind:      entry.Kind,
		Status:    entry.Status,
		Asset:     entry.Asset,
		Amount:    entry.Amount.String(),
		Timestamp: s.now(),
	}
	if entry.ChainTxHash != nil {
		ev.TxHash = *entry.ChainTxHash
	}
	if err := s.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Warn().Err(err).Str("entry_id", entry.ID.String()).Str("event", eventType).Msg("failed to publish ledger event")
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
