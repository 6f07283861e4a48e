package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/internal/core/ports/mocks"
	"custody-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type ledgerTestDeps struct {
	svc    *LedgerService
	repo   *mocks.MockLedgerRepository
	events *mocks.MockEventPublisher
	now    time.Time
}

func setupLedgerService(t *testing.T) *ledgerTestDeps {
	ctrl := gomock.NewController(t)
	d := &ledgerTestDeps{
		repo:   mocks.NewMockLedgerRepository(ctrl),
		events: mocks.NewMockEventPublisher(ctrl),
		now:    time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	d.svc = NewLedgerService(d.repo, d.events, newTestLogger())
	d.svc.now = func() time.Time { return d.now }
	return d
}

func TestLedgerService_Append_DefaultsToPending(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	owner := uuid.New()

	d.repo.EXPECT().Insert(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, e *domain.LedgerEntry) error {
		assert.Equal(t, domain.LedgerStatusPending, e.Status)
		assert.Nil(t, e.FinalizedAt)
		assert.Nil(t, e.ChainTxHash)
		require.NotNil(t, e.Reference)
		assert.Equal(t, "ref-1", *e.Reference)
		assert.Equal(t, d.now, e.CreatedAt)
		return nil
	})
	d.events.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, ev domain.LedgerEvent) error {
		assert.Equal(t, domain.LedgerEventAppended, ev.Type)
		assert.Equal(t, "-5", ev.Amount)
		return nil
	})

	id, err := d.svc.Append(ctx, domain.EntryDraft{
		OwnerID:   owner,
		Kind:      domain.LedgerKindTokenTransfer,
		Asset:     "USDC",
		Amount:    decimal.NewFromInt(-5),
		Reference: "ref-1",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
}

func TestLedgerService_Append_TerminalStatusStampsFinalizedAt(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()

	d.repo.EXPECT().Insert(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, e *domain.LedgerEntry) error {
		assert.Equal(t, domain.LedgerStatusSuccess, e.Status)
		require.NotNil(t, e.FinalizedAt)
		require.NotNil(t, e.ChainTxHash)
		return nil
	})
	d.events.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

	_, err := d.svc.Append(ctx, domain.EntryDraft{
		OwnerID:     uuid.New(),
		Kind:        domain.LedgerKindChoreReward,
		Asset:       "ETH",
		Amount:      decimal.RequireFromString("0.01"),
		Status:      domain.LedgerStatusSuccess,
		ChainTxHash: "0xabc",
	})
	require.NoError(t, err)
}

func TestLedgerService_Append_Validation(t *testing.T) {
	d := setupLedgerService(t)

	_, err := d.svc.Append(context.Background(), domain.EntryDraft{Kind: domain.LedgerKindDeposit, Asset: "ETH"})
	assert.True(t, apperror.HasCode(err, "PAY_002"))

	_, err = d.svc.Append(context.Background(), domain.EntryDraft{
		OwnerID: uuid.New(), Kind: domain.LedgerKindDeposit, Asset: "ETH", Status: "SETTLED",
	})
	assert.True(t, apperror.HasCode(err, "PAY_002"))
}

func TestLedgerService_Append_DuplicateReference(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	owner := uuid.New()
	existing := &domain.LedgerEntry{ID: uuid.New(), OwnerID: owner}

	d.repo.EXPECT().Insert(ctx, gomock.Any()).Return(ports.ErrConflict)
	d.repo.EXPECT().GetByReference(ctx, owner, "ref-1").Return(existing, nil)

	id, err := d.svc.Append(ctx, domain.EntryDraft{
		OwnerID: owner, Kind: domain.LedgerKindTokenTrade, Asset: "ETH", Reference: "ref-1",
	})
	assert.True(t, apperror.HasCode(err, "TXN_001"))
	assert.Equal(t, existing.ID, id)
}

func TestLedgerService_Append_PublishFailureIsBestEffort(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()

	d.repo.EXPECT().Insert(ctx, gomock.Any()).Return(nil)
	d.events.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

	_, err := d.svc.Append(ctx, domain.EntryDraft{OwnerID: uuid.New(), Kind: domain.LedgerKindDeposit, Asset: "ETH"})
	assert.NoError(t, err)
}

func TestLedgerService_Finalize(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	id := uuid.New()
	f := domain.Finalization{Status: domain.LedgerStatusSuccess, TxHash: "0x1"}

	d.repo.EXPECT().Finalize(ctx, id, f, d.now).Return(&domain.LedgerEntry{ID: id, Status: domain.LedgerStatusSuccess}, nil)
	d.events.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, ev domain.LedgerEvent) error {
		assert.Equal(t, domain.LedgerEventFinalized, ev.Type)
		assert.Equal(t, domain.LedgerStatusSuccess, ev.Status)
		return nil
	})

	require.NoError(t, d.svc.Finalize(ctx, id, f))
}

func TestLedgerService_Finalize_AlreadyTerminalIsNoop(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	id := uuid.New()
	f := domain.Finalization{Status: domain.LedgerStatusError}

	d.repo.EXPECT().Finalize(ctx, id, f, d.now).Return(nil, nil).Times(2)
	d.repo.EXPECT().Get(ctx, id).Return(&domain.LedgerEntry{ID: id, Status: domain.LedgerStatusSuccess}, nil).Times(2)

	require.NoError(t, d.svc.Finalize(ctx, id, f))
	require.NoError(t, d.svc.Finalize(ctx, id, f))
}

func TestLedgerService_Finalize_NotFound(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	id := uuid.New()
	f := domain.Finalization{Status: domain.LedgerStatusSuccess}

	d.repo.EXPECT().Finalize(ctx, id, f, d.now).Return(nil, nil)
	d.repo.EXPECT().Get(ctx, id).Return(nil, nil)

	err := d.svc.Finalize(ctx, id, f)
	assert.True(t, apperror.HasCode(err, "PAY_004"))
}

func TestLedgerService_Finalize_NonTerminalTarget(t *testing.T) {
	d := setupLedgerService(t)

	err := d.svc.Finalize(context.Background(), uuid.New(), domain.Finalization{Status: domain.LedgerStatusPending})
	assert.True(t, apperror.HasCode(err, "PAY_002"))
}

func TestLedgerService_AttachTxHash(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	id := uuid.New()

	d.repo.EXPECT().AttachTxHash(ctx, id, "0xaa").Return(true, nil)
	d.repo.EXPECT().AttachTxHash(ctx, id, "0xbb").Return(false, nil)

	assert.NoError(t, d.svc.AttachTxHash(ctx, id, "0xaa"))
	assert.NoError(t, d.svc.AttachTxHash(ctx, id, "0xbb"))
}

func TestLedgerService_List_ClampsPaging(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	owner := uuid.New()

	d.repo.EXPECT().List(ctx, ports.LedgerListParams{OwnerID: owner, Page: 1, PageSize: maxPageSize}).Return(nil, int64(0), nil)

	_, _, err := d.svc.List(ctx, ports.LedgerListParams{OwnerID: owner, Page: 0, PageSize: 1000})
	require.NoError(t, err)
}

func TestLedgerService_SpentSinceAndStale(t *testing.T) {
	d := setupLedgerService(t)
	ctx := context.Background()
	owner := uuid.New()
	since := d.now.Truncate(24 * time.Hour)

	d.repo.EXPECT().SumReferenceValue(ctx, owner, domain.LedgerKindTokenTrade, since).Return(decimal.NewFromInt(60), nil)
	d.repo.EXPECT().ListStalePending(ctx, d.now.Add(-10*time.Minute), 50).Return([]domain.LedgerEntry{{ID: uuid.New()}}, nil)

	total, err := d.svc.SpentSince(ctx, owner, domain.LedgerKindTokenTrade, since)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(60)))

	stale, err := d.svc.ListStalePending(ctx, 10*time.Minute, 50)
	require.NoError(t, err)
	assert.Len(t, stale, 1)
}
