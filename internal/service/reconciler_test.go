package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func pendingEntry(kind domain.LedgerKind, created time.Time, txHash string) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Kind:      kind,
		Asset:     "USDC",
		Amount:    decimal.NewFromInt(-1),
		Status:    domain.LedgerStatusPending,
		CreatedAt: created,
		ChainTxHash: func() *string {
			if txHash == "" {
				return nil
			}
			return &txHash
		}(),
	}
}

func TestReconciler_Run_FinalizesFromReceipts(t *testing.T) {
	ctx := context.Background()
	repo := newMemLedgerRepo()
	chain := newMemChain()
	ledger := NewLedgerService(repo, nil, newTestLogger())
	old := time.Now().UTC().Add(-time.Hour)

	mined := pendingEntry(domain.LedgerKindTokenTransfer, old, "0x01")
	reverted := pendingEntry(domain.LedgerKindTokenTransfer, old, "0x02")
	unknown := pendingEntry(domain.LedgerKindTokenTransfer, old, "0x03")
	noHash := pendingEntry(domain.LedgerKindTokenTransfer, old, "")
	swap := pendingEntry(domain.LedgerKindTokenTrade, old, "0x04")
	fresh := pendingEntry(domain.LedgerKindTokenTransfer, time.Now().UTC(), "0x05")
	for _, e := range []*domain.LedgerEntry{mined, reverted, unknown, noHash, swap, fresh} {
		require.NoError(t, repo.Insert(ctx, e))
	}
	chain.receipts["0x01"] = &ports.Receipt{TxHash: "0x01", Success: true}
	chain.receipts["0x02"] = &ports.Receipt{TxHash: "0x02", Success: false}
	chain.receipts["0x04"] = &ports.Receipt{TxHash: "0x04", Success: true}
	chain.receipts["0x05"] = &ports.Receipt{TxHash: "0x05", Success: true}

	rec := NewReconciler(ledger, chain, 10*time.Minute, 0, newTestLogger())
	n, err := rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	status := func(e *domain.LedgerEntry) domain.LedgerStatus {
		got, err := repo.Get(ctx, e.ID)
		require.NoError(t, err)
		return got.Status
	}
	assert.Equal(t, domain.LedgerStatusSuccess, status(mined))
	assert.Equal(t, domain.LedgerStatusError, status(reverted))
	assert.Equal(t, domain.LedgerStatusPartialFailure, status(unknown))
	assert.Equal(t, domain.LedgerStatusPartialFailure, status(noHash))
	assert.Equal(t, domain.LedgerStatusSuccess, status(swap))
	assert.Equal(t, domain.LedgerStatusPending, status(fresh), "not yet stale")

	got, err := repo.Get(ctx, swap.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Note)
	assert.Contains(t, *got.Note, "swap output not measured")

	// nothing left to do on a second pass
	n, err = rec.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconciler_Run_ReceiptErrorIsRetriedLater(t *testing.T) {
	ctrl := gomock.NewController(t)
	ledger := mocks.NewMockLedger(ctrl)
	chain := mocks.NewMockChainClient(ctrl)
	e := pendingEntry(domain.LedgerKindTokenTransfer, time.Now(), "0xaa")

	ledger.EXPECT().ListStalePending(gomock.Any(), 5*time.Minute, 10).Return([]domain.LedgerEntry{*e}, nil)
	chain.EXPECT().ReceiptOf(gomock.Any(), "0xaa").Return(nil, errors.New("rpc timeout"))

	rec := NewReconciler(ledger, chain, 5*time.Minute, 10, newTestLogger())
	n, err := rec.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconciler_Run_ListError(t *testing.T) {
	ctrl := gomock.NewController(t)
	ledger := mocks.NewMockLedger(ctrl)
	ledger.EXPECT().ListStalePending(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("db down"))

	_, err := NewReconciler(ledger, mocks.NewMockChainClient(ctrl), time.Minute, 0, newTestLogger()).Run(context.Background())
	require.Error(t, err)
}

func TestReconcileScheduler_RejectsBadSchedule(t *testing.T) {
	rec := NewReconciler(nil, nil, time.Minute, 0, newTestLogger())
	s := NewReconcileScheduler(rec, "not a schedule", time.Second, newTestLogger())
	require.Error(t, s.Start())
}

func TestReconcileScheduler_StartStop(t *testing.T) {
	rec := NewReconciler(nil, nil, time.Minute, 0, newTestLogger())
	s := NewReconcileScheduler(rec, "@every 1h", time.Second, newTestLogger())
	require.NoError(t, s.Start())
	<-s.Stop().Done()
}
