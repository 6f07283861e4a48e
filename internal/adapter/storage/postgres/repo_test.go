package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// ---- WalletSecretRepo ----

func newTestSecret(ownerID uuid.UUID, version int) *domain.WalletSecret {
	return &domain.WalletSecret{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		Address:         "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		Version:         version,
		EncryptedSecret: "bm9uY2V8fGNpcGhlcnRleHQ=",
		WrappedDEK:      "d3JhcHBlZA==",
		KeyName:         "projects/p/locations/l/keyRings/r/cryptoKeys/k",
		Current:         true,
		CreatedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}
}

func secretColumns() []string {
	return []string{"id", "owner_id", "address", "version", "encrypted_secret", "wrapped_dek", "key_name", "is_current", "created_at", "archived_at"}
}

func secretRow(rows *pgxmock.Rows, s *domain.WalletSecret) *pgxmock.Rows {
	return rows.AddRow(s.ID, s.OwnerID, s.Address, s.Version, s.EncryptedSecret,
		s.WrappedDEK, s.KeyName, s.Current, s.CreatedAt, s.ArchivedAt)
}

func TestWalletSecretRepo_OwnerExists(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ownerID := uuid.New()
	mock.ExpectQuery("SELECT EXISTS").WithArgs(ownerID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := NewWalletSecretRepo(mock).OwnerExists(context.Background(), ownerID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletSecretRepo_GetCurrent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := newTestSecret(uuid.New(), 2)
	mock.ExpectQuery("SELECT .+ FROM wallet_secrets WHERE owner_id = \\$1 AND is_current").
		WithArgs(s.OwnerID).
		WillReturnRows(secretRow(pgxmock.NewRows(secretColumns()), s))

	got, err := NewWalletSecretRepo(mock).GetCurrent(context.Background(), s.OwnerID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, s.WrappedDEK, got.WrappedDEK)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletSecretRepo_GetCurrent_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ownerID := uuid.New()
	mock.ExpectQuery("SELECT .+ FROM wallet_secrets").WithArgs(ownerID).
		WillReturnRows(pgxmock.NewRows(secretColumns()))

	got, err := NewWalletSecretRepo(mock).GetCurrent(context.Background(), ownerID)
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletSecretRepo_RotateInTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletSecretRepo(mock)
	old := newTestSecret(uuid.New(), 1)
	next := newTestSecret(old.OwnerID, 2)
	at := time.Now().UTC().Truncate(time.Microsecond)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM wallet_secrets WHERE owner_id = \\$1 AND is_current FOR UPDATE").
		WithArgs(old.OwnerID).
		WillReturnRows(secretRow(pgxmock.NewRows(secretColumns()), old))
	mock.ExpectExec("UPDATE wallet_secrets SET is_current = FALSE").
		WithArgs(at, old.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO wallet_secrets").
		WithArgs(next.ID, next.OwnerID, next.Address, next.Version, next.EncryptedSecret,
			next.WrappedDEK, next.KeyName, next.Current, next.CreatedAt, next.ArchivedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := NewTransactor(mock).Begin(ctx)
	require.NoError(t, err)
	locked, err := repo.GetCurrentForUpdate(ctx, tx, old.OwnerID)
	require.NoError(t, err)
	require.NotNil(t, locked)
	require.NoError(t, repo.Archive(ctx, tx, locked.ID, at))
	require.NoError(t, repo.Insert(ctx, tx, next))
	require.NoError(t, tx.Commit(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletSecretRepo_Insert_Conflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := newTestSecret(uuid.New(), 1)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO wallet_secrets").
		WithArgs(s.ID, s.OwnerID, s.Address, s.Version, s.EncryptedSecret,
			s.WrappedDEK, s.KeyName, s.Current, s.CreatedAt, s.ArchivedAt).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "wallet_secrets_one_current"})

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)
	err = NewWalletSecretRepo(mock).Insert(context.Background(), tx, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletSecretRepo_Archive_NotCurrent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE wallet_secrets").WithArgs(pgxmock.AnyArg(), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)
	err = NewWalletSecretRepo(mock).Archive(context.Background(), tx, id, time.Now())
	assert.Error(t, err)
}

func TestWalletSecretRepo_ListVersions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ownerID := uuid.New()
	v2 := newTestSecret(ownerID, 2)
	v1 := newTestSecret(ownerID, 1)
	v1.Current = false
	archived := v2.CreatedAt
	v1.ArchivedAt = &archived

	rows := pgxmock.NewRows(secretColumns())
	secretRow(rows, v2)
	secretRow(rows, v1)
	mock.ExpectQuery("SELECT .+ FROM wallet_secrets WHERE owner_id = \\$1 ORDER BY version DESC").
		WithArgs(ownerID).WillReturnRows(rows)

	got, err := NewWalletSecretRepo(mock).ListVersions(context.Background(), ownerID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Version)
	assert.False(t, got[1].Current)
	require.NotNil(t, got[1].ArchivedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---- PolicyRepo ----

func policyColumnNames() []string {
	return []string{"dependent_id", "family_id", "guardian_id", "reference_currency",
		"trading_enabled", "nft_trading_enabled", "gift_cards_enabled", "transfers_enabled",
		"max_trade_value", "max_transfer_value", "max_gift_card_value", "max_nft_value",
		"daily_trade_limit", "daily_transfer_limit", "daily_gift_card_limit", "daily_nft_limit",
		"allowed_assets", "allowed_counterparties", "allowed_gift_card_categories", "allowed_nft_collections",
		"updated_at"}
}

func newTestPolicy() *domain.SpendingPolicy {
	return &domain.SpendingPolicy{
		DependentID:       uuid.New(),
		FamilyID:          uuid.New(),
		GuardianID:        uuid.New(),
		ReferenceCurrency: "USD",
		TradingEnabled:    true,
		TransfersEnabled:  true,
		MaxTradeValue:     decPtr("50"),
		DailyTradeLimit:   decPtr("100"),
		AllowedAssets:     []string{"USDC", "ETH"},
		UpdatedAt:         time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestPolicyRepo_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	p := newTestPolicy()
	mock.ExpectQuery("SELECT .+ FROM spending_policies WHERE dependent_id").
		WithArgs(p.DependentID).
		WillReturnRows(pgxmock.NewRows(policyColumnNames()).AddRow(
			p.DependentID, p.FamilyID, p.GuardianID, p.ReferenceCurrency,
			p.TradingEnabled, p.NFTTradingEnabled, p.GiftCardsEnabled, p.TransfersEnabled,
			p.MaxTradeValue, p.MaxTransferValue, p.MaxGiftCardValue, p.MaxNFTValue,
			p.DailyTradeLimit, p.DailyTransferLimit, p.DailyGiftCardLimit, p.DailyNFTLimit,
			p.AllowedAssets, []string{}, []string{}, []string{},
			p.UpdatedAt,
		))

	got, err := NewPolicyRepo(mock).Get(context.Background(), p.DependentID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.TradingEnabled)
	require.NotNil(t, got.DailyTradeLimit)
	assert.True(t, got.DailyTradeLimit.Equal(decimal.NewFromInt(100)))
	assert.Nil(t, got.MaxNFTValue)
	assert.Equal(t, []string{"USDC", "ETH"}, got.AllowedAssets)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPolicyRepo_Get_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("SELECT .+ FROM spending_policies").WithArgs(id).
		WillReturnRows(pgxmock.NewRows(policyColumnNames()))

	got, err := NewPolicyRepo(mock).Get(context.Background(), id)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestPolicyRepo_Upsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	p := newTestPolicy()
	mock.ExpectExec("INSERT INTO spending_policies .+ ON CONFLICT \\(dependent_id\\) DO UPDATE").
		WithArgs(
			p.DependentID, p.FamilyID, p.GuardianID, p.ReferenceCurrency,
			p.TradingEnabled, p.NFTTradingEnabled, p.GiftCardsEnabled, p.TransfersEnabled,
			p.MaxTradeValue, p.MaxTransferValue, p.MaxGiftCardValue, p.MaxNFTValue,
			p.DailyTradeLimit, p.DailyTransferLimit, p.DailyGiftCardLimit, p.DailyNFTLimit,
			[]string{"USDC", "ETH"}, []string{}, []string{}, []string{},
			p.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewPolicyRepo(mock).Upsert(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---- LedgerRepo ----

func ledgerColumnNames() []string {
	return []string{"id", "owner_id", "family_id", "kind", "asset", "amount", "reference_value", "reference_currency",
		"description", "counterparty", "reference", "status", "chain_tx_hash", "fee_tx_hash", "internal", "note",
		"created_at", "finalized_at"}
}

func newTestEntry(ownerID uuid.UUID) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		ID:                uuid.New(),
		OwnerID:           ownerID,
		FamilyID:          uuid.New(),
		Kind:              domain.LedgerKindTokenTransfer,
		Asset:             "USDC",
		Amount:            decimal.RequireFromString("-12.5"),
		ReferenceValue:    decimal.RequireFromString("12.5"),
		ReferenceCurrency: "USD",
		Description:       "Transfer 12.5 USDC",
		Counterparty:      "0x00000000000000000000000000000000000000d1",
		Reference:         strPtr("ref-1"),
		Status:            domain.LedgerStatusPending,
		CreatedAt:         time.Now().UTC().Truncate(time.Microsecond),
	}
}

func entryRow(rows *pgxmock.Rows, e *domain.LedgerEntry) *pgxmock.Rows {
	return rows.AddRow(
		e.ID, e.OwnerID, e.FamilyID, e.Kind, e.Asset, e.Amount, e.ReferenceValue, e.ReferenceCurrency,
		e.Description, e.Counterparty, e.Reference, e.Status, e.ChainTxHash, e.FeeTxHash, e.Internal, e.Note,
		e.CreatedAt, e.FinalizedAt,
	)
}

func TestLedgerRepo_Insert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	e := newTestEntry(uuid.New())
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs(
			e.ID, e.OwnerID, e.FamilyID, e.Kind, e.Asset, e.Amount, e.ReferenceValue, e.ReferenceCurrency,
			e.Description, e.Counterparty, e.Reference, e.Status, e.ChainTxHash, e.FeeTxHash, e.Internal, e.Note,
			e.CreatedAt, e.FinalizedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewLedgerRepo(mock).Insert(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_Insert_DuplicateReference(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs(anyArgs(18)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "ledger_entries_owner_reference"})

	err = NewLedgerRepo(mock).Insert(context.Background(), newTestEntry(uuid.New()))
	assert.ErrorIs(t, err, ports.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_Insert_OtherError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO ledger_entries").WithArgs(anyArgs(18)...).WillReturnError(errors.New("connection reset"))

	err = NewLedgerRepo(mock).Insert(context.Background(), newTestEntry(uuid.New()))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ports.ErrConflict)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestLedgerRepo_GetByReference(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	e := newTestEntry(uuid.New())
	mock.ExpectQuery("SELECT .+ FROM ledger_entries WHERE owner_id = \\$1 AND reference = \\$2").
		WithArgs(e.OwnerID, "ref-1").
		WillReturnRows(entryRow(pgxmock.NewRows(ledgerColumnNames()), e))

	got, err := NewLedgerRepo(mock).GetByReference(context.Background(), e.OwnerID, "ref-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e.ID, got.ID)
	assert.True(t, got.Amount.Equal(e.Amount))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_Finalize(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	e := newTestEntry(uuid.New())
	at := time.Now().UTC().Truncate(time.Microsecond)
	net := decimal.RequireFromString("98")
	f := domain.Finalization{Status: domain.LedgerStatusSuccess, TxHash: "0xabc", FeeTxHash: "0xfee", Amount: &net}

	done := *e
	done.Status = domain.LedgerStatusSuccess
	done.ChainTxHash = strPtr("0xabc")
	done.FeeTxHash = strPtr("0xfee")
	done.Amount = net
	done.FinalizedAt = &at

	mock.ExpectQuery("UPDATE ledger_entries SET .+ WHERE id = \\$1 AND status = 'PENDING' RETURNING").
		WithArgs(e.ID, f.Status, "0xabc", "0xfee", &net, "", at).
		WillReturnRows(entryRow(pgxmock.NewRows(ledgerColumnNames()), &done))

	got, err := NewLedgerRepo(mock).Finalize(context.Background(), e.ID, f, at)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.LedgerStatusSuccess, got.Status)
	assert.Equal(t, "0xfee", *got.FeeTxHash)
	assert.True(t, got.Amount.Equal(net))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_Finalize_NotPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("UPDATE ledger_entries").
		WithArgs(id, domain.LedgerStatusError, "", "", pgxmock.AnyArg(), "boom", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(ledgerColumnNames()))

	got, err := NewLedgerRepo(mock).Finalize(context.Background(), id,
		domain.Finalization{Status: domain.LedgerStatusError, Note: "boom"}, time.Now())
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestLedgerRepo_AttachTxHash(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	pending, terminal := uuid.New(), uuid.New()
	mock.ExpectExec("UPDATE ledger_entries SET chain_tx_hash").WithArgs(pending, "0x1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE ledger_entries SET chain_tx_hash").WithArgs(terminal, "0x2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := repo.AttachTxHash(context.Background(), pending, "0x1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.AttachTxHash(context.Background(), terminal, "0x2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ownerID := uuid.New()
	e := newTestEntry(ownerID)
	status := domain.LedgerStatusPending
	from := time.Now().Add(-time.Hour).Unix()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM ledger_entries WHERE owner_id = \\$1 AND NOT internal AND status = \\$2 AND created_at >= to_timestamp\\(\\$3\\)").
		WithArgs(ownerID, status, from).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(21)))
	mock.ExpectQuery("SELECT .+ FROM ledger_entries WHERE .+ ORDER BY created_at DESC LIMIT \\$4 OFFSET \\$5").
		WithArgs(ownerID, status, from, 20, 20).
		WillReturnRows(entryRow(pgxmock.NewRows(ledgerColumnNames()), e))

	entries, total, err := NewLedgerRepo(mock).List(context.Background(), ports.LedgerListParams{
		OwnerID: ownerID, Status: &status, From: &from, Page: 2, PageSize: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(21), total)
	require.Len(t, entries, 1)
	assert.Equal(t, e.ID, entries[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_SumReferenceValue(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ownerID := uuid.New()
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(reference_value\\), 0\\) FROM ledger_entries WHERE owner_id = \\$1 AND kind = \\$2 AND NOT internal").
		WithArgs(ownerID, domain.LedgerKindTokenTrade, since).
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(decimal.NewFromInt(120)))

	total, err := NewLedgerRepo(mock).SumReferenceValue(context.Background(), ownerID, domain.LedgerKindTokenTrade, since)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(120)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_ListStalePending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cutoff := time.Now().UTC().Add(-10 * time.Minute)
	a, b := newTestEntry(uuid.New()), newTestEntry(uuid.New())
	rows := pgxmock.NewRows(ledgerColumnNames())
	entryRow(rows, a)
	entryRow(rows, b)
	mock.ExpectQuery("SELECT .+ FROM ledger_entries\\s+WHERE status = 'PENDING' AND created_at < \\$1 ORDER BY created_at LIMIT \\$2").
		WithArgs(cutoff, 50).
		WillReturnRows(rows)

	got, err := NewLedgerRepo(mock).ListStalePending(context.Background(), cutoff, 50)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---- AuditRepo, HealthCheck ----

func TestAuditRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	log := domain.NewAuditLog(uuid.New(), domain.AuditActionSecretAccess, "wallet_secret", "v1", "purpose=transfer")
	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(log.ID, log.OwnerID, "SECRET_ACCESS", "wallet_secret", "v1", "purpose=transfer", log.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewAuditRepo(mock).Create(context.Background(), log))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthCheck(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("SELECT 1").WillReturnResult(pgxmock.NewResult("SELECT", 1))

	h := NewHealthCheck(mock)
	assert.Equal(t, "postgresql", h.Name())
	assert.NoError(t, h.Ping(context.Background()))
}

func TestTransactor_BeginError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	_, err = NewTransactor(mock).Begin(context.Background())
	assert.Error(t, err)
}
