package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// GasRelayConfig bounds relay top-ups. Amounts are in native base units.
type GasRelayConfig struct {
	TopUpAmount    *big.Int
	MaxTopUp       *big.Int // nil means uncapped
	ConfirmTimeout time.Duration
}

// GasRelayService implements ports.GasRelay by moving native funds from a
// funding wallet (normally the guardian's) to the signing wallet.
type GasRelayService struct {
	chain   ports.ChainClient
	custody ports.KeyCustody
	locker  ports.SignerLocker
	ledger  ports.Ledger
	audit   ports.AuditService
	native  domain.Asset
	cfg     GasRelayConfig
	log     zerolog.Logger
}

// NewGasRelayService creates a new GasRelayService.
func NewGasRelayService(
	chain ports.ChainClient,
	custody ports.KeyCustody,
	locker ports.SignerLocker,
	ledger ports.Ledger,
	audit ports.AuditService,
	native domain.Asset,
	cfg GasRelayConfig,
	log zerolog.Logger,
) *GasRelayService {
	if cfg.TopUpAmount == nil {
		cfg.TopUpAmount = new(big.Int)
	}
	return &GasRelayService{
		chain:   chain,
		custody: custody,
		locker:  locker,
		ledger:  ledger,
		audit:   audit,
		native:  native,
		cfg:     cfg,
		log:     log,
	}
}

// EnsureFeeBalance tops up signer when its native balance is below
// minimumRequired. The caller already holds the signer's lock; this method
// only locks the funder. Any error is fatal to the enclosing intent.
func (s *GasRelayService) EnsureFeeBalance(ctx context.Context, signer common.Address, funderID uuid.UUID, minimumRequired *big.Int) (*domain.TopUp, error) {
	balance, err := s.chain.NativeBalance(ctx, signer)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(minimumRequired) >= 0 {
		return nil, nil
	}

	deficit := new(big.Int).Sub(minimumRequired, balance)
	if s.cfg.MaxTopUp != nil && deficit.Cmp(s.cfg.MaxTopUp) > 0 {
		return nil, apperror.ErrTopUpExceedsCap()
	}
	amount := new(big.Int).Set(s.cfg.TopUpAmount)
	if deficit.Cmp(amount) > 0 {
		amount.Set(deficit)
	}
	if s.cfg.MaxTopUp != nil && amount.Cmp(s.cfg.MaxTopUp) > 0 {
		amount.Set(s.cfg.MaxTopUp)
	}

	funder, err := s.custody.Address(ctx, funderID)
	if err != nil {
		return nil, err
	}
	if funder == signer {
		return nil, apperror.ErrInsufficientRelayFunds()
	}

	unlock, err := s.locker.Lock(ctx, funder.Hex())
	if err != nil {
		return nil, err
	}
	defer unlock()

	key, err := s.custody.GetDecryptedSecret(ctx, funderID, "gas_topup")
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	fee, err := s.chain.FeeEstimate(ctx, 1)
	if err != nil {
		return nil, err
	}
	// re-read under the funder lock; another intent may have spent from it
	funderBalance, err := s.chain.NativeBalance(ctx, funder)
	if err != nil {
		return nil, err
	}
	if funderBalance.Cmp(new(big.Int).Add(amount, fee)) < 0 {
		s.log.Warn().
			Str("funder", funder.Hex()).
			Str("balance", funderBalance.String()).
			Str("needed", new(big.Int).Add(amount, fee).String()).
			Msg("funding wallet cannot cover gas top-up")
		return nil, apperror.ErrInsufficientRelayFunds()
	}

	txHash, err := s.chain.SendNative(ctx, key, signer, amount)
	if err != nil {
		return nil, err
	}

	status := domain.LedgerStatusSuccess
	receipt, waitErr := s.chain.WaitForReceipt(ctx, txHash, s.cfg.ConfirmTimeout)
	switch {
	case waitErr != nil:
		status = domain.LedgerStatusPartialFailure
	case !receipt.Success:
		status = domain.LedgerStatusError
		waitErr = apperror.ErrChainSubmissionFailed(fmt.Errorf("gas top-up %s reverted", txHash))
	}

	persistCtx := context.WithoutCancel(ctx)
	entryID, err := s.ledger.Append(persistCtx, domain.EntryDraft{
		OwnerID:      funderID,
		Kind:         domain.LedgerKindGasTopUp,
		Asset:        s.native.Symbol,
		Amount:       s.native.FromBaseUnits(amount).Neg(),
		Description:  "gas top-up",
		Counterparty: signer.Hex(),
		Internal:     true,
		Status:       status,
		ChainTxHash:  txHash,
	})
	if err != nil {
		s.log.Error().Err(err).Str("tx_hash", txHash).Msg("failed to record gas top-up")
	}

	if s.audit != nil {
		details, _ := json.Marshal(map[string]string{
			"signer": signer.Hex(), "amount": amount.String(), "tx_hash": txHash, "status": string(status),
		})
		s.audit.Log(persistCtx, domain.NewAuditLog(funderID, domain.AuditActionGasTopUp, "ledger_entry", entryID.String(), string(details)))
	}

	if waitErr != nil {
		return nil, waitErr
	}

	s.log.Info().
		Str("signer", signer.Hex()).
		Str("funder", funder.Hex()).
		Str("amount", amount.String()).
		Str("tx_hash", txHash).
		Msg("gas top-up confirmed")

	return &domain.TopUp{FunderID: funderID, TxHash: txHash, Amount: amount, EntryID: entryID}, nil
}
