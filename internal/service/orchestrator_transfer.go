package service

import (
	"context"
	"math/big"

	"custody-engine/internal/core/domain"
	"custody-engine/pkg/apperror"

	"github.com/ethereum/go-ethereum/common"
)

// Transfer sends a native or token amount to an address or to another
// custodied account.
func (s *OrchestratorService) Transfer(ctx context.Context, in domain.TransferIntent) (*domain.Outcome, error) {
	if !in.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	asset, err := s.asset(in.Asset)
	if err != nil {
		return nil, err
	}
	amount := asset.ToBaseUnits(in.Amount)
	if notPositive(amount) {
		return nil, apperror.ErrInvalidAmount()
	}
	to, err := s.recipient(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := s.checkDuplicate(ctx, in.OwnerID, in.Reference); err != nil {
		return nil, err
	}

	p := s.begin(in.OwnerID, "transfer")
	var decision domain.Decision
	key, release, err := s.acquireSigner(ctx, in.OwnerID, "transfer", s.authorizeUnder(ctx, p, in.IntentBase, domain.Action{
		Category:     domain.CategoryTransfer,
		Asset:        asset.Symbol,
		Amount:       in.Amount,
		Counterparty: to.Hex(),
	}, &decision))
	if err != nil {
		return nil, err
	}
	defer release()
	p.advance(domain.StageSecretResolved)

	balance, err := s.balanceOf(ctx, asset, key.Address())
	if err != nil {
		return nil, err
	}
	if balance.Cmp(amount) < 0 {
		return nil, apperror.ErrInsufficientFunds()
	}
	extra := new(big.Int)
	if asset.Native {
		extra.Set(amount)
	}
	topUp, err := s.ensureGas(ctx, key.Address(), in.GuardianID, extra, 1)
	if err != nil {
		return nil, err
	}
	p.advance(domain.StageGasEnsured)

	recorded := asset.FromBaseUnits(amount)
	entryID, err := s.ledger.Append(ctx, domain.EntryDraft{
		OwnerID:           in.OwnerID,
		FamilyID:          in.FamilyID,
		Kind:              domain.LedgerKindTokenTransfer,
		Asset:             asset.Symbol,
		Amount:            recorded.Neg(),
		ReferenceValue:    decision.Value,
		ReferenceCurrency: decision.ReferenceCurrency,
		Description:       in.Description,
		Counterparty:      to.Hex(),
		Reference:         in.Reference,
	})
	if err != nil {
		return nil, err
	}
	p.recorded(entryID)
	s.remember(ctx, in.OwnerID, in.Reference, entryID)

	txHash, err := s.submitAndConfirm(ctx, p, func() (string, error) {
		if asset.Native {
			return s.chain.SendNative(ctx, key, to, amount)
		}
		return s.chain.TransferToken(ctx, key, asset.Contract, to, amount)
	})
	if err != nil {
		return nil, err
	}

	return &domain.Outcome{
		EntryID: entryID,
		Status:  domain.LedgerStatusSuccess,
		Stage:   p.stage,
		TxHash:  txHash,
		Asset:   asset.Symbol,
		Amount:  recorded,
		TopUp:   topUp,
	}, nil
}

// recipient resolves the transfer destination. A custodied recipient account
// takes precedence over a raw address.
func (s *OrchestratorService) recipient(ctx context.Context, in domain.TransferIntent) (common.Address, error) {
	if in.RecipientID != nil {
		if *in.RecipientID == in.OwnerID {
			return common.Address{}, apperror.Validation("cannot transfer to self")
		}
		return s.custody.Address(ctx, *in.RecipientID)
	}
	if !common.IsHexAddress(in.RecipientAddress) {
		return common.Address{}, apperror.Validation("recipient address is not a valid hex address")
	}
	to := common.HexToAddress(in.RecipientAddress)
	if to == (common.Address{}) {
		return common.Address{}, apperror.Validation("recipient address must not be the zero address")
	}
	return to, nil
}
