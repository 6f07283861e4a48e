package service

import (
	"context"
	"math/big"
	"strings"

	"custody-engine/internal/core/domain"
	"custody-engine/pkg/apperror"

	"github.com/google/uuid"
)

// PayReward pays a dependent from the guardian wallet for an upstream event
// that has already been validated. The chain leg runs first; the dependent's
// entry is then written with a status reflecting it. Rewards are not
// policy-bound and the guardian pays its own gas.
func (s *OrchestratorService) PayReward(ctx context.Context, in domain.RewardIntent) (*domain.Outcome, error) {
	if in.Kind != domain.LedgerKindAllowance && in.Kind != domain.LedgerKindChoreReward {
		return nil, apperror.Validation("reward kind must be ALLOWANCE or CHORE_REWARD")
	}
	if strings.TrimSpace(in.EventRef) == "" {
		return nil, apperror.Validation("event reference is required")
	}
	if in.GuardianID == uuid.Nil || in.DependentID == uuid.Nil || in.GuardianID == in.DependentID {
		return nil, apperror.Validation("reward requires distinct guardian and dependent")
	}
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
	reference := "reward:" + in.EventRef

	to, err := s.custody.Address(ctx, in.DependentID)
	if err != nil {
		return nil, err
	}

	p := s.begin(in.GuardianID, "reward")
	// the duplicate check runs under the guardian lock so one event cannot pay twice
	key, release, err := s.acquireSigner(ctx, in.GuardianID, "reward", func() error {
		return s.checkDuplicate(ctx, in.DependentID, reference)
	})
	if err != nil {
		return nil, err
	}
	defer release()
	p.advance(domain.StageSecretResolved)

	holder := key.Address()
	balance, err := s.balanceOf(ctx, asset, holder)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(amount) < 0 {
		return nil, apperror.ErrInsufficientFunds()
	}
	fee, err := s.chain.FeeEstimate(ctx, 1)
	if err != nil {
		return nil, err
	}
	needed := new(big.Int).Set(fee)
	if asset.Native {
		needed.Add(needed, amount)
	}
	native, err := s.chain.NativeBalance(ctx, holder)
	if err != nil {
		return nil, err
	}
	if native.Cmp(needed) < 0 {
		return nil, apperror.ErrInsufficientFunds()
	}
	p.advance(domain.StageGasEnsured)

	var txHash string
	if asset.Native {
		txHash, err = s.chain.SendNative(ctx, key, to, amount)
	} else {
		txHash, err = s.chain.TransferToken(ctx, key, asset.Contract, to, amount)
	}
	if err != nil {
		// nothing was submitted, so the event stays payable
		p.log.Warn().Err(err).Str("event_ref", in.EventRef).Msg("reward payout rejected before submission")
		return nil, err
	}
	p.advance(domain.StageActionSubmitted)
	_, status, chainErr := s.confirm(ctx, txHash)

	recorded := asset.FromBaseUnits(amount)
	description := in.Description
	if description == "" {
		description = strings.ToLower(strings.ReplaceAll(string(in.Kind), "_", " "))
	}
	entryID, err := s.ledger.Append(context.WithoutCancel(ctx), domain.EntryDraft{
		OwnerID:      in.DependentID,
		FamilyID:     in.FamilyID,
		Kind:         in.Kind,
		Asset:        asset.Symbol,
		Amount:       recorded,
		Description:  description,
		Counterparty: holder.Hex(),
		Reference:    reference,
		Status:       status,
		ChainTxHash:  txHash,
	})
	if err != nil {
		p.log.Error().
			Err(err).
			Str("tx_hash", txHash).
			Str("status", string(status)).
			Str("event_ref", in.EventRef).
			Msg("reward chain leg ran but ledger entry was not written")
		return nil, apperror.Recorded(uuid.Nil, string(status), err)
	}
	p.recorded(entryID)
	s.remember(ctx, in.DependentID, reference, entryID)

	if chainErr != nil {
		p.advance(domain.StagePartialFailure)
		p.log.Warn().Err(chainErr).Str("status", string(status)).Msg("reward payout failed")
		return nil, apperror.Recorded(entryID, string(status), chainErr)
	}
	p.advance(domain.StageConfirmed)
	p.log.Info().Str("tx_hash", txHash).Msg("reward paid")

	return &domain.Outcome{
		EntryID: entryID,
		Status:  status,
		Stage:   p.stage,
		TxHash:  txHash,
		Asset:   asset.Symbol,
		Amount:  recorded,
	}, nil
}
