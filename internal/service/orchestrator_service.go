package service

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"custody-engine/internal/core/domain"
	"custody-engine/pkg/apperror"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// RequestService pays the service router for a gift card or NFT purchase.
// Token payments approve the router for the amount plus a small buffer.
func (s *OrchestratorService) RequestService(ctx context.Context, in domain.ServiceIntent) (*domain.Outcome, error) {
	if in.Category != domain.CategoryGiftCard && in.Category != domain.CategoryNFT {
		return nil, apperror.Validation("service category must be GIFT_CARD or NFT")
	}
	if !in.PaymentAmount.IsPositive() || !in.FiatAmount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	if strings.TrimSpace(in.ServiceRef) == "" {
		return nil, apperror.Validation("service reference is required")
	}
	asset, err := s.asset(in.PaymentAsset)
	if err != nil {
		return nil, err
	}
	amount := asset.ToBaseUnits(in.PaymentAmount)
	if notPositive(amount) {
		return nil, apperror.ErrInvalidAmount()
	}
	fiatMinor, err := fiatMinorUnits(in.FiatAmount, in.FiatCurrency)
	if err != nil {
		return nil, err
	}
	if err := s.checkDuplicate(ctx, in.OwnerID, in.Reference); err != nil {
		return nil, err
	}

	p := s.begin(in.OwnerID, "service")
	var decision domain.Decision
	key, release, err := s.acquireSigner(ctx, in.OwnerID, "service_request", s.authorizeUnder(ctx, p, in.IntentBase, domain.Action{
		Category: in.Category,
		Asset:    asset.Symbol,
		Amount:   in.PaymentAmount,
		Item:     in.Item,
	}, &decision))
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

	txCount := 1
	extra := new(big.Int)
	needApproval := false
	if asset.Native {
		extra.Set(amount)
	} else {
		allowance, err := s.chain.Allowance(ctx, asset.Contract, holder, s.cfg.ServiceRouter)
		if err != nil {
			return nil, err
		}
		needApproval = allowance.Cmp(amount) < 0
		if needApproval {
			txCount++
		}
	}
	topUp, err := s.ensureGas(ctx, holder, in.GuardianID, extra, txCount)
	if err != nil {
		return nil, err
	}
	p.advance(domain.StageGasEnsured)

	if needApproval {
		buffered := new(big.Int).Mul(amount, big.NewInt(bpsDenominator+s.cfg.ApprovalBufferBps))
		buffered.Quo(buffered, big.NewInt(bpsDenominator))
		if err := s.approve(ctx, key, asset.Contract, s.cfg.ServiceRouter, buffered, amount); err != nil {
			return nil, err
		}
		p.advance(domain.StageApprovalSubmitted)
	}

	recorded := asset.FromBaseUnits(amount)
	description := in.Description
	if description == "" {
		description = strings.ToLower(strings.ReplaceAll(string(in.Category), "_", " ")) + " " + in.Item
	}
	entryID, err := s.ledger.Append(ctx, domain.EntryDraft{
		OwnerID:           in.OwnerID,
		FamilyID:          in.FamilyID,
		Kind:              in.Category.LedgerKind(),
		Asset:             asset.Symbol,
		Amount:            recorded.Neg(),
		ReferenceValue:    decision.Value,
		ReferenceCurrency: decision.ReferenceCurrency,
		Description:       strings.TrimSpace(description),
		Counterparty:      s.cfg.ServiceRouter.Hex(),
		Reference:         in.Reference,
	})
	if err != nil {
		return nil, err
	}
	p.recorded(entryID)
	s.remember(ctx, in.OwnerID, in.Reference, entryID)

	txHash, err := s.submitAndConfirm(ctx, p, func() (string, error) {
		if asset.Native {
			return s.chain.RequestService(ctx, key, in.ServiceRef, fiatMinor, amount)
		}
		return s.chain.RequestERC20Service(ctx, key, asset.Contract, amount, in.ServiceRef, fiatMinor)
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

// fiatMinorUnits converts amount to the ISO 4217 minor units of code (cents
// for USD, yen for JPY, fils for KWD). Finer fractions are truncated.
func fiatMinorUnits(amount decimal.Decimal, code string) (*big.Int, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return nil, apperror.Validation(fmt.Sprintf("unknown fiat currency %q", code))
	}
	scale, _ := currency.Standard.Rounding(unit)
	minor := amount.Shift(int32(scale)).Truncate(0).BigInt()
	if minor.Sign() <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	return minor, nil
}
