package service

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"
	"custody-engine/pkg/keysigner"

	"github.com/ethereum/go-ethereum/common"
)

const (
	bpsDenominator = 10000
	maxSlippageBps = 5000
)

// Swap trades SellAsset for BuyAsset through the configured router. Trades
// pay the platform fee out of the measured output; the entry records the net.
func (s *OrchestratorService) Swap(ctx context.Context, in domain.SwapIntent) (*domain.Outcome, error) {
	if !in.SellAmount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	if in.SlippageBps < 0 || in.SlippageBps > maxSlippageBps {
		return nil, apperror.Validation(fmt.Sprintf("slippage must be between 0 and %d bps", maxSlippageBps))
	}
	sell, err := s.asset(in.SellAsset)
	if err != nil {
		return nil, err
	}
	buy, err := s.asset(in.BuyAsset)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(sell.Symbol, buy.Symbol) {
		return nil, apperror.Validation("sell and buy assets must differ")
	}
	sellAmount := sell.ToBaseUnits(in.SellAmount)
	if notPositive(sellAmount) {
		return nil, apperror.ErrInvalidAmount()
	}
	if err := s.checkDuplicate(ctx, in.OwnerID, in.Reference); err != nil {
		return nil, err
	}

	p := s.begin(in.OwnerID, "swap")
	var decision domain.Decision
	key, release, err := s.acquireSigner(ctx, in.OwnerID, "swap", s.authorizeUnder(ctx, p, in.IntentBase, domain.Action{
		Category: domain.CategoryTrade,
		Asset:    sell.Symbol,
		Amount:   in.SellAmount,
		BuyAsset: buy.Symbol,
	}, &decision))
	if err != nil {
		return nil, err
	}
	defer release()
	p.advance(domain.StageSecretResolved)
	holder := key.Address()

	balance, err := s.balanceOf(ctx, sell, holder)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(sellAmount) < 0 {
		return nil, apperror.ErrInsufficientFunds()
	}

	quote, err := s.quote(ctx, sell, buy, sellAmount, holder, in.SlippageBps)
	if err != nil {
		return nil, err
	}
	spender := quote.AllowanceTarget
	if spender == (common.Address{}) {
		spender = s.cfg.SwapRouter
	}

	charged := in.IsTrade && s.cfg.PlatformFeeBps > 0
	txCount := 1
	if charged {
		txCount++
	}
	needApproval := false
	if !sell.Native {
		allowance, err := s.chain.Allowance(ctx, sell.Contract, holder, spender)
		if err != nil {
			return nil, err
		}
		needApproval = allowance.Cmp(sellAmount) < 0
		if needApproval {
			txCount++
		}
	}
	extra := new(big.Int)
	if quote.Value != nil {
		extra.Set(quote.Value)
	}
	topUp, err := s.ensureGas(ctx, holder, in.GuardianID, extra, txCount)
	if err != nil {
		return nil, err
	}
	p.advance(domain.StageGasEnsured)

	if needApproval {
		if err := s.approve(ctx, key, sell.Contract, spender, sellAmount, sellAmount); err != nil {
			return nil, err
		}
		p.advance(domain.StageApprovalSubmitted)
	}

	before, err := s.balanceOf(ctx, buy, holder)
	if err != nil {
		return nil, err
	}

	entryID, err := s.ledger.Append(ctx, domain.EntryDraft{
		OwnerID:           in.OwnerID,
		FamilyID:          in.FamilyID,
		Kind:              domain.LedgerKindTokenTrade,
		Asset:             buy.Symbol,
		ReferenceValue:    decision.Value,
		ReferenceCurrency: decision.ReferenceCurrency,
		Description:       swapDescription(in, sell, buy),
		Counterparty:      s.cfg.SwapRouter.Hex(),
		Reference:         in.Reference,
	})
	if err != nil {
		return nil, err
	}
	p.recorded(entryID)
	s.remember(ctx, in.OwnerID, in.Reference, entryID)

	txHash, err := s.chain.Call(ctx, key, ports.ContractCall{To: quote.To, Data: quote.Data, Value: quote.Value, Gas: quote.Gas})
	if err != nil {
		return nil, s.fail(ctx, p, domain.Finalization{Status: domain.LedgerStatusError}, err)
	}
	p.advance(domain.StageActionSubmitted)
	s.attach(ctx, p, txHash)

	receipt, status, err := s.confirm(ctx, txHash)
	if err != nil {
		return nil, s.fail(ctx, p, domain.Finalization{Status: status, TxHash: txHash}, err)
	}

	out := s.swapOutput(ctx, p, buy, holder, before, receipt, quote.BuyAmount)
	if out.Sign() <= 0 {
		return nil, s.fail(ctx, p, domain.Finalization{Status: domain.LedgerStatusPartialFailure, TxHash: txHash},
			apperror.ErrChainSubmissionFailed(fmt.Errorf("swap %s produced no output", txHash)))
	}

	fee := new(big.Int)
	if charged {
		fee = platformFee(out, s.cfg.PlatformFeeBps)
	}
	var feeTxHash string
	if fee.Sign() > 0 {
		feeTxHash, err = s.payPlatformFee(ctx, key, buy, fee)
		if err != nil {
			gross := buy.FromBaseUnits(out)
			return nil, s.fail(ctx, p, domain.Finalization{
				Status:    domain.LedgerStatusPartialFailure,
				TxHash:    txHash,
				FeeTxHash: feeTxHash,
				Amount:    &gross,
				Note:      "swap confirmed, platform fee not collected: " + apperror.Describe(err),
			}, err)
		}
	}

	net := buy.FromBaseUnits(new(big.Int).Sub(out, fee))
	if err := s.succeed(ctx, p, domain.Finalization{TxHash: txHash, FeeTxHash: feeTxHash, Amount: &net}); err != nil {
		return nil, err
	}

	return &domain.Outcome{
		EntryID:   entryID,
		Status:    domain.LedgerStatusSuccess,
		Stage:     p.stage,
		TxHash:    txHash,
		FeeTxHash: feeTxHash,
		Asset:     buy.Symbol,
		Amount:    net,
		Fee:       buy.FromBaseUnits(fee),
		TopUp:     topUp,
	}, nil
}

// quote fetches swap calldata and checks it targets the configured router.
func (s *OrchestratorService) quote(ctx context.Context, sell, buy domain.Asset, amount *big.Int, taker common.Address, slippageBps int) (*ports.Quote, error) {
	q, err := s.quotes.Quote(ctx, ports.QuoteRequest{
		SellToken:   sell.Contract,
		BuyToken:    buy.Contract,
		SellAmount:  amount,
		Taker:       taker,
		SlippageBps: slippageBps,
	})
	if err != nil {
		if isAppError(err) {
			return nil, err
		}
		return nil, apperror.ErrQuoteUnavailable(err)
	}
	if q.To != s.cfg.SwapRouter {
		return nil, apperror.ErrQuoteUnavailable(fmt.Errorf("quote targets %s, expected router %s", q.To.Hex(), s.cfg.SwapRouter.Hex()))
	}
	if notPositive(q.BuyAmount) || len(q.Data) == 0 {
		return nil, apperror.ErrQuoteUnavailable(fmt.Errorf("quote has no output or calldata"))
	}
	if sell.Native && (q.Value == nil || q.Value.Cmp(amount) != 0) {
		return nil, apperror.ErrQuoteUnavailable(fmt.Errorf("quote value does not match sell amount"))
	}
	return q, nil
}

// swapOutput measures what the swap delivered as the buy-asset balance delta.
// A native output is credited back the swap's own gas. If the balance cannot
// be read the quoted amount is used.
func (s *OrchestratorService) swapOutput(ctx context.Context, p *pipeline, buy domain.Asset, holder common.Address, before *big.Int, receipt *ports.Receipt, quoted *big.Int) *big.Int {
	after, err := s.balanceOf(ctx, buy, holder)
	if err != nil {
		p.log.Warn().Err(err).Msg("cannot read post-swap balance, using quoted output")
		return new(big.Int).Set(quoted)
	}
	out := new(big.Int).Sub(after, before)
	if buy.Native {
		out.Add(out, receipt.GasCost())
	}
	return out
}

// platformFee is floor(amount * bps / 10000).
func platformFee(amount *big.Int, bps int64) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(bps))
	return fee.Quo(fee, big.NewInt(bpsDenominator))
}

func (s *OrchestratorService) payPlatformFee(ctx context.Context, key *keysigner.Signer, asset domain.Asset, fee *big.Int) (string, error) {
	var (
		txHash string
		err    error
	)
	if asset.Native {
		txHash, err = s.chain.SendNative(ctx, key, s.cfg.PlatformAddress, fee)
	} else {
		txHash, err = s.chain.TransferToken(ctx, key, asset.Contract, s.cfg.PlatformAddress, fee)
	}
	if err != nil {
		return "", err
	}
	if _, _, err := s.confirm(ctx, txHash); err != nil {
		return txHash, err
	}
	return txHash, nil
}

func swapDescription(in domain.SwapIntent, sell, buy domain.Asset) string {
	if in.Description != "" {
		return in.Description
	}
	return fmt.Sprintf("swap %s %s for %s", in.SellAmount.String(), sell.Symbol, buy.Symbol)
}
