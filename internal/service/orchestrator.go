package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"
	"custody-engine/pkg/keysigner"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultIdempotencyTTL = 24 * time.Hour

// OrchestratorConfig holds the contract addresses and limits used by the
// orchestrator.
type OrchestratorConfig struct {
	ConfirmTimeout    time.Duration
	SwapRouter        common.Address
	ServiceRouter     common.Address
	PlatformAddress   common.Address
	PlatformFeeBps    int64
	ApprovalBufferBps int64
	IdempotencyTTL    time.Duration
}

// OrchestratorDeps groups the collaborators of OrchestratorService.
// Idempotency may be nil; the ledger reference check still applies.
type OrchestratorDeps struct {
	Policy      ports.PolicyEngine
	Custody     ports.KeyCustody
	Relay       ports.GasRelay
	Chain       ports.ChainClient
	Quotes      ports.SwapQuoter
	Ledger      ports.Ledger
	Locker      ports.SignerLocker
	Idempotency ports.IdempotencyCache
	Assets      *domain.AssetRegistry
}

// OrchestratorService implements ports.Orchestrator. Each call runs one
// intent through policy, secret resolution, gas, approval and submission.
type OrchestratorService struct {
	policy  ports.PolicyEngine
	custody ports.KeyCustody
	relay   ports.GasRelay
	chain   ports.ChainClient
	quotes  ports.SwapQuoter
	ledger  ports.Ledger
	locker  ports.SignerLocker
	idem    ports.IdempotencyCache
	assets  *domain.AssetRegistry
	cfg     OrchestratorConfig
	log     zerolog.Logger
}

// NewOrchestratorService creates a new OrchestratorService.
func NewOrchestratorService(deps OrchestratorDeps, cfg OrchestratorConfig, log zerolog.Logger) *OrchestratorService {
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = defaultIdempotencyTTL
	}
	return &OrchestratorService{
		policy:  deps.Policy,
		custody: deps.Custody,
		relay:   deps.Relay,
		chain:   deps.Chain,
		quotes:  deps.Quotes,
		ledger:  deps.Ledger,
		locker:  deps.Locker,
		idem:    deps.Idempotency,
		assets:  deps.Assets,
		cfg:     cfg,
		log:     log,
	}
}

// pipeline tracks one intent's progress for logging and failure reporting.
type pipeline struct {
	stage   domain.Stage
	entryID uuid.UUID
	log     zerolog.Logger
}

func (s *OrchestratorService) begin(ownerID uuid.UUID, intent string) *pipeline {
	return &pipeline{
		stage: domain.StageIntentReceived,
		log:   s.log.With().Str("intent", intent).Str("owner_id", ownerID.String()).Logger(),
	}
}

func (p *pipeline) advance(stage domain.Stage) {
	p.stage = stage
	p.log.Debug().Str("stage", string(stage)).Msg("intent advanced")
}

func (p *pipeline) recorded(entryID uuid.UUID) {
	p.entryID = entryID
	p.log = p.log.With().Str("entry_id", entryID.String()).Logger()
}

func (s *OrchestratorService) asset(symbol string) (domain.Asset, error) {
	a, ok := s.assets.Lookup(symbol)
	if !ok {
		return domain.Asset{}, apperror.ErrUnknownAsset(symbol)
	}
	return a, nil
}

// checkDuplicate rejects an intent whose reference was already recorded for
// ownerID. Redis is consulted first; the ledger is authoritative.
func (s *OrchestratorService) checkDuplicate(ctx context.Context, ownerID uuid.UUID, reference string) error {
	if reference == "" {
		return nil
	}
	key := domain.BuildIdempotencyKey(ownerID, reference)
	if s.idem != nil {
		cached, err := s.idem.Get(ctx, key)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, falling through to ledger")
		} else if cached != nil {
			if id, perr := uuid.ParseBytes(cached); perr == nil {
				return apperror.ErrDuplicateIntent(id)
			}
		}
	}
	existing, err := s.ledger.FindByReference(ctx, ownerID, reference)
	if err != nil {
		return err
	}
	if existing != nil {
		return apperror.ErrDuplicateIntent(existing.ID)
	}
	return nil
}

func (s *OrchestratorService) remember(ctx context.Context, ownerID uuid.UUID, reference string, entryID uuid.UUID) {
	if reference == "" || s.idem == nil {
		return
	}
	key := domain.BuildIdempotencyKey(ownerID, reference)
	if err := s.idem.Set(ctx, key, []byte(entryID.String()), s.cfg.IdempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to cache idempotency in redis")
	}
}

// authorize runs the policy engine when the signer is a dependent. Guardians
// acting on their own wallet are not policy-bound.
func (s *OrchestratorService) authorize(ctx context.Context, base domain.IntentBase, action domain.Action) (domain.Decision, error) {
	if !base.ActsAsDependent() {
		return domain.Decision{Allowed: true}, nil
	}
	decision, err := s.policy.Authorize(ctx, base.OwnerID, action)
	if err != nil {
		return domain.Decision{}, err
	}
	if !decision.Allowed {
		return decision, apperror.ErrPolicyDenied(string(decision.Reason), decision.Message)
	}
	return decision, nil
}

// acquireSigner locks ownerID's address, runs check under the lock and then
// decrypts the key. Everything up to the returned release, including the
// ledger append, is serialized per signer. The release destroys the key and
// then unlocks.
func (s *OrchestratorService) acquireSigner(ctx context.Context, ownerID uuid.UUID, purpose string, check func() error) (*keysigner.Signer, func(), error) {
	addr, err := s.custody.Address(ctx, ownerID)
	if err != nil {
		return nil, nil, err
	}
	unlock, err := s.locker.Lock(ctx, addr.Hex())
	if err != nil {
		return nil, nil, err
	}
	if check != nil {
		if err := check(); err != nil {
			unlock()
			return nil, nil, err
		}
	}
	key, err := s.custody.GetDecryptedSecret(ctx, ownerID, purpose)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return key, func() {
		key.Destroy()
		unlock()
	}, nil
}

// authorizeUnder returns a check for acquireSigner that runs the policy engine
// and stores the decision.
func (s *OrchestratorService) authorizeUnder(ctx context.Context, p *pipeline, base domain.IntentBase, action domain.Action, decision *domain.Decision) func() error {
	return func() error {
		d, err := s.authorize(ctx, base, action)
		if err != nil {
			return err
		}
		*decision = d
		p.advance(domain.StagePolicyChecked)
		return nil
	}
}

func (s *OrchestratorService) balanceOf(ctx context.Context, asset domain.Asset, holder common.Address) (*big.Int, error) {
	if asset.Native {
		return s.chain.NativeBalance(ctx, holder)
	}
	return s.chain.TokenBalance(ctx, asset.Contract, holder)
}

// ensureGas asks the relay for enough native balance to pay txCount fees plus
// extra (the native value the intent itself moves).
func (s *OrchestratorService) ensureGas(ctx context.Context, signer common.Address, funderID uuid.UUID, extra *big.Int, txCount int) (*domain.TopUp, error) {
	fee, err := s.chain.FeeEstimate(ctx, txCount)
	if err != nil {
		return nil, err
	}
	required := new(big.Int).Set(fee)
	if extra != nil {
		required.Add(required, extra)
	}
	return s.relay.EnsureFeeBalance(ctx, signer, funderID, required)
}

// approve grants spender amount of token and confirms that at least required
// is allowed afterwards. It runs before the entry is recorded.
func (s *OrchestratorService) approve(ctx context.Context, key ports.TxSigner, token, spender common.Address, amount, required *big.Int) error {
	txHash, err := s.chain.Approve(ctx, key, token, spender, amount)
	if err != nil {
		return err
	}
	receipt, err := s.chain.WaitForReceipt(ctx, txHash, s.cfg.ConfirmTimeout)
	if err != nil {
		return err
	}
	if !receipt.Success {
		return apperror.ErrChainSubmissionFailed(fmt.Errorf("approval %s reverted", txHash))
	}
	allowance, err := s.chain.Allowance(ctx, token, key.Address(), spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(required) < 0 {
		s.log.Warn().
			Str("token", token.Hex()).
			Str("spender", spender.Hex()).
			Str("allowance", allowance.String()).
			Str("required", required.String()).
			Msg("allowance still short after approval")
		return apperror.ErrApprovalInsufficient()
	}
	return nil
}

// confirm waits for txHash and maps the result to a terminal status.
func (s *OrchestratorService) confirm(ctx context.Context, txHash string) (*ports.Receipt, domain.LedgerStatus, error) {
	receipt, err := s.chain.WaitForReceipt(ctx, txHash, s.cfg.ConfirmTimeout)
	if err != nil {
		return nil, domain.LedgerStatusPartialFailure, err
	}
	if !receipt.Success {
		return receipt, domain.LedgerStatusError, apperror.ErrChainSubmissionFailed(fmt.Errorf("transaction %s reverted", txHash))
	}
	return receipt, domain.LedgerStatusSuccess, nil
}

func (s *OrchestratorService) attach(ctx context.Context, p *pipeline, txHash string) {
	if err := s.ledger.AttachTxHash(context.WithoutCancel(ctx), p.entryID, txHash); err != nil {
		p.log.Error().Err(err).Str("tx_hash", txHash).Msg("failed to attach tx hash")
	}
}

// fail finalizes the pending entry and returns the non-retriable error the
// caller sees. The entry is never rolled back.
func (s *OrchestratorService) fail(ctx context.Context, p *pipeline, f domain.Finalization, cause error) error {
	if f.Note == "" {
		f.Note = apperror.Describe(cause)
	}
	if err := s.ledger.Finalize(context.WithoutCancel(ctx), p.entryID, f); err != nil {
		p.log.Error().Err(err).Str("status", string(f.Status)).Msg("failed to finalize ledger entry after chain failure")
	}
	p.log.Warn().
		Err(cause).
		Str("stage", string(p.stage)).
		Str("status", string(f.Status)).
		Str("tx_hash", f.TxHash).
		Msg("intent failed after entry was recorded")
	p.advance(domain.StagePartialFailure)
	return apperror.Recorded(p.entryID, string(f.Status), cause)
}

// succeed finalizes the entry as SUCCESS. If that write fails the entry stays
// PENDING for the reconciler and the caller is told not to retry.
func (s *OrchestratorService) succeed(ctx context.Context, p *pipeline, f domain.Finalization) error {
	f.Status = domain.LedgerStatusSuccess
	if err := s.ledger.Finalize(context.WithoutCancel(ctx), p.entryID, f); err != nil {
		p.log.Error().Err(err).Str("tx_hash", f.TxHash).Msg("chain leg confirmed but finalize failed")
		return apperror.Recorded(p.entryID, string(domain.LedgerStatusPending), err)
	}
	p.advance(domain.StageConfirmed)
	p.log.Info().Str("tx_hash", f.TxHash).Msg("intent confirmed")
	return nil
}

// submitAndConfirm runs the single funds-moving transaction of a transfer or
// service request against the already recorded entry.
func (s *OrchestratorService) submitAndConfirm(ctx context.Context, p *pipeline, submit func() (string, error)) (string, error) {
	txHash, err := submit()
	if err != nil {
		return "", s.fail(ctx, p, domain.Finalization{Status: domain.LedgerStatusError}, err)
	}
	p.advance(domain.StageActionSubmitted)
	s.attach(ctx, p, txHash)

	_, status, err := s.confirm(ctx, txHash)
	if err != nil {
		return txHash, s.fail(ctx, p, domain.Finalization{Status: status, TxHash: txHash}, err)
	}
	return txHash, s.succeed(ctx, p, domain.Finalization{TxHash: txHash})
}

func notPositive(v *big.Int) bool {
	return v == nil || v.Sign() <= 0
}

// isAppError reports whether err already carries an application error code.
func isAppError(err error) bool {
	var appErr *apperror.AppError
	return errors.As(err, &appErr)
}
