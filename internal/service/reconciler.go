package service

import (
	"context"
	"time"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const defaultReconcileBatch = 100

// Reconciler finalizes entries left PENDING by an interrupted intent, using
// the chain receipt as the source of truth. It never submits transactions.
type Reconciler struct {
	ledger     ports.Ledger
	chain      ports.ChainClient
	staleAfter time.Duration
	batch      int
	log        zerolog.Logger
}

// NewReconciler creates a Reconciler for entries pending longer than staleAfter.
func NewReconciler(ledger ports.Ledger, chain ports.ChainClient, staleAfter time.Duration, batch int, log zerolog.Logger) *Reconciler {
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &Reconciler{ledger: ledger, chain: chain, staleAfter: staleAfter, batch: batch, log: log}
}

// Run reconciles one batch and returns how many entries were finalized.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	entries, err := r.ledger.ListStalePending(ctx, r.staleAfter, r.batch)
	if err != nil {
		return 0, err
	}

	finalized := 0
	for i := range entries {
		f, ok := r.resolve(ctx, &entries[i])
		if !ok {
			continue
		}
		if err := r.ledger.Finalize(ctx, entries[i].ID, f); err != nil {
			r.log.Error().Err(err).Str("entry_id", entries[i].ID.String()).Msg("reconcile finalize failed")
			continue
		}
		finalized++
	}
	if len(entries) > 0 {
		r.log.Info().Int("stale", len(entries)).Int("finalized", finalized).Msg("reconcile run complete")
	}
	return finalized, nil
}

// resolve decides the terminal status for a stale entry. ok is false when the
// chain could not be read; the entry is retried on the next run.
func (r *Reconciler) resolve(ctx context.Context, e *domain.LedgerEntry) (domain.Finalization, bool) {
	if e.ChainTxHash == nil || *e.ChainTxHash == "" {
		return domain.Finalization{
			Status: domain.LedgerStatusPartialFailure,
			Note:   "reconciled: no transaction was submitted before the intent stopped",
		}, true
	}
	hash := *e.ChainTxHash
	receipt, err := r.chain.ReceiptOf(ctx, hash)
	if err != nil {
		r.log.Warn().Err(err).Str("entry_id", e.ID.String()).Str("tx_hash", hash).Msg("receipt lookup failed, will retry")
		return domain.Finalization{}, false
	}
	switch {
	case receipt == nil:
		return domain.Finalization{
			Status: domain.LedgerStatusPartialFailure,
			TxHash: hash,
			Note:   "reconciled: transaction not found on chain",
		}, true
	case !receipt.Success:
		return domain.Finalization{Status: domain.LedgerStatusError, TxHash: hash, Note: "reconciled: transaction reverted"}, true
	}
	f := domain.Finalization{Status: domain.LedgerStatusSuccess, TxHash: hash, Note: "reconciled from receipt"}
	if e.Kind == domain.LedgerKindTokenTrade {
		f.Note = "reconciled from receipt, swap output not measured"
	}
	return f, true
}

// ReconcileScheduler runs the Reconciler on a cron schedule.
type ReconcileScheduler struct {
	cron     *cron.Cron
	rec      *Reconciler
	schedule string
	timeout  time.Duration
	log      zerolog.Logger
}

// NewReconcileScheduler creates a scheduler; schedule accepts cron specs and
// descriptors such as "@every 5m".
func NewReconcileScheduler(rec *Reconciler, schedule string, timeout time.Duration, log zerolog.Logger) *ReconcileScheduler {
	cronLog := log.With().Str("component", "cron").Logger()
	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(&cronLog)),
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &ReconcileScheduler{cron: c, rec: rec, schedule: schedule, timeout: timeout, log: log}
}

// Start registers the reconcile job and starts the scheduler.
func (s *ReconcileScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.runOnce); err != nil {
		s.log.Error().Err(err).Str("schedule", s.schedule).Msg("failed to schedule reconcile job")
		return err
	}
	s.log.Info().Str("schedule", s.schedule).Msg("scheduled reconcile job")
	s.cron.Start()
	return nil
}

// Stop stops the scheduler; the returned context is done when running jobs finish.
func (s *ReconcileScheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *ReconcileScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.rec.Run(ctx); err != nil {
		s.log.Error().Err(err).Msg("reconcile run failed")
	}
}
