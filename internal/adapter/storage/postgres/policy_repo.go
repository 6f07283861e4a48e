package postgres

import (
	"context"
	"errors"
	"fmt"

	"custody-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const policyColumns = `dependent_id, family_id, guardian_id, reference_currency,
	trading_enabled, nft_trading_enabled, gift_cards_enabled, transfers_enabled,
	max_trade_value, max_transfer_value, max_gift_card_value, max_nft_value,
	daily_trade_limit, daily_transfer_limit, daily_gift_card_limit, daily_nft_limit,
	allowed_assets, allowed_counterparties, allowed_gift_card_categories, allowed_nft_collections,
	updated_at`

// PolicyRepo implements ports.PolicyRepository.
type PolicyRepo struct {
	pool Pool
}

// NewPolicyRepo creates a new PolicyRepo.
func NewPolicyRepo(pool Pool) *PolicyRepo {
	return &PolicyRepo{pool: pool}
}

// Get fetches a dependent's policy, or nil when none is set.
func (r *PolicyRepo) Get(ctx context.Context, dependentID uuid.UUID) (*domain.SpendingPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM spending_policies WHERE dependent_id = $1`

	p := &domain.SpendingPolicy{}
	err := r.pool.QueryRow(ctx, query, dependentID).Scan(
		&p.DependentID, &p.FamilyID, &p.GuardianID, &p.ReferenceCurrency,
		&p.TradingEnabled, &p.NFTTradingEnabled, &p.GiftCardsEnabled, &p.TransfersEnabled,
		&p.MaxTradeValue, &p.MaxTransferValue, &p.MaxGiftCardValue, &p.MaxNFTValue,
		&p.DailyTradeLimit, &p.DailyTransferLimit, &p.DailyGiftCardLimit, &p.DailyNFTLimit,
		&p.AllowedAssets, &p.AllowedCounterparties, &p.AllowedGiftCardCategories, &p.AllowedNFTCollections,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return p, nil
}

// Upsert replaces the dependent's policy wholesale.
func (r *PolicyRepo) Upsert(ctx context.Context, p *domain.SpendingPolicy) error {
	query := `INSERT INTO spending_policies (` + policyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (dependent_id) DO UPDATE SET
			family_id = EXCLUDED.family_id,
			guardian_id = EXCLUDED.guardian_id,
			reference_currency = EXCLUDED.reference_currency,
			trading_enabled = EXCLUDED.trading_enabled,
			nft_trading_enabled = EXCLUDED.nft_trading_enabled,
			gift_cards_enabled = EXCLUDED.gift_cards_enabled,
			transfers_enabled = EXCLUDED.transfers_enabled,
			max_trade_value = EXCLUDED.max_trade_value,
			max_transfer_value = EXCLUDED.max_transfer_value,
			max_gift_card_value = EXCLUDED.max_gift_card_value,
			max_nft_value = EXCLUDED.max_nft_value,
			daily_trade_limit = EXCLUDED.daily_trade_limit,
			daily_transfer_limit = EXCLUDED.daily_transfer_limit,
			daily_gift_card_limit = EXCLUDED.daily_gift_card_limit,
			daily_nft_limit = EXCLUDED.daily_nft_limit,
			allowed_assets = EXCLUDED.allowed_assets,
			allowed_counterparties = EXCLUDED.allowed_counterparties,
			allowed_gift_card_categories = EXCLUDED.allowed_gift_card_categories,
			allowed_nft_collections = EXCLUDED.allowed_nft_collections,
			updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query,
		p.DependentID, p.FamilyID, p.GuardianID, p.ReferenceCurrency,
		p.TradingEnabled, p.NFTTradingEnabled, p.GiftCardsEnabled, p.TransfersEnabled,
		p.MaxTradeValue, p.MaxTransferValue, p.MaxGiftCardValue, p.MaxNFTValue,
		p.DailyTradeLimit, p.DailyTransferLimit, p.DailyGiftCardLimit, p.DailyNFTLimit,
		nonNil(p.AllowedAssets), nonNil(p.AllowedCounterparties),
		nonNil(p.AllowedGiftCardCategories), nonNil(p.AllowedNFTCollections),
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert policy: %w", err)
	}
	return nil
}

// nonNil stores empty allow-lists as '{}' rather than NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
