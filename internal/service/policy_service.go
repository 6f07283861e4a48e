package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PolicyService implements ports.PolicyEngine.
type PolicyService struct {
	repo   ports.PolicyRepository
	ledger ports.Ledger
	rates  ports.RateProvider
	audit  ports.AuditService
	loc    *time.Location
	log    zerolog.Logger
	now    func() time.Time
}

// NewPolicyService creates a policy engine. Daily limits reset at midnight
// in loc; nil means UTC.
func NewPolicyService(
	repo ports.PolicyRepository,
	ledger ports.Ledger,
	rates ports.RateProvider,
	audit ports.AuditService,
	loc *time.Location,
	log zerolog.Logger,
) *PolicyService {
	if loc == nil {
		loc = time.UTC
	}
	return &PolicyService{
		repo:   repo,
		ledger: ledger,
		rates:  rates,
		audit:  audit,
		loc:    loc,
		log:    log,
		now:    time.Now,
	}
}

// Authorize evaluates action for dependentID. The first failing check wins.
// A non-nil error means the evaluation itself failed, not a denial.
func (s *PolicyService) Authorize(ctx context.Context, dependentID uuid.UUID, action domain.Action) (domain.Decision, error) {
	policy, err := s.repo.Get(ctx, dependentID)
	if err != nil {
		return domain.Decision{}, apperror.ErrDatabaseError(fmt.Errorf("get policy: %w", err))
	}
	if policy == nil {
		return domain.Deny(domain.DenialNoPolicy, "no spending policy configured"), nil
	}

	category := strings.ToLower(string(action.Category))
	if !policy.Enabled(action.Category) {
		return domain.Deny(domain.DenialCategoryDisabled, fmt.Sprintf("%s is disabled", category)), nil
	}

	if list := policy.ItemAllowList(action.Category); len(list) > 0 && !domain.ContainsFold(list, action.ListedItem()) {
		return domain.Deny(domain.DenialAssetNotAllowed, fmt.Sprintf("%q is not allowed for %s", action.ListedItem(), category)), nil
	}
	if action.BuyAsset != "" && len(policy.AllowedAssets) > 0 && !domain.ContainsFold(policy.AllowedAssets, action.BuyAsset) {
		return domain.Deny(domain.DenialAssetNotAllowed, fmt.Sprintf("%q is not allowed for %s", action.BuyAsset, category)), nil
	}

	if len(policy.AllowedCounterparties) > 0 && action.Counterparty != "" &&
		!domain.ContainsFold(policy.AllowedCounterparties, action.Counterparty) {
		return domain.Deny(domain.DenialCounterpartyNotAllowed, fmt.Sprintf("counterparty %s is not allowed", action.Counterparty)), nil
	}

	ceiling := policy.Ceiling(action.Category)
	limit := policy.DailyLimit(action.Category)
	currency := policy.ReferenceCurrency
	if ceiling == nil && limit == nil {
		return domain.Allow(decimal.Zero, currency), nil
	}

	value, err := s.valueOf(ctx, action, currency)
	if err != nil {
		s.log.Warn().Err(err).
			Str("asset", action.Asset).
			Str("currency", currency).
			Msg("pricing failed during authorization")
		return domain.Deny(domain.DenialPriceUnavailable, fmt.Sprintf("cannot price %s in %s", action.Asset, currency)), nil
	}

	if ceiling != nil && value.GreaterThan(*ceiling) {
		return domain.Deny(domain.DenialCeilingExceeded,
			fmt.Sprintf("%s %s exceeds the %s ceiling of %s %s", value.StringFixed(2), currency, category, ceiling.String(), currency)), nil
	}

	decision := domain.Allow(value, currency)
	if limit != nil {
		spent, err := s.ledger.SpentSince(ctx, dependentID, action.Category.LedgerKind(), s.startOfDay())
		if err != nil {
			return domain.Decision{}, err
		}
		remaining := limit.Sub(spent)
		if spent.Add(value).GreaterThan(*limit) {
			if remaining.IsNegative() {
				remaining = decimal.Zero
			}
			d := domain.Deny(domain.DenialDailyLimitExceeded,
				fmt.Sprintf("daily %s limit of %s %s reached, %s %s remaining", category, limit.String(), currency, remaining.String(), currency))
			d.Value = value
			d.ReferenceCurrency = currency
			d.Remaining = &remaining
			return d, nil
		}
		after := remaining.Sub(value)
		decision.Remaining = &after
	}
	return decision, nil
}

func (s *PolicyService) valueOf(ctx context.Context, action domain.Action, currency string) (decimal.Decimal, error) {
	if strings.EqualFold(action.Asset, currency) {
		return action.Amount, nil
	}
	rate, err := s.rates.Rate(ctx, action.Asset, currency)
	if err != nil {
		return decimal.Zero, err
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive rate %s for %s/%s", rate, action.Asset, currency)
	}
	return action.Amount.Mul(rate), nil
}

func (s *PolicyService) startOfDay() time.Time {
	now := s.now().In(s.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
}

// GetPolicy returns the dependent's policy.
func (s *PolicyService) GetPolicy(ctx context.Context, dependentID uuid.UUID) (*domain.SpendingPolicy, error) {
	policy, err := s.repo.Get(ctx, dependentID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get policy: %w", err))
	}
	if policy == nil {
		return nil, apperror.ErrNotFound("spending policy")
	}
	return policy, nil
}

// PutPolicy creates or replaces a dependent's policy. Only the guardian that
// owns an existing policy may replace it.
func (s *PolicyService) PutPolicy(ctx context.Context, guardianID uuid.UUID, policy *domain.SpendingPolicy) error {
	if err := validatePolicy(policy); err != nil {
		return err
	}
	if policy.GuardianID == uuid.Nil {
		policy.GuardianID = guardianID
	}
	if policy.GuardianID != guardianID {
		return apperror.ErrNotGuardian()
	}

	existing, err := s.repo.Get(ctx, policy.DependentID)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("get policy: %w", err))
	}
	if existing != nil && existing.GuardianID != guardianID {
		return apperror.ErrNotGuardian()
	}

	policy.ReferenceCurrency = strings.ToUpper(strings.TrimSpace(policy.ReferenceCurrency))
	policy.UpdatedAt = s.now().UTC()
	if err := s.repo.Upsert(ctx, policy); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("upsert policy: %w", err))
	}

	if s.audit != nil {
		details, _ := json.Marshal(policy)
		s.audit.Log(ctx, domain.NewAuditLog(guardianID, domain.AuditActionPolicyUpdate, "spending_policy", policy.DependentID.String(), string(details)))
	}
	s.log.Info().
		Str("dependent_id", policy.DependentID.String()).
		Str("guardian_id", guardianID.String()).
		Msg("spending policy updated")
	return nil
}

func validatePolicy(p *domain.SpendingPolicy) error {
	if p == nil || p.DependentID == uuid.Nil {
		return apperror.Validation("dependent_id is required")
	}
	if strings.TrimSpace(p.ReferenceCurrency) == "" {
		return apperror.Validation("reference_currency is required")
	}
	for _, c := range []domain.Category{domain.CategoryTrade, domain.CategoryTransfer, domain.CategoryGiftCard, domain.CategoryNFT} {
		if v := p.Ceiling(c); v != nil && v.IsNegative() {
			return apperror.Validation(fmt.Sprintf("%s ceiling must not be negative", strings.ToLower(string(c))))
		}
		if v := p.DailyLimit(c); v != nil && v.IsNegative() {
			return apperror.Validation(fmt.Sprintf("%s daily limit must not be negative", strings.ToLower(string(c))))
		}
	}
	return nil
}
