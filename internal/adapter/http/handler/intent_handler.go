package handler

import (
	"errors"
	"strings"

	"custody-engine/internal/adapter/http/dto"
	"custody-engine/internal/adapter/http/middleware"
	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"
	"custody-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IntentHandler executes guarded monetary intents.
type IntentHandler struct {
	orchestrator ports.Orchestrator
}

// NewIntentHandler creates a new IntentHandler.
func NewIntentHandler(orchestrator ports.Orchestrator) *IntentHandler {
	return &IntentHandler{orchestrator: orchestrator}
}

// Transfer handles POST /api/v1/intents/transfer.
func (h *IntentHandler) Transfer(c *gin.Context) {
	var req dto.TransferRequest
	if !bindIntent(c, &req) {
		return
	}
	if req.RecipientAddress == "" && req.RecipientID == "" {
		response.Error(c, apperror.Validation("recipient_address or recipient_id is required"))
		return
	}

	in := domain.TransferIntent{
		IntentBase:       toIntentBase(req.IntentRequest),
		Asset:            req.Asset,
		Amount:           validatedDecimal(req.Amount),
		RecipientAddress: req.RecipientAddress,
	}
	if req.RecipientID != "" {
		id := uuid.MustParse(req.RecipientID)
		in.RecipientID = &id
	}
	c.Set(middleware.CtxOwnerID, in.OwnerID)

	out, err := h.orchestrator.Transfer(c.Request.Context(), in)
	respondOutcome(c, out, err)
}

// Swap handles POST /api/v1/intents/swap.
func (h *IntentHandler) Swap(c *gin.Context) {
	var req dto.SwapRequest
	if !bindIntent(c, &req) {
		return
	}

	in := domain.SwapIntent{
		IntentBase:  toIntentBase(req.IntentRequest),
		SellAsset:   req.SellAsset,
		BuyAsset:    req.BuyAsset,
		SellAmount:  validatedDecimal(req.SellAmount),
		IsTrade:     req.IsTrade,
		SlippageBps: req.SlippageBps,
	}
	c.Set(middleware.CtxOwnerID, in.OwnerID)

	out, err := h.orchestrator.Swap(c.Request.Context(), in)
	respondOutcome(c, out, err)
}

// Service handles POST /api/v1/intents/service.
func (h *IntentHandler) Service(c *gin.Context) {
	var req dto.ServiceRequest
	if !bindIntent(c, &req) {
		return
	}

	in := domain.ServiceIntent{
		IntentBase:    toIntentBase(req.IntentRequest),
		Category:      domain.Category(req.Category),
		PaymentAsset:  req.PaymentAsset,
		PaymentAmount: validatedDecimal(req.PaymentAmount),
		FiatAmount:    validatedDecimal(req.FiatAmount),
		FiatCurrency:  strings.ToUpper(req.FiatCurrency),
		ServiceRef:    req.ServiceRef,
		Item:          req.Item,
	}
	c.Set(middleware.CtxOwnerID, in.OwnerID)

	out, err := h.orchestrator.RequestService(c.Request.Context(), in)
	respondOutcome(c, out, err)
}

// Reward handles POST /api/v1/intents/reward. The guardian wallet signs.
func (h *IntentHandler) Reward(c *gin.Context) {
	var req dto.RewardRequest
	if !bindIntent(c, &req) {
		return
	}

	in := domain.RewardIntent{
		GuardianID:  uuid.MustParse(req.GuardianID),
		DependentID: uuid.MustParse(req.DependentID),
		FamilyID:    uuid.MustParse(req.FamilyID),
		Kind:        domain.LedgerKind(req.Kind),
		Asset:       req.Asset,
		Amount:      validatedDecimal(req.Amount),
		Description: req.Description,
		EventRef:    req.EventRef,
	}
	c.Set(middleware.CtxOwnerID, in.GuardianID)

	out, err := h.orchestrator.PayReward(c.Request.Context(), in)
	respondOutcome(c, out, err)
}

func bindIntent(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return false
	}
	dto.SanitizeStruct(req)
	return true
}

func toIntentBase(r dto.IntentRequest) domain.IntentBase {
	return domain.IntentBase{
		OwnerID:     uuid.MustParse(r.OwnerID),
		GuardianID:  uuid.MustParse(r.GuardianID),
		FamilyID:    uuid.MustParse(r.FamilyID),
		Reference:   r.Reference,
		Description: r.Description,
	}
}

// respondOutcome writes the intent result and exposes the ledger entry to the
// audit middleware.
func respondOutcome(c *gin.Context, out *domain.Outcome, err error) {
	if err != nil {
		var rec *apperror.RecordedFailure
		if errors.As(err, &rec) {
			c.Set(middleware.CtxEntryID, rec.EntryID.String())
		}
		response.Error(c, err)
		return
	}
	c.Set(middleware.CtxEntryID, out.EntryID.String())
	response.Created(c, toOutcomeResponse(out))
}

func toOutcomeResponse(o *domain.Outcome) dto.OutcomeResponse {
	resp := dto.OutcomeResponse{
		EntryID:   o.EntryID.String(),
		Status:    string(o.Status),
		Stage:     string(o.Stage),
		TxHash:    o.TxHash,
		FeeTxHash: o.FeeTxHash,
		Asset:     o.Asset,
		Amount:    o.Amount.String(),
		Fee:       o.Fee.String(),
	}
	if o.TopUp != nil {
		resp.TopUp = &dto.TopUpResponse{
			FunderID: o.TopUp.FunderID.String(),
			TxHash:   o.TopUp.TxHash,
			EntryID:  o.TopUp.EntryID.String(),
		}
		if o.TopUp.Amount != nil {
			resp.TopUp.AmountWei = o.TopUp.Amount.String()
		}
	}
	return resp
}

// validatedDecimal parses an amount that already passed positive_decimal.
func validatedDecimal(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(strings.TrimSpace(s))
	return d
}
