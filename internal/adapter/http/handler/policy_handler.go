package handler

import (
	"custody-engine/internal/adapter/http/dto"
	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"
	"custody-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PolicyHandler handles spending policy endpoints.
type PolicyHandler struct {
	policy ports.PolicyEngine
}

// NewPolicyHandler creates a new PolicyHandler.
func NewPolicyHandler(policy ports.PolicyEngine) *PolicyHandler {
	return &PolicyHandler{policy: policy}
}

// Get handles GET /api/v1/policies/:dependent_id.
func (h *PolicyHandler) Get(c *gin.Context) {
	dependentID, ok := pathUUID(c, "dependent_id")
	if !ok {
		return
	}

	p, err := h.policy.GetPolicy(c.Request.Context(), dependentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}

// Put handles PUT /api/v1/policies/:dependent_id.
func (h *PolicyHandler) Put(c *gin.Context) {
	dependentID, ok := pathUUID(c, "dependent_id")
	if !ok {
		return
	}

	var req dto.PolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	guardianID := uuid.MustParse(req.GuardianID)
	p := &domain.SpendingPolicy{
		DependentID:               dependentID,
		FamilyID:                  uuid.MustParse(req.FamilyID),
		GuardianID:                guardianID,
		ReferenceCurrency:         req.ReferenceCurrency,
		TradingEnabled:            req.TradingEnabled,
		NFTTradingEnabled:         req.NFTTradingEnabled,
		GiftCardsEnabled:          req.GiftCardsEnabled,
		TransfersEnabled:          req.TransfersEnabled,
		MaxTradeValue:             req.MaxTradeValue,
		MaxTransferValue:          req.MaxTransferValue,
		MaxGiftCardValue:          req.MaxGiftCardValue,
		MaxNFTValue:               req.MaxNFTValue,
		DailyTradeLimit:           req.DailyTradeLimit,
		DailyTransferLimit:        req.DailyTransferLimit,
		DailyGiftCardLimit:        req.DailyGiftCardLimit,
		DailyNFTLimit:             req.DailyNFTLimit,
		AllowedAssets:             req.AllowedAssets,
		AllowedCounterparties:     req.AllowedCounterparties,
		AllowedGiftCardCategories: req.AllowedGiftCardCategories,
		AllowedNFTCollections:     req.AllowedNFTCollections,
	}

	if err := h.policy.PutPolicy(c.Request.Context(), guardianID, p); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}

// Authorize handles POST /api/v1/policies/:dependent_id/authorize. It
// evaluates the action without recording anything; a denial is a 200 with
// allowed=false.
func (h *PolicyHandler) Authorize(c *gin.Context) {
	dependentID, ok := pathUUID(c, "dependent_id")
	if !ok {
		return
	}

	var req dto.AuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	decision, err := h.policy.Authorize(c.Request.Context(), dependentID, domain.Action{
		Category:     domain.Category(req.Category),
		Asset:        req.Asset,
		Amount:       validatedDecimal(req.Amount),
		Counterparty: req.Counterparty,
		Item:         req.Item,
		BuyAsset:     req.BuyAsset,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, decision)
}
