package handler

import (
	"math"
	"strconv"
	"time"

	"custody-engine/internal/adapter/http/dto"
	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"
	"custody-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// LedgerHandler serves the user-facing ledger.
type LedgerHandler struct {
	ledger ports.Ledger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledger ports.Ledger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

// List handles GET /api/v1/ledger?owner_id=...
func (h *LedgerHandler) List(c *gin.Context) {
	ownerID, err := uuid.Parse(c.Query("owner_id"))
	if err != nil {
		response.Error(c, apperror.Validation("owner_id must be a UUID"))
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	params := ports.LedgerListParams{
		OwnerID:  ownerID,
		Page:     page,
		PageSize: pageSize,
	}

	if s := c.Query("status"); s != "" {
		status := domain.LedgerStatus(s)
		params.Status = &status
	}
	if k := c.Query("kind"); k != "" {
		kind := domain.LedgerKind(k)
		params.Kind = &kind
	}
	if f := c.Query("from"); f != "" {
		if v, err := strconv.ParseInt(f, 10, 64); err == nil {
			params.From = &v
		}
	}
	if t := c.Query("to"); t != "" {
		if v, err := strconv.ParseInt(t, 10, 64); err == nil {
			params.To = &v
		}
	}

	entries, total, err := h.ledger.List(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.LedgerEntryResponse, 0, len(entries))
	for i := range entries {
		items = append(items, toLedgerEntryResponse(&entries[i]))
	}

	response.OK(c, dto.LedgerListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	})
}

// Get handles GET /api/v1/ledger/:id. Internal bookkeeping rows are hidden.
func (h *LedgerHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	entry, err := h.ledger.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if entry.Internal {
		response.Error(c, apperror.ErrNotFound("ledger entry"))
		return
	}
	response.OK(c, toLedgerEntryResponse(entry))
}

func toLedgerEntryResponse(e *domain.LedgerEntry) dto.LedgerEntryResponse {
	resp := dto.LedgerEntryResponse{
		ID:                e.ID.String(),
		OwnerID:           e.OwnerID.String(),
		FamilyID:          e.FamilyID.String(),
		Kind:              string(e.Kind),
		Asset:             e.Asset,
		Amount:            e.Amount.String(),
		ReferenceValue:    e.ReferenceValue.String(),
		ReferenceCurrency: e.ReferenceCurrency,
		Description:       e.Description,
		Counterparty:      e.Counterparty,
		Reference:         e.Reference,
		Status:            string(e.Status),
		ChainTxHash:       e.ChainTxHash,
		FeeTxHash:         e.FeeTxHash,
		Note:              e.Note,
		CreatedAt:         e.CreatedAt.Format(time.RFC3339),
	}
	if e.FinalizedAt != nil {
		s := e.FinalizedAt.Format(time.RFC3339)
		resp.FinalizedAt = &s
	}
	return resp
}
