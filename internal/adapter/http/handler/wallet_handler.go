package handler

import (
	"errors"
	"io"
	"time"

	"custody-engine/internal/adapter/http/dto"
	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"
	"custody-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WalletHandler handles custodial wallet endpoints.
type WalletHandler struct {
	custody ports.KeyCustody
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(custody ports.KeyCustody) *WalletHandler {
	return &WalletHandler{custody: custody}
}

// Create handles POST /api/v1/wallets/:owner_id. The body is optional.
func (h *WalletHandler) Create(c *gin.Context) {
	ownerID, ok := pathUUID(c, "owner_id")
	if !ok {
		return
	}

	var req dto.CreateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	secret, err := h.custody.CreateSecret(c.Request.Context(), ownerID, req.PrivateKey)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, toWalletResponse(secret))
}

// Address handles GET /api/v1/wallets/:owner_id/address.
func (h *WalletHandler) Address(c *gin.Context) {
	ownerID, ok := pathUUID(c, "owner_id")
	if !ok {
		return
	}

	addr, err := h.custody.Address(c.Request.Context(), ownerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.AddressResponse{OwnerID: ownerID.String(), Address: addr.Hex()})
}

// Rotate handles POST /api/v1/wallets/:owner_id/rotate.
func (h *WalletHandler) Rotate(c *gin.Context) {
	ownerID, ok := pathUUID(c, "owner_id")
	if !ok {
		return
	}

	secret, err := h.custody.RotateSecret(c.Request.Context(), ownerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toWalletResponse(secret))
}

func toWalletResponse(s *domain.WalletSecret) dto.WalletResponse {
	return dto.WalletResponse{
		OwnerID:   s.OwnerID.String(),
		Address:   s.Address,
		Version:   s.Version,
		KeyName:   s.KeyName,
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
	}
}

// pathUUID parses a UUID path parameter, writing a validation error on failure.
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Error(c, apperror.Validation(name+" must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}
