package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditLog records every intent submission after the response is written,
// including failed ones. Secret and policy changes are audited by their
// services.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method != http.MethodPost {
			return
		}
		intent, ok := strings.CutPrefix(c.FullPath(), "/api/v1/intents/")
		if !ok || intent == "" {
			return
		}

		var ownerID *uuid.UUID
		if v, exists := c.Get(CtxOwnerID); exists {
			if id, ok := v.(uuid.UUID); ok {
				ownerID = &id
			}
		}
		if ownerID == nil {
			// Rejected before the body was bound; nothing to attribute.
			return
		}

		details, _ := json.Marshal(map[string]interface{}{
			"intent":     intent,
			"status":     c.Writer.Status(),
			"caller":     c.GetString(CtxCaller),
			"client_ip":  c.ClientIP(),
			"request_id": c.GetString(CtxRequestID),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			OwnerID:      ownerID,
			Action:       domain.AuditActionIntent,
			ResourceType: "ledger_entry",
			ResourceID:   c.GetString(CtxEntryID),
			Details:      string(details),
			CreatedAt:    time.Now().UTC(),
		})
	}
}
