package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited custody action.
type AuditAction string

const (
	AuditActionSecretCreate AuditAction = "SECRET_CREATE"
	AuditActionSecretAccess AuditAction = "SECRET_ACCESS"
	AuditActionSecretRotate AuditAction = "SECRET_ROTATE"
	AuditActionPolicyUpdate AuditAction = "POLICY_UPDATE"
	AuditActionGasTopUp     AuditAction = "GAS_TOPUP"
	AuditActionIntent       AuditAction = "INTENT_SUBMIT"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	OwnerID      *uuid.UUID  `json:"owner_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// NewAuditLog builds an audit record stamped with a fresh ID and time.
func NewAuditLog(ownerID uuid.UUID, action AuditAction, resourceType, resourceID, details string) *AuditLog {
	return &AuditLog{
		ID:           uuid.New(),
		OwnerID:      &ownerID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		CreatedAt:    time.Now().UTC(),
	}
}
