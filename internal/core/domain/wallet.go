package domain

import (
	"time"

	"github.com/google/uuid"
)

// WalletSecret is one version of an owner's envelope-encrypted private key.
// Only ciphertexts are stored: the raw key and the raw DEK never persist.
type WalletSecret struct {
	ID              uuid.UUID  `json:"id"`
	OwnerID         uuid.UUID  `json:"owner_id"`
	Address         string     `json:"address"` // public EVM address, safe to expose
	Version         int        `json:"version"`
	EncryptedSecret string     `json:"-"` // base64 nonce||ciphertext||tag
	WrappedDEK      string     `json:"-"` // base64 KMS ciphertext of the DEK
	KeyName         string     `json:"key_name"`
	Current         bool       `json:"current"`
	CreatedAt       time.Time  `json:"created_at"`
	ArchivedAt      *time.Time `json:"archived_at,omitempty"`
}

// Envelope is the output of envelope encryption.
type Envelope struct {
	EncryptedData string
	EncryptedDEK  string
	KeyName       string
}
