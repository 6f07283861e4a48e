package kms

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// LocalKeyManager implements ports.KeyManager with an in-process AES-256-GCM
// root key. It is intended for development and tests.
type LocalKeyManager struct {
	aead    cipher.AEAD
	keyName string
}

// NewLocalKeyManager creates a local key manager.
// hexKey must be a 64-character hex string (32 bytes decoded).
func NewLocalKeyManager(hexKey, keyName string) (*LocalKeyManager, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding root key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("root key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	if keyName == "" {
		keyName = "local/root"
	}
	return &LocalKeyManager{aead: aead, keyName: keyName}, nil
}

// Wrap seals dek under the root key. Output: nonce || ciphertext || tag.
func (m *LocalKeyManager) Wrap(_ context.Context, dek []byte) ([]byte, error) {
	nonce := make([]byte, m.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return m.aead.Seal(nonce, nonce, dek, []byte(m.keyName)), nil
}

// Unwrap opens a DEK sealed by Wrap.
func (m *LocalKeyManager) Unwrap(_ context.Context, wrapped []byte) ([]byte, error) {
	nonceSize := m.aead.NonceSize()
	if len(wrapped) < nonceSize+m.aead.Overhead() {
		return nil, fmt.Errorf("wrapped key too short")
	}
	nonce, sealed := wrapped[:nonceSize], wrapped[nonceSize:]
	dek, err := m.aead.Open(nil, nonce, sealed, []byte(m.keyName))
	if err != nil {
		return nil, fmt.Errorf("unwrapping key: %w", err)
	}
	return dek, nil
}

// KeyName returns the configured root key name.
func (m *LocalKeyManager) KeyName() string {
	return m.keyName
}
