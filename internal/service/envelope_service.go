package service

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"
)

const (
	dekSize   = 32
	nonceSize = 12
	tagSize   = 16
	// minPacketSize is nonce plus tag: an empty plaintext.
	minPacketSize = nonceSize + tagSize
)

// EnvelopeService implements ports.EnvelopeCrypto with AES-256-GCM under a
// per-secret data encryption key wrapped by the KeyManager.
type EnvelopeService struct {
	keys ports.KeyManager
}

// NewEnvelopeService creates an envelope crypto service.
func NewEnvelopeService(keys ports.KeyManager) *EnvelopeService {
	return &EnvelopeService{keys: keys}
}

// Encrypt seals a hex-encoded secret. The 0x prefix is optional.
func (s *EnvelopeService) Encrypt(ctx context.Context, plaintextHex string) (*domain.Envelope, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(plaintextHex), "0x"), "0X")
	if trimmed == "" {
		return nil, apperror.ErrInvalidInput("plaintext is empty")
	}
	plaintext, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, apperror.ErrInvalidInput("plaintext is not valid hex")
	}
	defer zero(plaintext)

	dek := make([]byte, dekSize)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, apperror.ErrEncryptionFailure(fmt.Errorf("generating dek: %w", err))
	}
	defer zero(dek)

	aead, err := newGCM(dek)
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, apperror.ErrEncryptionFailure(fmt.Errorf("generating nonce: %w", err))
	}
	packet := aead.Seal(nonce, nonce, plaintext, nil)

	wrapped, err := s.keys.Wrap(ctx, dek)
	if err != nil {
		return nil, apperror.ErrKeyManagementFailure(err)
	}

	return &domain.Envelope{
		EncryptedData: base64.StdEncoding.EncodeToString(packet),
		EncryptedDEK:  base64.StdEncoding.EncodeToString(wrapped),
		KeyName:       s.keys.KeyName(),
	}, nil
}

// Decrypt opens an envelope and returns the secret as 0x-prefixed hex.
// Empty encryptedData decrypts to the empty string.
func (s *EnvelopeService) Decrypt(ctx context.Context, encryptedData, encryptedDEK string) (string, error) {
	if encryptedData == "" {
		return "", nil
	}

	packet, err := base64.StdEncoding.DecodeString(encryptedData)
	if err != nil {
		return "", apperror.ErrDecryptionFailure(fmt.Errorf("decoding data: %w", err))
	}
	if len(packet) < minPacketSize {
		return "", apperror.ErrDecryptionFailure(fmt.Errorf("packet of %d bytes is shorter than %d", len(packet), minPacketSize))
	}
	wrapped, err := base64.StdEncoding.DecodeString(encryptedDEK)
	if err != nil {
		return "", apperror.ErrDecryptionFailure(fmt.Errorf("decoding dek: %w", err))
	}

	dek, err := s.keys.Unwrap(ctx, wrapped)
	if err != nil {
		return "", apperror.ErrKeyManagementFailure(err)
	}
	defer zero(dek)
	if len(dek) != dekSize {
		return "", apperror.ErrDecryptionFailure(fmt.Errorf("dek is %d bytes, want %d", len(dek), dekSize))
	}

	aead, err := newGCM(dek)
	if err != nil {
		return "", apperror.ErrDecryptionFailure(err)
	}
	plaintext, err := aead.Open(nil, packet[:nonceSize], packet[nonceSize:], nil)
	if err != nil {
		return "", apperror.ErrAuthenticationFailure(err)
	}
	defer zero(plaintext)

	return "0x" + hex.EncodeToString(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return aead, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
