package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"
	"custody-engine/pkg/keysigner"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CustodyService implements ports.KeyCustody. Plaintext keys exist only
// inside the signer handed to a single operation.
type CustodyService struct {
	repo       ports.WalletSecretRepository
	transactor ports.DBTransactor
	envelope   ports.EnvelopeCrypto
	audit      ports.AuditService
	log        zerolog.Logger
}

// NewCustodyService creates a new CustodyService.
func NewCustodyService(
	repo ports.WalletSecretRepository,
	transactor ports.DBTransactor,
	envelope ports.EnvelopeCrypto,
	audit ports.AuditService,
	log zerolog.Logger,
) *CustodyService {
	return &CustodyService{
		repo:       repo,
		transactor: transactor,
		envelope:   envelope,
		audit:      audit,
		log:        log,
	}
}

// CreateSecret provisions version 1 of an owner's wallet key. An empty
// privateKeyHex generates a fresh key; otherwise the key is imported.
func (s *CustodyService) CreateSecret(ctx context.Context, ownerID uuid.UUID, privateKeyHex string) (*domain.WalletSecret, error) {
	exists, err := s.repo.OwnerExists(ctx, ownerID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("check owner: %w", err))
	}
	if !exists {
		return nil, apperror.ErrOwnerNotFound(ownerID)
	}

	current, err := s.repo.GetCurrent(ctx, ownerID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get current secret: %w", err))
	}
	if current != nil {
		return nil, apperror.ErrSecretAlreadyProvisioned(ownerID)
	}

	var signer *keysigner.Signer
	if privateKeyHex == "" {
		signer, err = keysigner.Generate()
		if err != nil {
			return nil, apperror.ErrEncryptionFailure(err)
		}
	} else {
		signer, err = keysigner.FromHex(privateKeyHex)
		if err != nil {
			return nil, apperror.ErrInvalidInput("private key is not a valid secp256k1 key")
		}
	}
	defer signer.Destroy()

	secret, err := s.seal(ctx, signer, ownerID, 1)
	if err != nil {
		return nil, err
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.repo.Insert(ctx, dbTx, secret); err != nil {
		if errors.Is(err, ports.ErrConflict) {
			return nil, apperror.ErrSecretAlreadyProvisioned(ownerID)
		}
		return nil, apperror.ErrDatabaseError(fmt.Errorf("insert secret: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.record(ctx, ownerID, domain.AuditActionSecretCreate, secret, nil)
	s.log.Info().
		Str("owner_id", ownerID.String()).
		Str("address", secret.Address).
		Bool("imported", privateKeyHex != "").
		Msg("wallet secret provisioned")

	return secret, nil
}

// GetDecryptedSecret decrypts the owner's current key. purpose is recorded in
// the audit trail. The caller must Destroy the returned signer.
func (s *CustodyService) GetDecryptedSecret(ctx context.Context, ownerID uuid.UUID, purpose string) (*keysigner.Signer, error) {
	current, err := s.currentOrFail(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	s.record(ctx, ownerID, domain.AuditActionSecretAccess, current, map[string]string{"purpose": purpose})

	plain, err := s.envelope.Decrypt(ctx, current.EncryptedSecret, current.WrappedDEK)
	if err != nil {
		return nil, err
	}
	signer, err := keysigner.FromHex(plain)
	if err != nil {
		return nil, apperror.ErrDecryptionFailure(fmt.Errorf("decrypted secret is not a key"))
	}
	if signer.Address() != common.HexToAddress(current.Address) {
		signer.Destroy()
		return nil, apperror.ErrDecryptionFailure(fmt.Errorf("decrypted key does not match stored address"))
	}
	return signer, nil
}

// Address returns the owner's public address without decrypting.
func (s *CustodyService) Address(ctx context.Context, ownerID uuid.UUID) (common.Address, error) {
	current, err := s.currentOrFail(ctx, ownerID)
	if err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(current.Address), nil
}

// RotateSecret re-encrypts the current key under a fresh DEK and appends it
// as a new version. The previous version is archived in the same transaction.
func (s *CustodyService) RotateSecret(ctx context.Context, ownerID uuid.UUID) (*domain.WalletSecret, error) {
	signer, err := s.GetDecryptedSecret(ctx, ownerID, "rotate")
	if err != nil {
		return nil, err
	}
	defer signer.Destroy()

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	current, err := s.repo.GetCurrentForUpdate(ctx, dbTx, ownerID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lock current secret: %w", err))
	}
	if current == nil {
		return nil, apperror.ErrNoSecretProvisioned(ownerID)
	}
	if common.HexToAddress(current.Address) != signer.Address() {
		return nil, apperror.InternalError(fmt.Errorf("current secret changed during rotation"))
	}

	next, err := s.seal(ctx, signer, ownerID, current.Version+1)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Archive(ctx, dbTx, current.ID, next.CreatedAt); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("archive secret: %w", err))
	}
	if err := s.repo.Insert(ctx, dbTx, next); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("insert secret: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.record(ctx, ownerID, domain.AuditActionSecretRotate, next, map[string]string{
		"previous_version": fmt.Sprint(current.Version),
	})
	s.log.Info().
		Str("owner_id", ownerID.String()).
		Int("version", next.Version).
		Msg("wallet secret rotated")

	return next, nil
}

func (s *CustodyService) seal(ctx context.Context, signer *keysigner.Signer, ownerID uuid.UUID, version int) (*domain.WalletSecret, error) {
	plain, err := signer.Hex()
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(err)
	}
	env, err := s.envelope.Encrypt(ctx, plain)
	if err != nil {
		return nil, err
	}
	return &domain.WalletSecret{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		Address:         signer.Address().Hex(),
		Version:         version,
		EncryptedSecret: env.EncryptedData,
		WrappedDEK:      env.EncryptedDEK,
		KeyName:         env.KeyName,
		Current:         true,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

func (s *CustodyService) currentOrFail(ctx context.Context, ownerID uuid.UUID) (*domain.WalletSecret, error) {
	current, err := s.repo.GetCurrent(ctx, ownerID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get current secret: %w", err))
	}
	if current != nil {
		return current, nil
	}
	exists, err := s.repo.OwnerExists(ctx, ownerID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("check owner: %w", err))
	}
	if !exists {
		return nil, apperror.ErrOwnerNotFound(ownerID)
	}
	return nil, apperror.ErrNoSecretProvisioned(ownerID)
}

func (s *CustodyService) record(ctx context.Context, ownerID uuid.UUID, action domain.AuditAction, secret *domain.WalletSecret, extra map[string]string) {
	if s.audit == nil {
		return
	}
	details := map[string]string{"address": secret.Address, "version": fmt.Sprint(secret.Version)}
	for k, v := range extra {
		details[k] = v
	}
	raw, _ := json.Marshal(details)
	s.audit.Log(ctx, domain.NewAuditLog(ownerID, action, "wallet_secret", secret.ID.String(), string(raw)))
}
