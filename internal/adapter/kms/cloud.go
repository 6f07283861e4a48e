package kms

import (
	"context"
	"fmt"
	"hash/crc32"

	kmsapi "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// kmsClient is the subset of the Cloud KMS client used here.
type kmsClient interface {
	Encrypt(ctx context.Context, req *kmspb.EncryptRequest, opts ...gax.CallOption) (*kmspb.EncryptResponse, error)
	Decrypt(ctx context.Context, req *kmspb.DecryptRequest, opts ...gax.CallOption) (*kmspb.DecryptResponse, error)
	Close() error
}

// CloudKMS implements ports.KeyManager with a Google Cloud KMS symmetric key.
// Both directions carry CRC32C checksums so corruption in transit is detected.
type CloudKMS struct {
	client  kmsClient
	keyName string
	log     zerolog.Logger
}

// NewCloudKMS dials Cloud KMS. keyName is the full crypto key resource:
// projects/*/locations/*/keyRings/*/cryptoKeys/*.
func NewCloudKMS(ctx context.Context, keyName, credentialsFile string, log zerolog.Logger) (*CloudKMS, error) {
	if keyName == "" {
		return nil, fmt.Errorf("kms key name is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := kmsapi.NewKeyManagementClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating kms client: %w", err)
	}
	log.Info().Str("key_name", keyName).Msg("Cloud KMS client established")
	return newCloudKMS(client, keyName, log), nil
}

func newCloudKMS(client kmsClient, keyName string, log zerolog.Logger) *CloudKMS {
	return &CloudKMS{client: client, keyName: keyName, log: log}
}

// Wrap encrypts dek under the configured key.
func (k *CloudKMS) Wrap(ctx context.Context, dek []byte) ([]byte, error) {
	resp, err := k.client.Encrypt(ctx, &kmspb.EncryptRequest{
		Name:            k.keyName,
		Plaintext:       dek,
		PlaintextCrc32C: wrapperspb.Int64(checksum(dek)),
	})
	if err != nil {
		return nil, fmt.Errorf("kms encrypt: %w", err)
	}
	if !resp.GetVerifiedPlaintextCrc32C() {
		return nil, fmt.Errorf("kms encrypt: request corrupted in transit")
	}
	if resp.GetCiphertextCrc32C().GetValue() != checksum(resp.GetCiphertext()) {
		return nil, fmt.Errorf("kms encrypt: response corrupted in transit")
	}
	k.log.Debug().Str("key_version", resp.GetName()).Msg("dek wrapped")
	return resp.GetCiphertext(), nil
}

// Unwrap decrypts a DEK wrapped by Wrap. KMS picks the key version from the
// ciphertext, so DEKs wrapped before a key rotation still unwrap.
func (k *CloudKMS) Unwrap(ctx context.Context, wrapped []byte) ([]byte, error) {
	resp, err := k.client.Decrypt(ctx, &kmspb.DecryptRequest{
		Name:             k.keyName,
		Ciphertext:       wrapped,
		CiphertextCrc32C: wrapperspb.Int64(checksum(wrapped)),
	})
	if err != nil {
		return nil, fmt.Errorf("kms decrypt: %w", err)
	}
	if resp.GetPlaintextCrc32C().GetValue() != checksum(resp.GetPlaintext()) {
		return nil, fmt.Errorf("kms decrypt: response corrupted in transit")
	}
	return resp.GetPlaintext(), nil
}

// KeyName returns the crypto key resource name.
func (k *CloudKMS) KeyName() string {
	return k.keyName
}

// Close releases the underlying gRPC connection.
func (k *CloudKMS) Close() error {
	return k.client.Close()
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func checksum(data []byte) int64 {
	return int64(crc32.Checksum(data, castagnoli))
}
