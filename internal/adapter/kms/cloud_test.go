package kms

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const testKeyName = "projects/p/locations/global/keyRings/custody/cryptoKeys/root"

// fakeKMS reverses bytes as its "encryption" and reports checksums honestly
// unless told otherwise.
type fakeKMS struct {
	err            error
	corruptEncrypt bool
	corruptDecrypt bool
	lastName       string
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

func (f *fakeKMS) Encrypt(_ context.Context, req *kmspb.EncryptRequest, _ ...gax.CallOption) (*kmspb.EncryptResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastName = req.GetName()
	ct := reverse(req.GetPlaintext())
	crc := checksum(ct)
	if f.corruptEncrypt {
		crc++
	}
	return &kmspb.EncryptResponse{
		Name:                    req.GetName() + "/cryptoKeyVersions/1",
		Ciphertext:              ct,
		CiphertextCrc32C:        wrapperspb.Int64(crc),
		VerifiedPlaintextCrc32C: req.GetPlaintextCrc32C().GetValue() == checksum(req.GetPlaintext()),
	}, nil
}

func (f *fakeKMS) Decrypt(_ context.Context, req *kmspb.DecryptRequest, _ ...gax.CallOption) (*kmspb.DecryptResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	pt := reverse(req.GetCiphertext())
	crc := checksum(pt)
	if f.corruptDecrypt {
		crc++
	}
	return &kmspb.DecryptResponse{Plaintext: pt, PlaintextCrc32C: wrapperspb.Int64(crc)}, nil
}

func (f *fakeKMS) Close() error { return nil }

func TestCloudKMS_WrapUnwrap(t *testing.T) {
	fake := &fakeKMS{}
	k := newCloudKMS(fake, testKeyName, zerolog.Nop())

	wrapped, err := k.Wrap(context.Background(), []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 2, 1}, wrapped)
	assert.Equal(t, testKeyName, fake.lastName)

	dek, err := k.Unwrap(context.Background(), wrapped)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, dek)
	assert.Equal(t, testKeyName, k.KeyName())
	assert.NoError(t, k.Close())
}

func TestCloudKMS_ClientError(t *testing.T) {
	k := newCloudKMS(&fakeKMS{err: errors.New("permission denied")}, testKeyName, zerolog.Nop())

	_, err := k.Wrap(context.Background(), []byte{1})
	assert.ErrorContains(t, err, "permission denied")

	_, err = k.Unwrap(context.Background(), []byte{1})
	assert.ErrorContains(t, err, "permission denied")
}

func TestCloudKMS_ChecksumMismatch(t *testing.T) {
	k := newCloudKMS(&fakeKMS{corruptEncrypt: true}, testKeyName, zerolog.Nop())
	_, err := k.Wrap(context.Background(), []byte{1, 2})
	assert.ErrorContains(t, err, "corrupted")

	k = newCloudKMS(&fakeKMS{corruptDecrypt: true}, testKeyName, zerolog.Nop())
	_, err = k.Unwrap(context.Background(), []byte{1, 2})
	assert.ErrorContains(t, err, "corrupted")
}

func TestNewCloudKMS_RequiresKeyName(t *testing.T) {
	_, err := NewCloudKMS(context.Background(), "", "", zerolog.Nop())
	assert.Error(t, err)
}
