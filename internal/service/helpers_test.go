package service

import (
	"context"
	"errors"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type mockTx struct {
	pgx.Tx
	committed bool
}

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error {
	m.committed = true
	return nil
}

// fakeKeyManager "wraps" by XOR with a fixed pad and a marker prefix.
type fakeKeyManager struct{}

func newFakeKeyManager() *fakeKeyManager { return &fakeKeyManager{} }

const fakeWrapMarker = "wrapped:"

func (fakeKeyManager) Wrap(_ context.Context, dek []byte) ([]byte, error) {
	out := []byte(fakeWrapMarker)
	for _, b := range dek {
		out = append(out, b^0x5a)
	}
	return out, nil
}

func (fakeKeyManager) Unwrap(_ context.Context, wrapped []byte) ([]byte, error) {
	if len(wrapped) < len(fakeWrapMarker) || string(wrapped[:len(fakeWrapMarker)]) != fakeWrapMarker {
		return nil, errors.New("not wrapped by this key")
	}
	out := make([]byte, 0, len(wrapped)-len(fakeWrapMarker))
	for _, b := range wrapped[len(fakeWrapMarker):] {
		out = append(out, b^0x5a)
	}
	return out, nil
}

func (fakeKeyManager) KeyName() string { return "fake/root" }
