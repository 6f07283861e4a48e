// Package keysigner holds a decrypted secp256k1 wallet key for the duration
// of one chain operation.
package keysigner

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrDestroyed = errors.New("keysigner: key destroyed")

// Signer signs transactions with a single private key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// FromHex parses a hex private key, with or without a 0x prefix.
func FromHex(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("keysigner: parse key: %w", err)
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Generate creates a fresh key.
func Generate() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("keysigner: generate key: %w", err)
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address is the account controlled by the key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Hex renders the private key as 0x-prefixed hex, the plaintext form stored
// inside an envelope.
func (s *Signer) Hex() (string, error) {
	if s.key == nil {
		return "", ErrDestroyed
	}
	return "0x" + common.Bytes2Hex(crypto.FromECDSA(s.key)), nil
}

// SignTx signs tx for chainID.
func (s *Signer) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if s.key == nil {
		return nil, ErrDestroyed
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// Destroy zeroes the private scalar. The signer is unusable afterwards.
func (s *Signer) Destroy() {
	if s.key == nil {
		return
	}
	if s.key.D != nil {
		s.key.D.SetInt64(0)
	}
	s.key = nil
}
