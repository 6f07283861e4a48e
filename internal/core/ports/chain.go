package ports

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxSigner signs transactions for a single account.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Receipt is the confirmed outcome of a submitted transaction.
type Receipt struct {
	TxHash            string
	Success           bool
	BlockNumber       uint64
	GasUsed           uint64
	EffectiveGasPrice *big.Int
}

// GasCost is the native amount the sender paid for the transaction.
func (r *Receipt) GasCost() *big.Int {
	if r == nil || r.EffectiveGasPrice == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(r.EffectiveGasPrice, new(big.Int).SetUint64(r.GasUsed))
}

// ContractCall is a prepared call to an arbitrary contract, such as calldata
// returned by a swap quote.
type ContractCall struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	Gas   uint64 // zero means estimate
}

// ChainClient reads chain state and submits signed transactions. Submit
// methods return the transaction hash once the node accepts it; read failures
// are CHN_004 and rejected submissions CHN_002.
type ChainClient interface {
	ChainID() *big.Int
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	// FeeEstimate is the native cost of txCount transactions at the current gas price.
	FeeEstimate(ctx context.Context, txCount int) (*big.Int, error)

	SendNative(ctx context.Context, signer TxSigner, to common.Address, value *big.Int) (string, error)
	TransferToken(ctx context.Context, signer TxSigner, token, to common.Address, amount *big.Int) (string, error)
	Approve(ctx context.Context, signer TxSigner, token, spender common.Address, amount *big.Int) (string, error)
	Call(ctx context.Context, signer TxSigner, call ContractCall) (string, error)
	RequestService(ctx context.Context, signer TxSigner, serviceRef string, fiatAmountMinor, value *big.Int) (string, error)
	RequestERC20Service(ctx context.Context, signer TxSigner, token common.Address, amount *big.Int, serviceRef string, fiatAmountMinor *big.Int) (string, error)

	// WaitForReceipt polls until the transaction is mined or timeout elapses
	// (CHN_003). A reverted transaction returns a receipt with Success=false.
	WaitForReceipt(ctx context.Context, txHash string, timeout time.Duration) (*Receipt, error)
	// ReceiptOf returns nil, nil when the transaction is unknown or unmined.
	ReceiptOf(ctx context.Context, txHash string) (*Receipt, error)
}
