// Package evm implements ports.ChainClient over a go-ethereum JSON-RPC node.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Backend is the subset of ethclient.Client the adapter uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config tunes the client.
type Config struct {
	RPCURL        string
	ServiceRouter common.Address
	// FeeGasPerTx is the gas budgeted per transaction by FeeEstimate.
	FeeGasPerTx uint64
	// GasBufferPct is added on top of node gas estimates.
	GasBufferPct uint64
	PollInterval time.Duration
	RPCRateLimit float64 // requests per second, 0 disables throttling
	RPCBurst     int
}

func (c *Config) applyDefaults() {
	if c.FeeGasPerTx == 0 {
		c.FeeGasPerTx = 100_000
	}
	if c.GasBufferPct == 0 {
		c.GasBufferPct = 20
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.RPCBurst <= 0 {
		c.RPCBurst = 10
	}
}

// Client implements ports.ChainClient.
type Client struct {
	backend Backend
	chainID *big.Int
	cfg     Config
	limiter *rate.Limiter
	log     zerolog.Logger
	closeFn func()
}

// Dial connects to cfg.RPCURL and reads the chain ID.
func Dial(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	c, err := NewClient(ctx, ec, cfg, log)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.closeFn = ec.Close
	return c, nil
}

// NewClient wraps an existing backend.
func NewClient(ctx context.Context, backend Backend, cfg Config, log zerolog.Logger) (*Client, error) {
	cfg.applyDefaults()
	limit := rate.Inf
	if cfg.RPCRateLimit > 0 {
		limit = rate.Limit(cfg.RPCRateLimit)
	}
	c := &Client{
		backend: backend,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.RPCBurst),
		log:     log,
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	id, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	c.chainID = id
	log.Info().Str("chain_id", id.String()).Msg("chain client ready")
	return c, nil
}

// Close releases the RPC connection when the client owns it.
func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperror.ErrChainUnavailable(err)
	}
	return nil
}

func (c *Client) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	bal, err := c.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, apperror.ErrChainUnavailable(fmt.Errorf("balance of %s: %w", account.Hex(), err))
	}
	return bal, nil
}

func (c *Client) TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	return c.callUint(ctx, token, "balanceOf", holder)
}

func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return c.callUint(ctx, token, "allowance", owner, spender)
}

func (c *Client) callUint(ctx context.Context, token common.Address, method string, args ...interface{}) (*big.Int, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, apperror.ErrChainUnavailable(fmt.Errorf("%s on %s: %w", method, token.Hex(), err))
	}
	values, err := erc20ABI.Unpack(method, out)
	if err != nil || len(values) != 1 {
		return nil, apperror.ErrChainUnavailable(fmt.Errorf("decode %s on %s: %v", method, token.Hex(), err))
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, apperror.ErrChainUnavailable(fmt.Errorf("decode %s on %s: unexpected type %T", method, token.Hex(), values[0]))
	}
	return v, nil
}

// FeeEstimate budgets FeeGasPerTx gas per transaction at the suggested price.
func (c *Client) FeeEstimate(ctx context.Context, txCount int) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, apperror.ErrChainUnavailable(fmt.Errorf("suggest gas price: %w", err))
	}
	fee := new(big.Int).Mul(price, new(big.Int).SetUint64(c.cfg.FeeGasPerTx))
	return fee.Mul(fee, big.NewInt(int64(txCount))), nil
}

func (c *Client) SendNative(ctx context.Context, signer ports.TxSigner, to common.Address, value *big.Int) (string, error) {
	return c.send(ctx, signer, to, value, nil, 0)
}

func (c *Client) TransferToken(ctx context.Context, signer ports.TxSigner, token, to common.Address, amount *big.Int) (string, error) {
	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return "", fmt.Errorf("pack transfer: %w", err)
	}
	return c.send(ctx, signer, token, nil, data, 0)
}

func (c *Client) Approve(ctx context.Context, signer ports.TxSigner, token, spender common.Address, amount *big.Int) (string, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return "", fmt.Errorf("pack approve: %w", err)
	}
	return c.send(ctx, signer, token, nil, data, 0)
}

func (c *Client) Call(ctx context.Context, signer ports.TxSigner, call ports.ContractCall) (string, error) {
	return c.send(ctx, signer, call.To, call.Value, call.Data, call.Gas)
}

func (c *Client) RequestService(ctx context.Context, signer ports.TxSigner, serviceRef string, fiatAmountMinor, value *big.Int) (string, error) {
	data, err := serviceRouterABI.Pack("requestService", serviceRef, fiatAmountMinor)
	if err != nil {
		return "", fmt.Errorf("pack requestService: %w", err)
	}
	return c.send(ctx, signer, c.cfg.ServiceRouter, value, data, 0)
}

func (c *Client) RequestERC20Service(ctx context.Context, signer ports.TxSigner, token common.Address, amount *big.Int, serviceRef string, fiatAmountMinor *big.Int) (string, error) {
	data, err := serviceRouterABI.Pack("requestERC20Service", token, amount, serviceRef, fiatAmountMinor)
	if err != nil {
		return "", fmt.Errorf("pack requestERC20Service: %w", err)
	}
	return c.send(ctx, signer, c.cfg.ServiceRouter, nil, data, 0)
}

// send builds, signs and broadcasts a legacy transaction. The caller holds
// the signer's lock, so the pending nonce is not raced.
func (c *Client) send(ctx context.Context, signer ports.TxSigner, to common.Address, value *big.Int, data []byte, gas uint64) (string, error) {
	if value == nil {
		value = new(big.Int)
	}
	from := signer.Address()

	if err := c.wait(ctx); err != nil {
		return "", err
	}
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return "", apperror.ErrChainUnavailable(fmt.Errorf("pending nonce: %w", err))
	}
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", apperror.ErrChainUnavailable(fmt.Errorf("suggest gas price: %w", err))
	}
	if gas == 0 {
		if err := c.wait(ctx); err != nil {
			return "", err
		}
		estimated, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
		if err != nil {
			return "", apperror.ErrChainSubmissionFailed(fmt.Errorf("estimate gas: %w", err))
		}
		gas = estimated + estimated*c.cfg.GasBufferPct/100
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := signer.SignTx(tx, c.chainID)
	if err != nil {
		return "", apperror.ErrChainSubmissionFailed(fmt.Errorf("sign tx: %w", err))
	}
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return "", apperror.ErrChainSubmissionFailed(err)
	}

	hash := signed.Hash().Hex()
	c.log.Info().
		Str("from", from.Hex()).
		Str("to", to.Hex()).
		Uint64("nonce", nonce).
		Uint64("gas", gas).
		Str("tx_hash", hash).
		Msg("transaction submitted")
	return hash, nil
}

// WaitForReceipt polls for the receipt until it is mined or timeout elapses.
func (c *Client) WaitForReceipt(ctx context.Context, txHash string, timeout time.Duration) (*ports.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.ReceiptOf(waitCtx, txHash)
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err != nil && waitCtx.Err() == nil:
			c.log.Warn().Err(err).Str("tx_hash", txHash).Msg("receipt poll failed, retrying")
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, apperror.ErrChainUnavailable(ctx.Err())
			}
			return nil, apperror.ErrConfirmationTimeout(txHash)
		case <-ticker.C:
		}
	}
}

// ReceiptOf returns nil, nil while the transaction is unknown or pending.
func (c *Client) ReceiptOf(ctx context.Context, txHash string) (*ports.Receipt, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	r, err := c.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrChainUnavailable(fmt.Errorf("receipt %s: %w", txHash, err))
	}
	out := &ports.Receipt{
		TxHash:            txHash,
		Success:           r.Status == types.ReceiptStatusSuccessful,
		GasUsed:           r.GasUsed,
		EffectiveGasPrice: r.EffectiveGasPrice,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out, nil
}

// Ping implements ports.HealthChecker.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.backend.ChainID(ctx)
	return err
}

// Name returns the dependency name.
func (c *Client) Name() string {
	return "chain"
}
