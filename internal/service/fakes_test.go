package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"
	"custody-engine/pkg/apperror"
	"custody-engine/pkg/keysigner"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memChain is an in-memory EVM stand-in. Every submission charges
// gasPerTx*gasPrice to the sender and is mined immediately unless stalled.
type memChain struct {
	mu       sync.Mutex
	gasPrice *big.Int
	gasPerTx uint64

	native   map[common.Address]*big.Int
	tokens   map[common.Address]map[common.Address]*big.Int
	allow    map[common.Address]map[common.Address]map[common.Address]*big.Int
	receipts map[string]*ports.Receipt
	seq      int

	failOn map[string]error // method -> submission error
	stall  map[string]bool  // method -> never mined
	revert map[string]bool  // method -> mined but reverted

	serviceRouter common.Address
	onCall        func(from common.Address, call ports.ContractCall) error

	submitted       []string
	serviceRequests []serviceRequest
}

type serviceRequest struct {
	From       common.Address
	Token      common.Address
	Amount     *big.Int
	ServiceRef string
	FiatMinor  *big.Int
}

func newMemChain() *memChain {
	return &memChain{
		gasPrice: big.NewInt(1_000_000_000),
		gasPerTx: 21000,
		native:   make(map[common.Address]*big.Int),
		tokens:   make(map[common.Address]map[common.Address]*big.Int),
		allow:    make(map[common.Address]map[common.Address]map[common.Address]*big.Int),
		receipts: make(map[string]*ports.Receipt),
		failOn:   make(map[string]error),
		stall:    make(map[string]bool),
		revert:   make(map[string]bool),
	}
}

func (c *memChain) txFee() *big.Int {
	return new(big.Int).Mul(c.gasPrice, new(big.Int).SetUint64(c.gasPerTx))
}

func (c *memChain) fundNative(a common.Address, v *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.native[a] = new(big.Int).Add(c.nativeLocked(a), v)
}

func (c *memChain) fundToken(token, a common.Address, v *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setToken(token, a, new(big.Int).Add(c.tokenLocked(token, a), v))
}

func (c *memChain) nativeOf(a common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nativeLocked(a)
}

func (c *memChain) tokenOf(token, a common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenLocked(token, a)
}

func (c *memChain) submissions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.submitted...)
}

func (c *memChain) nativeLocked(a common.Address) *big.Int {
	if v, ok := c.native[a]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (c *memChain) tokenLocked(token, a common.Address) *big.Int {
	if v, ok := c.tokens[token][a]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (c *memChain) setToken(token, a common.Address, v *big.Int) {
	if c.tokens[token] == nil {
		c.tokens[token] = make(map[common.Address]*big.Int)
	}
	c.tokens[token][a] = v
}

func (c *memChain) moveNative(from, to common.Address, v *big.Int) error {
	bal := c.nativeLocked(from)
	if bal.Cmp(v) < 0 {
		return errors.New("insufficient native balance")
	}
	c.native[from] = bal.Sub(bal, v)
	c.native[to] = new(big.Int).Add(c.nativeLocked(to), v)
	return nil
}

func (c *memChain) moveToken(token, from, to common.Address, v *big.Int) error {
	bal := c.tokenLocked(token, from)
	if bal.Cmp(v) < 0 {
		return errors.New("transfer amount exceeds balance")
	}
	c.setToken(token, from, bal.Sub(bal, v))
	c.setToken(token, to, new(big.Int).Add(c.tokenLocked(token, to), v))
	return nil
}

func (c *memChain) allowanceLocked(token, owner, spender common.Address) *big.Int {
	if v, ok := c.allow[token][owner][spender]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (c *memChain) setAllowance(token, owner, spender common.Address, v *big.Int) {
	if c.allow[token] == nil {
		c.allow[token] = make(map[common.Address]map[common.Address]*big.Int)
	}
	if c.allow[token][owner] == nil {
		c.allow[token][owner] = make(map[common.Address]*big.Int)
	}
	c.allow[token][owner][spender] = v
}

func (c *memChain) spendAllowance(token, owner, spender common.Address, v *big.Int) error {
	a := c.allowanceLocked(token, owner, spender)
	if a.Cmp(v) < 0 {
		return errors.New("insufficient allowance")
	}
	c.setAllowance(token, owner, spender, a.Sub(a, v))
	return nil
}

// submit charges gas and applies the state change. A failing apply marks the
// receipt reverted.
func (c *memChain) submit(method string, from common.Address, apply func() error) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted = append(c.submitted, method)
	if err := c.failOn[method]; err != nil {
		return "", apperror.ErrChainSubmissionFailed(err)
	}
	fee := c.txFee()
	bal := c.nativeLocked(from)
	if bal.Cmp(fee) < 0 {
		return "", apperror.ErrChainSubmissionFailed(errors.New("insufficient funds for gas"))
	}
	c.native[from] = bal.Sub(bal, fee)

	c.seq++
	hash := fmt.Sprintf("0x%064x", c.seq)
	receipt := &ports.Receipt{
		TxHash:            hash,
		Success:           true,
		BlockNumber:       uint64(c.seq),
		GasUsed:           c.gasPerTx,
		EffectiveGasPrice: new(big.Int).Set(c.gasPrice),
	}
	if c.revert[method] {
		receipt.Success = false
	} else if err := apply(); err != nil {
		receipt.Success = false
	}
	if !c.stall[method] {
		c.receipts[hash] = receipt
	}
	return hash, nil
}

func (c *memChain) ChainID() *big.Int { return big.NewInt(31337) }

func (c *memChain) NativeBalance(_ context.Context, a common.Address) (*big.Int, error) {
	return c.nativeOf(a), nil
}

func (c *memChain) TokenBalance(_ context.Context, token, holder common.Address) (*big.Int, error) {
	return c.tokenOf(token, holder), nil
}

func (c *memChain) Allowance(_ context.Context, token, owner, spender common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allowanceLocked(token, owner, spender), nil
}

func (c *memChain) FeeEstimate(_ context.Context, txCount int) (*big.Int, error) {
	return new(big.Int).Mul(c.txFee(), big.NewInt(int64(txCount))), nil
}

func (c *memChain) SendNative(_ context.Context, signer ports.TxSigner, to common.Address, value *big.Int) (string, error) {
	from := signer.Address()
	return c.submit("SendNative", from, func() error { return c.moveNative(from, to, value) })
}

func (c *memChain) TransferToken(_ context.Context, signer ports.TxSigner, token, to common.Address, amount *big.Int) (string, error) {
	from := signer.Address()
	return c.submit("TransferToken", from, func() error { return c.moveToken(token, from, to, amount) })
}

func (c *memChain) Approve(_ context.Context, signer ports.TxSigner, token, spender common.Address, amount *big.Int) (string, error) {
	from := signer.Address()
	return c.submit("Approve", from, func() error {
		c.setAllowance(token, from, spender, new(big.Int).Set(amount))
		return nil
	})
}

func (c *memChain) Call(_ context.Context, signer ports.TxSigner, call ports.ContractCall) (string, error) {
	from := signer.Address()
	return c.submit("Call", from, func() error {
		if c.onCall == nil {
			return errors.New("no contract at address")
		}
		return c.onCall(from, call)
	})
}

func (c *memChain) RequestService(_ context.Context, signer ports.TxSigner, serviceRef string, fiatAmountMinor, value *big.Int) (string, error) {
	from := signer.Address()
	return c.submit("RequestService", from, func() error {
		if err := c.moveNative(from, c.serviceRouter, value); err != nil {
			return err
		}
		c.serviceRequests = append(c.serviceRequests, serviceRequest{From: from, Amount: value, ServiceRef: serviceRef, FiatMinor: fiatAmountMinor})
		return nil
	})
}

func (c *memChain) RequestERC20Service(_ context.Context, signer ports.TxSigner, token common.Address, amount *big.Int, serviceRef string, fiatAmountMinor *big.Int) (string, error) {
	from := signer.Address()
	return c.submit("RequestERC20Service", from, func() error {
		if err := c.spendAllowance(token, from, c.serviceRouter, amount); err != nil {
			return err
		}
		if err := c.moveToken(token, from, c.serviceRouter, amount); err != nil {
			return err
		}
		c.serviceRequests = append(c.serviceRequests, serviceRequest{From: from, Token: token, Amount: amount, ServiceRef: serviceRef, FiatMinor: fiatAmountMinor})
		return nil
	})
}

func (c *memChain) WaitForReceipt(_ context.Context, txHash string, _ time.Duration) (*ports.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[txHash]
	if !ok {
		return nil, apperror.ErrConfirmationTimeout(txHash)
	}
	return r, nil
}

func (c *memChain) ReceiptOf(_ context.Context, txHash string) (*ports.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receipts[txHash], nil
}

// memLedgerRepo enforces the same PENDING-only transitions as the SQL repo.
type memLedgerRepo struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*domain.LedgerEntry

	onSum func() // called before each accumulator read, outside mu
}

func newMemLedgerRepo() *memLedgerRepo {
	return &memLedgerRepo{entries: make(map[uuid.UUID]*domain.LedgerEntry)}
}

func (r *memLedgerRepo) Insert(_ context.Context, e *domain.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.Reference != nil {
		for _, x := range r.entries {
			if x.OwnerID == e.OwnerID && x.Reference != nil && *x.Reference == *e.Reference {
				return ports.ErrConflict
			}
		}
	}
	cp := *e
	r.entries[e.ID] = &cp
	return nil
}

func (r *memLedgerRepo) Get(_ context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (r *memLedgerRepo) GetByReference(_ context.Context, ownerID uuid.UUID, reference string) (*domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.OwnerID == ownerID && e.Reference != nil && *e.Reference == reference {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memLedgerRepo) Finalize(_ context.Context, id uuid.UUID, f domain.Finalization, at time.Time) (*domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.Status != domain.LedgerStatusPending {
		return nil, nil
	}
	e.Status = f.Status
	if f.TxHash != "" {
		e.ChainTxHash = &f.TxHash
	}
	if f.FeeTxHash != "" {
		e.FeeTxHash = &f.FeeTxHash
	}
	if f.Amount != nil {
		e.Amount = *f.Amount
	}
	if f.Note != "" {
		e.Note = &f.Note
	}
	e.FinalizedAt = &at
	cp := *e
	return &cp, nil
}

func (r *memLedgerRepo) AttachTxHash(_ context.Context, id uuid.UUID, txHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.Status != domain.LedgerStatusPending {
		return false, nil
	}
	e.ChainTxHash = &txHash
	return true, nil
}

func (r *memLedgerRepo) List(_ context.Context, params ports.LedgerListParams) ([]domain.LedgerEntry, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range r.entries {
		if e.OwnerID == params.OwnerID && !e.Internal {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, int64(len(out)), nil
}

func (r *memLedgerRepo) SumReferenceValue(_ context.Context, ownerID uuid.UUID, kind domain.LedgerKind, since time.Time) (decimal.Decimal, error) {
	if r.onSum != nil {
		r.onSum()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, e := range r.entries {
		if e.OwnerID == ownerID && e.Kind == kind && !e.Internal && !e.CreatedAt.Before(since) {
			total = total.Add(e.ReferenceValue)
		}
	}
	return total, nil
}

func (r *memLedgerRepo) ListStalePending(_ context.Context, createdBefore time.Time, limit int) ([]domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range r.entries {
		if e.Status == domain.LedgerStatusPending && e.CreatedAt.Before(createdBefore) && len(out) < limit {
			out = append(out, *e)
		}
	}
	return out, nil
}

// byOwner returns all of ownerID's rows, internal ones included.
func (r *memLedgerRepo) byOwner(ownerID uuid.UUID) []domain.LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range r.entries {
		if e.OwnerID == ownerID {
			out = append(out, *e)
		}
	}
	return out
}

type memPolicyRepo struct {
	mu       sync.Mutex
	policies map[uuid.UUID]*domain.SpendingPolicy
}

func newMemPolicyRepo() *memPolicyRepo {
	return &memPolicyRepo{policies: make(map[uuid.UUID]*domain.SpendingPolicy)}
}

func (r *memPolicyRepo) Get(_ context.Context, dependentID uuid.UUID) (*domain.SpendingPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.policies[dependentID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (r *memPolicyRepo) Upsert(_ context.Context, p *domain.SpendingPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.policies[p.DependentID] = &cp
	return nil
}

// memCustody keeps plaintext keys and hands out a fresh signer per call, as
// the real store does after decryption.
type memCustody struct {
	mu       sync.Mutex
	keys     map[uuid.UUID]string
	purposes []string
}

func newMemCustody() *memCustody {
	return &memCustody{keys: make(map[uuid.UUID]string)}
}

func (m *memCustody) add(ownerID uuid.UUID) (common.Address, error) {
	s, err := keysigner.Generate()
	if err != nil {
		return common.Address{}, err
	}
	hexKey, err := s.Hex()
	if err != nil {
		return common.Address{}, err
	}
	m.mu.Lock()
	m.keys[ownerID] = hexKey
	m.mu.Unlock()
	return s.Address(), nil
}

func (m *memCustody) signer(ownerID uuid.UUID) (*keysigner.Signer, error) {
	m.mu.Lock()
	hexKey, ok := m.keys[ownerID]
	m.mu.Unlock()
	if !ok {
		return nil, apperror.ErrNoSecretProvisioned(ownerID)
	}
	return keysigner.FromHex(hexKey)
}

func (m *memCustody) CreateSecret(context.Context, uuid.UUID, string) (*domain.WalletSecret, error) {
	return nil, errors.New("not supported")
}

func (m *memCustody) GetDecryptedSecret(_ context.Context, ownerID uuid.UUID, purpose string) (*keysigner.Signer, error) {
	m.mu.Lock()
	m.purposes = append(m.purposes, purpose)
	m.mu.Unlock()
	return m.signer(ownerID)
}

func (m *memCustody) Address(_ context.Context, ownerID uuid.UUID) (common.Address, error) {
	s, err := m.signer(ownerID)
	if err != nil {
		return common.Address{}, err
	}
	defer s.Destroy()
	return s.Address(), nil
}

func (m *memCustody) RotateSecret(context.Context, uuid.UUID) (*domain.WalletSecret, error) {
	return nil, errors.New("not supported")
}

type memIdempotency struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{data: make(map[string][]byte)}
}

func (m *memIdempotency) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memIdempotency) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

type fixedRates map[string]decimal.Decimal

func (f fixedRates) Rate(_ context.Context, base, quote string) (decimal.Decimal, error) {
	r, ok := f[base+"/"+quote]
	if !ok {
		return decimal.Zero, fmt.Errorf("no rate for %s/%s", base, quote)
	}
	return r, nil
}

// fixedRateQuoter quotes buy base units = sell base units * rate.
type fixedRateQuoter struct {
	mu     sync.Mutex
	router common.Address
	rate   decimal.Decimal
	last   ports.QuoteRequest
	to     *common.Address
}

func (q *fixedRateQuoter) Quote(_ context.Context, req ports.QuoteRequest) (*ports.Quote, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.last = req
	to := q.router
	if q.to != nil {
		to = *q.to
	}
	value := new(big.Int)
	if req.SellToken == (common.Address{}) {
		value.Set(req.SellAmount)
	}
	return &ports.Quote{
		To:              to,
		Data:            []byte{0x5a, 0xe4, 0x01, 0x01},
		Value:           value,
		BuyAmount:       decimal.NewFromBigInt(req.SellAmount, 0).Mul(q.rate).Truncate(0).BigInt(),
		AllowanceTarget: q.router,
	}, nil
}

func (q *fixedRateQuoter) lastRequest() ports.QuoteRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.last
}
