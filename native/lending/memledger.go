package lending

import (
	"fmt"
	"math/big"
	"sync"

	"marginpool/core/types"
	"marginpool/crypto"
)

// MemoryLedger is an in-memory Ledger used by tests, fixtures and the
// simulation daemon. Atomic runs callbacks against a deep copy and swaps the
// copy in only on success, so a failed execution is invisible to every other
// caller. Concurrent Atomic executions are serialised: the first to commit
// wins and later attempts observe its effects.
type MemoryLedger struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	accounts map[string]*types.Account
	pools    map[string]*poolState
}

type poolState struct {
	listed    map[types.Asset]bool
	positions map[string]*position
}

type position struct {
	entered  []types.Asset
	supplied map[types.Asset]*big.Int
	borrowed map[types.Asset]*big.Int
}

// NewMemoryLedger constructs an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts: make(map[string]*types.Account),
		pools:    make(map[string]*poolState),
	}
}

func accountKey(addr crypto.Address) string {
	return string(addr.Prefix()) + "|" + string(addr.Bytes())
}

func newPosition() *position {
	return &position{
		supplied: make(map[types.Asset]*big.Int),
		borrowed: make(map[types.Asset]*big.Int),
	}
}

func (p *position) clone() *position {
	clone := &position{
		entered:  append([]types.Asset(nil), p.entered...),
		supplied: make(map[types.Asset]*big.Int, len(p.supplied)),
		borrowed: make(map[types.Asset]*big.Int, len(p.borrowed)),
	}
	for asset, amount := range p.supplied {
		clone.supplied[asset] = new(big.Int).Set(amount)
	}
	for asset, amount := range p.borrowed {
		clone.borrowed[asset] = new(big.Int).Set(amount)
	}
	return clone
}

func (p *position) amount(table map[types.Asset]*big.Int, asset types.Asset) *big.Int {
	if amount, ok := table[asset]; ok && amount != nil {
		return new(big.Int).Set(amount)
	}
	return big.NewInt(0)
}

// ListMarket registers an asset as a listed market for the pool.
func (l *MemoryLedger) ListMarket(poolID string, asset types.Asset) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pool := l.poolLocked(poolID)
	pool.listed[asset] = true
}

func (l *MemoryLedger) poolLocked(poolID string) *poolState {
	pool, ok := l.pools[poolID]
	if !ok {
		pool = &poolState{
			listed:    make(map[types.Asset]bool),
			positions: make(map[string]*position),
		}
		l.pools[poolID] = pool
	}
	return pool
}

func (l *MemoryLedger) positionLocked(poolID string, addr crypto.Address) *position {
	pool := l.poolLocked(poolID)
	key := accountKey(addr)
	pos, ok := pool.positions[key]
	if !ok {
		pos = newPosition()
		pool.positions[key] = pos
	}
	return pos
}

// Mint credits free balance to an account. Fixture and faucet use only.
func (l *MemoryLedger) Mint(addr crypto.Address, asset types.Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.accountLocked(addr)
	acc.SetBalance(asset, new(big.Int).Add(acc.Balance(asset), amount))
	return nil
}

// Supply moves free balance into the account's supplied collateral for the
// market, entering the market on first use.
func (l *MemoryLedger) Supply(poolID string, asset types.Asset, addr crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.poolLocked(poolID).listed[asset] {
		return fmt.Errorf("%w: %s/%s", ErrUnknownMarket, poolID, asset)
	}
	acc := l.accountLocked(addr)
	bal := acc.Balance(asset)
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	acc.SetBalance(asset, bal.Sub(bal, amount))
	pos := l.positionLocked(poolID, addr)
	l.enterLocked(pos, asset)
	pos.supplied[asset] = new(big.Int).Add(pos.amount(pos.supplied, asset), amount)
	return nil
}

// Borrow records an outstanding borrow and credits the drawn amount to the
// account's free balance. Health checks belong to the surrounding pool
// subsystem, not the ledger.
func (l *MemoryLedger) Borrow(poolID string, asset types.Asset, addr crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.poolLocked(poolID).listed[asset] {
		return fmt.Errorf("%w: %s/%s", ErrUnknownMarket, poolID, asset)
	}
	pos := l.positionLocked(poolID, addr)
	l.enterLocked(pos, asset)
	pos.borrowed[asset] = new(big.Int).Add(pos.amount(pos.borrowed, asset), amount)
	acc := l.accountLocked(addr)
	acc.SetBalance(asset, new(big.Int).Add(acc.Balance(asset), amount))
	return nil
}

func (l *MemoryLedger) enterLocked(pos *position, asset types.Asset) {
	for _, entered := range pos.entered {
		if entered == asset {
			return
		}
	}
	pos.entered = append(pos.entered, asset)
}

func (l *MemoryLedger) accountLocked(addr crypto.Address) *types.Account {
	key := accountKey(addr)
	acc, ok := l.accounts[key]
	if !ok {
		acc = types.NewAccount()
		l.accounts[key] = acc
	}
	return acc
}

// GetAccount returns a deep copy of the account. Missing accounts read as
// empty; mutations only persist through PutAccount.
func (l *MemoryLedger) GetAccount(addr crypto.Address) (*types.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if acc, ok := l.accounts[accountKey(addr)]; ok {
		return acc.Clone(), nil
	}
	return types.NewAccount(), nil
}

// PutAccount stores a deep copy of the account.
func (l *MemoryLedger) PutAccount(addr crypto.Address, acc *types.Account) error {
	if acc == nil {
		return fmt.Errorf("ledger: nil account for %s", addr)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[accountKey(addr)] = acc.Clone()
	return nil
}

// Transfer moves free balance between accounts.
func (l *MemoryLedger) Transfer(asset types.Asset, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fromAcc := l.accountLocked(from)
	bal := fromAcc.Balance(asset)
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.SetBalance(asset, bal.Sub(bal, amount))
	toAcc := l.accountLocked(to)
	toAcc.SetBalance(asset, new(big.Int).Add(toAcc.Balance(asset), amount))
	return nil
}

func (l *MemoryLedger) SupplyOf(poolID string, asset types.Asset, addr crypto.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pool, ok := l.pools[poolID]
	if !ok {
		return big.NewInt(0), nil
	}
	pos, ok := pool.positions[accountKey(addr)]
	if !ok {
		return big.NewInt(0), nil
	}
	return pos.amount(pos.supplied, asset), nil
}

func (l *MemoryLedger) BorrowOf(poolID string, asset types.Asset, addr crypto.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pool, ok := l.pools[poolID]
	if !ok {
		return big.NewInt(0), nil
	}
	pos, ok := pool.positions[accountKey(addr)]
	if !ok {
		return big.NewInt(0), nil
	}
	return pos.amount(pos.borrowed, asset), nil
}

func (l *MemoryLedger) MarketsOf(poolID string, addr crypto.Address) ([]types.Asset, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pool, ok := l.pools[poolID]
	if !ok {
		return nil, nil
	}
	pos, ok := pool.positions[accountKey(addr)]
	if !ok {
		return nil, nil
	}
	return append([]types.Asset(nil), pos.entered...), nil
}

func (l *MemoryLedger) EnterMarket(poolID string, asset types.Asset, addr crypto.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.poolLocked(poolID).listed[asset] {
		return fmt.Errorf("%w: %s/%s", ErrUnknownMarket, poolID, asset)
	}
	l.enterLocked(l.positionLocked(poolID, addr), asset)
	return nil
}

func (l *MemoryLedger) TransferRepay(poolID string, asset types.Asset, payer, borrower crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.poolLocked(poolID).listed[asset] {
		return fmt.Errorf("%w: %s/%s", ErrUnknownMarket, poolID, asset)
	}
	pos := l.positionLocked(poolID, borrower)
	debt := pos.amount(pos.borrowed, asset)
	if debt.Cmp(amount) < 0 {
		return ErrRepayExceedsDebt
	}
	payerAcc := l.accountLocked(payer)
	bal := payerAcc.Balance(asset)
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	payerAcc.SetBalance(asset, bal.Sub(bal, amount))
	pos.borrowed[asset] = debt.Sub(debt, amount)
	return nil
}

func (l *MemoryLedger) TransferSeize(poolID string, asset types.Asset, borrower, recipient crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.poolLocked(poolID).listed[asset] {
		return fmt.Errorf("%w: %s/%s", ErrUnknownMarket, poolID, asset)
	}
	pos := l.positionLocked(poolID, borrower)
	supplied := pos.amount(pos.supplied, asset)
	if supplied.Cmp(amount) < 0 {
		return ErrInsufficientSupply
	}
	pos.supplied[asset] = supplied.Sub(supplied, amount)
	recipientAcc := l.accountLocked(recipient)
	recipientAcc.SetBalance(asset, new(big.Int).Add(recipientAcc.Balance(asset), amount))
	return nil
}

// Atomic runs fn against a deep copy and commits the copy only when fn
// succeeds.
func (l *MemoryLedger) Atomic(fn func(Ledger) error) error {
	if fn == nil {
		return nil
	}
	l.txMu.Lock()
	defer l.txMu.Unlock()

	scratch := l.cloneState()
	if err := fn(scratch); err != nil {
		return err
	}

	l.mu.Lock()
	l.accounts = scratch.accounts
	l.pools = scratch.pools
	l.mu.Unlock()
	return nil
}

func (l *MemoryLedger) cloneState() *MemoryLedger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	clone := NewMemoryLedger()
	for key, acc := range l.accounts {
		clone.accounts[key] = acc.Clone()
	}
	for poolID, pool := range l.pools {
		copied := &poolState{
			listed:    make(map[types.Asset]bool, len(pool.listed)),
			positions: make(map[string]*position, len(pool.positions)),
		}
		for asset, listed := range pool.listed {
			copied.listed[asset] = listed
		}
		for key, pos := range pool.positions {
			copied.positions[key] = pos.clone()
		}
		clone.pools[poolID] = copied
	}
	return clone
}
