package swap

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"marginpool/core/types"
	"marginpool/crypto"
	"marginpool/native/lending"
)

var (
	errReserveOverflow = errors.New("swap: reserve arithmetic overflow")
	errEmptyReserves   = errors.New("swap: pair has no liquidity")
)

const defaultPairFeeBps = 30

// PairVenue is a constant-product exchange backend in the Uniswap V2 mould.
// Each deployment is identified by its on-chain (router, factory) address
// pair; pools of two assets quote along arbitrary multi-hop paths.
//
// Reserves are not venue state: each pool's liquidity is the free balance of
// a deterministic pool account on the ledger. Trades move balances between
// the trader and the pool accounts, so a surrounding Ledger.Atomic that
// aborts discards reserve shifts together with every other mutation of the
// failed attempt.
type PairVenue struct {
	mu          sync.RWMutex
	routerAddr  crypto.Address
	factoryAddr crypto.Address
	feeBps      uint64
	pairs       map[string]*pairInfo
}

// pairInfo records the two assets of a pool and the ledger account holding
// its reserves.
type pairInfo struct {
	a    types.Asset
	b    types.Asset
	addr crypto.Address
}

// NewPairVenue constructs a venue identified by the router and factory
// addresses of the backing exchange deployment. The swap fee defaults to
// 30 bps.
func NewPairVenue(routerAddr, factoryAddr crypto.Address) *PairVenue {
	return &PairVenue{
		routerAddr:  routerAddr,
		factoryAddr: factoryAddr,
		feeBps:      defaultPairFeeBps,
		pairs:       make(map[string]*pairInfo),
	}
}

// RouterAddress returns the exchange deployment's router identity.
func (v *PairVenue) RouterAddress() crypto.Address { return v.routerAddr }

// FactoryAddress returns the exchange deployment's factory identity.
func (v *PairVenue) FactoryAddress() crypto.Address { return v.factoryAddr }

// SetFeeBps overrides the swap fee.
func (v *PairVenue) SetFeeBps(bps uint64) {
	if v == nil || bps >= 10_000 {
		return
	}
	v.mu.Lock()
	v.feeBps = bps
	v.mu.Unlock()
}

func pairKey(a, b types.Asset) string {
	if b < a {
		a, b = b, a
	}
	return string(a) + "|" + string(b)
}

// pairAddress derives the pool account for an asset pair, salted by the
// deployment identity so distinct venues never share reserve accounts.
func (v *PairVenue) pairAddress(key string) crypto.Address {
	h := ethcrypto.Keccak256(v.routerAddr.Bytes(), v.factoryAddr.Bytes(), []byte(key))
	return crypto.NewAddress(crypto.AccountPrefix, h[12:])
}

// SetReserves seeds or replaces the liquidity for an asset pair, writing the
// reserve balances into the pair's pool account on the ledger.
func (v *PairVenue) SetReserves(l lending.Ledger, a, b types.Asset, reserveA, reserveB *big.Int) error {
	if v == nil {
		return ErrUnsupportedVenue
	}
	if l == nil {
		return errNilLedger
	}
	if a == b {
		return fmt.Errorf("%w: identical pair assets", ErrUnsupportedVenue)
	}
	if reserveA == nil || reserveA.Sign() <= 0 {
		return fmt.Errorf("swap: invalid reserve for %s", a)
	}
	if reserveB == nil || reserveB.Sign() <= 0 {
		return fmt.Errorf("swap: invalid reserve for %s", b)
	}
	if _, overflow := uint256.FromBig(reserveA); overflow {
		return fmt.Errorf("swap: invalid reserve for %s", a)
	}
	if _, overflow := uint256.FromBig(reserveB); overflow {
		return fmt.Errorf("swap: invalid reserve for %s", b)
	}

	key := pairKey(a, b)
	v.mu.Lock()
	info, ok := v.pairs[key]
	if !ok {
		info = &pairInfo{a: a, b: b, addr: v.pairAddress(key)}
		v.pairs[key] = info
	}
	v.mu.Unlock()

	acc, err := l.GetAccount(info.addr)
	if err != nil {
		return err
	}
	acc.SetBalance(a, new(big.Int).Set(reserveA))
	acc.SetBalance(b, new(big.Int).Set(reserveB))
	return l.PutAccount(info.addr, acc)
}

// reserveOf reads one side of a pool's liquidity from its ledger account.
func reserveOf(l lending.Ledger, addr crypto.Address, asset types.Asset) (*uint256.Int, error) {
	acc, err := l.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	r, overflow := uint256.FromBig(acc.Balance(asset))
	if overflow {
		return nil, errReserveOverflow
	}
	return r, nil
}

// amountOut prices a single hop with the constant-product formula, fee taken
// on the input side.
func (v *PairVenue) amountOut(amountIn, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, errEmptyReserves
	}
	feeMul := uint256.NewInt(10_000 - v.feeBps)
	inWithFee, overflow := new(uint256.Int).MulOverflow(amountIn, feeMul)
	if overflow {
		return nil, errReserveOverflow
	}
	numerator, overflow := new(uint256.Int).MulOverflow(inWithFee, reserveOut)
	if overflow {
		return nil, errReserveOverflow
	}
	denominator, overflow := new(uint256.Int).MulOverflow(reserveIn, uint256.NewInt(10_000))
	if overflow {
		return nil, errReserveOverflow
	}
	denominator, overflow = denominator.AddOverflow(denominator, inWithFee)
	if overflow {
		return nil, errReserveOverflow
	}
	return new(uint256.Int).Div(numerator, denominator), nil
}

// hops resolves the pool accounts along the path.
func (v *PairVenue) hops(input types.Asset, path []types.Asset) ([]*pairInfo, error) {
	if len(path) < 2 || path[0] != input {
		return nil, fmt.Errorf("%w: malformed path", ErrUnsupportedVenue)
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	infos := make([]*pairInfo, 0, len(path)-1)
	for i := 0; i+1 < len(path); i++ {
		info, ok := v.pairs[pairKey(path[i], path[i+1])]
		if !ok {
			return nil, fmt.Errorf("%w: no pair %s/%s", ErrUnsupportedVenue, path[i], path[i+1])
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// quoteHops walks the path against ledger-held reserves and returns the
// per-hop outputs without mutating anything.
func (v *PairVenue) quoteHops(l lending.Ledger, infos []*pairInfo, amount *uint256.Int, path []types.Asset) ([]*uint256.Int, error) {
	outputs := make([]*uint256.Int, 0, len(infos))
	hopIn := amount
	for i, info := range infos {
		reserveIn, err := reserveOf(l, info.addr, path[i])
		if err != nil {
			return nil, err
		}
		reserveOut, err := reserveOf(l, info.addr, path[i+1])
		if err != nil {
			return nil, err
		}
		out, err := v.amountOut(hopIn, reserveIn, reserveOut)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
		hopIn = out
	}
	return outputs, nil
}

// Quote prices the trade without side effects.
func (v *PairVenue) Quote(l lending.Ledger, input types.Asset, amount *big.Int, path []types.Asset) (*big.Int, error) {
	if v == nil {
		return nil, ErrUnsupportedVenue
	}
	if l == nil {
		return nil, errNilLedger
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	amountIn, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, errInvalidAmount
	}
	infos, err := v.hops(input, path)
	if err != nil {
		return nil, err
	}
	outputs, err := v.quoteHops(l, infos, amountIn, path)
	if err != nil {
		return nil, err
	}
	return outputs[len(outputs)-1].ToBig(), nil
}

// Execute performs the trade: the trader's input balance is debited into the
// first pool account and each hop shifts ledger balances along the path until
// the final output is credited back to the trader.
func (v *PairVenue) Execute(l lending.Ledger, trader crypto.Address, input types.Asset, amount *big.Int, path []types.Asset) (*big.Int, error) {
	if v == nil {
		return nil, ErrUnsupportedVenue
	}
	if l == nil {
		return nil, errNilLedger
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	amountIn, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, errInvalidAmount
	}
	infos, err := v.hops(input, path)
	if err != nil {
		return nil, err
	}
	outputs, err := v.quoteHops(l, infos, amountIn, path)
	if err != nil {
		return nil, err
	}
	final := outputs[len(outputs)-1].ToBig()

	acc, err := l.GetAccount(trader)
	if err != nil {
		return nil, err
	}
	if acc.Balance(input).Cmp(amount) < 0 {
		return nil, lending.ErrInsufficientBalance
	}

	// Every shift is an ordinary transfer, so reserves stay consistent with
	// trader balances under rollback.
	hopIn := amount
	for i, info := range infos {
		if err := l.Transfer(path[i], trader, info.addr, hopIn); err != nil {
			return nil, err
		}
		out := outputs[i].ToBig()
		if err := l.Transfer(path[i+1], info.addr, trader, out); err != nil {
			return nil, err
		}
		hopIn = out
	}
	return final, nil
}
