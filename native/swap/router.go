package swap

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"marginpool/core/types"
	"marginpool/crypto"
	"marginpool/native/lending"
)

var (
	// ErrUnsupportedVenue is returned for an unrecognised venue or path.
	ErrUnsupportedVenue = errors.New("swap: unsupported venue or path")
	// ErrSlippageExceeded is returned when the output falls below the caller
	// minimum. The check always runs; a minimum of zero merely disables the
	// protection without changing the contract.
	ErrSlippageExceeded = errors.New("swap: output below caller minimum")

	errNilLedger     = errors.New("swap: ledger required")
	errInvalidAmount = errors.New("swap: amount must be positive")
	errNoWrapped     = errors.New("swap: wrapped native asset not configured")
)

// Venue is one external exchange backend. Quote prices a trade without side
// effects; Execute performs it against the trader's ledger balances. Both
// read venue liquidity through the ledger so pricing and execution observe
// the same transactional state.
type Venue interface {
	Quote(l lending.Ledger, input types.Asset, amount *big.Int, path []types.Asset) (*big.Int, error)
	Execute(l lending.Ledger, trader crypto.Address, input types.Asset, amount *big.Int, path []types.Asset) (*big.Int, error)
}

// Router converts seized collateral into a settlement asset by delegating to a
// caller-selected venue. Venues are registered under lowercase names and
// selected per call.
type Router struct {
	mu      sync.RWMutex
	venues  map[string]Venue
	wrapped types.Asset
}

// NewRouter constructs a router. wrapped names the wrapped representation of
// the native asset that venues trade; swaps targeting the native sentinel
// route through it and unwrap at the end.
func NewRouter(wrapped types.Asset) *Router {
	return &Router{venues: make(map[string]Venue), wrapped: wrapped}
}

// Register adds or replaces a venue under the supplied name.
func (r *Router) Register(name string, venue Venue) {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if r == nil || trimmed == "" || venue == nil {
		return
	}
	r.mu.Lock()
	r.venues[trimmed] = venue
	r.mu.Unlock()
}

// Venue looks up a registered venue by name.
func (r *Router) Venue(name string) (Venue, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	venue, ok := r.venues[strings.ToLower(strings.TrimSpace(name))]
	return venue, ok
}

// Swap converts amount of input into output through the named venue. When
// output is the native sentinel the trader receives native units directly,
// never the wrapped representation. minOut below the realised output fails
// with ErrSlippageExceeded; a nil or zero minimum disables the bound.
func (r *Router) Swap(l lending.Ledger, trader crypto.Address, input types.Asset, amount *big.Int, output types.Asset, venueName string, path []types.Asset, minOut *big.Int) (*big.Int, error) {
	if r == nil {
		return nil, ErrUnsupportedVenue
	}
	if l == nil {
		return nil, errNilLedger
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	venue, ok := r.Venue(venueName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVenue, venueName)
	}

	target := output
	if output.IsNative() {
		if r.wrapped.IsNative() {
			return nil, errNoWrapped
		}
		target = r.wrapped
	}
	if len(path) == 0 {
		path = []types.Asset{input, target}
	}
	if path[0] != input || path[len(path)-1] != target {
		return nil, fmt.Errorf("%w: path endpoints %s..%s", ErrUnsupportedVenue, path[0], path[len(path)-1])
	}

	// Quote first so a doomed trade never touches the ledger.
	expected, err := venue.Quote(l, input, amount, path)
	if err != nil {
		return nil, err
	}
	if minOut != nil && expected.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: expected %s, minimum %s", ErrSlippageExceeded, expected, minOut)
	}

	out, err := venue.Execute(l, trader, input, amount, path)
	if err != nil {
		return nil, err
	}
	if minOut != nil && out.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: received %s, minimum %s", ErrSlippageExceeded, out, minOut)
	}

	if output.IsNative() {
		if err := r.unwrap(l, trader, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// unwrap converts the trader's wrapped balance into native units.
func (r *Router) unwrap(l lending.Ledger, trader crypto.Address, amount *big.Int) error {
	acc, err := l.GetAccount(trader)
	if err != nil {
		return err
	}
	wrappedBal := acc.Balance(r.wrapped)
	if wrappedBal.Cmp(amount) < 0 {
		return lending.ErrInsufficientBalance
	}
	acc.SetBalance(r.wrapped, wrappedBal.Sub(wrappedBal, amount))
	acc.SetBalance(types.NativeAsset, new(big.Int).Add(acc.Balance(types.NativeAsset), amount))
	return l.PutAccount(trader, acc)
}
