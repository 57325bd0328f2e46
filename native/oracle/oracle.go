package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"marginpool/core/types"
	"marginpool/crypto"
)

var (
	// ErrAlreadyInitialized is returned when Initialize is called twice.
	ErrAlreadyInitialized = errors.New("oracle: aggregator already initialized")
	// ErrNotInitialized guards admin mutations before one-time setup ran.
	ErrNotInitialized = errors.New("oracle: aggregator not initialized")
	// ErrLengthMismatch is returned when the asset and source slices differ in length.
	ErrLengthMismatch = errors.New("oracle: asset and source argument lengths differ")
	// ErrOverwriteNotPermitted is returned when a locked aggregator would replace a binding.
	ErrOverwriteNotPermitted = errors.New("oracle: binding overwrite not permitted")
	// ErrNotConfigured is returned when no source resolves for an asset.
	ErrNotConfigured = errors.New("oracle: no price source configured for asset")
	// ErrNotAdmin is returned when a non-admin identity attempts a mutation.
	ErrNotAdmin = errors.New("oracle: caller is not the pool admin")
	// ErrInvalidPrice is returned when a delegated source yields a nil or
	// non-positive price.
	ErrInvalidPrice = errors.New("oracle: source returned invalid price")
)

// Source resolves the USD price of one underlying unit of an asset, expressed
// as an 18-decimal fixed-point integer. Staleness detection is the source's
// own responsibility.
type Source interface {
	UnderlyingPrice(asset types.Asset) (*big.Int, error)
}

// Aggregator resolves prices by delegating to per-asset bindings, falling back
// to a pool-wide default source when no explicit binding exists. Bindings are
// mutated only by the pool admin; once constructed with canOverwrite=false the
// set of non-empty bindings is permanently locked.
type Aggregator struct {
	mu           sync.RWMutex
	bindings     map[types.Asset]Source
	fallback     Source
	admin        crypto.Address
	canOverwrite bool
	initialized  bool
}

// NewAggregator constructs an empty, uninitialised aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{bindings: make(map[types.Asset]Source)}
}

// Initialize performs the one-time setup of bindings, fallback source and admin
// identity. canOverwrite=false permanently forbids later Add calls from
// replacing an existing non-empty binding.
func (a *Aggregator) Initialize(assets []types.Asset, sources []Source, fallback Source, admin crypto.Address, canOverwrite bool) error {
	if a == nil {
		return ErrNotInitialized
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initialized {
		return ErrAlreadyInitialized
	}
	if len(assets) != len(sources) {
		return ErrLengthMismatch
	}
	for i, asset := range assets {
		if sources[i] == nil {
			continue
		}
		a.bindings[asset] = sources[i]
	}
	a.fallback = fallback
	a.admin = admin
	a.canOverwrite = canOverwrite
	a.initialized = true
	return nil
}

// Add registers or overwrites per-asset bindings. Re-adding an identical
// binding is a no-op that still succeeds; replacing a different existing
// binding requires the overwrite capability granted at initialisation. The
// call validates every pair before mutating anything so a failure leaves the
// binding table untouched.
func (a *Aggregator) Add(caller crypto.Address, assets []types.Asset, sources []Source) error {
	if a == nil {
		return ErrNotInitialized
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return ErrNotInitialized
	}
	if !caller.Equal(a.admin) {
		return ErrNotAdmin
	}
	if len(assets) != len(sources) {
		return ErrLengthMismatch
	}
	for i, asset := range assets {
		existing, bound := a.bindings[asset]
		if !bound || existing == sources[i] {
			continue
		}
		if !a.canOverwrite {
			return fmt.Errorf("%w: %s", ErrOverwriteNotPermitted, asset)
		}
	}
	for i, asset := range assets {
		if sources[i] == nil {
			continue
		}
		a.bindings[asset] = sources[i]
	}
	return nil
}

// Admin returns the identity permitted to mutate bindings.
func (a *Aggregator) Admin() crypto.Address {
	if a == nil {
		return crypto.Address{}
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.admin
}

// UnderlyingPrice resolves the price for the asset via its explicit binding or
// the fallback source. The returned value is a defensive copy.
func (a *Aggregator) UnderlyingPrice(asset types.Asset) (*big.Int, error) {
	if a == nil {
		return nil, ErrNotConfigured
	}
	a.mu.RLock()
	source, bound := a.bindings[asset]
	if !bound || source == nil {
		source = a.fallback
	}
	a.mu.RUnlock()
	if source == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, asset)
	}
	price, err := source.UnderlyingPrice(asset)
	if err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrice, asset)
	}
	return new(big.Int).Set(price), nil
}
