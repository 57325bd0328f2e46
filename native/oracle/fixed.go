package oracle

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"marginpool/core/types"
)

var expScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// FixedSource is an in-memory price source with directly settable prices. It
// backs tests, bootstrap configuration and manual overrides during incident
// response.
type FixedSource struct {
	mu     sync.RWMutex
	prices map[types.Asset]*big.Int
}

// NewFixedSource constructs an empty fixed source.
func NewFixedSource() *FixedSource {
	return &FixedSource{prices: make(map[types.Asset]*big.Int)}
}

// SetPrice records the 18-decimal fixed-point USD price for the asset.
func (f *FixedSource) SetPrice(asset types.Asset, price *big.Int) error {
	if f == nil {
		return fmt.Errorf("oracle: fixed source not configured")
	}
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("oracle: fixed source: price must be positive")
	}
	f.mu.Lock()
	f.prices[asset] = new(big.Int).Set(price)
	f.mu.Unlock()
	return nil
}

// SetDecimalPrice parses a decimal USD string such as "10.25" and stores it at
// 18-decimal precision.
func (f *FixedSource) SetDecimalPrice(asset types.Asset, price string) error {
	trimmed := strings.TrimSpace(price)
	if trimmed == "" {
		return fmt.Errorf("oracle: fixed source: price required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("oracle: fixed source: invalid price %q", price)
	}
	if rat.Sign() <= 0 {
		return fmt.Errorf("oracle: fixed source: price must be positive")
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(expScale))
	return f.SetPrice(asset, new(big.Int).Quo(scaled.Num(), scaled.Denom()))
}

// UnderlyingPrice returns the stored price for the asset.
func (f *FixedSource) UnderlyingPrice(asset types.Asset) (*big.Int, error) {
	if f == nil {
		return nil, fmt.Errorf("oracle: fixed source not configured")
	}
	f.mu.RLock()
	price, ok := f.prices[asset]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, asset)
	}
	return new(big.Int).Set(price), nil
}
