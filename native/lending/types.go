package lending

import (
	"errors"
	"fmt"
	"strings"

	"marginpool/core/types"
	"marginpool/crypto"
	"marginpool/native/oracle"
)

var (
	errPoolID       = errors.New("lending: pool identifier required")
	errPoolOracle   = errors.New("lending: pool price oracle required")
	errCloseFactor  = errors.New("lending: close factor must not exceed 100%")
	errIncentive    = errors.New("lending: liquidation incentive must exceed 100%")
	errMarketAsset  = errors.New("lending: market asset must not be the native sentinel")
	errMarketFactor = errors.New("lending: collateral factor must be below 100%")
	errDuplicateMkt = errors.New("lending: duplicate market asset")
)

// Market is one lending market inside a pool. Markets are created at listing
// time and never destroyed; Paused freezes liquidation activity against them.
type Market struct {
	// Asset identifies the underlying token traded by the market.
	Asset types.Asset
	// CollateralFactorBps is the fraction of supplied value counted toward
	// borrowing power, expressed in basis points and strictly below 10000.
	CollateralFactorBps uint64
	// Paused freezes the market without delisting it.
	Paused bool
}

// Pool is a named collection of markets sharing one risk and oracle
// configuration. The pool owns admin authority over its price aggregator.
type Pool struct {
	// ID names the pool; ledger positions are keyed by it.
	ID string
	// Admin is the identity permitted to mutate the pool's oracle bindings.
	Admin crypto.Address
	// CloseFactorBps bounds the share of outstanding debt liquidatable in a
	// single call, expressed in basis points.
	CloseFactorBps uint64
	// LiquidationIncentiveBps is the seizure multiplier rewarding liquidators,
	// expressed in basis points and strictly above 10000.
	LiquidationIncentiveBps uint64
	// FlashFeeBps is the fee charged on flash-loan principal.
	FlashFeeBps uint64
	// Markets indexes the listed markets by underlying asset.
	Markets map[types.Asset]Market
	// Prices resolves underlying asset valuations for this pool.
	Prices oracle.Source
}

// Market returns the listed market for the asset.
func (p *Pool) Market(asset types.Asset) (Market, bool) {
	if p == nil || p.Markets == nil {
		return Market{}, false
	}
	market, ok := p.Markets[asset]
	return market, ok
}

// AddMarket lists a new market in the pool.
func (p *Pool) AddMarket(market Market) error {
	if p == nil {
		return errPoolID
	}
	if market.Asset.IsNative() {
		return errMarketAsset
	}
	if market.CollateralFactorBps >= 10_000 {
		return fmt.Errorf("%w: %s", errMarketFactor, market.Asset)
	}
	if p.Markets == nil {
		p.Markets = make(map[types.Asset]Market)
	}
	if _, exists := p.Markets[market.Asset]; exists {
		return fmt.Errorf("%w: %s", errDuplicateMkt, market.Asset)
	}
	p.Markets[market.Asset] = market
	return nil
}

// Validate checks the pool risk configuration bounds.
func (p *Pool) Validate() error {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return errPoolID
	}
	if p.Prices == nil {
		return fmt.Errorf("%w: pool %s", errPoolOracle, p.ID)
	}
	if p.CloseFactorBps > 10_000 {
		return fmt.Errorf("%w: pool %s", errCloseFactor, p.ID)
	}
	if p.LiquidationIncentiveBps <= 10_000 {
		return fmt.Errorf("%w: pool %s", errIncentive, p.ID)
	}
	for asset, market := range p.Markets {
		if asset.IsNative() {
			return errMarketAsset
		}
		if market.CollateralFactorBps >= 10_000 {
			return fmt.Errorf("%w: %s", errMarketFactor, asset)
		}
	}
	return nil
}
