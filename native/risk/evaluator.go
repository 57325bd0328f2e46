package risk

import (
	"errors"
	"fmt"
	"math/big"

	"marginpool/core/types"
	"marginpool/crypto"
	"marginpool/native/lending"
)

var (
	// ErrPriceUnavailable aborts an evaluation when any entered market lacks a
	// usable price. A missing price must fail the whole query rather than read
	// as zero, which would tip liquidation decisions the wrong way.
	ErrPriceUnavailable = errors.New("risk: price unavailable for entered market")

	errNilLedger = errors.New("risk: ledger not configured")
	errNilPool   = errors.New("risk: pool not configured")
)

// PriceError names the market whose price resolution failed. It matches
// ErrPriceUnavailable under errors.Is.
type PriceError struct {
	Asset types.Asset
	Err   error
}

func (e *PriceError) Error() string {
	return fmt.Sprintf("%s: market %s: %v", ErrPriceUnavailable, e.Asset, e.Err)
}

func (e *PriceError) Is(target error) bool { return target == ErrPriceUnavailable }

func (e *PriceError) Unwrap() error { return e.Err }

// Liquidity is the USD-denominated account snapshot produced by Evaluate.
// Collateral is the collateral-factor-weighted supply value; Shortfall is the
// amount by which borrow value exceeds it, floored at zero.
type Liquidity struct {
	Collateral *big.Int
	Borrowed   *big.Int
	Shortfall  *big.Int
}

// Liquidatable reports whether the position is eligible for liquidation.
func (l Liquidity) Liquidatable() bool {
	return l.Shortfall != nil && l.Shortfall.Sign() > 0
}

// Evaluator computes aggregate account liquidity by combining ledger balances
// with pool oracle valuations. It performs reads only.
type Evaluator struct {
	ledger lending.Ledger
}

// NewEvaluator wires the evaluator to the market-accounting ledger.
func NewEvaluator(ledger lending.Ledger) *Evaluator {
	return &Evaluator{ledger: ledger}
}

// Evaluate walks every market the borrower has entered and accumulates
// collateral and borrow value at current oracle prices. All reads observe the
// ledger snapshot the evaluator was wired to.
func (ev *Evaluator) Evaluate(pool *lending.Pool, borrower crypto.Address) (Liquidity, error) {
	if ev == nil || ev.ledger == nil {
		return Liquidity{}, errNilLedger
	}
	if pool == nil || pool.Prices == nil {
		return Liquidity{}, errNilPool
	}

	entered, err := ev.ledger.MarketsOf(pool.ID, borrower)
	if err != nil {
		return Liquidity{}, err
	}

	collateral := big.NewInt(0)
	borrowed := big.NewInt(0)
	for _, asset := range entered {
		market, listed := pool.Market(asset)
		if !listed {
			return Liquidity{}, fmt.Errorf("%w: %s/%s", lending.ErrUnknownMarket, pool.ID, asset)
		}
		supplied, err := ev.ledger.SupplyOf(pool.ID, asset, borrower)
		if err != nil {
			return Liquidity{}, err
		}
		debt, err := ev.ledger.BorrowOf(pool.ID, asset, borrower)
		if err != nil {
			return Liquidity{}, err
		}
		if supplied.Sign() == 0 && debt.Sign() == 0 {
			continue
		}
		price, err := pool.Prices.UnderlyingPrice(asset)
		if err != nil {
			return Liquidity{}, &PriceError{Asset: asset, Err: err}
		}
		if supplied.Sign() > 0 {
			weighted := lending.BpsMul(lending.ExpMul(supplied, price), market.CollateralFactorBps)
			collateral.Add(collateral, weighted)
		}
		if debt.Sign() > 0 {
			borrowed.Add(borrowed, lending.ExpMul(debt, price))
		}
	}

	shortfall := new(big.Int).Sub(borrowed, collateral)
	if shortfall.Sign() < 0 {
		shortfall = big.NewInt(0)
	}
	return Liquidity{Collateral: collateral, Borrowed: borrowed, Shortfall: shortfall}, nil
}
