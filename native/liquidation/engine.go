package liquidation

import (
	"fmt"
	"math/big"

	"marginpool/core/types"
	"marginpool/crypto"
	nativecommon "marginpool/native/common"
	"marginpool/native/lending"
	"marginpool/native/risk"
	"marginpool/native/swap"
)

const moduleName = "liquidation"

// Request is the transient value object describing one liquidation attempt.
// It exists only for the duration of a single execution.
type Request struct {
	// Borrower is the account whose position is being liquidated.
	Borrower crypto.Address
	// DebtAsset names the market whose borrow is repaid.
	DebtAsset types.Asset
	// CollateralAsset names the market whose supplied balance is seized.
	CollateralAsset types.Asset
	// RepayAmount is the requested repayment; nil or zero selects the
	// close-factor maximum.
	RepayAmount *big.Int
	// SettleAsset selects the settlement form delivered to the liquidator.
	// The zero value is the native settlement sentinel; a value equal to
	// CollateralAsset skips conversion entirely.
	SettleAsset types.Asset
	// Venue names the exchange backend used for any conversion.
	Venue string
	// Path optionally pins the swap route; endpoints must match the traded
	// assets.
	Path []types.Asset
	// MinOut bounds conversion slippage. Nil or zero disables the bound.
	MinOut *big.Int
}

// Result reports the outcome of a successful liquidation.
type Result struct {
	// Repaid is the debt actually repaid on the borrower's behalf.
	Repaid *big.Int
	// Seized is the collateral transferred out of the borrower's position.
	Seized *big.Int
	// Settled is the net amount delivered to the liquidator, in SettleAsset
	// units.
	Settled *big.Int
	// SettleAsset is the asset the liquidator was paid in.
	SettleAsset types.Asset
}

// Engine validates liquidation eligibility, computes repay and seize bounds
// and drives both the direct and the flash-funded execution forms. Every
// entry point runs inside one ledger transaction: all steps commit together
// or none do.
type Engine struct {
	ledger      lending.Ledger
	router      *swap.Router
	executor    crypto.Address
	flashLender crypto.Address
	pauses      nativecommon.PauseView
}

// NewEngine constructs a liquidation engine. executor is the module-owned
// account that holds funds mid-execution.
func NewEngine(ledger lending.Ledger, router *swap.Router, executor crypto.Address) *Engine {
	return &Engine{ledger: ledger, router: router, executor: executor}
}

// SetPauses wires the governance pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetFlashLender configures the liquidity source for flash-funded executions.
func (e *Engine) SetFlashLender(lender crypto.Address) {
	if e == nil {
		return
	}
	e.flashLender = lender
}

// Liquidate runs the direct, liquidator-funded form: the liquidator's own
// balance covers the repayment and the settlement proceeds return to them.
func (e *Engine) Liquidate(pool *lending.Pool, liquidator crypto.Address, req Request) (Result, error) {
	if err := e.check(pool); err != nil {
		return Result{}, err
	}
	var res Result
	err := e.ledger.Atomic(func(l lending.Ledger) error {
		settle := req.SettleAsset
		direct := settle == req.CollateralAsset

		holder := e.executor
		if direct {
			holder = liquidator
		}
		repaid, seized, err := e.repayAndSeize(l, pool, req, liquidator, holder)
		if err != nil {
			return err
		}
		res = Result{Repaid: repaid, Seized: seized, Settled: seized, SettleAsset: settle}
		if direct {
			return nil
		}

		out, err := e.router.Swap(l, e.executor, req.CollateralAsset, seized, settle, req.Venue, req.Path, req.MinOut)
		if err != nil {
			return err
		}
		if err := l.Transfer(settle, e.executor, liquidator, out); err != nil {
			return err
		}
		res.Settled = out
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// LiquidateWithFlashLoan runs the flash-funded form: the repayment is borrowed
// from the flash lender, seized collateral is converted back into the debt
// asset to settle the loan, and only the residual profit reaches the
// liquidator. The liquidator commits no capital of their own.
func (e *Engine) LiquidateWithFlashLoan(pool *lending.Pool, liquidator crypto.Address, req Request) (Result, error) {
	if err := e.check(pool); err != nil {
		return Result{}, err
	}
	if e.flashLender.IsZero() {
		return Result{}, errNoFlashLender
	}
	if e.router == nil {
		return Result{}, errNilRouter
	}

	var res Result
	err := e.ledger.Atomic(func(l lending.Ledger) error {
		repay, err := e.boundRepay(l, pool, req)
		if err != nil {
			return err
		}
		bounded := req
		bounded.RepayAmount = repay

		startBal, err := balanceOf(l, e.executor, req.DebtAsset)
		if err != nil {
			return err
		}

		flash := NewFlashCoordinator(e.flashLender, pool.FlashFeeBps)
		var seized *big.Int
		if _, err := flash.Execute(l, req.DebtAsset, repay, e.executor, func() error {
			repaid, s, err := e.repayAndSeize(l, pool, bounded, e.executor, e.executor)
			if err != nil {
				return err
			}
			res.Repaid = repaid
			seized = s
			if req.CollateralAsset == req.DebtAsset {
				return nil
			}
			_, err = e.router.Swap(l, e.executor, req.CollateralAsset, seized, req.DebtAsset, req.Venue, req.Path, req.MinOut)
			return err
		}); err != nil {
			return err
		}

		endBal, err := balanceOf(l, e.executor, req.DebtAsset)
		if err != nil {
			return err
		}
		profit := new(big.Int).Sub(endBal, startBal)
		res.Seized = seized
		res.SettleAsset = req.DebtAsset
		res.Settled = big.NewInt(0)
		if profit.Sign() <= 0 {
			return nil
		}

		settle := req.SettleAsset
		if settle != req.DebtAsset {
			out, err := e.router.Swap(l, e.executor, req.DebtAsset, profit, settle, req.Venue, nil, nil)
			if err != nil {
				return err
			}
			res.SettleAsset = settle
			res.Settled = out
			return l.Transfer(settle, e.executor, liquidator, out)
		}
		res.Settled = profit
		return l.Transfer(req.DebtAsset, e.executor, liquidator, profit)
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// repayAndSeize performs the eligibility check, the close-factor-bounded
// repayment and the incentive-weighted seizure. The payer funds the repayment
// and the holder receives the seized collateral.
func (e *Engine) repayAndSeize(l lending.Ledger, pool *lending.Pool, req Request, payer, holder crypto.Address) (*big.Int, *big.Int, error) {
	debtMarket, ok := pool.Market(req.DebtAsset)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s/%s", lending.ErrUnknownMarket, pool.ID, req.DebtAsset)
	}
	collMarket, ok := pool.Market(req.CollateralAsset)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s/%s", lending.ErrUnknownMarket, pool.ID, req.CollateralAsset)
	}
	if debtMarket.Paused || collMarket.Paused {
		return nil, nil, errMarketPaused
	}

	repay, err := e.boundRepay(l, pool, req)
	if err != nil {
		return nil, nil, err
	}

	debtPrice, err := pool.Prices.UnderlyingPrice(req.DebtAsset)
	if err != nil {
		return nil, nil, &risk.PriceError{Asset: req.DebtAsset, Err: err}
	}
	collPrice, err := pool.Prices.UnderlyingPrice(req.CollateralAsset)
	if err != nil {
		return nil, nil, &risk.PriceError{Asset: req.CollateralAsset, Err: err}
	}

	if err := l.TransferRepay(pool.ID, req.DebtAsset, payer, req.Borrower, repay); err != nil {
		return nil, nil, err
	}

	// seize = repay * debtPrice * incentive / collPrice
	seize := lending.ExpDiv(lending.BpsMul(lending.ExpMul(repay, debtPrice), pool.LiquidationIncentiveBps), collPrice)
	supplied, err := l.SupplyOf(pool.ID, req.CollateralAsset, req.Borrower)
	if err != nil {
		return nil, nil, err
	}
	if supplied.Cmp(seize) < 0 {
		return nil, nil, fmt.Errorf("%w: supplied %s, seize %s", ErrInsufficientCollateral, supplied, seize)
	}
	if err := l.TransferSeize(pool.ID, req.CollateralAsset, req.Borrower, holder, seize); err != nil {
		return nil, nil, err
	}
	return repay, seize, nil
}

// boundRepay asserts eligibility and resolves the effective repay amount
// under the close-factor bound.
func (e *Engine) boundRepay(l lending.Ledger, pool *lending.Pool, req Request) (*big.Int, error) {
	liq, err := risk.NewEvaluator(l).Evaluate(pool, req.Borrower)
	if err != nil {
		return nil, err
	}
	if !liq.Liquidatable() {
		return nil, ErrBorrowerHealthy
	}

	debt, err := l.BorrowOf(pool.ID, req.DebtAsset, req.Borrower)
	if err != nil {
		return nil, err
	}
	if debt.Sign() == 0 {
		return nil, ErrNoOutstandingDebt
	}
	maxRepay := lending.BpsMul(debt, pool.CloseFactorBps)
	if maxRepay.Sign() == 0 {
		return nil, fmt.Errorf("%w: close factor yields zero bound", ErrRepayTooLarge)
	}
	if req.RepayAmount == nil || req.RepayAmount.Sign() == 0 {
		return maxRepay, nil
	}
	if req.RepayAmount.Sign() < 0 {
		return nil, errInvalidAmount
	}
	if req.RepayAmount.Cmp(maxRepay) > 0 {
		return nil, fmt.Errorf("%w: requested %s, bound %s", ErrRepayTooLarge, req.RepayAmount, maxRepay)
	}
	return new(big.Int).Set(req.RepayAmount), nil
}

func (e *Engine) check(pool *lending.Pool) error {
	if e == nil || e.ledger == nil {
		return errNilLedger
	}
	if pool == nil || pool.Prices == nil {
		return errNilPool
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

func balanceOf(l lending.Ledger, addr crypto.Address, asset types.Asset) (*big.Int, error) {
	acc, err := l.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return acc.Balance(asset), nil
}
