package lending

import (
	"errors"
	"math/big"

	"marginpool/core/types"
	"marginpool/crypto"
)

var (
	// ErrUnknownMarket is returned for operations against an unlisted market.
	ErrUnknownMarket = errors.New("ledger: market not listed")
	// ErrInsufficientBalance is returned when an account cannot cover a debit.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrInsufficientSupply is returned when a seizure exceeds supplied collateral.
	ErrInsufficientSupply = errors.New("ledger: insufficient supplied collateral")
	// ErrRepayExceedsDebt is returned when a repayment exceeds the outstanding borrow.
	ErrRepayExceedsDebt = errors.New("ledger: repay exceeds outstanding debt")
	// ErrInvalidAmount is returned for nil or non-positive amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// Ledger is the market-accounting boundary. Balances, supplied collateral and
// outstanding borrows are owned by the surrounding lending-pool subsystem;
// this core consumes them as atomic, consistent primitives and never
// reimplements them.
//
// Atomic runs fn against a transaction-scoped view of the ledger. The view's
// mutations become visible to other callers only if fn returns nil; any error
// discards every mutation. All reads inside fn observe a single consistent
// snapshot.
type Ledger interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, acc *types.Account) error

	// Transfer moves free balance between accounts.
	Transfer(asset types.Asset, from, to crypto.Address, amount *big.Int) error

	SupplyOf(poolID string, asset types.Asset, addr crypto.Address) (*big.Int, error)
	BorrowOf(poolID string, asset types.Asset, addr crypto.Address) (*big.Int, error)
	// MarketsOf lists the markets the account has entered, in entry order.
	MarketsOf(poolID string, addr crypto.Address) ([]types.Asset, error)
	EnterMarket(poolID string, asset types.Asset, addr crypto.Address) error

	// TransferRepay moves amount of the debt asset from the payer's free
	// balance into the market on the borrower's behalf, reducing their
	// outstanding borrow.
	TransferRepay(poolID string, asset types.Asset, payer, borrower crypto.Address, amount *big.Int) error
	// TransferSeize redeems amount of the borrower's supplied collateral and
	// credits the recipient's free balance in the underlying asset.
	TransferSeize(poolID string, asset types.Asset, borrower, recipient crypto.Address, amount *big.Int) error

	Atomic(fn func(Ledger) error) error
}
