package liquidation

import "errors"

var (
	// ErrBorrowerHealthy rejects liquidation of a position with no shortfall.
	ErrBorrowerHealthy = errors.New("liquidation: borrower position is healthy")
	// ErrRepayTooLarge rejects repay amounts above the close-factor bound.
	ErrRepayTooLarge = errors.New("liquidation: repay exceeds close factor bound")
	// ErrInsufficientCollateral rejects seizures beyond the borrower's
	// supplied collateral in the market.
	ErrInsufficientCollateral = errors.New("liquidation: seize exceeds supplied collateral")
	// ErrFlashLoanNotRepaid aborts a flash-funded execution that failed to
	// accumulate principal plus fee before settlement.
	ErrFlashLoanNotRepaid = errors.New("liquidation: flash loan not repaid with fee")
	// ErrNoOutstandingDebt rejects liquidation against a market where the
	// borrower owes nothing.
	ErrNoOutstandingDebt = errors.New("liquidation: no outstanding debt in market")

	errNilLedger     = errors.New("liquidation: ledger not configured")
	errNilPool       = errors.New("liquidation: pool not configured")
	errNilRouter     = errors.New("liquidation: swap router not configured")
	errInvalidAmount = errors.New("liquidation: amount must be positive")
	errMarketPaused  = errors.New("liquidation: market paused")
	errNoFlashLender = errors.New("liquidation: flash lender not configured")
)
