package liquidation

import (
	"fmt"
	"math/big"

	"marginpool/core/types"
	"marginpool/crypto"
	"marginpool/native/lending"
)

// FlashCoordinator sources uncollateralised capital from a liquidity venue for
// the duration of one atomic execution. Issuance and repayment both happen
// inside the same execution; the coordinator never holds funds across calls.
type FlashCoordinator struct {
	lender crypto.Address
	feeBps uint64
}

// NewFlashCoordinator wires the coordinator to the lender account and fee.
func NewFlashCoordinator(lender crypto.Address, feeBps uint64) *FlashCoordinator {
	return &FlashCoordinator{lender: lender, feeBps: feeBps}
}

// Fee computes the flash fee on the given principal.
func (c *FlashCoordinator) Fee(amount *big.Int) *big.Int {
	if c == nil {
		return big.NewInt(0)
	}
	return lending.BpsMul(amount, c.feeBps)
}

// Execute lends amount of asset to the executor, runs fn with the funds in
// place and then collects principal plus fee. When the execution has not
// accumulated at least the owed amount, ErrFlashLoanNotRepaid propagates and
// the caller's surrounding atomic context discards every effect of fn,
// including nominally successful steps already performed.
func (c *FlashCoordinator) Execute(l lending.Ledger, asset types.Asset, amount *big.Int, executor crypto.Address, fn func() error) (*big.Int, error) {
	if c == nil || c.lender.IsZero() {
		return nil, errNoFlashLender
	}
	if l == nil {
		return nil, errNilLedger
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	if err := l.Transfer(asset, c.lender, executor, amount); err != nil {
		return nil, fmt.Errorf("liquidation: flash loan issuance: %w", err)
	}

	if err := fn(); err != nil {
		return nil, err
	}

	fee := c.Fee(amount)
	owed := new(big.Int).Add(amount, fee)
	acc, err := l.GetAccount(executor)
	if err != nil {
		return nil, err
	}
	if acc.Balance(asset).Cmp(owed) < 0 {
		return nil, fmt.Errorf("%w: hold %s of %s, owe %s", ErrFlashLoanNotRepaid, acc.Balance(asset), asset, owed)
	}
	if err := l.Transfer(asset, executor, c.lender, owed); err != nil {
		return nil, err
	}
	return fee, nil
}
