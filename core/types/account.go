package types

import "math/big"

// Account holds the free (non-supplied) token balances for a protocol
// participant. Amounts are denominated in the smallest underlying unit and
// expressed as big integers to match on-chain precision.
type Account struct {
	Nonce    uint64             `json:"nonce"`
	Balances map[Asset]*big.Int `json:"balances"`
}

// NewAccount constructs an account with an initialised balance table.
func NewAccount() *Account {
	return &Account{Balances: make(map[Asset]*big.Int)}
}

// Balance returns the held amount for the asset. Missing entries read as zero;
// the returned value is a copy and safe for the caller to mutate.
func (a *Account) Balance(asset Asset) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	bal, ok := a.Balances[asset]
	if !ok || bal == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

// SetBalance records the held amount for the asset, allocating the balance
// table on first use.
func (a *Account) SetBalance(asset Asset, amount *big.Int) {
	if a == nil {
		return
	}
	if a.Balances == nil {
		a.Balances = make(map[Asset]*big.Int)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	a.Balances[asset] = new(big.Int).Set(amount)
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Nonce: a.Nonce, Balances: make(map[Asset]*big.Int, len(a.Balances))}
	for asset, bal := range a.Balances {
		if bal == nil {
			clone.Balances[asset] = big.NewInt(0)
			continue
		}
		clone.Balances[asset] = new(big.Int).Set(bal)
	}
	return clone
}
