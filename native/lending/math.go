package lending

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	expScale    = mustBigInt("1000000000000000000") // 1e18 fixed-point precision
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// BpsMul scales an amount by a basis-point fraction, flooring the result.
func BpsMul(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return scaled.Quo(scaled, basisPoints)
}

// ExpMul multiplies token units by an 18-decimal fixed-point price, yielding a
// USD value at 18-decimal precision.
func ExpMul(amount, price *big.Int) *big.Int {
	if amount == nil || price == nil || amount.Sign() <= 0 || price.Sign() <= 0 {
		return big.NewInt(0)
	}
	value := new(big.Int).Mul(amount, price)
	return value.Quo(value, expScale)
}

// ExpDiv converts an 18-decimal USD value back into token units at the given
// price.
func ExpDiv(value, price *big.Int) *big.Int {
	if value == nil || price == nil || value.Sign() <= 0 || price.Sign() <= 0 {
		return big.NewInt(0)
	}
	units := new(big.Int).Mul(value, expScale)
	return units.Quo(units, price)
}
