package risk

import (
	"errors"
	"math/big"
	"testing"

	"marginpool/crypto"
	"marginpool/native/lending"
	"marginpool/native/oracle"
)

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = suffix
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func usd(value string) *big.Int {
	rat, ok := new(big.Rat).SetString(value)
	if !ok {
		panic("invalid usd value " + value)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(scale))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}

func newTestPool(t *testing.T, prices *oracle.FixedSource) *lending.Pool {
	t.Helper()
	pool := &lending.Pool{
		ID:                      "main",
		Admin:                   makeAddress(0xff),
		CloseFactorBps:          5000,
		LiquidationIncentiveBps: 11000,
		Prices:                  prices,
	}
	if err := pool.AddMarket(lending.Market{Asset: "AAA", CollateralFactorBps: 5000}); err != nil {
		t.Fatalf("add market AAA: %v", err)
	}
	if err := pool.AddMarket(lending.Market{Asset: "BBB", CollateralFactorBps: 8000}); err != nil {
		t.Fatalf("add market BBB: %v", err)
	}
	return pool
}

func seedPosition(t *testing.T, ledger *lending.MemoryLedger, addr crypto.Address) {
	t.Helper()
	ledger.ListMarket("main", "AAA")
	ledger.ListMarket("main", "BBB")
	if err := ledger.Mint(addr, "AAA", usd("1")); err != nil {
		t.Fatalf("mint: %v", err)
	}
	// Supply 1 unit of AAA, borrow 4 units of BBB.
	if err := ledger.Supply("main", "AAA", addr, usd("1")); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := ledger.Borrow("main", "BBB", addr, usd("4")); err != nil {
		t.Fatalf("borrow: %v", err)
	}
}

func TestEvaluateShortfallAfterPriceDrop(t *testing.T) {
	borrower := makeAddress(0x01)
	prices := oracle.NewFixedSource()
	if err := prices.SetDecimalPrice("AAA", "10"); err != nil {
		t.Fatalf("set AAA price: %v", err)
	}
	if err := prices.SetDecimalPrice("BBB", "1"); err != nil {
		t.Fatalf("set BBB price: %v", err)
	}
	pool := newTestPool(t, prices)
	ledger := lending.NewMemoryLedger()
	seedPosition(t, ledger, borrower)

	ev := NewEvaluator(ledger)
	liq, err := ev.Evaluate(pool, borrower)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// 1 AAA at $10 weighted by 50% = $5 collateral against $4 borrowed.
	if liq.Collateral.Cmp(usd("5")) != 0 {
		t.Fatalf("unexpected collateral value: %s", liq.Collateral)
	}
	if liq.Borrowed.Cmp(usd("4")) != 0 {
		t.Fatalf("unexpected borrow value: %s", liq.Borrowed)
	}
	if liq.Liquidatable() {
		t.Fatalf("healthy position reported liquidatable")
	}

	// AAA drops to $4: weighted collateral $2, shortfall $2.
	if err := prices.SetDecimalPrice("AAA", "4"); err != nil {
		t.Fatalf("reprice AAA: %v", err)
	}
	liq, err = ev.Evaluate(pool, borrower)
	if err != nil {
		t.Fatalf("evaluate after drop: %v", err)
	}
	if !liq.Liquidatable() {
		t.Fatalf("underwater position reported healthy")
	}
	if liq.Shortfall.Cmp(usd("2")) != 0 {
		t.Fatalf("unexpected shortfall: %s", liq.Shortfall)
	}
}

func TestEvaluateMissingPriceFailsWhole(t *testing.T) {
	borrower := makeAddress(0x02)
	prices := oracle.NewFixedSource()
	if err := prices.SetDecimalPrice("AAA", "10"); err != nil {
		t.Fatalf("set AAA price: %v", err)
	}
	// No BBB price: the borrow market valuation must fail the whole query.
	pool := newTestPool(t, prices)
	ledger := lending.NewMemoryLedger()
	seedPosition(t, ledger, borrower)

	_, err := NewEvaluator(ledger).Evaluate(pool, borrower)
	if !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestEvaluateEmptyPosition(t *testing.T) {
	pool := newTestPool(t, oracle.NewFixedSource())
	ledger := lending.NewMemoryLedger()

	liq, err := NewEvaluator(ledger).Evaluate(pool, makeAddress(0x03))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if liq.Collateral.Sign() != 0 || liq.Borrowed.Sign() != 0 || liq.Liquidatable() {
		t.Fatalf("empty position should have zero liquidity: %+v", liq)
	}
}

func TestEvaluateUnlistedEnteredMarket(t *testing.T) {
	borrower := makeAddress(0x04)
	prices := oracle.NewFixedSource()
	_ = prices.SetDecimalPrice("ZZZ", "1")
	pool := newTestPool(t, prices)

	ledger := lending.NewMemoryLedger()
	ledger.ListMarket("main", "ZZZ")
	if err := ledger.Borrow("main", "ZZZ", borrower, big.NewInt(10)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	_, err := NewEvaluator(ledger).Evaluate(pool, borrower)
	if !errors.Is(err, lending.ErrUnknownMarket) {
		t.Fatalf("expected ErrUnknownMarket, got %v", err)
	}
}
