package lending

import (
	"errors"
	"math/big"
	"testing"

	"marginpool/crypto"
)

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = suffix
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func TestSupplyAndBorrowFlow(t *testing.T) {
	addr := makeAddress(0x01)
	ledger := NewMemoryLedger()
	ledger.ListMarket("main", "AAA")
	ledger.ListMarket("main", "BBB")

	if err := ledger.Mint(addr, "AAA", big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Supply("main", "AAA", addr, big.NewInt(60)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := ledger.Borrow("main", "BBB", addr, big.NewInt(20)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	supplied, err := ledger.SupplyOf("main", "AAA", addr)
	if err != nil || supplied.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("unexpected supplied: %s err=%v", supplied, err)
	}
	borrowed, err := ledger.BorrowOf("main", "BBB", addr)
	if err != nil || borrowed.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("unexpected borrowed: %s err=%v", borrowed, err)
	}
	acc, err := ledger.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acc.Balance("AAA").Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("unexpected free AAA balance: %s", acc.Balance("AAA"))
	}
	if acc.Balance("BBB").Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("unexpected free BBB balance: %s", acc.Balance("BBB"))
	}
	markets, err := ledger.MarketsOf("main", addr)
	if err != nil {
		t.Fatalf("markets: %v", err)
	}
	if len(markets) != 2 || markets[0] != "AAA" || markets[1] != "BBB" {
		t.Fatalf("unexpected entered markets: %v", markets)
	}
}

func TestSupplyUnlistedMarket(t *testing.T) {
	addr := makeAddress(0x02)
	ledger := NewMemoryLedger()
	if err := ledger.Mint(addr, "AAA", big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	err := ledger.Supply("main", "AAA", addr, big.NewInt(10))
	if !errors.Is(err, ErrUnknownMarket) {
		t.Fatalf("expected ErrUnknownMarket, got %v", err)
	}
}

func TestEnterMarket(t *testing.T) {
	addr := makeAddress(0x08)
	ledger := NewMemoryLedger()
	ledger.ListMarket("main", "AAA")

	if err := ledger.EnterMarket("main", "AAA", addr); err != nil {
		t.Fatalf("enter market: %v", err)
	}
	// Re-entering is a no-op.
	if err := ledger.EnterMarket("main", "AAA", addr); err != nil {
		t.Fatalf("re-enter market: %v", err)
	}
	markets, err := ledger.MarketsOf("main", addr)
	if err != nil {
		t.Fatalf("markets: %v", err)
	}
	if len(markets) != 1 || markets[0] != "AAA" {
		t.Fatalf("unexpected entered markets: %v", markets)
	}
	if err := ledger.EnterMarket("main", "ZZZ", addr); !errors.Is(err, ErrUnknownMarket) {
		t.Fatalf("expected ErrUnknownMarket, got %v", err)
	}
}

func TestTransferRepayBounds(t *testing.T) {
	payer := makeAddress(0x03)
	borrower := makeAddress(0x04)
	ledger := NewMemoryLedger()
	ledger.ListMarket("main", "BBB")
	if err := ledger.Borrow("main", "BBB", borrower, big.NewInt(50)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := ledger.Mint(payer, "BBB", big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	err := ledger.TransferRepay("main", "BBB", payer, borrower, big.NewInt(60))
	if !errors.Is(err, ErrRepayExceedsDebt) {
		t.Fatalf("expected ErrRepayExceedsDebt, got %v", err)
	}
	if err := ledger.TransferRepay("main", "BBB", payer, borrower, big.NewInt(30)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	borrowed, _ := ledger.BorrowOf("main", "BBB", borrower)
	if borrowed.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("unexpected remaining debt: %s", borrowed)
	}
}

func TestTransferSeizeBounds(t *testing.T) {
	borrower := makeAddress(0x05)
	recipient := makeAddress(0x06)
	ledger := NewMemoryLedger()
	ledger.ListMarket("main", "AAA")
	if err := ledger.Mint(borrower, "AAA", big.NewInt(40)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Supply("main", "AAA", borrower, big.NewInt(40)); err != nil {
		t.Fatalf("supply: %v", err)
	}

	err := ledger.TransferSeize("main", "AAA", borrower, recipient, big.NewInt(50))
	if !errors.Is(err, ErrInsufficientSupply) {
		t.Fatalf("expected ErrInsufficientSupply, got %v", err)
	}
	if err := ledger.TransferSeize("main", "AAA", borrower, recipient, big.NewInt(25)); err != nil {
		t.Fatalf("seize: %v", err)
	}
	acc, _ := ledger.GetAccount(recipient)
	if acc.Balance("AAA").Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("unexpected recipient balance: %s", acc.Balance("AAA"))
	}
}

func TestAtomicRollback(t *testing.T) {
	addr := makeAddress(0x07)
	other := makeAddress(0x08)
	ledger := NewMemoryLedger()
	if err := ledger.Mint(addr, "AAA", big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	wantErr := errors.New("boom")
	err := ledger.Atomic(func(tx Ledger) error {
		if err := tx.Transfer("AAA", addr, other, big.NewInt(70)); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected callback error, got %v", err)
	}

	acc, _ := ledger.GetAccount(addr)
	if acc.Balance("AAA").Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("rollback failed, balance %s", acc.Balance("AAA"))
	}
	otherAcc, _ := ledger.GetAccount(other)
	if otherAcc.Balance("AAA").Sign() != 0 {
		t.Fatalf("rollback leaked %s to other account", otherAcc.Balance("AAA"))
	}
}

func TestAtomicCommit(t *testing.T) {
	addr := makeAddress(0x09)
	other := makeAddress(0x0a)
	ledger := NewMemoryLedger()
	if err := ledger.Mint(addr, "AAA", big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	err := ledger.Atomic(func(tx Ledger) error {
		return tx.Transfer("AAA", addr, other, big.NewInt(70))
	})
	if err != nil {
		t.Fatalf("atomic: %v", err)
	}

	acc, _ := ledger.GetAccount(other)
	if acc.Balance("AAA").Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("commit missing, balance %s", acc.Balance("AAA"))
	}
}

func TestGetAccountReturnsCopy(t *testing.T) {
	addr := makeAddress(0x0b)
	ledger := NewMemoryLedger()
	if err := ledger.Mint(addr, "AAA", big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	acc, _ := ledger.GetAccount(addr)
	acc.SetBalance("AAA", big.NewInt(999))

	fresh, _ := ledger.GetAccount(addr)
	if fresh.Balance("AAA").Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("mutation leaked into ledger: %s", fresh.Balance("AAA"))
	}
}
