package state

import (
	"math/big"
	"testing"
)

func TestPoolBootstrapOneToOne(t *testing.T) {
	p := NewPool()
	if got := p.AmountToShares(big.NewInt(100), false); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("empty pool shares = %s, want 100", got)
	}
}

func TestPoolConversionRounding(t *testing.T) {
	// 100 shares backing 150 units: each share is worth 1.5.
	p := &Pool{Shares: big.NewInt(100), Balance: big.NewInt(150)}

	if got := p.AmountToShares(big.NewInt(30), false); got.Cmp(big.NewInt(20)) != 0 {
		t.Errorf("30 units = %s shares, want 20", got)
	}
	if got := p.AmountToShares(big.NewInt(31), false); got.Cmp(big.NewInt(20)) != 0 {
		t.Errorf("31 units floored = %s shares, want 20", got)
	}
	if got := p.AmountToShares(big.NewInt(31), true); got.Cmp(big.NewInt(21)) != 0 {
		t.Errorf("31 units ceiled = %s shares, want 21", got)
	}

	if got := p.SharesToAmount(big.NewInt(21), false); got.Cmp(big.NewInt(31)) != 0 {
		t.Errorf("21 shares floored = %s units, want 31", got)
	}
	if got := p.SharesToAmount(big.NewInt(21), true); got.Cmp(big.NewInt(32)) != 0 {
		t.Errorf("21 shares ceiled = %s units, want 32", got)
	}
}

// Withdrawing every outstanding share must return the exact pool balance,
// leaving no stranded dust from rounding.
func TestPoolFullWithdrawalNoDust(t *testing.T) {
	p := &Pool{Shares: big.NewInt(3), Balance: big.NewInt(100)}

	if got := p.SharesToAmount(big.NewInt(3), false); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("full withdrawal = %s, want 100", got)
	}
	// Over-asking is clamped to the balance, same path.
	if got := p.SharesToAmount(big.NewInt(5), false); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("over-ask = %s, want 100", got)
	}
}

func TestPoolDepositWithdraw(t *testing.T) {
	p := NewPool()
	p.Deposit(big.NewInt(50), big.NewInt(50))
	p.Deposit(big.NewInt(30), big.NewInt(45))

	if p.Shares.Cmp(big.NewInt(80)) != 0 || p.Balance.Cmp(big.NewInt(95)) != 0 {
		t.Fatalf("pool = %s/%s, want 80/95", p.Shares, p.Balance)
	}

	if err := p.Withdraw(big.NewInt(80), big.NewInt(95)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if p.Shares.Sign() != 0 || p.Balance.Sign() != 0 {
		t.Errorf("pool after drain = %s/%s, want 0/0", p.Shares, p.Balance)
	}
}

func TestPoolWithdrawInsufficient(t *testing.T) {
	p := &Pool{Shares: big.NewInt(10), Balance: big.NewInt(10)}

	if err := p.Withdraw(big.NewInt(11), big.NewInt(11)); err != ErrInsufficientBalance {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}
	// Failed withdrawal must not touch the pool.
	if p.Shares.Cmp(big.NewInt(10)) != 0 || p.Balance.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("pool mutated on failed withdraw: %s/%s", p.Shares, p.Balance)
	}
}
