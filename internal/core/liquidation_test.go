package core

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/NearDeFi/burrowland/internal/decimal"
	"github.com/NearDeFi/burrowland/internal/oracle"
)

// The market from setupLendingMarket after NEAR drops from $10 to $8:
// weighted collateral 100*8*60% = 480, weighted debt 500/95% ~ 526.3,
// max discount = (1 - 480*95%/500... ) / 2 = 4.4% exactly.
func TestMaxDiscountAfterPriceDrop(t *testing.T) {
	c := setupLendingMarket(t)

	prices := oracle.NewPrices()
	prices.Set(nearToken, oracle.Price{Multiplier: big.NewInt(8), Decimals: 0})
	prices.Set(usdcToken, oracle.Price{Multiplier: big.NewInt(1), Decimals: 0})

	tx := c.Begin(t0)
	account, err := tx.Account("alice.near")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	discount, err := tx.MaxDiscount(account, prices)
	if err != nil {
		t.Fatalf("max discount: %v", err)
	}
	if got := discount.Mul(decimal.FromInt(10000)).RoundBalance(false); got.Cmp(big.NewInt(440)) != 0 {
		t.Errorf("discount = %s bps, want 440", got)
	}

	// At the original price the account is healthy.
	prices.Set(nearToken, oracle.Price{Multiplier: big.NewInt(10), Decimals: 0})
	discount, err = tx.MaxDiscount(account, prices)
	if err != nil {
		t.Fatalf("max discount at $10: %v", err)
	}
	if !discount.IsZero() {
		t.Errorf("healthy discount = %s, want 0", discount)
	}
}

func liquidateAction(repayUSDC, takeNEAR int64) string {
	return fmt.Sprintf(
		`{"kind":"Liquidate","account_id":"alice.near",`+
			`"in_assets":[{"token_id":"%s","amount":"%d"}],`+
			`"out_assets":[{"token_id":"%s","amount":"%d"}]}`,
		usdcToken, repayUSDC, nearToken, takeNEAR)
}

func TestLiquidation(t *testing.T) {
	c := setupLendingMarket(t)

	// Bob repays 100 USDC and takes 13 NEAR at $8 ($104): within the 4.4%
	// discount, 104 * 95.6% = 99.424 <= 100.
	if _, err := oracleExec(c, "bob.near", 8, liquidateAction(100, 13), t0); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	alice, _ := c.GetAccount("alice.near")
	sharesOf(t, alice.GetBorrowedShares(usdcToken), 400, "alice debt shares")
	sharesOf(t, alice.GetCollateralShares(nearToken), 87, "alice collateral shares")

	bob, _ := c.GetAccount("bob.near")
	sharesOf(t, bob.GetSuppliedShares(usdcToken), 900, "bob usdc shares")
	sharesOf(t, bob.GetSuppliedShares(nearToken), 13, "bob seized near shares")

	usdc, _ := c.GetAsset(usdcToken)
	sharesOf(t, usdc.Borrowed.Balance, 400, "usdc borrowed pool")
}

func TestLiquidationTakesTooMuch(t *testing.T) {
	c := setupLendingMarket(t)

	// 14 NEAR is $112; 112 * 95.6% = 107.07 > 100 repaid.
	_, err := oracleExec(c, "bob.near", 8, liquidateAction(100, 14), t0)
	if !errors.Is(err, ErrInsufficientRepayment) {
		t.Fatalf("err = %v, want ErrInsufficientRepayment", err)
	}

	// The failed attempt leaves both accounts untouched.
	alice, _ := c.GetAccount("alice.near")
	sharesOf(t, alice.GetCollateralShares(nearToken), 100, "alice collateral shares")
	bob, _ := c.GetAccount("bob.near")
	sharesOf(t, bob.GetSuppliedShares(usdcToken), 1000, "bob usdc shares")
}

func TestLiquidationHealthyTarget(t *testing.T) {
	c := setupLendingMarket(t)

	_, err := oracleExec(c, "bob.near", 10, liquidateAction(100, 10), t0)
	if !errors.Is(err, ErrNotAtRisk) {
		t.Fatalf("err = %v, want ErrNotAtRisk", err)
	}
}

func TestSelfLiquidation(t *testing.T) {
	c := setupLendingMarket(t)

	_, err := oracleExec(c, "alice.near", 8, liquidateAction(100, 13), t0)
	if !errors.Is(err, ErrSelfLiquidation) {
		t.Fatalf("err = %v, want ErrSelfLiquidation", err)
	}
}

func forceCloseAction() string {
	return `{"kind":"ForceClose","account_id":"alice.near"}`
}

func TestForceClose(t *testing.T) {
	c := setupLendingMarket(t)
	mustDepositToReserve(t, c, usdcToken, 1000, t0)
	// The owner must hold an account to act through the executor.
	mustDeposit(t, c, testOwner, nearToken, 1, t0)

	// At $8 the raw collateral ($800) still covers the raw debt ($500).
	_, err := oracleExec(c, testOwner, 8, forceCloseAction(), t0)
	if !errors.Is(err, ErrNotBadDebt) {
		t.Fatalf("err at $8 = %v, want ErrNotBadDebt", err)
	}

	// At $1 the position is under water outright: $100 against $500.
	if _, err := oracleExec(c, testOwner, 1, forceCloseAction(), t0); err != nil {
		t.Fatalf("force close: %v", err)
	}

	alice, _ := c.GetAccount("alice.near")
	sharesOf(t, alice.GetCollateralShares(nearToken), 0, "alice collateral")
	sharesOf(t, alice.GetBorrowedShares(usdcToken), 0, "alice debt")

	// Collateral was seized into the NEAR reserve; the debt was written off
	// against the USDC reserve.
	near, _ := c.GetAsset(nearToken)
	sharesOf(t, near.Reserved, 100, "seized near reserve")
	usdc, _ := c.GetAsset(usdcToken)
	sharesOf(t, usdc.Reserved, 500, "usdc reserve after write-off")
	sharesOf(t, usdc.Borrowed.Balance, 0, "usdc borrowed pool")
}

func TestForceCloseNotOwner(t *testing.T) {
	c := setupLendingMarket(t)
	mustDepositToReserve(t, c, usdcToken, 1000, t0)

	_, err := oracleExec(c, "bob.near", 1, forceCloseAction(), t0)
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}
}
