package state

import (
	"errors"
	"math/big"

	"github.com/NearDeFi/burrowland/internal/decimal"
)

// ErrInsufficientBalance is returned when a withdrawal would drive a pool or
// an account's share balance negative.
var ErrInsufficientBalance = errors.New("state: insufficient balance")

// Pool converts between an internal shares unit and an external balance unit
// for one side (supplied or borrowed) of one asset. The exchange rate
// balance/shares only grows as interest accrues.
type Pool struct {
	Shares  *big.Int
	Balance *big.Int
}

func NewPool() *Pool {
	return &Pool{Shares: big.NewInt(0), Balance: big.NewInt(0)}
}

func (p *Pool) Clone() *Pool {
	return &Pool{
		Shares:  new(big.Int).Set(p.Shares),
		Balance: new(big.Int).Set(p.Balance),
	}
}

// AmountToShares converts a balance amount to shares. The rounding direction
// is a protocol-safety control supplied by the caller: conversions that
// increase the pool's claim on the caller round up, conversions that increase
// the pool's liabilities toward the caller round down.
func (p *Pool) AmountToShares(amount *big.Int, roundUp bool) *big.Int {
	if p.Balance.Sign() == 0 {
		// Bootstrap 1:1.
		return new(big.Int).Set(amount)
	}
	return decimal.MulDiv(p.Shares, amount, p.Balance, roundUp)
}

// SharesToAmount converts shares back to a balance amount. A full withdrawal
// (shares >= total shares outstanding) returns the exact balance so no dust
// is left behind.
func (p *Pool) SharesToAmount(shares *big.Int, roundUp bool) *big.Int {
	if shares.Cmp(p.Shares) >= 0 {
		return new(big.Int).Set(p.Balance)
	}
	return decimal.MulDiv(p.Balance, shares, p.Shares, roundUp)
}

// Deposit applies a paired share/balance increment.
func (p *Pool) Deposit(shares, amount *big.Int) {
	p.Shares.Add(p.Shares, shares)
	p.Balance.Add(p.Balance, amount)
}

// Withdraw applies a paired share/balance decrement.
func (p *Pool) Withdraw(shares, amount *big.Int) error {
	if p.Shares.Cmp(shares) < 0 || p.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	p.Shares.Sub(p.Shares, shares)
	p.Balance.Sub(p.Balance, amount)
	return nil
}
