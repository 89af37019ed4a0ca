package state

import (
	"math/big"

	"github.com/NearDeFi/burrowland/internal/decimal"
)

// Asset is the per-token market: two share pools, a reserve balance, and the
// interest-rate config. Interest is compounded lazily on every read or write
// via Touch.
type Asset struct {
	// Total supplied including collateral, excluding reserved.
	Supplied *Pool
	// Total borrowed.
	Borrowed *Pool
	// Reserve balance. Can also be borrowed, so it affects the borrow rate.
	Reserved *big.Int
	// Timestamp (ms) of the last interest compounding.
	LastUpdateTimestamp int64

	Config AssetConfig
}

func NewAsset(timestampMs int64, config AssetConfig) *Asset {
	return &Asset{
		Supplied:            NewPool(),
		Borrowed:            NewPool(),
		Reserved:            big.NewInt(0),
		LastUpdateTimestamp: timestampMs,
		Config:              config,
	}
}

func (a *Asset) Clone() *Asset {
	return &Asset{
		Supplied:            a.Supplied.Clone(),
		Borrowed:            a.Borrowed.Clone(),
		Reserved:            new(big.Int).Set(a.Reserved),
		LastUpdateTimestamp: a.LastUpdateTimestamp,
		Config:              a.Config,
	}
}

// Rate returns the current per-ms compounding factor. The reserve counts
// toward total supply because it is borrowable.
func (a *Asset) Rate() decimal.Decimal {
	totalSupplied := new(big.Int).Add(a.Supplied.Balance, a.Reserved)
	return a.Config.Rate(a.Borrowed.Balance, totalSupplied)
}

// Touch compounds interest for the wall-clock interval since the last
// update. Idempotent within one timestamp and never runs backward.
func (a *Asset) Touch(nowMs int64) {
	elapsed := nowMs - a.LastUpdateTimestamp
	if elapsed <= 0 {
		return
	}
	a.LastUpdateTimestamp = nowMs
	a.compound(uint64(elapsed))
}

// compound accrues rate^elapsed onto the borrowed balance and splits the
// interest between the reserve and the suppliers.
func (a *Asset) compound(elapsedMs uint64) {
	grown := a.Rate().Pow(elapsedMs).RoundMulBalance(a.Borrowed.Balance)
	interest := new(big.Int).Sub(grown, a.Borrowed.Balance)
	if interest.Sign() <= 0 {
		return
	}
	reserved := decimal.Ratio(interest, a.Config.ReserveRatio)
	a.Supplied.Balance.Add(a.Supplied.Balance, new(big.Int).Sub(interest, reserved))
	a.Reserved.Add(a.Reserved, reserved)
	a.Borrowed.Balance.Add(a.Borrowed.Balance, interest)
}

// AvailableAmount is the liquidity ceiling for new borrows and withdrawals:
// supplied + reserved - borrowed, never negative by invariant.
func (a *Asset) AvailableAmount() *big.Int {
	avail := new(big.Int).Add(a.Supplied.Balance, a.Reserved)
	return avail.Sub(avail, a.Borrowed.Balance)
}
