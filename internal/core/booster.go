package core

import (
	"errors"
	"math"
	"math/big"

	"github.com/NearDeFi/burrowland/internal/decimal"
	"github.com/NearDeFi/burrowland/internal/state"
)

var (
	ErrInvalidStakingDuration = errors.New("core: staking duration out of bounds")
	ErrStakeStillLocked       = errors.New("core: booster stake is still locked")
	ErrUnlockShortened        = errors.New("core: new unlock timestamp precedes the current one")
)

// xBoosterAmount scales a staked amount by the lock-duration multiplier:
// the minimum duration earns 1x and the maximum earns the configured
// multiplier, interpolated linearly in between.
func (c *Core) xBoosterAmount(amount *big.Int, durationSec int64) *big.Int {
	minDur := c.config.MinimumStakingDurationSec
	maxDur := c.config.MaximumStakingDurationSec
	extraBps := uint64(c.config.XBoosterMultiplierAtMaximumStakingDuration) - decimal.MaxRatio
	if extraBps == 0 || maxDur <= minDur {
		return new(big.Int).Set(amount)
	}
	if durationSec > maxDur {
		durationSec = maxDur
	}
	extra := new(big.Int).Mul(amount, new(big.Int).SetUint64(extraBps))
	extra.Mul(extra, big.NewInt(durationSec-minDur))
	extra.Quo(extra, big.NewInt(maxDur-minDur))
	extra.Quo(extra, big.NewInt(decimal.MaxRatio))
	return extra.Add(extra, amount)
}

// StakeBooster locks booster tokens from the account's supplied balance for
// durationSec. Restaking recomputes the x-booster amount over the whole
// stake and may only push the unlock timestamp forward.
func (tx *Tx) StakeBooster(account *state.Account, amount *big.Int, durationSec int64) error {
	cfg := tx.core.config
	if durationSec < cfg.MinimumStakingDurationSec || durationSec > cfg.MaximumStakingDurationSec {
		return ErrInvalidStakingDuration
	}

	asset, err := tx.Asset(cfg.BoosterTokenID)
	if err != nil {
		return err
	}
	if amount == nil {
		amount = asset.Supplied.SharesToAmount(account.GetSuppliedShares(cfg.BoosterTokenID), false)
	}
	if amount.Sign() == 0 {
		return ErrZeroAmountOrShares
	}
	shares := asset.Supplied.AmountToShares(amount, true)
	if err := account.WithdrawSupplied(cfg.BoosterTokenID, shares); err != nil {
		return err
	}
	if err := asset.Supplied.Withdraw(shares, amount); err != nil {
		return err
	}

	staking := account.BoosterStaking
	if staking == nil {
		staking = &state.BoosterStaking{
			StakedBoosterAmount: big.NewInt(0),
			XBoosterAmount:      big.NewInt(0),
		}
		account.BoosterStaking = staking
	}
	unlock := tx.nowMs + durationSec*1000
	if unlock < staking.UnlockTimestamp {
		return ErrUnlockShortened
	}
	staking.StakedBoosterAmount.Add(staking.StakedBoosterAmount, amount)
	staking.XBoosterAmount = tx.core.xBoosterAmount(staking.StakedBoosterAmount, durationSec)
	staking.UnlockTimestamp = unlock

	tx.touchAllAccountFarms(account)
	return tx.ApplyAffectedFarms(account)
}

// UnstakeBooster releases the whole stake back into the supplied balance
// once the lock expired.
func (tx *Tx) UnstakeBooster(account *state.Account) error {
	staking := account.BoosterStaking
	if staking == nil || staking.StakedBoosterAmount.Sign() == 0 {
		return ErrZeroAmountOrShares
	}
	if tx.nowMs < staking.UnlockTimestamp {
		return ErrStakeStillLocked
	}

	cfg := tx.core.config
	asset, err := tx.Asset(cfg.BoosterTokenID)
	if err != nil {
		return err
	}
	shares := asset.Supplied.AmountToShares(staking.StakedBoosterAmount, false)
	asset.Supplied.Deposit(shares, staking.StakedBoosterAmount)
	account.DepositSupplied(cfg.BoosterTokenID, shares)
	account.BoosterStaking = nil

	tx.touchAllAccountFarms(account)
	return tx.ApplyAffectedFarms(account)
}

// boostedShares computes raw shares scaled by the logarithmic booster curve:
// extra = raw * log_base(xBooster / unit), active only above one whole
// booster token and with a configured log base. The float round trip is
// deliberate; boost precision is cosmetic and the log is not expressible in
// integer arithmetic.
func boostedShares(raw, xBooster, logBase *big.Int, boosterDecimals uint8) *big.Int {
	out := new(big.Int).Set(raw)
	if raw.Sign() == 0 || logBase == nil || logBase.Sign() == 0 || xBooster == nil {
		return out
	}
	unit := math.Pow(10, float64(boosterDecimals))
	x, _ := new(big.Float).SetInt(xBooster).Float64()
	base, _ := new(big.Float).SetInt(logBase).Float64()
	if x <= unit || base <= unit {
		return out
	}
	mult := math.Log(x/unit) / math.Log(base/unit)
	rawF, _ := new(big.Float).SetInt(raw).Float64()
	extra, _ := new(big.Float).SetFloat64(rawF * mult).Int(nil)
	return out.Add(out, extra)
}
