package core

import (
	"errors"
	"math/big"
	"testing"

	"github.com/rs/zerolog"
)

func newBoosterCore(t *testing.T) *Core {
	t.Helper()
	c := New(testCoreConfig(), zerolog.Nop(), nil, nil)
	mustAddAsset(t, c, boosterToken, flatAssetConfig(2000))
	mustDeposit(t, c, "alice.near", boosterToken, 1000, t0)
	return c
}

func TestXBoosterAmountInterpolation(t *testing.T) {
	c := New(testCoreConfig(), zerolog.Nop(), nil, nil)
	minDur := c.config.MinimumStakingDurationSec
	maxDur := c.config.MaximumStakingDurationSec

	cases := []struct {
		name     string
		duration int64
		want     int64
	}{
		{"minimum lock is 1x", minDur, 1000},
		{"maximum lock is 4x", maxDur, 4000},
		{"midpoint is 2.5x", minDur + (maxDur-minDur)/2, 2500},
		{"beyond maximum clamps", maxDur * 2, 4000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.xBoosterAmount(big.NewInt(1000), tc.duration)
			if got.Cmp(big.NewInt(tc.want)) != 0 {
				t.Errorf("xBooster(1000, %ds) = %s, want %d", tc.duration, got, tc.want)
			}
		})
	}
}

func TestBoostedSharesLogCurve(t *testing.T) {
	// With decimals 0 the unit is 1: holding 100 x-booster under log base
	// 10 multiplies by log_10(100) = 2 extra, tripling the raw shares.
	got := boostedShares(big.NewInt(1000), big.NewInt(100), big.NewInt(10), 0)
	if got.Cmp(big.NewInt(3000)) != 0 {
		t.Errorf("boosted = %s, want 3000", got)
	}

	// At or below one unit the boost is inactive.
	got = boostedShares(big.NewInt(1000), big.NewInt(1), big.NewInt(10), 0)
	if got.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("boosted at 1 unit = %s, want 1000", got)
	}

	// No log base configured disables boosting entirely.
	got = boostedShares(big.NewInt(1000), big.NewInt(100), nil, 0)
	if got.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("boosted without base = %s, want 1000", got)
	}
}

func TestStakeBoosterLifecycle(t *testing.T) {
	c := newBoosterCore(t)
	minDur := c.config.MinimumStakingDurationSec

	// nil amount stakes the whole supplied booster balance.
	if err := c.StakeBooster("alice.near", nil, minDur, t0); err != nil {
		t.Fatalf("stake: %v", err)
	}

	account, _ := c.GetAccount("alice.near")
	sharesOf(t, account.GetSuppliedShares(boosterToken), 0, "supplied after stake")
	staking := account.BoosterStaking
	if staking == nil {
		t.Fatal("no booster staking recorded")
	}
	sharesOf(t, staking.StakedBoosterAmount, 1000, "staked amount")
	sharesOf(t, staking.XBoosterAmount, 1000, "x-booster at minimum lock")
	unlock := t0 + minDur*1000
	if staking.UnlockTimestamp != unlock {
		t.Errorf("unlock = %d, want %d", staking.UnlockTimestamp, unlock)
	}

	if err := c.UnstakeBooster("alice.near", unlock-1); !errors.Is(err, ErrStakeStillLocked) {
		t.Fatalf("early unstake err = %v, want ErrStakeStillLocked", err)
	}

	if err := c.UnstakeBooster("alice.near", unlock); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	account, _ = c.GetAccount("alice.near")
	sharesOf(t, account.GetSuppliedShares(boosterToken), 1000, "supplied after unstake")
	if account.BoosterStaking != nil {
		t.Error("staking record survived unstake")
	}
}

func TestStakeBoosterDurationBounds(t *testing.T) {
	c := newBoosterCore(t)

	err := c.StakeBooster("alice.near", big.NewInt(100), c.config.MinimumStakingDurationSec-1, t0)
	if !errors.Is(err, ErrInvalidStakingDuration) {
		t.Errorf("short lock err = %v, want ErrInvalidStakingDuration", err)
	}
	err = c.StakeBooster("alice.near", big.NewInt(100), c.config.MaximumStakingDurationSec+1, t0)
	if !errors.Is(err, ErrInvalidStakingDuration) {
		t.Errorf("long lock err = %v, want ErrInvalidStakingDuration", err)
	}
}

func TestRestakeCannotShortenLock(t *testing.T) {
	c := newBoosterCore(t)

	if err := c.StakeBooster("alice.near", big.NewInt(500), c.config.MaximumStakingDurationSec, t0); err != nil {
		t.Fatalf("stake: %v", err)
	}
	err := c.StakeBooster("alice.near", big.NewInt(100), c.config.MinimumStakingDurationSec, t0)
	if !errors.Is(err, ErrUnlockShortened) {
		t.Fatalf("restake err = %v, want ErrUnlockShortened", err)
	}

	// The rejected restake must not have touched the supplied balance.
	account, _ := c.GetAccount("alice.near")
	sharesOf(t, account.GetSuppliedShares(boosterToken), 500, "supplied after rejected restake")
	sharesOf(t, account.BoosterStaking.StakedBoosterAmount, 500, "staked amount")
}

func TestUnstakeWithoutStake(t *testing.T) {
	c := newBoosterCore(t)

	if err := c.UnstakeBooster("alice.near", t0); !errors.Is(err, ErrZeroAmountOrShares) {
		t.Fatalf("err = %v, want ErrZeroAmountOrShares", err)
	}
}
