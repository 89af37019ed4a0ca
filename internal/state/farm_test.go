package state

import (
	"math/big"
	"reflect"
	"testing"

	"github.com/NearDeFi/burrowland/internal/decimal"
)

func TestFarmUpdateReleasesLinearly(t *testing.T) {
	f := NewAssetFarm(0)
	f.Rewards["reward.near"] = &AssetFarmReward{
		RewardPerDay:     big.NewInt(MillisPerDay), // 1 unit per ms
		RemainingRewards: big.NewInt(1_000_000),
		BoostedShares:    big.NewInt(100),
		RewardPerShare:   decimal.Zero(),
		BoosterLogBase:   big.NewInt(0),
	}

	f.Update(1000)

	r := f.Rewards["reward.near"]
	if got := r.RemainingRewards; got.Cmp(big.NewInt(999_000)) != 0 {
		t.Errorf("remaining = %s, want 999000", got)
	}
	// 1000 released over 100 shares: accumulator advances by 10.
	if got := r.RewardPerShare; got.Cmp(decimal.FromInt(10)) != 0 {
		t.Errorf("reward per share = %s, want 10", got)
	}
	if f.BlockTimestamp != 1000 {
		t.Errorf("timestamp = %d, want 1000", f.BlockTimestamp)
	}
}

func TestFarmUpdateCapsAtRemaining(t *testing.T) {
	f := NewAssetFarm(0)
	f.Rewards["reward.near"] = &AssetFarmReward{
		RewardPerDay:     big.NewInt(MillisPerDay),
		RemainingRewards: big.NewInt(500),
		BoostedShares:    big.NewInt(100),
		RewardPerShare:   decimal.Zero(),
		BoosterLogBase:   big.NewInt(0),
	}

	// 10000 ms would release 10000, but only 500 remain.
	f.Update(10_000)

	r := f.Rewards["reward.near"]
	if r.RemainingRewards.Sign() != 0 {
		t.Errorf("remaining = %s, want 0", r.RemainingRewards)
	}
	if got := r.RewardPerShare; got.Cmp(decimal.FromInt(5)) != 0 {
		t.Errorf("reward per share = %s, want 5", got)
	}
}

// A farm with no participating shares must not burn its budget while idle.
func TestFarmUpdateNoStakers(t *testing.T) {
	f := NewAssetFarm(0)
	f.Rewards["reward.near"] = &AssetFarmReward{
		RewardPerDay:     big.NewInt(MillisPerDay),
		RemainingRewards: big.NewInt(1000),
		BoostedShares:    big.NewInt(0),
		RewardPerShare:   decimal.Zero(),
		BoosterLogBase:   big.NewInt(0),
	}

	f.Update(500_000)

	r := f.Rewards["reward.near"]
	if got := r.RemainingRewards; got.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("remaining = %s, want 1000 untouched", got)
	}
	if !r.RewardPerShare.IsZero() {
		t.Errorf("reward per share = %s, want 0", r.RewardPerShare)
	}
}

func TestFarmUpdateIdempotent(t *testing.T) {
	f := NewAssetFarm(1000)
	f.Rewards["reward.near"] = &AssetFarmReward{
		RewardPerDay:     big.NewInt(MillisPerDay),
		RemainingRewards: big.NewInt(1000),
		BoostedShares:    big.NewInt(10),
		RewardPerShare:   decimal.Zero(),
		BoosterLogBase:   big.NewInt(0),
	}

	f.Update(1000)
	f.Update(900)

	r := f.Rewards["reward.near"]
	if got := r.RemainingRewards; got.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("remaining = %s, want 1000", got)
	}
}

func TestFarmRetire(t *testing.T) {
	f := NewAssetFarm(0)
	drained := &AssetFarmReward{
		RewardPerDay:     big.NewInt(100),
		RemainingRewards: big.NewInt(0),
		BoostedShares:    big.NewInt(0),
		RewardPerShare:   decimal.FromInt(7),
		BoosterLogBase:   big.NewInt(0),
	}
	f.Rewards["done.near"] = drained
	f.Rewards["live.near"] = &AssetFarmReward{
		RewardPerDay:     big.NewInt(100),
		RemainingRewards: big.NewInt(50),
		BoostedShares:    big.NewInt(0),
		RewardPerShare:   decimal.Zero(),
		BoosterLogBase:   big.NewInt(0),
	}

	f.Retire("done.near")
	f.Retire("live.near")
	f.Retire("missing.near")

	if _, ok := f.Rewards["done.near"]; ok {
		t.Error("drained reward still active")
	}
	// The final accumulator survives for late claimants.
	if got := f.Inactive["done.near"]; got == nil || got.RewardPerShare.Cmp(decimal.FromInt(7)) != 0 {
		t.Errorf("inactive accumulator = %v, want 7", got)
	}
	if _, ok := f.Rewards["live.near"]; !ok {
		t.Error("reward with budget left was retired")
	}
}

func TestFarmRewardTokensSorted(t *testing.T) {
	f := NewAssetFarm(0)
	for _, id := range []string{"c.near", "a.near", "b.near"} {
		f.Rewards[id] = &AssetFarmReward{
			RewardPerDay:     big.NewInt(1),
			RemainingRewards: big.NewInt(1),
			BoostedShares:    big.NewInt(0),
			BoosterLogBase:   big.NewInt(0),
		}
	}

	got := f.RewardTokens()
	want := []string{"a.near", "b.near", "c.near"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tokens = %v, want %v", got, want)
	}
}
