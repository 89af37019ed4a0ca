package state

import (
	"math/big"
	"sort"

	"github.com/NearDeFi/burrowland/internal/decimal"
)

// MillisPerDay converts reward_per_day into a per-ms release rate.
const MillisPerDay = 24 * 60 * 60 * 1000

// AssetFarmReward is the farm-side accumulator for one reward token:
// rewards release linearly at RewardPerDay, capped by RemainingRewards, and
// distribute pro rata over BoostedShares through RewardPerShare.
type AssetFarmReward struct {
	RewardPerDay     *big.Int
	RemainingRewards *big.Int
	BoostedShares    *big.Int
	// Monotonically non-decreasing reward-per-boosted-share accumulator.
	RewardPerShare decimal.Decimal
	// Log base of the booster curve for this reward. Zero disables boosting.
	BoosterLogBase *big.Int
}

func (r *AssetFarmReward) Clone() *AssetFarmReward {
	return &AssetFarmReward{
		RewardPerDay:     new(big.Int).Set(r.RewardPerDay),
		RemainingRewards: new(big.Int).Set(r.RemainingRewards),
		BoostedShares:    new(big.Int).Set(r.BoostedShares),
		RewardPerShare:   r.RewardPerShare,
		BoosterLogBase:   new(big.Int).Set(r.BoosterLogBase),
	}
}

// AssetFarm accrues incentive rewards for one farm ID. Retired rewards keep
// their final accumulator value in Inactive so late claimants can still
// settle.
type AssetFarm struct {
	BlockTimestamp int64
	Rewards        map[string]*AssetFarmReward
	Inactive       map[string]*AssetFarmReward
}

func NewAssetFarm(timestampMs int64) *AssetFarm {
	return &AssetFarm{
		BlockTimestamp: timestampMs,
		Rewards:        make(map[string]*AssetFarmReward),
		Inactive:       make(map[string]*AssetFarmReward),
	}
}

func (f *AssetFarm) Clone() *AssetFarm {
	c := NewAssetFarm(f.BlockTimestamp)
	for k, v := range f.Rewards {
		c.Rewards[k] = v.Clone()
	}
	for k, v := range f.Inactive {
		c.Inactive[k] = v.Clone()
	}
	return c
}

// Update releases rewards for the elapsed interval. Idempotent per
// timestamp. Rewards with no participating shares release nothing: time
// without stakers does not burn the budget.
func (f *AssetFarm) Update(nowMs int64) {
	if nowMs <= f.BlockTimestamp {
		return
	}
	elapsed := new(big.Int).SetInt64(nowMs - f.BlockTimestamp)
	f.BlockTimestamp = nowMs
	for _, r := range f.Rewards {
		if r.BoostedShares.Sign() == 0 {
			continue
		}
		released := new(big.Int).Mul(r.RewardPerDay, elapsed)
		released.Quo(released, big.NewInt(MillisPerDay))
		if released.Cmp(r.RemainingRewards) > 0 {
			released = new(big.Int).Set(r.RemainingRewards)
		}
		r.RemainingRewards.Sub(r.RemainingRewards, released)
		r.RewardPerShare = r.RewardPerShare.Add(
			decimal.FromBalance(released).Div(decimal.FromBalance(r.BoostedShares)))
	}
}

// Retire moves a drained reward into the inactive set, preserving its final
// accumulator value for late settlement. No-op while rewards remain or
// shares still reference it.
func (f *AssetFarm) Retire(rewardTokenID string) {
	r, ok := f.Rewards[rewardTokenID]
	if !ok || r.RemainingRewards.Sign() != 0 || r.BoostedShares.Sign() != 0 {
		return
	}
	delete(f.Rewards, rewardTokenID)
	f.Inactive[rewardTokenID] = r
}

// RewardTokens returns active reward token IDs in deterministic order.
func (f *AssetFarm) RewardTokens() []string {
	keys := make([]string, 0, len(f.Rewards))
	for k := range f.Rewards {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
