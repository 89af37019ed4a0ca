package core

import (
	"errors"
	"math/big"
	"time"

	"github.com/NearDeFi/burrowland/internal/state"
)

var ErrAssetAlreadyExists = errors.New("core: asset already exists")

// AddAsset lists a new asset. Owner only.
func (c *Core) AddAsset(callerID, tokenID string, config state.AssetConfig, nowMs int64) error {
	start := time.Now()
	if callerID != c.config.OwnerID {
		return c.reject("add_asset", ErrNotOwner)
	}
	if err := config.Validate(); err != nil {
		return c.reject("add_asset", err)
	}
	if _, ok := c.assets[tokenID]; ok {
		return c.reject("add_asset", ErrAssetAlreadyExists)
	}

	tx := c.Begin(nowMs)
	tx.setAsset(tokenID, state.NewAsset(nowMs, config))
	tx.newAssetIDs = append(tx.newAssetIDs, tokenID)
	tx.record("add_asset", callerID, struct {
		TokenID string            `json:"token_id"`
		Config  state.AssetConfig `json:"config"`
	}{tokenID, config})
	c.commit(tx)
	c.observe("add_asset", start)
	return nil
}

// UpdateAsset replaces the rate-curve configuration of a listed asset.
// Owner only.
func (c *Core) UpdateAsset(callerID, tokenID string, config state.AssetConfig, nowMs int64) error {
	start := time.Now()
	if callerID != c.config.OwnerID {
		return c.reject("update_asset", ErrNotOwner)
	}
	if err := config.Validate(); err != nil {
		return c.reject("update_asset", err)
	}

	tx := c.Begin(nowMs)
	asset, err := tx.Asset(tokenID)
	if err != nil {
		return c.reject("update_asset", err)
	}
	asset.Config = config
	tx.record("update_asset", callerID, struct {
		TokenID string            `json:"token_id"`
		Config  state.AssetConfig `json:"config"`
	}{tokenID, config})
	c.commit(tx)
	c.observe("update_asset", start)
	return nil
}

// UpdateConfig replaces the protocol configuration. Owner only.
func (c *Core) UpdateConfig(callerID string, config Config, nowMs int64) error {
	start := time.Now()
	if callerID != c.config.OwnerID {
		return c.reject("update_config", ErrNotOwner)
	}
	if err := config.Validate(); err != nil {
		return c.reject("update_config", err)
	}

	tx := c.Begin(nowMs)
	tx.record("update_config", callerID, config)
	c.commit(tx)
	c.config = config
	c.observe("update_config", start)
	return nil
}

// AddFarmReward attaches or tops up a farm reward, debiting the reward
// amount from the reward token's reserve. Owner only.
func (c *Core) AddFarmReward(callerID string, farmID state.FarmID, rewardTokenID string, rewardPerDay, boosterLogBase, amount *big.Int, nowMs int64) error {
	start := time.Now()
	if callerID != c.config.OwnerID {
		return c.reject("add_farm_reward", ErrNotOwner)
	}
	if amount.Sign() == 0 || rewardPerDay.Sign() == 0 {
		return c.reject("add_farm_reward", ErrZeroAmountOrShares)
	}

	tx := c.Begin(nowMs)
	rewardAsset, err := tx.Asset(rewardTokenID)
	if err != nil {
		return c.reject("add_farm_reward", err)
	}
	if rewardAsset.Reserved.Cmp(amount) < 0 {
		return c.reject("add_farm_reward", ErrInsufficientBalance)
	}
	rewardAsset.Reserved.Sub(rewardAsset.Reserved, amount)

	farm := tx.FarmOrNew(farmID)
	if reward, ok := farm.Rewards[rewardTokenID]; ok {
		reward.RewardPerDay = new(big.Int).Set(rewardPerDay)
		reward.BoosterLogBase = new(big.Int).Set(boosterLogBase)
		reward.RemainingRewards.Add(reward.RemainingRewards, amount)
	} else if inactive, ok := farm.Inactive[rewardTokenID]; ok {
		// Reviving a retired reward keeps its accumulator history.
		delete(farm.Inactive, rewardTokenID)
		inactive.RewardPerDay = new(big.Int).Set(rewardPerDay)
		inactive.BoosterLogBase = new(big.Int).Set(boosterLogBase)
		inactive.RemainingRewards.Add(inactive.RemainingRewards, amount)
		farm.Rewards[rewardTokenID] = inactive
	} else {
		farm.Rewards[rewardTokenID] = &state.AssetFarmReward{
			RewardPerDay:     new(big.Int).Set(rewardPerDay),
			RemainingRewards: new(big.Int).Set(amount),
			BoostedShares:    big.NewInt(0),
			BoosterLogBase:   new(big.Int).Set(boosterLogBase),
		}
	}

	tx.record("add_farm_reward", callerID, struct {
		FarmID         string `json:"farm_id"`
		RewardTokenID  string `json:"reward_token_id"`
		RewardPerDay   string `json:"reward_per_day"`
		BoosterLogBase string `json:"booster_log_base"`
		Amount         string `json:"amount"`
	}{farmID.String(), rewardTokenID, rewardPerDay.String(), boosterLogBase.String(), amount.String()})
	c.commit(tx)
	c.observe("add_farm_reward", start)
	return nil
}
