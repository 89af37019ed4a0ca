package query

import (
	"math/big"
	"sort"

	"github.com/NearDeFi/burrowland/internal/decimal"
	"github.com/NearDeFi/burrowland/internal/state"
)

const millisPerYear = 365 * 24 * 60 * 60 * 1000

// buildAssetView renders one asset after touching it to now. The touch runs
// on a clone so the view never mutates committed state.
func buildAssetView(tokenID string, a *state.Asset, nowMs int64) *AssetView {
	asset := a.Clone()
	asset.Touch(nowMs)

	borrowAPR := annualizedBps(asset.Rate())
	return &AssetView{
		TokenID:               tokenID,
		SuppliedShares:        asset.Supplied.Shares.String(),
		SuppliedBalance:       asset.Supplied.Balance.String(),
		BorrowedShares:        asset.Borrowed.Shares.String(),
		BorrowedBalance:       asset.Borrowed.Balance.String(),
		Reserved:              asset.Reserved.String(),
		BorrowAPRBps:          borrowAPR,
		SupplyAPRBps:          supplyAPRBps(asset, borrowAPR),
		LastUpdateTimestampMs: asset.LastUpdateTimestamp,
		Config: AssetConfigView{
			ReserveRatio:          asset.Config.ReserveRatio,
			TargetUtilization:     asset.Config.TargetUtilization,
			TargetUtilizationRate: asset.Config.TargetUtilizationRate.String(),
			MaxUtilizationRate:    asset.Config.MaxUtilizationRate.String(),
			VolatilityRatio:       asset.Config.VolatilityRatio,
			ExtraDecimals:         asset.Config.ExtraDecimals,
			CanDeposit:            asset.Config.CanDeposit,
			CanWithdraw:           asset.Config.CanWithdraw,
			CanUseAsCollateral:    asset.Config.CanUseAsCollateral,
			CanBorrow:             asset.Config.CanBorrow,
			NetTvlMultiplier:      asset.Config.NetTvlMultiplier,
		},
	}
}

// annualizedBps converts a per-ms compounding factor to an annualized rate
// in parts per 10000.
func annualizedBps(rate decimal.Decimal) uint64 {
	yearly := rate.Pow(millisPerYear)
	apr, err := yearly.Sub(decimal.One())
	if err != nil {
		return 0
	}
	return apr.Mul(decimal.FromInt(10000)).RoundBalance(false).Uint64()
}

// supplyAPRBps derives the supplier-side rate: the borrow rate scaled by
// utilization, minus the share of interest diverted to the reserve.
func supplyAPRBps(asset *state.Asset, borrowAPRBps uint64) uint64 {
	totalSupplied := new(big.Int).Add(asset.Supplied.Balance, asset.Reserved)
	if totalSupplied.Sign() == 0 {
		return 0
	}
	utilization := decimal.FromBalance(asset.Borrowed.Balance).
		Div(decimal.FromBalance(totalSupplied))
	supplierShare := decimal.MaxRatio - asset.Config.ReserveRatio
	return decimal.FromInt(borrowAPRBps).
		Mul(utilization).
		MulRatio(supplierShare).
		RoundBalance(false).
		Uint64()
}

// balanceView converts an account's shares in one asset to their current
// balance. Borrow shares round up so no debtor ever owes less than the pool
// is owed.
func (s *Service) balanceView(tokenID string, shares *big.Int, nowMs int64, borrowed bool) AccountBalanceView {
	view := AccountBalanceView{
		TokenID: tokenID,
		Shares:  shares.String(),
		Balance: shares.String(),
	}
	a, ok := s.core.GetAsset(tokenID)
	if !ok {
		return view
	}
	asset := a.Clone()
	asset.Touch(nowMs)
	if borrowed {
		view.Balance = asset.Borrowed.SharesToAmount(shares, true).String()
	} else {
		view.Balance = asset.Supplied.SharesToAmount(shares, false).String()
	}
	return view
}

// farmViews renders per-farm unclaimed rewards against farm accumulators
// advanced to now. Retired rewards settle against their frozen accumulator.
func (s *Service) farmViews(account *state.Account, nowMs int64) []AccountFarmView {
	ids := make([]state.FarmID, 0, len(account.Farms))
	for id := range account.Farms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	var views []AccountFarmView
	for _, id := range ids {
		accountFarm := account.Farms[id]
		assetFarm, ok := s.core.GetFarm(id)
		if !ok {
			continue
		}
		farm := assetFarm.Clone()
		farm.Update(nowMs)

		tokens := make([]string, 0, len(accountFarm.Rewards))
		for token := range accountFarm.Rewards {
			tokens = append(tokens, token)
		}
		sort.Strings(tokens)

		view := AccountFarmView{FarmID: id.String()}
		for _, token := range tokens {
			acc := accountFarm.Rewards[token]
			reward := AccountFarmRewardView{
				RewardTokenID:   token,
				BoostedShares:   acc.BoostedShares.String(),
				UnclaimedAmount: "0",
			}
			farmReward, ok := farm.Rewards[token]
			if !ok {
				farmReward, ok = farm.Inactive[token]
			}
			if ok {
				if diff, err := farmReward.RewardPerShare.Sub(acc.LastRewardPerShare); err == nil {
					reward.UnclaimedAmount = diff.RoundMulBalance(acc.BoostedShares).String()
				}
			}
			view.Rewards = append(view.Rewards, reward)
		}
		views = append(views, view)
	}
	return views
}
