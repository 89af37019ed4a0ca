package core

import (
	"math/big"
	"sort"

	"github.com/NearDeFi/burrowland/internal/decimal"
	"github.com/NearDeFi/burrowland/internal/oracle"
	"github.com/NearDeFi/burrowland/internal/state"
)

// farmClaim settles one account farm against its (already accrued) asset
// farm: collects unclaimed rewards, folds retired rewards out, and syncs
// the per-reward accumulator snapshots. Boosted shares are not recomputed
// here; ApplyAffectedFarms does that after all claims landed.
func farmClaim(account *state.Account, farmID state.FarmID, assetFarm *state.AssetFarm, nowMs int64) (*state.AccountFarm, map[string]*big.Int) {
	rewards := make(map[string]*big.Int)
	accountFarm, ok := account.Farms[farmID]
	if !ok {
		accountFarm = state.NewAccountFarm()
		accountFarm.BlockTimestamp = nowMs
	}
	if accountFarm.BlockTimestamp == nowMs && ok {
		return accountFarm, rewards
	}
	accountFarm.BlockTimestamp = nowMs

	for _, tokenID := range assetFarm.RewardTokens() {
		reward := assetFarm.Rewards[tokenID]
		accReward, ok := accountFarm.Rewards[tokenID]
		if !ok {
			accountFarm.Rewards[tokenID] = &state.AccountFarmReward{
				BoostedShares:      big.NewInt(0),
				LastRewardPerShare: reward.RewardPerShare,
			}
			continue
		}
		diff, err := reward.RewardPerShare.Sub(accReward.LastRewardPerShare)
		if err != nil {
			// The farm accumulator only moves forward; a negative diff
			// means corrupted state.
			panic(err)
		}
		accReward.LastRewardPerShare = reward.RewardPerShare
		amount := diff.RoundMulBalance(accReward.BoostedShares)
		if amount.Sign() > 0 {
			rewards[tokenID] = amount
		}
	}

	// Retired rewards settle against their frozen accumulator, then drop
	// from the account entirely.
	for tokenID, accReward := range accountFarm.Rewards {
		if _, active := assetFarm.Rewards[tokenID]; active {
			continue
		}
		if inactive, ok := assetFarm.Inactive[tokenID]; ok {
			diff, err := inactive.RewardPerShare.Sub(accReward.LastRewardPerShare)
			if err != nil {
				panic(err)
			}
			amount := diff.RoundMulBalance(accReward.BoostedShares)
			if amount.Sign() > 0 {
				if prev, ok := rewards[tokenID]; ok {
					prev.Add(prev, amount)
				} else {
					rewards[tokenID] = amount
				}
			}
			inactive.BoostedShares.Sub(inactive.BoostedShares, accReward.BoostedShares)
		}
		delete(accountFarm.Rewards, tokenID)
	}

	return accountFarm, rewards
}

// touchAllAccountFarms marks every farm the account participates in as
// affected. Used when the booster stake changes, which shifts the boost of
// all of them at once.
func (tx *Tx) touchAllAccountFarms(account *state.Account) {
	for id := range account.Farms {
		account.AddAffectedFarm(id)
	}
}

// ApplyAffectedFarms re-settles every farm marked dirty on the account:
// claims pending rewards into the supplied balance, then recomputes boosted
// shares from the account's current raw shares and booster stake. Claimed
// rewards land in supplied balances, which can dirty further farms; the
// worklist runs until it stops growing.
func (tx *Tx) ApplyAffectedFarms(account *state.Account) error {
	queue := make([]state.FarmID, 0, len(account.AffectedFarms))
	queued := make(map[state.FarmID]struct{}, len(account.AffectedFarms))
	for id := range account.AffectedFarms {
		queue = append(queue, id)
		queued[id] = struct{}{}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i].String() < queue[j].String() })

	allRewards := make(map[string]*big.Int)
	type settled struct {
		farmID      state.FarmID
		accountFarm *state.AccountFarm
		assetFarm   *state.AssetFarm
	}
	var farms []settled

	for i := 0; i < len(queue); i++ {
		farmID := queue[i]
		assetFarm := tx.Farm(farmID)
		if assetFarm == nil {
			continue
		}
		accountFarm, rewards := farmClaim(account, farmID, assetFarm, tx.nowMs)
		for _, tokenID := range sortedBalanceKeys(rewards) {
			amount := rewards[tokenID]
			newID := state.FarmID{Kind: state.FarmKindSupplied, TokenID: tokenID}
			if _, ok := queued[newID]; !ok {
				queued[newID] = struct{}{}
				queue = append(queue, newID)
			}
			if prev, ok := allRewards[tokenID]; ok {
				prev.Add(prev, amount)
			} else {
				allRewards[tokenID] = amount
			}
		}
		farms = append(farms, settled{farmID, accountFarm, assetFarm})
	}

	for _, tokenID := range sortedBalanceKeys(allRewards) {
		if err := tx.depositReward(account, tokenID, allRewards[tokenID]); err != nil {
			return err
		}
		if tx.core.metrics != nil {
			tx.core.metrics.FarmRewardsClaimed.WithLabelValues(tokenID).Inc()
		}
	}

	var xBooster *big.Int
	if account.BoosterStaking != nil {
		xBooster = account.BoosterStaking.XBoosterAmount
	}

	for _, s := range farms {
		raw, err := tx.farmRawShares(account, s.farmID)
		if err != nil {
			return err
		}
		for _, tokenID := range s.assetFarm.RewardTokens() {
			reward := s.assetFarm.Rewards[tokenID]
			accReward := s.accountFarm.Rewards[tokenID]
			reward.BoostedShares.Sub(reward.BoostedShares, accReward.BoostedShares)
			accReward.BoostedShares = boostedShares(raw, xBooster, reward.BoosterLogBase, tx.core.config.BoosterDecimals)
			reward.BoostedShares.Add(reward.BoostedShares, accReward.BoostedShares)
		}
		if raw.Sign() == 0 && len(s.accountFarm.Rewards) == 0 {
			delete(account.Farms, s.farmID)
		} else {
			account.Farms[s.farmID] = s.accountFarm
		}
		for _, tokenID := range s.assetFarm.RewardTokens() {
			s.assetFarm.Retire(tokenID)
		}
	}

	account.AffectedFarms = make(map[state.FarmID]struct{})
	return nil
}

// ClaimAll settles every farm of the account at once.
func (tx *Tx) ClaimAll(account *state.Account) error {
	tx.touchAllAccountFarms(account)
	return tx.ApplyAffectedFarms(account)
}

// depositReward credits a claimed reward into the account's supplied
// balance. The reward token must be a listed asset.
func (tx *Tx) depositReward(account *state.Account, tokenID string, amount *big.Int) error {
	asset, err := tx.Asset(tokenID)
	if err != nil {
		return err
	}
	shares := asset.Supplied.AmountToShares(amount, false)
	asset.Supplied.Deposit(shares, amount)
	account.DepositSupplied(tokenID, shares)
	account.AddAffectedFarm(state.FarmID{Kind: state.FarmKindSupplied, TokenID: tokenID})
	return nil
}

// farmRawShares computes the unboosted share base of the account for a
// farm. Supplied farms count both free deposits and posted collateral.
// The net-TVL farm measures net quote-currency exposure instead of shares
// and excludes accounts in bad debt.
func (tx *Tx) farmRawShares(account *state.Account, farmID state.FarmID) (*big.Int, error) {
	switch farmID.Kind {
	case state.FarmKindSupplied:
		raw := new(big.Int).Add(
			account.GetSuppliedShares(farmID.TokenID),
			account.GetCollateralShares(farmID.TokenID))
		return raw, nil
	case state.FarmKindBorrowed:
		return new(big.Int).Set(account.GetBorrowedShares(farmID.TokenID)), nil
	case state.FarmKindNetTvl:
		prices := tx.lastPrices()
		if prices == nil {
			return big.NewInt(0), nil
		}
		return tx.netTvlBase(account, prices)
	default:
		return big.NewInt(0), nil
	}
}

// netTvlBase is collateral value weighted by net_tvl_multiplier minus raw
// borrowed value, floored at zero.
func (tx *Tx) netTvlBase(account *state.Account, prices *oracle.Prices) (*big.Int, error) {
	collateralSum := decimal.Zero()
	for _, tokenID := range account.CollateralTokens() {
		asset, err := tx.Asset(tokenID)
		if err != nil {
			return nil, err
		}
		price, err := prices.Get(tokenID)
		if err != nil {
			return nil, err
		}
		balance := asset.Supplied.SharesToAmount(account.GetCollateralShares(tokenID), false)
		collateralSum = collateralSum.Add(tokenValue(balance, price).MulRatio(asset.Config.NetTvlMultiplier))
	}

	borrowedSum := decimal.Zero()
	for _, tokenID := range account.BorrowedTokens() {
		asset, err := tx.Asset(tokenID)
		if err != nil {
			return nil, err
		}
		price, err := prices.Get(tokenID)
		if err != nil {
			return nil, err
		}
		balance := asset.Borrowed.SharesToAmount(account.GetBorrowedShares(tokenID), true)
		borrowedSum = borrowedSum.Add(tokenValue(balance, price))
	}

	net, err := collateralSum.Sub(borrowedSum)
	if err != nil {
		// Bad-debt accounts contribute nothing.
		return big.NewInt(0), nil
	}
	return net.RoundBalance(false), nil
}

func sortedBalanceKeys(m map[string]*big.Int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
