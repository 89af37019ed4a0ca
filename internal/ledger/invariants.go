// Package ledger audits the committed book. Every balance in the system is
// derived from pool shares, so the whole ledger can be re-proven from state:
// account shares must sum to pool shares, borrows must be funded, and farm
// stakes must sum to farm totals. A violation means a write path broke
// conservation.
package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/NearDeFi/burrowland/internal/core"
	"github.com/NearDeFi/burrowland/internal/state"
)

// Violation is one failed conservation check.
type Violation struct {
	Check   string `json:"check"`
	Subject string `json:"subject"`
	Detail  string `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s [%s]: %s", v.Check, v.Subject, v.Detail)
}

// Executor runs a closure on the processor goroutine.
type Executor interface {
	Do(ctx context.Context, f func()) error
}

// Checker proves share conservation over the live core.
type Checker struct {
	core *core.Core
	exec Executor
}

func NewChecker(c *core.Core, exec Executor) *Checker {
	return &Checker{core: c, exec: exec}
}

// Check runs every audit and returns the violations found. An empty slice
// means the book balances.
func (c *Checker) Check(ctx context.Context) ([]Violation, error) {
	var violations []Violation
	err := c.exec.Do(ctx, func() {
		violations = AuditState(snapshotForAudit(c.core))
	})
	return violations, err
}

// AuditView is the slice of core state the audits read.
type AuditView struct {
	Assets   map[string]*state.Asset
	Accounts []*state.Account
	Farms    map[state.FarmID]*state.AssetFarm
}

func snapshotForAudit(c *core.Core) AuditView {
	view := AuditView{Assets: make(map[string]*state.Asset)}
	for _, tokenID := range c.AssetIDs() {
		if a, ok := c.GetAsset(tokenID); ok {
			view.Assets[tokenID] = a
		}
	}
	for _, accountID := range c.AccountIDs() {
		if a, ok := c.GetAccount(accountID); ok {
			view.Accounts = append(view.Accounts, a)
		}
	}
	_, _, farms := c.SnapshotState()
	view.Farms = farms
	return view
}

// AuditState runs the audits against a consistent view of state. Exported
// separately from Checker so tests and recovery can audit without a running
// processor.
func AuditState(view AuditView) []Violation {
	var violations []Violation
	violations = append(violations, auditPools(view.Assets)...)
	violations = append(violations, auditAccountShares(view.Assets, view.Accounts)...)
	violations = append(violations, auditFarmShares(view.Farms, view.Accounts)...)
	return violations
}

// auditPools checks per-asset solvency: nothing negative, and borrows never
// exceed the liquidity that funds them.
func auditPools(assets map[string]*state.Asset) []Violation {
	var violations []Violation
	for tokenID, asset := range assets {
		for side, pool := range map[string]*state.Pool{"supplied": asset.Supplied, "borrowed": asset.Borrowed} {
			if pool.Shares.Sign() < 0 || pool.Balance.Sign() < 0 {
				violations = append(violations, Violation{
					Check:   "pool_non_negative",
					Subject: tokenID,
					Detail:  fmt.Sprintf("%s pool %s shares / %s balance", side, pool.Shares, pool.Balance),
				})
			}
			if pool.Shares.Sign() == 0 && pool.Balance.Sign() != 0 {
				violations = append(violations, Violation{
					Check:   "pool_orphan_balance",
					Subject: tokenID,
					Detail:  fmt.Sprintf("%s pool holds %s with zero shares outstanding", side, pool.Balance),
				})
			}
		}
		if asset.Reserved.Sign() < 0 {
			violations = append(violations, Violation{
				Check:   "reserve_non_negative",
				Subject: tokenID,
				Detail:  fmt.Sprintf("reserved %s", asset.Reserved),
			})
		}
		funding := new(big.Int).Add(asset.Supplied.Balance, asset.Reserved)
		if asset.Borrowed.Balance.Cmp(funding) > 0 {
			violations = append(violations, Violation{
				Check:   "borrow_funded",
				Subject: tokenID,
				Detail:  fmt.Sprintf("borrowed %s exceeds supplied+reserved %s", asset.Borrowed.Balance, funding),
			})
		}
	}
	return violations
}

// auditAccountShares checks that account-held shares sum exactly to the
// pool's outstanding shares: supplied and collateral both draw on the
// supplied pool, borrows on the borrowed pool.
func auditAccountShares(assets map[string]*state.Asset, accounts []*state.Account) []Violation {
	suppliedSums := make(map[string]*big.Int)
	borrowedSums := make(map[string]*big.Int)
	addTo := func(sums map[string]*big.Int, tokenID string, shares *big.Int) {
		sum, ok := sums[tokenID]
		if !ok {
			sum = big.NewInt(0)
			sums[tokenID] = sum
		}
		sum.Add(sum, shares)
	}

	var violations []Violation
	for _, account := range accounts {
		for _, tokenID := range account.SuppliedTokens() {
			addTo(suppliedSums, tokenID, account.GetSuppliedShares(tokenID))
		}
		for _, tokenID := range account.CollateralTokens() {
			addTo(suppliedSums, tokenID, account.GetCollateralShares(tokenID))
		}
		for _, tokenID := range account.BorrowedTokens() {
			shares := account.GetBorrowedShares(tokenID)
			if shares.Sign() < 0 {
				violations = append(violations, Violation{
					Check:   "account_non_negative",
					Subject: account.AccountID,
					Detail:  fmt.Sprintf("borrowed shares %s of %s", shares, tokenID),
				})
			}
			addTo(borrowedSums, tokenID, shares)
		}
	}

	for tokenID, asset := range assets {
		supplied := suppliedSums[tokenID]
		if supplied == nil {
			supplied = big.NewInt(0)
		}
		if supplied.Cmp(asset.Supplied.Shares) != 0 {
			violations = append(violations, Violation{
				Check:   "supplied_shares_conserved",
				Subject: tokenID,
				Detail:  fmt.Sprintf("accounts hold %s, pool issued %s", supplied, asset.Supplied.Shares),
			})
		}
		borrowed := borrowedSums[tokenID]
		if borrowed == nil {
			borrowed = big.NewInt(0)
		}
		if borrowed.Cmp(asset.Borrowed.Shares) != 0 {
			violations = append(violations, Violation{
				Check:   "borrowed_shares_conserved",
				Subject: tokenID,
				Detail:  fmt.Sprintf("accounts owe %s, pool issued %s", borrowed, asset.Borrowed.Shares),
			})
		}
	}

	// Shares held against unlisted assets are stranded value.
	for tokenID := range suppliedSums {
		if _, ok := assets[tokenID]; !ok {
			violations = append(violations, Violation{
				Check:   "asset_listed",
				Subject: tokenID,
				Detail:  "accounts hold supply shares of an unlisted asset",
			})
		}
	}
	for tokenID := range borrowedSums {
		if _, ok := assets[tokenID]; !ok {
			violations = append(violations, Violation{
				Check:   "asset_listed",
				Subject: tokenID,
				Detail:  "accounts owe borrow shares of an unlisted asset",
			})
		}
	}
	return violations
}

// auditFarmShares checks that per-account boosted stakes sum to each farm
// reward's total, across both active and retired rewards.
func auditFarmShares(farms map[state.FarmID]*state.AssetFarm, accounts []*state.Account) []Violation {
	type rewardKey struct {
		farm  state.FarmID
		token string
	}
	sums := make(map[rewardKey]*big.Int)
	for _, account := range accounts {
		for farmID, accountFarm := range account.Farms {
			for token, reward := range accountFarm.Rewards {
				key := rewardKey{farm: farmID, token: token}
				sum, ok := sums[key]
				if !ok {
					sum = big.NewInt(0)
					sums[key] = sum
				}
				sum.Add(sum, reward.BoostedShares)
			}
		}
	}

	var violations []Violation
	for farmID, farm := range farms {
		for _, rewards := range []map[string]*state.AssetFarmReward{farm.Rewards, farm.Inactive} {
			for token, reward := range rewards {
				staked := sums[rewardKey{farm: farmID, token: token}]
				if staked == nil {
					staked = big.NewInt(0)
				}
				if staked.Cmp(reward.BoostedShares) != 0 {
					violations = append(violations, Violation{
						Check:   "farm_shares_conserved",
						Subject: farmID.String() + "/" + token,
						Detail:  fmt.Sprintf("accounts staked %s, farm tracks %s", staked, reward.BoostedShares),
					})
				}
			}
		}
	}
	return violations
}
