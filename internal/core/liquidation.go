package core

import (
	"github.com/NearDeFi/burrowland/internal/decimal"
	"github.com/NearDeFi/burrowland/internal/event"
	"github.com/NearDeFi/burrowland/internal/oracle"
	"github.com/NearDeFi/burrowland/internal/state"
)

// Liquidate atomically repays part of an at-risk account's debt from the
// liquidator's supplied balance and hands the liquidator collateral in
// exchange, discounted by at most the account's max discount. The target's
// health must not get worse: a malformed request, such as repaying stable
// debt while taking volatile collateral, fails instead of committing.
func (tx *Tx) Liquidate(liquidator *state.Account, targetID string, inAssets, outAssets []event.AssetAmount, prices *oracle.Prices) error {
	if liquidator.AccountID == targetID {
		return ErrSelfLiquidation
	}
	if len(inAssets) == 0 || len(outAssets) == 0 {
		return ErrZeroAmountOrShares
	}
	target, err := tx.Account(targetID)
	if err != nil {
		return err
	}

	maxDiscount, err := tx.MaxDiscount(target, prices)
	if err != nil {
		return err
	}
	if maxDiscount.IsZero() {
		return ErrNotAtRisk
	}

	repaidSum := decimal.Zero()
	for i := range inAssets {
		assetAmount := &inAssets[i]
		liquidator.AddAffectedFarm(state.FarmID{Kind: state.FarmKindSupplied, TokenID: assetAmount.TokenID})
		target.AddAffectedFarm(state.FarmID{Kind: state.FarmKindBorrowed, TokenID: assetAmount.TokenID})
		amount, err := tx.repay(liquidator, target, assetAmount)
		if err != nil {
			return err
		}
		price, err := prices.Get(assetAmount.TokenID)
		if err != nil {
			return err
		}
		repaidSum = repaidSum.Add(tokenValue(amount, price))
	}

	takenSum := decimal.Zero()
	for i := range outAssets {
		assetAmount := &outAssets[i]
		liquidator.AddAffectedFarm(state.FarmID{Kind: state.FarmKindSupplied, TokenID: assetAmount.TokenID})
		target.AddAffectedFarm(state.FarmID{Kind: state.FarmKindSupplied, TokenID: assetAmount.TokenID})
		amount, err := tx.decreaseCollateral(liquidator, target, assetAmount)
		if err != nil {
			return err
		}
		price, err := prices.Get(assetAmount.TokenID)
		if err != nil {
			return err
		}
		takenSum = takenSum.Add(tokenValue(amount, price))
	}

	keep, err := decimal.One().Sub(maxDiscount)
	if err != nil {
		return err
	}
	if takenSum.Mul(keep).Cmp(repaidSum) > 0 {
		return ErrInsufficientRepayment
	}

	newMaxDiscount, err := tx.MaxDiscount(target, prices)
	if err != nil {
		return err
	}
	if newMaxDiscount.Cmp(maxDiscount) > 0 {
		return ErrHealthDecrease
	}

	if err := tx.ApplyAffectedFarms(target); err != nil {
		return err
	}
	if tx.core.metrics != nil {
		tx.core.metrics.LiquidationsExecuted.Inc()
	}
	return nil
}

// ForceClose settles an account whose raw debt exceeds its raw collateral:
// all collateral is seized into protocol reserves and the remaining debt is
// written off against them. Owner only.
func (tx *Tx) ForceClose(caller *state.Account, targetID string, prices *oracle.Prices) error {
	if caller.AccountID != tx.core.config.OwnerID {
		return ErrNotOwner
	}
	target, err := tx.Account(targetID)
	if err != nil {
		return err
	}

	bad, err := tx.isBadDebt(target, prices)
	if err != nil {
		return err
	}
	if !bad {
		return ErrNotBadDebt
	}

	for _, tokenID := range target.CollateralTokens() {
		asset, err := tx.Asset(tokenID)
		if err != nil {
			return err
		}
		target.AddAffectedFarm(state.FarmID{Kind: state.FarmKindSupplied, TokenID: tokenID})
		shares := target.GetCollateralShares(tokenID)
		amount := asset.Supplied.SharesToAmount(shares, false)
		if err := target.DecreaseCollateral(tokenID, shares); err != nil {
			return err
		}
		if err := asset.Supplied.Withdraw(shares, amount); err != nil {
			return err
		}
		asset.Reserved.Add(asset.Reserved, amount)
	}

	for _, tokenID := range target.BorrowedTokens() {
		asset, err := tx.Asset(tokenID)
		if err != nil {
			return err
		}
		target.AddAffectedFarm(state.FarmID{Kind: state.FarmKindBorrowed, TokenID: tokenID})
		shares := target.GetBorrowedShares(tokenID)
		amount := asset.Borrowed.SharesToAmount(shares, true)
		if asset.Reserved.Cmp(amount) < 0 {
			return ErrInsufficientBalance
		}
		if err := target.DecreaseBorrowed(tokenID, shares); err != nil {
			return err
		}
		if err := asset.Borrowed.Withdraw(shares, amount); err != nil {
			return err
		}
		asset.Reserved.Sub(asset.Reserved, amount)
	}

	if err := tx.ApplyAffectedFarms(target); err != nil {
		return err
	}
	if tx.core.metrics != nil {
		tx.core.metrics.ForceCloses.Inc()
	}
	return nil
}
