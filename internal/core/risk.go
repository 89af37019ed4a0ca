package core

import (
	"math/big"

	"github.com/NearDeFi/burrowland/internal/decimal"
	"github.com/NearDeFi/burrowland/internal/oracle"
	"github.com/NearDeFi/burrowland/internal/state"
)

// MaxDiscount computes the liquidation discount available against an
// account. Collateral value is weighted down by each asset's volatility
// ratio; borrowed value is weighted up by dividing through it, so riskier
// debt counts for more. A healthy account always yields zero. An unhealthy
// one yields half its insolvency ratio, which stays strictly below 50%.
//
// Every referenced asset must have a price; partial evaluation is refused.
func (tx *Tx) MaxDiscount(account *state.Account, prices *oracle.Prices) (decimal.Decimal, error) {
	collateralSum := decimal.Zero()
	for _, tokenID := range account.CollateralTokens() {
		asset, err := tx.Asset(tokenID)
		if err != nil {
			return decimal.Zero(), err
		}
		price, err := prices.Get(tokenID)
		if err != nil {
			return decimal.Zero(), err
		}
		balance := asset.Supplied.SharesToAmount(account.GetCollateralShares(tokenID), false)
		value := decimal.FromBalancePrice(balance, price.Multiplier, price.Decimals)
		collateralSum = collateralSum.Add(value.MulRatio(asset.Config.VolatilityRatio))
	}

	borrowedSum := decimal.Zero()
	for _, tokenID := range account.BorrowedTokens() {
		asset, err := tx.Asset(tokenID)
		if err != nil {
			return decimal.Zero(), err
		}
		price, err := prices.Get(tokenID)
		if err != nil {
			return decimal.Zero(), err
		}
		balance := asset.Borrowed.SharesToAmount(account.GetBorrowedShares(tokenID), true)
		value := decimal.FromBalancePrice(balance, price.Multiplier, price.Decimals)
		borrowedSum = borrowedSum.Add(value.DivRatio(asset.Config.VolatilityRatio))
	}

	if borrowedSum.Cmp(collateralSum) <= 0 {
		return decimal.Zero(), nil
	}
	shortfall, err := borrowedSum.Sub(collateralSum)
	if err != nil {
		return decimal.Zero(), err
	}
	return shortfall.Div(borrowedSum).Div(decimal.FromInt(2)), nil
}

// assertNotAtRisk fails the call when the account has any available
// liquidation discount.
func (tx *Tx) assertNotAtRisk(account *state.Account, prices *oracle.Prices) error {
	discount, err := tx.MaxDiscount(account, prices)
	if err != nil {
		return err
	}
	if !discount.IsZero() {
		return ErrInsufficientCollateral
	}
	return nil
}

// isBadDebt reports whether raw borrowed value exceeds raw collateral value
// with no volatility weighting at all, the precondition to force close an
// account from reserves.
func (tx *Tx) isBadDebt(account *state.Account, prices *oracle.Prices) (bool, error) {
	collateralSum := decimal.Zero()
	for _, tokenID := range account.CollateralTokens() {
		asset, err := tx.Asset(tokenID)
		if err != nil {
			return false, err
		}
		price, err := prices.Get(tokenID)
		if err != nil {
			return false, err
		}
		balance := asset.Supplied.SharesToAmount(account.GetCollateralShares(tokenID), false)
		collateralSum = collateralSum.Add(decimal.FromBalancePrice(balance, price.Multiplier, price.Decimals))
	}

	borrowedSum := decimal.Zero()
	for _, tokenID := range account.BorrowedTokens() {
		asset, err := tx.Asset(tokenID)
		if err != nil {
			return false, err
		}
		price, err := prices.Get(tokenID)
		if err != nil {
			return false, err
		}
		balance := asset.Borrowed.SharesToAmount(account.GetBorrowedShares(tokenID), true)
		borrowedSum = borrowedSum.Add(decimal.FromBalancePrice(balance, price.Multiplier, price.Decimals))
	}

	return borrowedSum.Cmp(collateralSum) > 0, nil
}

// tokenValue converts a token amount to quote value at the snapshot price.
func tokenValue(amount *big.Int, price oracle.Price) decimal.Decimal {
	return decimal.FromBalancePrice(amount, price.Multiplier, price.Decimals)
}
