package core

import (
	"errors"
	"math/big"

	"github.com/NearDeFi/burrowland/internal/event"
	"github.com/NearDeFi/burrowland/internal/oracle"
	"github.com/NearDeFi/burrowland/internal/state"
)

var (
	ErrDepositDisabled    = errors.New("core: deposits for this asset are not enabled")
	ErrWithdrawDisabled   = errors.New("core: withdrawals for this asset are not enabled")
	ErrCollateralDisabled = errors.New("core: this asset cannot be used as collateral")
	ErrBorrowDisabled     = errors.New("core: this asset cannot be borrowed")
)

// OutgoingTransfer is a token amount that left the ledger during a call and
// must be settled externally. The shell opens a two-phase transfer intent
// for each one after the call commits.
type OutgoingTransfer struct {
	AccountID string
	TokenID   string
	Amount    *big.Int
}

// Outgoing returns the external transfers queued by the call.
func (tx *Tx) Outgoing() []OutgoingTransfer { return tx.outgoing }

// Execute interprets an ordered action batch against one account and a
// fixed price snapshot. Any error aborts the whole call; the caller
// discards the Tx so no partial mutation survives. After the batch, adding
// collateral or debt bounds the account's position count, and removing
// collateral, borrowing, or liquidating requires the acting account to end
// the call fully collateralized.
func (tx *Tx) Execute(account *state.Account, actions []event.Action, prices *oracle.Prices) error {
	needRiskCheck := false
	needNumberCheck := false

	for i := range actions {
		action := &actions[i]
		if err := action.Validate(); err != nil {
			return err
		}
		switch action.Kind {
		case event.ActionWithdraw:
			account.AddAffectedFarm(state.FarmID{Kind: state.FarmKindSupplied, TokenID: action.AssetAmount.TokenID})
			amount, err := tx.withdraw(account, action.AssetAmount)
			if err != nil {
				return err
			}
			tx.outgoing = append(tx.outgoing, OutgoingTransfer{
				AccountID: account.AccountID,
				TokenID:   action.AssetAmount.TokenID,
				Amount:    amount,
			})
		case event.ActionIncreaseCollateral:
			needNumberCheck = true
			if _, err := tx.increaseCollateral(account, action.AssetAmount); err != nil {
				return err
			}
		case event.ActionDecreaseCollateral:
			needRiskCheck = true
			if _, err := tx.decreaseCollateral(account, account, action.AssetAmount); err != nil {
				return err
			}
		case event.ActionBorrow:
			needNumberCheck = true
			needRiskCheck = true
			account.AddAffectedFarm(state.FarmID{Kind: state.FarmKindSupplied, TokenID: action.AssetAmount.TokenID})
			account.AddAffectedFarm(state.FarmID{Kind: state.FarmKindBorrowed, TokenID: action.AssetAmount.TokenID})
			if _, err := tx.borrow(account, action.AssetAmount); err != nil {
				return err
			}
		case event.ActionRepay:
			account.AddAffectedFarm(state.FarmID{Kind: state.FarmKindSupplied, TokenID: action.AssetAmount.TokenID})
			account.AddAffectedFarm(state.FarmID{Kind: state.FarmKindBorrowed, TokenID: action.AssetAmount.TokenID})
			if _, err := tx.repay(account, account, action.AssetAmount); err != nil {
				return err
			}
		case event.ActionLiquidate:
			needRiskCheck = true
			if err := tx.Liquidate(account, action.AccountID, action.InAssets, action.OutAssets, prices); err != nil {
				return err
			}
		case event.ActionForceClose:
			if err := tx.ForceClose(account, action.AccountID, prices); err != nil {
				return err
			}
		default:
			return errors.New("core: unknown action kind " + string(action.Kind))
		}
	}

	if needNumberCheck && account.NumPositions() > tx.core.config.MaxNumAssets {
		return ErrTooManyAssets
	}
	if needRiskCheck {
		if err := tx.assertNotAtRisk(account, prices); err != nil {
			return err
		}
	}
	return tx.ApplyAffectedFarms(account)
}

// assetAmountToShares resolves an AssetAmount against a pool: an exact
// amount converts directly, a max amount clamps to the available shares,
// and an unspecified amount uses everything available. The rounding
// direction flips for debt pools so the conversion always favors the
// protocol.
func assetAmountToShares(pool *state.Pool, availableShares *big.Int, assetAmount *event.AssetAmount, inverseRoundDirection bool) (*big.Int, *big.Int, error) {
	var shares, amount *big.Int
	switch {
	case assetAmount.Amount != nil:
		amount = new(big.Int).Set(assetAmount.Amount)
		shares = pool.AmountToShares(amount, !inverseRoundDirection)
	case assetAmount.MaxAmount != nil:
		shares = pool.AmountToShares(assetAmount.MaxAmount, !inverseRoundDirection)
		if shares.Cmp(availableShares) > 0 {
			shares = new(big.Int).Set(availableShares)
		}
		amount = pool.SharesToAmount(shares, inverseRoundDirection)
		if amount.Cmp(assetAmount.MaxAmount) > 0 {
			amount = new(big.Int).Set(assetAmount.MaxAmount)
		}
	default:
		shares = new(big.Int).Set(availableShares)
		amount = pool.SharesToAmount(shares, inverseRoundDirection)
	}
	if shares.Sign() == 0 || amount.Sign() == 0 {
		return nil, nil, ErrZeroAmountOrShares
	}
	return shares, amount, nil
}

// Deposit credits a received token amount into the account's supplied
// balance.
func (tx *Tx) Deposit(account *state.Account, tokenID string, amount *big.Int) (*big.Int, error) {
	asset, err := tx.Asset(tokenID)
	if err != nil {
		return nil, err
	}
	if !asset.Config.CanDeposit {
		return nil, ErrDepositDisabled
	}
	shares := asset.Supplied.AmountToShares(amount, false)
	asset.Supplied.Deposit(shares, amount)
	account.DepositSupplied(tokenID, shares)
	account.AddAffectedFarm(state.FarmID{Kind: state.FarmKindSupplied, TokenID: tokenID})
	return shares, nil
}

func (tx *Tx) withdraw(account *state.Account, assetAmount *event.AssetAmount) (*big.Int, error) {
	asset, err := tx.Asset(assetAmount.TokenID)
	if err != nil {
		return nil, err
	}
	if !asset.Config.CanWithdraw {
		return nil, ErrWithdrawDisabled
	}

	available := account.GetSuppliedShares(assetAmount.TokenID)
	shares, amount, err := assetAmountToShares(asset.Supplied, available, assetAmount, false)
	if err != nil {
		return nil, err
	}
	if err := account.WithdrawSupplied(assetAmount.TokenID, shares); err != nil {
		return nil, err
	}
	if err := asset.Supplied.Withdraw(shares, amount); err != nil {
		return nil, err
	}
	// The outbound transfer moves token-denominated units; anything below
	// one token unit cannot leave.
	tokenAmount := asset.Config.ScaleDown(amount)
	if tokenAmount.Sign() == 0 {
		return nil, ErrZeroAmountOrShares
	}
	return tokenAmount, nil
}

func (tx *Tx) increaseCollateral(account *state.Account, assetAmount *event.AssetAmount) (*big.Int, error) {
	asset, err := tx.Asset(assetAmount.TokenID)
	if err != nil {
		return nil, err
	}
	if !asset.Config.CanUseAsCollateral {
		return nil, ErrCollateralDisabled
	}

	available := account.GetSuppliedShares(assetAmount.TokenID)
	shares, amount, err := assetAmountToShares(asset.Supplied, available, assetAmount, false)
	if err != nil {
		return nil, err
	}
	if err := account.WithdrawSupplied(assetAmount.TokenID, shares); err != nil {
		return nil, err
	}
	account.IncreaseCollateral(assetAmount.TokenID, shares)
	return amount, nil
}

// decreaseCollateral moves collateral shares of owner back into receiver's
// supplied balance. Owner and receiver are the same account for a plain
// DecreaseCollateral and differ during liquidation.
func (tx *Tx) decreaseCollateral(receiver, owner *state.Account, assetAmount *event.AssetAmount) (*big.Int, error) {
	asset, err := tx.Asset(assetAmount.TokenID)
	if err != nil {
		return nil, err
	}

	collateral := owner.GetCollateralShares(assetAmount.TokenID)
	shares, amount, err := assetAmountToShares(asset.Supplied, collateral, assetAmount, false)
	if err != nil {
		return nil, err
	}
	if err := owner.DecreaseCollateral(assetAmount.TokenID, shares); err != nil {
		return nil, err
	}
	receiver.DepositSupplied(assetAmount.TokenID, shares)
	return amount, nil
}

func (tx *Tx) borrow(account *state.Account, assetAmount *event.AssetAmount) (*big.Int, error) {
	asset, err := tx.Asset(assetAmount.TokenID)
	if err != nil {
		return nil, err
	}
	if !asset.Config.CanBorrow {
		return nil, ErrBorrowDisabled
	}

	available := asset.AvailableAmount()
	maxBorrowShares := asset.Borrowed.AmountToShares(available, false)

	borrowedShares, amount, err := assetAmountToShares(asset.Borrowed, maxBorrowShares, assetAmount, true)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(available) > 0 {
		return nil, ErrInsufficientBalance
	}

	// Borrowed funds are credited as a supplied deposit; withdrawing them is
	// a separate action. Both pools grow by the same amount.
	suppliedShares := asset.Supplied.AmountToShares(amount, false)
	asset.Borrowed.Deposit(borrowedShares, amount)
	asset.Supplied.Deposit(suppliedShares, amount)

	account.IncreaseBorrowed(assetAmount.TokenID, borrowedShares)
	account.DepositSupplied(assetAmount.TokenID, suppliedShares)
	return amount, nil
}

// repay burns debt of owner using payer's supplied balance. Payer and owner
// are the same account for a plain Repay and differ during liquidation.
// When the payer's supplied balance cannot cover the resolved amount, the
// repayment shrinks to what the balance affords, unless an exact amount was
// requested.
func (tx *Tx) repay(payer, owner *state.Account, assetAmount *event.AssetAmount) (*big.Int, error) {
	asset, err := tx.Asset(assetAmount.TokenID)
	if err != nil {
		return nil, err
	}

	availableBorrowed := owner.GetBorrowedShares(assetAmount.TokenID)
	borrowedShares, amount, err := assetAmountToShares(asset.Borrowed, availableBorrowed, assetAmount, true)
	if err != nil {
		return nil, err
	}

	suppliedShares := asset.Supplied.AmountToShares(amount, true)
	if suppliedShares.Cmp(payer.GetSuppliedShares(assetAmount.TokenID)) > 0 {
		suppliedShares = new(big.Int).Set(payer.GetSuppliedShares(assetAmount.TokenID))
		amount = asset.Supplied.SharesToAmount(suppliedShares, false)
		if assetAmount.Amount != nil && amount.Cmp(assetAmount.Amount) < 0 {
			return nil, ErrInsufficientBalance
		}
		if amount.Sign() == 0 {
			return nil, ErrZeroAmountOrShares
		}
		borrowedShares = asset.Borrowed.AmountToShares(amount, false)
		if borrowedShares.Sign() == 0 {
			return nil, ErrZeroAmountOrShares
		}
		if borrowedShares.Cmp(availableBorrowed) > 0 {
			return nil, ErrInsufficientBalance
		}
	}

	if err := asset.Supplied.Withdraw(suppliedShares, amount); err != nil {
		return nil, err
	}
	if err := asset.Borrowed.Withdraw(borrowedShares, amount); err != nil {
		return nil, err
	}

	if err := owner.DecreaseBorrowed(assetAmount.TokenID, borrowedShares); err != nil {
		return nil, err
	}
	if err := payer.WithdrawSupplied(assetAmount.TokenID, suppliedShares); err != nil {
		return nil, err
	}
	return amount, nil
}
