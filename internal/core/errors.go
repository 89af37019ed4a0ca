package core

import (
	"errors"

	"github.com/NearDeFi/burrowland/internal/oracle"
	"github.com/NearDeFi/burrowland/internal/state"
)

// All errors are fatal to the enclosing call: the whole action batch is
// discarded and no partial state change is observable.
var (
	ErrInsufficientBalance = state.ErrInsufficientBalance
	ErrMissingPrice        = oracle.ErrMissingPrice
	ErrStalePriceData      = oracle.ErrStalePriceData

	// A computed amount or share count resolved to zero. Zero-value
	// operations always indicate a rounding or input error.
	ErrZeroAmountOrShares = errors.New("core: amount or shares resolved to zero")

	ErrAssetNotFound   = errors.New("core: asset not found")
	ErrAccountNotFound = errors.New("core: account not registered")

	// Liquidation precondition failures.
	ErrNotAtRisk             = errors.New("core: liquidation account is not at risk")
	ErrHealthDecrease        = errors.New("core: liquidation would decrease account health")
	ErrInsufficientRepayment = errors.New("core: collateral taken exceeds discounted repayment")
	ErrNotBadDebt            = errors.New("core: account does not carry bad debt")
	ErrSelfLiquidation       = errors.New("core: cannot liquidate yourself")

	// Post-batch account complexity bound exceeded.
	ErrTooManyAssets = errors.New("core: too many assets in account positions")

	// Post-batch solvency check: the acting account would be left at risk.
	ErrInsufficientCollateral = errors.New("core: not enough collateral to cover borrowed assets")

	ErrNotOwner = errors.New("core: owner-only operation")
)
