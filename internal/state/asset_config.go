package state

import (
	"fmt"
	"math/big"

	"github.com/NearDeFi/burrowland/internal/decimal"
)

const maxPos = 10000

// AssetConfig holds the per-asset risk and interest-rate parameters. All
// ratios are parts per 10000; the two rates are per-millisecond compounding
// factors (10^27 fixed point).
type AssetConfig struct {
	// Share of borrow interest diverted to the reserve, e.g. 2500 = 25%.
	ReserveRatio uint32 `json:"reserve_ratio"`
	// Target utilization, the kink of the rate curve, e.g. 8000 = 80%.
	TargetUtilization uint32 `json:"target_utilization"`
	// Compounding rate per ms at target utilization.
	TargetUtilizationRate decimal.Decimal `json:"target_utilization_rate"`
	// Compounding rate per ms at 100% utilization.
	MaxUtilizationRate decimal.Decimal `json:"max_utilization_rate"`
	// Discount on how much of this asset's value counts toward collateral
	// or borrowing power, e.g. 6000 = 60%.
	VolatilityRatio uint32 `json:"volatility_ratio"`
	// Weight of this asset's collateral value in the net-TVL farm.
	NetTvlMultiplier uint32 `json:"net_tvl_multiplier"`
	// Extra decimals added on top of the token's own, so internal balances
	// share a common precision.
	ExtraDecimals uint8 `json:"extra_decimals"`

	CanDeposit         bool `json:"can_deposit"`
	CanWithdraw        bool `json:"can_withdraw"`
	CanUseAsCollateral bool `json:"can_use_as_collateral"`
	CanBorrow          bool `json:"can_borrow"`
}

func (c *AssetConfig) Validate() error {
	if c.ReserveRatio > decimal.MaxRatio {
		return fmt.Errorf("reserve_ratio %d out of range", c.ReserveRatio)
	}
	if c.TargetUtilization >= maxPos {
		return fmt.Errorf("target_utilization %d must be below %d", c.TargetUtilization, maxPos)
	}
	// Risk evaluation divides borrowed value by this ratio, so zero is as
	// invalid as anything above 100%.
	if c.VolatilityRatio == 0 || c.VolatilityRatio > decimal.MaxRatio {
		return fmt.Errorf("volatility_ratio %d out of range", c.VolatilityRatio)
	}
	if c.NetTvlMultiplier > decimal.MaxRatio {
		return fmt.Errorf("net_tvl_multiplier %d out of range", c.NetTvlMultiplier)
	}
	if c.TargetUtilizationRate.Cmp(c.MaxUtilizationRate) > 0 {
		return fmt.Errorf("target rate exceeds max rate")
	}
	if c.TargetUtilizationRate.Cmp(decimal.One()) < 0 || c.MaxUtilizationRate.Cmp(decimal.One()) < 0 {
		return fmt.Errorf("compounding rates must be >= 1")
	}
	return nil
}

func (c *AssetConfig) extraScale() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.ExtraDecimals)), nil)
}

// ScaleUp converts a token-denominated amount into internal units, which
// carry extra_decimals additional digits.
func (c *AssetConfig) ScaleUp(amount *big.Int) *big.Int {
	if c.ExtraDecimals == 0 {
		return new(big.Int).Set(amount)
	}
	return new(big.Int).Mul(amount, c.extraScale())
}

// ScaleDown converts internal units back to the token's own decimals,
// truncating any remainder.
func (c *AssetConfig) ScaleDown(amount *big.Int) *big.Int {
	if c.ExtraDecimals == 0 {
		return new(big.Int).Set(amount)
	}
	return new(big.Int).Quo(amount, c.extraScale())
}

// Rate returns the per-millisecond compounding factor for the current
// utilization. The curve has two linear segments with a kink at the target
// utilization: below it the rate climbs slowly from 1.0 (no interest) to the
// target rate; above it, steeply toward the max rate at 100% utilization.
// With nothing supplied the rate is 1.0; no interest can accrue on an empty
// pool.
func (c *AssetConfig) Rate(borrowed, totalSupplied *big.Int) decimal.Decimal {
	if totalSupplied.Sign() == 0 {
		return decimal.One()
	}
	pos := decimal.FromBalance(borrowed).Div(decimal.FromBalance(totalSupplied))
	target := decimal.FromInt(uint64(c.TargetUtilization)).Div(decimal.FromInt(maxPos))
	if pos.Cmp(target) < 0 {
		// 1 + pos/target * (targetRate - 1)
		slope, _ := c.TargetUtilizationRate.Sub(decimal.One())
		return decimal.One().Add(pos.Mul(slope).Div(target))
	}
	// targetRate + (pos - target) * (maxRate - targetRate) / (1 - target)
	over, _ := pos.Sub(target)
	span, _ := c.MaxUtilizationRate.Sub(c.TargetUtilizationRate)
	width, _ := decimal.One().Sub(target)
	return c.TargetUtilizationRate.Add(over.Mul(span).Div(width))
}
