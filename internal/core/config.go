package core

import "fmt"

// Config is the protocol-level configuration, set at deployment and mutable
// only by the owner.
type Config struct {
	// Account allowed to deliver price batches.
	OracleAccountID string `json:"oracle_account_id"`
	// Account allowed to run admin operations.
	OwnerID string `json:"owner_id"`

	// Booster token and its decimals; one whole booster token is the unit of
	// the logarithmic boost curve.
	BoosterTokenID  string `json:"booster_token_id"`
	BoosterDecimals uint8  `json:"booster_decimals"`

	// Bound on |collateral| + |borrowed| per account.
	MaxNumAssets int `json:"max_num_assets"`
	// Price batches older than this are rejected.
	MaximumStalenessSec int64 `json:"maximum_staleness_sec"`

	// Booster staking lock bounds and the x-booster multiplier earned at the
	// maximum lock duration (parts per 10000; 10000 = no extra multiplier).
	MinimumStakingDurationSec              int64  `json:"minimum_staking_duration_sec"`
	MaximumStakingDurationSec              int64  `json:"maximum_staking_duration_sec"`
	XBoosterMultiplierAtMaximumStakingDuration uint32 `json:"x_booster_multiplier_at_maximum_staking_duration"`
}

func DefaultConfig() Config {
	return Config{
		MaxNumAssets:        8,
		MaximumStalenessSec: 90,
		MinimumStakingDurationSec:                  2678400,  // 31 days
		MaximumStakingDurationSec:                  31536000, // 365 days
		XBoosterMultiplierAtMaximumStakingDuration: 40000,
	}
}

func (c *Config) Validate() error {
	if c.OwnerID == "" {
		return fmt.Errorf("config: owner_id is required")
	}
	if c.OracleAccountID == "" {
		return fmt.Errorf("config: oracle_account_id is required")
	}
	if c.MaxNumAssets <= 0 {
		return fmt.Errorf("config: max_num_assets must be positive")
	}
	if c.MaximumStalenessSec <= 0 {
		return fmt.Errorf("config: maximum_staleness_sec must be positive")
	}
	if c.MinimumStakingDurationSec > c.MaximumStakingDurationSec {
		return fmt.Errorf("config: staking duration bounds inverted")
	}
	if c.XBoosterMultiplierAtMaximumStakingDuration < 10000 {
		return fmt.Errorf("config: x_booster multiplier below 10000")
	}
	return nil
}
