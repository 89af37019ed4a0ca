package query

import "encoding/json"

// AssetView is the external representation of a listed asset after a lazy
// interest touch. All balances are decimal strings.
type AssetView struct {
	TokenID string `json:"token_id"`

	SuppliedShares  string `json:"supplied_shares"`
	SuppliedBalance string `json:"supplied_balance"`
	BorrowedShares  string `json:"borrowed_shares"`
	BorrowedBalance string `json:"borrowed_balance"`
	Reserved        string `json:"reserved"`

	// Annualized rates derived from the current utilization, parts per 10000.
	BorrowAPRBps uint64 `json:"borrow_apr_bps"`
	SupplyAPRBps uint64 `json:"supply_apr_bps"`

	LastUpdateTimestampMs int64 `json:"last_update_timestamp_ms"`

	Config AssetConfigView `json:"config"`
}

// AssetConfigView mirrors the asset configuration.
type AssetConfigView struct {
	ReserveRatio         uint32 `json:"reserve_ratio"`
	TargetUtilization    uint32 `json:"target_utilization"`
	TargetUtilizationRate string `json:"target_utilization_rate"`
	MaxUtilizationRate   string `json:"max_utilization_rate"`
	VolatilityRatio      uint32 `json:"volatility_ratio"`
	ExtraDecimals        uint8  `json:"extra_decimals"`
	CanDeposit           bool   `json:"can_deposit"`
	CanWithdraw          bool   `json:"can_withdraw"`
	CanUseAsCollateral   bool   `json:"can_use_as_collateral"`
	CanBorrow            bool   `json:"can_borrow"`
	NetTvlMultiplier     uint32 `json:"net_tvl_multiplier"`
}

// AccountBalanceView is one token entry of an account: shares plus the
// balance they currently convert to.
type AccountBalanceView struct {
	TokenID string `json:"token_id"`
	Shares  string `json:"shares"`
	Balance string `json:"balance"`
}

// AccountFarmRewardView is the unclaimed state of one reward inside a farm.
type AccountFarmRewardView struct {
	RewardTokenID   string `json:"reward_token_id"`
	BoostedShares   string `json:"boosted_shares"`
	UnclaimedAmount string `json:"unclaimed_amount"`
}

// AccountFarmView lists a farm the account participates in.
type AccountFarmView struct {
	FarmID  string                  `json:"farm_id"`
	Rewards []AccountFarmRewardView `json:"rewards"`
}

// BoosterStakingView mirrors the account's booster lock.
type BoosterStakingView struct {
	StakedBoosterAmount string `json:"staked_booster_amount"`
	XBoosterAmount      string `json:"x_booster_amount"`
	UnlockTimestampMs   int64  `json:"unlock_timestamp_ms"`
}

// AccountView is the full external state of an account.
type AccountView struct {
	AccountID  string               `json:"account_id"`
	Supplied   []AccountBalanceView `json:"supplied"`
	Collateral []AccountBalanceView `json:"collateral"`
	Borrowed   []AccountBalanceView `json:"borrowed"`
	Farms      []AccountFarmView    `json:"farms"`

	BoosterStaking *BoosterStakingView `json:"booster_staking,omitempty"`

	// Scaled risk discount the account currently qualifies for, parts per
	// 10000; zero for healthy accounts. Omitted when no prices are known yet.
	MaxDiscountBps *uint32 `json:"max_discount_bps,omitempty"`
}

// CallRecord is one entry of an account's call history.
type CallRecord struct {
	Sequence    int64           `json:"sequence"`
	CallType    string          `json:"call_type"`
	AccountID   string          `json:"account_id"`
	Payload     json.RawMessage `json:"payload"`
	TimestampMs int64           `json:"timestamp_ms"`
}

// Paged wraps a page of results with the cursor for the next page.
type Paged[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}
