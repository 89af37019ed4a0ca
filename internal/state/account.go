package state

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/NearDeFi/burrowland/internal/decimal"
)

// FarmKind distinguishes the three reward-eligible exposures.
type FarmKind uint8

const (
	FarmKindSupplied FarmKind = iota
	FarmKindBorrowed
	FarmKindNetTvl
)

func (k FarmKind) String() string {
	switch k {
	case FarmKindSupplied:
		return "supplied"
	case FarmKindBorrowed:
		return "borrowed"
	case FarmKindNetTvl:
		return "net_tvl"
	default:
		return "unknown"
	}
}

// FarmID identifies one farm. The NetTvl farm is protocol-wide and carries an
// empty token ID.
type FarmID struct {
	Kind    FarmKind
	TokenID string
}

func (id FarmID) String() string {
	if id.Kind == FarmKindNetTvl {
		return "net_tvl"
	}
	return id.Kind.String() + ":" + id.TokenID
}

// ParseFarmID is the inverse of FarmID.String.
func ParseFarmID(s string) (FarmID, error) {
	if s == "net_tvl" {
		return FarmID{Kind: FarmKindNetTvl}, nil
	}
	for _, kind := range []FarmKind{FarmKindSupplied, FarmKindBorrowed} {
		prefix := kind.String() + ":"
		if strings.HasPrefix(s, prefix) && len(s) > len(prefix) {
			return FarmID{Kind: kind, TokenID: s[len(prefix):]}, nil
		}
	}
	return FarmID{}, fmt.Errorf("state: invalid farm id %q", s)
}

// AccountFarmReward is the per-account claim state for one reward token of
// one farm: the boosted share count last written into the farm, and the
// accumulator value last settled against. Boost is tracked per reward because
// every reward carries its own booster log base.
type AccountFarmReward struct {
	BoostedShares      *big.Int
	LastRewardPerShare decimal.Decimal
}

func (r *AccountFarmReward) Clone() *AccountFarmReward {
	return &AccountFarmReward{
		BoostedShares:      new(big.Int).Set(r.BoostedShares),
		LastRewardPerShare: r.LastRewardPerShare,
	}
}

// AccountFarm is the per-account claim state for one farm.
type AccountFarm struct {
	BlockTimestamp int64
	Rewards        map[string]*AccountFarmReward
}

func NewAccountFarm() *AccountFarm {
	return &AccountFarm{Rewards: make(map[string]*AccountFarmReward)}
}

func (f *AccountFarm) Clone() *AccountFarm {
	c := &AccountFarm{
		BlockTimestamp: f.BlockTimestamp,
		Rewards:        make(map[string]*AccountFarmReward, len(f.Rewards)),
	}
	for k, v := range f.Rewards {
		c.Rewards[k] = v.Clone()
	}
	return c
}

// BoosterStaking is the account's staked booster balance with a time lock.
// The x-booster amount (stake scaled by the lock-duration multiplier) feeds
// the farms' logarithmic boost curve.
type BoosterStaking struct {
	StakedBoosterAmount *big.Int `json:"staked_booster_amount"`
	XBoosterAmount      *big.Int `json:"x_booster_amount"`
	UnlockTimestamp     int64    `json:"unlock_timestamp"`
}

func (b *BoosterStaking) Clone() *BoosterStaking {
	if b == nil {
		return nil
	}
	return &BoosterStaking{
		StakedBoosterAmount: new(big.Int).Set(b.StakedBoosterAmount),
		XBoosterAmount:      new(big.Int).Set(b.XBoosterAmount),
		UnlockTimestamp:     b.UnlockTimestamp,
	}
}

// Account holds one user's positions: uncollateralized deposits, posted
// collateral, and debt, all in pool shares, plus farm claim state.
type Account struct {
	AccountID string

	Supplied   map[string]*big.Int
	Collateral map[string]*big.Int
	Borrowed   map[string]*big.Int

	Farms map[FarmID]*AccountFarm

	// Farms whose claim state must be re-settled before the call commits.
	AffectedFarms map[FarmID]struct{}

	BoosterStaking *BoosterStaking
}

func NewAccount(accountID string) *Account {
	return &Account{
		AccountID:     accountID,
		Supplied:      make(map[string]*big.Int),
		Collateral:    make(map[string]*big.Int),
		Borrowed:      make(map[string]*big.Int),
		Farms:         make(map[FarmID]*AccountFarm),
		AffectedFarms: make(map[FarmID]struct{}),
	}
}

func (a *Account) Clone() *Account {
	c := NewAccount(a.AccountID)
	for k, v := range a.Supplied {
		c.Supplied[k] = new(big.Int).Set(v)
	}
	for k, v := range a.Collateral {
		c.Collateral[k] = new(big.Int).Set(v)
	}
	for k, v := range a.Borrowed {
		c.Borrowed[k] = new(big.Int).Set(v)
	}
	for k, v := range a.Farms {
		c.Farms[k] = v.Clone()
	}
	for k := range a.AffectedFarms {
		c.AffectedFarms[k] = struct{}{}
	}
	c.BoosterStaking = a.BoosterStaking.Clone()
	return c
}

func (a *Account) AddAffectedFarm(id FarmID) {
	a.AffectedFarms[id] = struct{}{}
}

// NumPositions is |collateral| + |borrowed|, the bounded account complexity.
func (a *Account) NumPositions() int {
	return len(a.Collateral) + len(a.Borrowed)
}

func sharesOf(m map[string]*big.Int, tokenID string) *big.Int {
	if s, ok := m[tokenID]; ok {
		return s
	}
	return big.NewInt(0)
}

// addShares adds to an entry; removing it again once it reaches zero keeps
// the share conservation sums over live entries exact.
func addShares(m map[string]*big.Int, tokenID string, shares *big.Int) {
	cur, ok := m[tokenID]
	if !ok {
		m[tokenID] = new(big.Int).Set(shares)
		return
	}
	cur.Add(cur, shares)
}

func subShares(m map[string]*big.Int, tokenID string, shares *big.Int) error {
	cur, ok := m[tokenID]
	if !ok || cur.Cmp(shares) < 0 {
		return ErrInsufficientBalance
	}
	cur.Sub(cur, shares)
	if cur.Sign() == 0 {
		delete(m, tokenID)
	}
	return nil
}

func (a *Account) GetSuppliedShares(tokenID string) *big.Int {
	return sharesOf(a.Supplied, tokenID)
}

func (a *Account) GetCollateralShares(tokenID string) *big.Int {
	return sharesOf(a.Collateral, tokenID)
}

func (a *Account) GetBorrowedShares(tokenID string) *big.Int {
	return sharesOf(a.Borrowed, tokenID)
}

func (a *Account) DepositSupplied(tokenID string, shares *big.Int) {
	addShares(a.Supplied, tokenID, shares)
}

func (a *Account) WithdrawSupplied(tokenID string, shares *big.Int) error {
	return subShares(a.Supplied, tokenID, shares)
}

func (a *Account) IncreaseCollateral(tokenID string, shares *big.Int) {
	addShares(a.Collateral, tokenID, shares)
}

func (a *Account) DecreaseCollateral(tokenID string, shares *big.Int) error {
	return subShares(a.Collateral, tokenID, shares)
}

func (a *Account) IncreaseBorrowed(tokenID string, shares *big.Int) {
	addShares(a.Borrowed, tokenID, shares)
}

func (a *Account) DecreaseBorrowed(tokenID string, shares *big.Int) error {
	return subShares(a.Borrowed, tokenID, shares)
}

// CollateralTokens returns the collateral token IDs in deterministic order.
func (a *Account) CollateralTokens() []string {
	return sortedKeys(a.Collateral)
}

// BorrowedTokens returns the borrowed token IDs in deterministic order.
func (a *Account) BorrowedTokens() []string {
	return sortedKeys(a.Borrowed)
}

// SuppliedTokens returns the supplied token IDs in deterministic order.
func (a *Account) SuppliedTokens() []string {
	return sortedKeys(a.Supplied)
}

func sortedKeys(m map[string]*big.Int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
