package persistence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/NearDeFi/burrowland/internal/core"
	"github.com/NearDeFi/burrowland/internal/decimal"
	"github.com/NearDeFi/burrowland/internal/state"
)

// snapshotFormatVersion is the current envelope version. Older snapshots
// are upgraded on load, so a deploy never has to rewrite stored rows.
const snapshotFormatVersion = 1

// SnapshotManager captures and restores full ledger state. A snapshot plus
// the call log from its sequence forward reproduces the in-memory state
// exactly.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// snapshotEnvelope wraps the payload with its format version.
type snapshotEnvelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// SnapshotData is the serialized ledger state. Balances travel as decimal
// strings; they exceed 64 bits.
type SnapshotData struct {
	Sequence  int64                      `json:"sequence"`
	Config    core.Config                `json:"config"`
	Assets    map[string]AssetSnapshot   `json:"assets"`
	Accounts  []AccountSnapshot          `json:"accounts"`
	Farms     map[string]FarmSnapshot    `json:"farms"`
	CreatedAt time.Time                  `json:"created_at"`
}

type PoolSnapshot struct {
	Shares  string `json:"shares"`
	Balance string `json:"balance"`
}

type AssetSnapshot struct {
	Supplied            PoolSnapshot      `json:"supplied"`
	Borrowed            PoolSnapshot      `json:"borrowed"`
	Reserved            string            `json:"reserved"`
	LastUpdateTimestamp int64             `json:"last_update_timestamp"`
	Config              state.AssetConfig `json:"config"`
}

type AccountSnapshot struct {
	AccountID      string                         `json:"account_id"`
	Supplied       map[string]string              `json:"supplied"`
	Collateral     map[string]string              `json:"collateral"`
	Borrowed       map[string]string              `json:"borrowed"`
	Farms          map[string]AccountFarmSnapshot `json:"farms"`
	BoosterStaking *BoosterStakingSnapshot        `json:"booster_staking,omitempty"`
}

type AccountFarmSnapshot struct {
	BlockTimestamp int64                                `json:"block_timestamp"`
	Rewards        map[string]AccountFarmRewardSnapshot `json:"rewards"`
}

type AccountFarmRewardSnapshot struct {
	BoostedShares      string          `json:"boosted_shares"`
	LastRewardPerShare decimal.Decimal `json:"last_reward_per_share"`
}

type BoosterStakingSnapshot struct {
	StakedBoosterAmount string `json:"staked_booster_amount"`
	XBoosterAmount      string `json:"x_booster_amount"`
	UnlockTimestamp     int64  `json:"unlock_timestamp"`
}

type FarmSnapshot struct {
	BlockTimestamp int64                             `json:"block_timestamp"`
	Rewards        map[string]AssetFarmRewardSnapshot `json:"rewards"`
	Inactive       map[string]AssetFarmRewardSnapshot `json:"inactive"`
}

type AssetFarmRewardSnapshot struct {
	RewardPerDay     string          `json:"reward_per_day"`
	RemainingRewards string          `json:"remaining_rewards"`
	BoostedShares    string          `json:"boosted_shares"`
	RewardPerShare   decimal.Decimal `json:"reward_per_share"`
	BoosterLogBase   string          `json:"booster_log_base"`
}

// Capture copies the core's state into a snapshot.
func Capture(c *core.Core) *SnapshotData {
	assets, accounts, farms := c.SnapshotState()

	snap := &SnapshotData{
		Sequence:  c.Sequence(),
		Config:    c.Config(),
		Assets:    make(map[string]AssetSnapshot, len(assets)),
		Farms:     make(map[string]FarmSnapshot, len(farms)),
		CreatedAt: time.Now().UTC(),
	}

	for tokenID, a := range assets {
		snap.Assets[tokenID] = AssetSnapshot{
			Supplied:            PoolSnapshot{a.Supplied.Shares.String(), a.Supplied.Balance.String()},
			Borrowed:            PoolSnapshot{a.Borrowed.Shares.String(), a.Borrowed.Balance.String()},
			Reserved:            a.Reserved.String(),
			LastUpdateTimestamp: a.LastUpdateTimestamp,
			Config:              a.Config,
		}
	}

	for _, id := range c.AccountIDs() {
		snap.Accounts = append(snap.Accounts, snapshotAccount(accounts[id]))
	}

	for id, f := range farms {
		snap.Farms[id.String()] = FarmSnapshot{
			BlockTimestamp: f.BlockTimestamp,
			Rewards:        snapshotFarmRewards(f.Rewards),
			Inactive:       snapshotFarmRewards(f.Inactive),
		}
	}
	return snap
}

func snapshotAccount(a *state.Account) AccountSnapshot {
	s := AccountSnapshot{
		AccountID:  a.AccountID,
		Supplied:   balanceMap(a.Supplied),
		Collateral: balanceMap(a.Collateral),
		Borrowed:   balanceMap(a.Borrowed),
		Farms:      make(map[string]AccountFarmSnapshot, len(a.Farms)),
	}
	for id, f := range a.Farms {
		rewards := make(map[string]AccountFarmRewardSnapshot, len(f.Rewards))
		for tokenID, r := range f.Rewards {
			rewards[tokenID] = AccountFarmRewardSnapshot{
				BoostedShares:      r.BoostedShares.String(),
				LastRewardPerShare: r.LastRewardPerShare,
			}
		}
		s.Farms[id.String()] = AccountFarmSnapshot{
			BlockTimestamp: f.BlockTimestamp,
			Rewards:        rewards,
		}
	}
	if a.BoosterStaking != nil {
		s.BoosterStaking = &BoosterStakingSnapshot{
			StakedBoosterAmount: a.BoosterStaking.StakedBoosterAmount.String(),
			XBoosterAmount:      a.BoosterStaking.XBoosterAmount.String(),
			UnlockTimestamp:     a.BoosterStaking.UnlockTimestamp,
		}
	}
	return s
}

func snapshotFarmRewards(rewards map[string]*state.AssetFarmReward) map[string]AssetFarmRewardSnapshot {
	out := make(map[string]AssetFarmRewardSnapshot, len(rewards))
	for tokenID, r := range rewards {
		out[tokenID] = AssetFarmRewardSnapshot{
			RewardPerDay:     r.RewardPerDay.String(),
			RemainingRewards: r.RemainingRewards.String(),
			BoostedShares:    r.BoostedShares.String(),
			RewardPerShare:   r.RewardPerShare,
			BoosterLogBase:   r.BoosterLogBase.String(),
		}
	}
	return out
}

func balanceMap(m map[string]*big.Int) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.String()
	}
	return out
}

// Restore installs a snapshot into an empty core.
func Restore(c *core.Core, snap *SnapshotData) error {
	c.RestoreConfig(snap.Config)
	// Listing order feeds pagination and the rate sampler, so it must not
	// depend on map iteration.
	tokenIDs := make([]string, 0, len(snap.Assets))
	for tokenID := range snap.Assets {
		tokenIDs = append(tokenIDs, tokenID)
	}
	sort.Strings(tokenIDs)
	for _, tokenID := range tokenIDs {
		as := snap.Assets[tokenID]
		asset := state.NewAsset(as.LastUpdateTimestamp, as.Config)
		var err error
		if asset.Supplied.Shares, err = parseBalance(as.Supplied.Shares); err != nil {
			return err
		}
		if asset.Supplied.Balance, err = parseBalance(as.Supplied.Balance); err != nil {
			return err
		}
		if asset.Borrowed.Shares, err = parseBalance(as.Borrowed.Shares); err != nil {
			return err
		}
		if asset.Borrowed.Balance, err = parseBalance(as.Borrowed.Balance); err != nil {
			return err
		}
		if asset.Reserved, err = parseBalance(as.Reserved); err != nil {
			return err
		}
		c.RestoreAsset(tokenID, asset)
	}

	for _, as := range snap.Accounts {
		account, err := restoreAccount(as)
		if err != nil {
			return err
		}
		c.RestoreAccount(account)
	}

	for idStr, fs := range snap.Farms {
		id, err := state.ParseFarmID(idStr)
		if err != nil {
			return err
		}
		farm := state.NewAssetFarm(fs.BlockTimestamp)
		if farm.Rewards, err = restoreFarmRewards(fs.Rewards); err != nil {
			return err
		}
		if farm.Inactive, err = restoreFarmRewards(fs.Inactive); err != nil {
			return err
		}
		c.RestoreFarm(id, farm)
	}

	c.RestoreSequence(snap.Sequence)
	return nil
}

func restoreAccount(as AccountSnapshot) (*state.Account, error) {
	account := state.NewAccount(as.AccountID)
	var err error
	if account.Supplied, err = parseBalanceMap(as.Supplied); err != nil {
		return nil, err
	}
	if account.Collateral, err = parseBalanceMap(as.Collateral); err != nil {
		return nil, err
	}
	if account.Borrowed, err = parseBalanceMap(as.Borrowed); err != nil {
		return nil, err
	}
	for idStr, fs := range as.Farms {
		id, err := state.ParseFarmID(idStr)
		if err != nil {
			return nil, err
		}
		farm := state.NewAccountFarm()
		farm.BlockTimestamp = fs.BlockTimestamp
		for tokenID, rs := range fs.Rewards {
			boosted, err := parseBalance(rs.BoostedShares)
			if err != nil {
				return nil, err
			}
			farm.Rewards[tokenID] = &state.AccountFarmReward{
				BoostedShares:      boosted,
				LastRewardPerShare: rs.LastRewardPerShare,
			}
		}
		account.Farms[id] = farm
	}
	if as.BoosterStaking != nil {
		staked, err := parseBalance(as.BoosterStaking.StakedBoosterAmount)
		if err != nil {
			return nil, err
		}
		x, err := parseBalance(as.BoosterStaking.XBoosterAmount)
		if err != nil {
			return nil, err
		}
		account.BoosterStaking = &state.BoosterStaking{
			StakedBoosterAmount: staked,
			XBoosterAmount:      x,
			UnlockTimestamp:     as.BoosterStaking.UnlockTimestamp,
		}
	}
	return account, nil
}

func restoreFarmRewards(rewards map[string]AssetFarmRewardSnapshot) (map[string]*state.AssetFarmReward, error) {
	out := make(map[string]*state.AssetFarmReward, len(rewards))
	for tokenID, rs := range rewards {
		perDay, err := parseBalance(rs.RewardPerDay)
		if err != nil {
			return nil, err
		}
		remaining, err := parseBalance(rs.RemainingRewards)
		if err != nil {
			return nil, err
		}
		boosted, err := parseBalance(rs.BoostedShares)
		if err != nil {
			return nil, err
		}
		logBase, err := parseBalance(rs.BoosterLogBase)
		if err != nil {
			return nil, err
		}
		out[tokenID] = &state.AssetFarmReward{
			RewardPerDay:     perDay,
			RemainingRewards: remaining,
			BoostedShares:    boosted,
			RewardPerShare:   rs.RewardPerShare,
			BoosterLogBase:   logBase,
		}
	}
	return out, nil
}

func parseBalance(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("persistence: invalid balance %q", s)
	}
	return v, nil
}

func parseBalanceMap(m map[string]string) (map[string]*big.Int, error) {
	out := make(map[string]*big.Int, len(m))
	for k, s := range m {
		v, err := parseBalance(s)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// Save persists a snapshot.
func (sm *SnapshotManager) Save(ctx context.Context, snap *SnapshotData) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	data, err := json.Marshal(snapshotEnvelope{Version: snapshotFormatVersion, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal snapshot envelope: %w", err)
	}

	sum := sha256.Sum256(data)
	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO burrow.snapshots
			(snapshot_id, sequence, data, data_sha256, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, data_sha256 = $4, size_bytes = $5
	`, uuid.New(), snap.Sequence, data, hex.EncodeToString(sum[:]), len(data), snap.CreatedAt)
	return err
}

// LoadLatest loads the most recent snapshot, upgrading old formats in
// place. Returns nil on a cold start.
func (sm *SnapshotManager) LoadLatest(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data, data_sha256 FROM burrow.snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	var wantSum string
	if err := row.Scan(&data, &wantSum); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != wantSum {
		return nil, fmt.Errorf("snapshot checksum mismatch: stored %s, computed %s", wantSum, got)
	}
	return decodeSnapshot(data)
}

func decodeSnapshot(data []byte) (*SnapshotData, error) {
	var env snapshotEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot envelope: %w", err)
	}
	switch env.Version {
	case 0:
		return upgradeSnapshotV0(env.Data)
	case snapshotFormatVersion:
		var snap SnapshotData
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		return &snap, nil
	default:
		return nil, fmt.Errorf("unknown snapshot format version %d", env.Version)
	}
}

// snapshotDataV0 predates booster staking and the net-TVL multiplier.
type snapshotDataV0 struct {
	Sequence  int64                    `json:"sequence"`
	Config    core.Config              `json:"config"`
	Assets    map[string]AssetSnapshot `json:"assets"`
	Accounts  []struct {
		AccountID  string                         `json:"account_id"`
		Supplied   map[string]string              `json:"supplied"`
		Collateral map[string]string              `json:"collateral"`
		Borrowed   map[string]string              `json:"borrowed"`
		Farms      map[string]AccountFarmSnapshot `json:"farms"`
	} `json:"accounts"`
	Farms     map[string]FarmSnapshot `json:"farms"`
	CreatedAt time.Time               `json:"created_at"`
}

func upgradeSnapshotV0(data json.RawMessage) (*SnapshotData, error) {
	var old snapshotDataV0
	if err := json.Unmarshal(data, &old); err != nil {
		return nil, fmt.Errorf("unmarshal v0 snapshot: %w", err)
	}
	snap := &SnapshotData{
		Sequence:  old.Sequence,
		Config:    old.Config,
		Assets:    make(map[string]AssetSnapshot, len(old.Assets)),
		Farms:     old.Farms,
		CreatedAt: old.CreatedAt,
	}
	for tokenID, as := range old.Assets {
		// v0 assets counted full collateral value toward net TVL.
		if as.Config.NetTvlMultiplier == 0 {
			as.Config.NetTvlMultiplier = decimal.MaxRatio
		}
		snap.Assets[tokenID] = as
	}
	for _, a := range old.Accounts {
		snap.Accounts = append(snap.Accounts, AccountSnapshot{
			AccountID:  a.AccountID,
			Supplied:   a.Supplied,
			Collateral: a.Collateral,
			Borrowed:   a.Borrowed,
			Farms:      a.Farms,
		})
	}
	return snap, nil
}
