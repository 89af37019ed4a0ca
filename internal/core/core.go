// Package core implements the share-ledger and risk engine: pools, interest
// compounding, the risk evaluator, the liquidation protocol, the farm
// accumulators, and the batch executor that ties them together.
//
// Execution is single-threaded and strictly serialized: the ingestion shell
// delivers one call at a time, and every call either commits in full or
// leaves no trace. Each call works on request-scoped copies of the entities
// it touches and writes them back only on success, so no locks are needed
// and no partial state is ever observable.
package core

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/NearDeFi/burrowland/internal/observability"
	"github.com/NearDeFi/burrowland/internal/oracle"
	"github.com/NearDeFi/burrowland/internal/state"
)

// Output is one committed call emitted toward the persistence worker.
// The send is blocking: the core stalls rather than lose a record.
type Output struct {
	Sequence    int64
	Kind        string
	AccountID   string
	Payload     []byte
	TimestampMs int64
}

// Core holds the authoritative in-memory ledger state.
type Core struct {
	config Config

	assets   map[string]*state.Asset
	assetIDs []string
	accounts map[string]*state.Account
	farms    map[state.FarmID]*state.AssetFarm

	sequence int64

	// Most recent oracle snapshot; the net-TVL farm values exposure with it
	// on calls that carry no prices of their own.
	prices *oracle.Prices

	logger  zerolog.Logger
	metrics *observability.Metrics

	persistChan chan<- Output
}

func New(config Config, logger zerolog.Logger, metrics *observability.Metrics, persistChan chan<- Output) *Core {
	return &Core{
		config:      config,
		assets:      make(map[string]*state.Asset),
		accounts:    make(map[string]*state.Account),
		farms:       make(map[state.FarmID]*state.AssetFarm),
		logger:      logger,
		metrics:     metrics,
		persistChan: persistChan,
	}
}

func (c *Core) Config() Config { return c.config }

// SetPersistChan attaches the persistence channel. Recovery replays the
// call log with a nil channel so replayed calls are not re-persisted, then
// attaches the live channel before serving.
func (c *Core) SetPersistChan(ch chan<- Output) {
	c.persistChan = ch
}

// Sequence returns the next sequence number to be assigned.
func (c *Core) Sequence() int64 { return c.sequence }

// AssetIDs returns the listed token IDs in listing order.
func (c *Core) AssetIDs() []string {
	ids := make([]string, len(c.assetIDs))
	copy(ids, c.assetIDs)
	return ids
}

// AccountIDs returns all registered account IDs in deterministic order.
func (c *Core) AccountIDs() []string {
	ids := make([]string, 0, len(c.accounts))
	for id := range c.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetAsset returns the stored asset. The pointer aliases live state: only
// the view layer running on the processor goroutine may use it, read-only.
func (c *Core) GetAsset(tokenID string) (*state.Asset, bool) {
	a, ok := c.assets[tokenID]
	return a, ok
}

// GetAccount returns the stored account under the same aliasing rules as
// GetAsset.
func (c *Core) GetAccount(accountID string) (*state.Account, bool) {
	a, ok := c.accounts[accountID]
	return a, ok
}

// GetFarm returns the stored farm under the same aliasing rules as GetAsset.
func (c *Core) GetFarm(id state.FarmID) (*state.AssetFarm, bool) {
	f, ok := c.farms[id]
	return f, ok
}

// LastPrices returns the most recent committed oracle snapshot, or nil
// before the first price delivery.
func (c *Core) LastPrices() *oracle.Prices {
	return c.prices
}

// Tx is the request-scoped view of one call: entities are loaded once,
// lazily touched (interest and farm accrual), mutated as copies, and written
// back by commit. Dropping a Tx on error discards every mutation.
type Tx struct {
	core  *Core
	nowMs int64

	assets   map[string]*state.Asset
	accounts map[string]*state.Account
	farms    map[state.FarmID]*state.AssetFarm

	prices *oracle.Prices

	newAssetIDs []string
	outgoing    []OutgoingTransfer
	outputs     []Output
}

// Begin opens a call at the given timestamp.
func (c *Core) Begin(nowMs int64) *Tx {
	return &Tx{
		core:     c,
		nowMs:    nowMs,
		assets:   make(map[string]*state.Asset),
		accounts: make(map[string]*state.Account),
		farms:    make(map[state.FarmID]*state.AssetFarm),
	}
}

// SetPrices attaches a validated oracle snapshot to the call.
func (tx *Tx) SetPrices(prices *oracle.Prices) {
	tx.prices = prices
}

// lastPrices is the call's own snapshot when present, else the most recent
// committed one.
func (tx *Tx) lastPrices() *oracle.Prices {
	if tx.prices != nil {
		return tx.prices
	}
	return tx.core.prices
}

// Asset loads and lazily compounds an asset, caching the touched copy for
// the remainder of the call.
func (tx *Tx) Asset(tokenID string) (*state.Asset, error) {
	if a, ok := tx.assets[tokenID]; ok {
		return a, nil
	}
	stored, ok := tx.core.assets[tokenID]
	if !ok {
		return nil, ErrAssetNotFound
	}
	a := stored.Clone()
	a.Touch(tx.nowMs)
	tx.assets[tokenID] = a
	return a, nil
}

func (tx *Tx) setAsset(tokenID string, a *state.Asset) {
	tx.assets[tokenID] = a
}

// Account loads an account copy; ErrAccountNotFound if unregistered.
func (tx *Tx) Account(accountID string) (*state.Account, error) {
	if a, ok := tx.accounts[accountID]; ok {
		return a, nil
	}
	stored, ok := tx.core.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	a := stored.Clone()
	tx.accounts[accountID] = a
	return a, nil
}

// AccountOrNew loads an account, registering it on first use.
func (tx *Tx) AccountOrNew(accountID string) *state.Account {
	a, err := tx.Account(accountID)
	if err == nil {
		return a
	}
	a = state.NewAccount(accountID)
	tx.accounts[accountID] = a
	return a
}

// Farm loads and lazily accrues a farm copy, or nil when no farm exists for
// the ID.
func (tx *Tx) Farm(id state.FarmID) *state.AssetFarm {
	if f, ok := tx.farms[id]; ok {
		return f
	}
	stored, ok := tx.core.farms[id]
	if !ok {
		return nil
	}
	f := stored.Clone()
	f.Update(tx.nowMs)
	tx.farms[id] = f
	return f
}

// FarmOrNew loads a farm, creating it on first reward attachment.
func (tx *Tx) FarmOrNew(id state.FarmID) *state.AssetFarm {
	if f := tx.Farm(id); f != nil {
		return f
	}
	f := state.NewAssetFarm(tx.nowMs)
	tx.farms[id] = f
	return f
}

func (tx *Tx) record(kind, accountID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payloads are our own structs; failure here is a programming error.
		panic(err)
	}
	tx.outputs = append(tx.outputs, Output{
		Kind:        kind,
		AccountID:   accountID,
		Payload:     data,
		TimestampMs: tx.nowMs,
	})
}

// commit writes the call's copies back into the authoritative maps and
// emits its outputs. Only called after every step of the call succeeded.
func (c *Core) commit(tx *Tx) {
	start := time.Now()
	for tokenID, a := range tx.assets {
		c.assets[tokenID] = a
	}
	c.assetIDs = append(c.assetIDs, tx.newAssetIDs...)
	for accountID, a := range tx.accounts {
		c.accounts[accountID] = a
	}
	for id, f := range tx.farms {
		c.farms[id] = f
	}
	if tx.prices != nil {
		c.prices = tx.prices
	}
	for i := range tx.outputs {
		tx.outputs[i].Sequence = c.sequence
		c.sequence++
		if c.persistChan != nil {
			c.persistChan <- tx.outputs[i]
		}
	}
	if c.metrics != nil {
		c.metrics.CallCommitDuration.Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}
}

// SnapshotState returns deep copies of the authoritative maps for snapshot
// capture. Called between calls by the single-threaded shell.
func (c *Core) SnapshotState() (map[string]*state.Asset, map[string]*state.Account, map[state.FarmID]*state.AssetFarm) {
	assets := make(map[string]*state.Asset, len(c.assets))
	for id, a := range c.assets {
		assets[id] = a.Clone()
	}
	accounts := make(map[string]*state.Account, len(c.accounts))
	for id, a := range c.accounts {
		accounts[id] = a.Clone()
	}
	farms := make(map[state.FarmID]*state.AssetFarm, len(c.farms))
	for id, f := range c.farms {
		farms[id] = f.Clone()
	}
	return assets, accounts, farms
}

// RestoreAsset installs an asset during recovery, bypassing call semantics.
func (c *Core) RestoreAsset(tokenID string, a *state.Asset) {
	if _, ok := c.assets[tokenID]; !ok {
		c.assetIDs = append(c.assetIDs, tokenID)
	}
	c.assets[tokenID] = a
}

// RestoreAccount installs an account during recovery.
func (c *Core) RestoreAccount(a *state.Account) {
	c.accounts[a.AccountID] = a
}

// RestoreFarm installs a farm during recovery.
func (c *Core) RestoreFarm(id state.FarmID, f *state.AssetFarm) {
	c.farms[id] = f
}

// RestoreConfig installs the protocol configuration during recovery.
func (c *Core) RestoreConfig(config Config) {
	c.config = config
}

// RestoreSequence resets the output sequence during recovery.
func (c *Core) RestoreSequence(seq int64) {
	c.sequence = seq
}
