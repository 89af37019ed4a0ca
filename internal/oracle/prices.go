// Package oracle models the trusted price feed at its boundary: a batch of
// optional per-asset prices with a timestamp and a recency bound. The core
// never reaches out for prices; they arrive with the call.
package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

const maxValidDecimals = 77

var (
	// ErrMissingPrice means an operation referenced an asset absent from the
	// price batch. Partial risk evaluation is never permitted.
	ErrMissingPrice = errors.New("oracle: asset price is missing")
	// ErrStalePriceData means the batch timestamp is older than the
	// configured maximum staleness.
	ErrStalePriceData = errors.New("oracle: price data is stale")
)

// Price is multiplier * 10^(-decimals) in quote currency per smallest
// denomination of the asset.
type Price struct {
	Multiplier *big.Int `json:"multiplier"`
	Decimals   uint8    `json:"decimals"`
}

func (p Price) Validate() error {
	if p.Multiplier == nil || p.Multiplier.Sign() < 0 {
		return fmt.Errorf("oracle: invalid price multiplier")
	}
	if p.Decimals > maxValidDecimals {
		return fmt.Errorf("oracle: price decimals %d out of range", p.Decimals)
	}
	return nil
}

// AssetOptionalPrice is one entry of a price batch; the oracle omits the
// price for assets it cannot currently quote.
type AssetOptionalPrice struct {
	AssetID string `json:"asset_id"`
	Price   *Price `json:"price,omitempty"`
}

// PriceData is the oracle's wire format.
type PriceData struct {
	TimestampMs        int64                `json:"timestamp_ms"`
	RecencyDurationSec int64                `json:"recency_duration_sec"`
	Prices             []AssetOptionalPrice `json:"prices"`
}

// AssertRecent rejects a batch whose timestamp falls outside the staleness
// window at the given current time.
func (d *PriceData) AssertRecent(nowMs, maxStalenessSec int64) error {
	staleness := maxStalenessSec
	if d.RecencyDurationSec > 0 && d.RecencyDurationSec < staleness {
		staleness = d.RecencyDurationSec
	}
	if d.TimestampMs+staleness*1000 < nowMs {
		return fmt.Errorf("%w: batch at %d, now %d", ErrStalePriceData, d.TimestampMs, nowMs)
	}
	return nil
}

// Prices is the resolved snapshot used by one call.
type Prices struct {
	prices map[string]Price
}

func NewPrices() *Prices {
	return &Prices{prices: make(map[string]Price)}
}

// FromPriceData validates and indexes a price batch, dropping absent prices.
func FromPriceData(data *PriceData) (*Prices, error) {
	p := NewPrices()
	for _, entry := range data.Prices {
		if entry.Price == nil {
			continue
		}
		if err := entry.Price.Validate(); err != nil {
			return nil, fmt.Errorf("asset %s: %w", entry.AssetID, err)
		}
		p.prices[entry.AssetID] = *entry.Price
	}
	return p, nil
}

// Set adds or replaces a single price. Used by tests and by the net-TVL
// snapshot refresh.
func (p *Prices) Set(assetID string, price Price) {
	p.prices[assetID] = price
}

// Get returns the price for an asset; ErrMissingPrice if the batch did not
// carry it.
func (p *Prices) Get(assetID string) (Price, error) {
	price, ok := p.prices[assetID]
	if !ok {
		return Price{}, fmt.Errorf("%w: %s", ErrMissingPrice, assetID)
	}
	return price, nil
}

// UnmarshalJSON accepts the oracle's string-encoded multiplier.
func (p *Price) UnmarshalJSON(data []byte) error {
	var raw struct {
		Multiplier string `json:"multiplier"`
		Decimals   uint8  `json:"decimals"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m, ok := new(big.Int).SetString(raw.Multiplier, 10)
	if !ok {
		return fmt.Errorf("oracle: invalid multiplier %q", raw.Multiplier)
	}
	p.Multiplier = m
	p.Decimals = raw.Decimals
	return nil
}

// MarshalJSON emits the string-encoded multiplier the oracle uses.
func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Multiplier string `json:"multiplier"`
		Decimals   uint8  `json:"decimals"`
	}{Multiplier: p.Multiplier.String(), Decimals: p.Decimals})
}
