// Package event defines the wire-level messages the ledger consumes: action
// batches, token-transfer notifications, oracle callbacks, and transfer
// results. Field names use snake_case to match upstream producers; balances
// travel as decimal strings because they exceed 64 bits.
package event

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// ActionKind discriminates batch actions.
type ActionKind string

const (
	ActionWithdraw           ActionKind = "Withdraw"
	ActionIncreaseCollateral ActionKind = "IncreaseCollateral"
	ActionDecreaseCollateral ActionKind = "DecreaseCollateral"
	ActionBorrow             ActionKind = "Borrow"
	ActionRepay              ActionKind = "Repay"
	ActionLiquidate          ActionKind = "Liquidate"
	ActionForceClose         ActionKind = "ForceClose"
)

// AssetAmount names a token and how much of it an action uses. At most one
// of Amount/MaxAmount is set; with neither, the action uses the full
// available amount.
type AssetAmount struct {
	TokenID string
	// Exact amount. The action fails if it cannot be satisfied in full.
	Amount *big.Int
	// Upper bound; the action uses min(max_amount, available).
	MaxAmount *big.Int
}

func (a *AssetAmount) Validate() error {
	if a.TokenID == "" {
		return fmt.Errorf("event: asset amount missing token_id")
	}
	if a.Amount != nil && a.MaxAmount != nil {
		return fmt.Errorf("event: asset amount for %s sets both amount and max_amount", a.TokenID)
	}
	return nil
}

// Action is one step of an ordered batch executed against a single account.
type Action struct {
	Kind ActionKind
	// Set for all kinds except Liquidate/ForceClose.
	AssetAmount *AssetAmount
	// Liquidate fields.
	AccountID string
	InAssets  []AssetAmount
	OutAssets []AssetAmount
}

// Validate checks that the action carries the fields its kind requires.
// Called on every decode path; the executor checks again so actions built
// in code get the same guarantee.
func (a *Action) Validate() error {
	switch a.Kind {
	case ActionWithdraw, ActionIncreaseCollateral, ActionDecreaseCollateral, ActionBorrow, ActionRepay:
		if a.AssetAmount == nil {
			return fmt.Errorf("event: %s action missing asset_amount", a.Kind)
		}
	case ActionLiquidate, ActionForceClose:
		if a.AccountID == "" {
			return fmt.Errorf("event: %s action missing account_id", a.Kind)
		}
	default:
		return fmt.Errorf("event: unknown action kind %q", a.Kind)
	}
	return nil
}

type assetAmountJSON struct {
	TokenID   string  `json:"token_id"`
	Amount    *string `json:"amount,omitempty"`
	MaxAmount *string `json:"max_amount,omitempty"`
}

type actionJSON struct {
	Kind        ActionKind        `json:"kind"`
	AssetAmount *assetAmountJSON  `json:"asset_amount,omitempty"`
	AccountID   string            `json:"account_id,omitempty"`
	InAssets    []assetAmountJSON `json:"in_assets,omitempty"`
	OutAssets   []assetAmountJSON `json:"out_assets,omitempty"`
}

func parseBalance(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("event: invalid balance %q", s)
	}
	return v, nil
}

func formatBalance(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func (j assetAmountJSON) toAssetAmount() (AssetAmount, error) {
	aa := AssetAmount{TokenID: j.TokenID}
	var err error
	if j.Amount != nil {
		if aa.Amount, err = parseBalance(*j.Amount); err != nil {
			return aa, err
		}
	}
	if j.MaxAmount != nil {
		if aa.MaxAmount, err = parseBalance(*j.MaxAmount); err != nil {
			return aa, err
		}
	}
	return aa, aa.Validate()
}

func fromAssetAmount(aa AssetAmount) assetAmountJSON {
	return assetAmountJSON{
		TokenID:   aa.TokenID,
		Amount:    formatBalance(aa.Amount),
		MaxAmount: formatBalance(aa.MaxAmount),
	}
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var j actionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	a.Kind = j.Kind
	a.AccountID = j.AccountID
	if j.AssetAmount != nil {
		aa, err := j.AssetAmount.toAssetAmount()
		if err != nil {
			return err
		}
		a.AssetAmount = &aa
	}
	for _, in := range j.InAssets {
		aa, err := in.toAssetAmount()
		if err != nil {
			return err
		}
		a.InAssets = append(a.InAssets, aa)
	}
	for _, out := range j.OutAssets {
		aa, err := out.toAssetAmount()
		if err != nil {
			return err
		}
		a.OutAssets = append(a.OutAssets, aa)
	}
	return a.Validate()
}

func (a Action) MarshalJSON() ([]byte, error) {
	j := actionJSON{Kind: a.Kind, AccountID: a.AccountID}
	if a.AssetAmount != nil {
		aj := fromAssetAmount(*a.AssetAmount)
		j.AssetAmount = &aj
	}
	for _, in := range a.InAssets {
		j.InAssets = append(j.InAssets, fromAssetAmount(in))
	}
	for _, out := range a.OutAssets {
		j.OutAssets = append(j.OutAssets, fromAssetAmount(out))
	}
	return json.Marshal(j)
}
