package persistence

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/NearDeFi/burrowland/internal/core"
	"github.com/NearDeFi/burrowland/internal/decimal"
	"github.com/NearDeFi/burrowland/internal/event"
	"github.com/NearDeFi/burrowland/internal/oracle"
	"github.com/NearDeFi/burrowland/internal/state"
)

// populatedCore builds a ledger with every snapshot-relevant feature in
// play: an open borrow position, a funded farm with claimed rewards, and a
// locked booster stake.
func populatedCore(t *testing.T) *core.Core {
	t.Helper()
	const nowMs = int64(1_700_000_000_000)

	cfg := core.Config{
		OracleAccountID:           "priceoracle.near",
		OwnerID:                   "owner.near",
		BoosterTokenID:            "booster.near",
		MaxNumAssets:              10,
		MaximumStalenessSec:       90,
		MinimumStakingDurationSec: 2_678_400,
		MaximumStakingDurationSec: 31_536_000,
		XBoosterMultiplierAtMaximumStakingDuration: 40_000,
	}
	c := core.New(cfg, zerolog.Nop(), nil, nil)

	assetCfg := func(vol uint32) state.AssetConfig {
		return state.AssetConfig{
			ReserveRatio:          2500,
			TargetUtilization:     8000,
			TargetUtilizationRate: decimal.One(),
			MaxUtilizationRate:    decimal.One(),
			VolatilityRatio:       vol,
			CanDeposit:            true,
			CanWithdraw:           true,
			CanUseAsCollateral:    true,
			CanBorrow:             true,
		}
	}
	for tokenID, vol := range map[string]uint32{
		"wrap.near": 6000, "usdc.near": 9500, "booster.near": 2000,
	} {
		if err := c.AddAsset("owner.near", tokenID, assetCfg(vol), nowMs); err != nil {
			t.Fatalf("add asset %s: %v", tokenID, err)
		}
	}

	deposit := func(account, token string, amount int64, msg string) {
		_, err := c.HandleTokenTransfer(&event.TokenTransfer{
			TokenID: token, SenderID: account,
			Amount: big.NewInt(amount), Msg: msg, TimestampMs: nowMs,
		})
		if err != nil {
			t.Fatalf("deposit %s %s: %v", account, token, err)
		}
	}
	deposit("bob.near", "usdc.near", 1000, "")
	deposit("funder.near", "usdc.near", 5000, `{"deposit_to_reserve":true}`)

	// The farm exists before alice deposits, so her deposit enrolls her.
	farmID := state.FarmID{Kind: state.FarmKindSupplied, TokenID: "wrap.near"}
	if err := c.AddFarmReward("owner.near", farmID, "usdc.near",
		big.NewInt(state.MillisPerDay), big.NewInt(0), big.NewInt(4000), nowMs); err != nil {
		t.Fatalf("add farm reward: %v", err)
	}

	deposit("alice.near", "wrap.near", 100, "")
	deposit("alice.near", "booster.near", 500, "")

	_, err := c.HandleOracleCall("priceoracle.near", &event.OracleCall{
		SenderID: "alice.near",
		PriceData: &oracle.PriceData{
			TimestampMs: nowMs,
			Prices: []oracle.AssetOptionalPrice{
				{AssetID: "wrap.near", Price: &oracle.Price{Multiplier: big.NewInt(10), Decimals: 0}},
				{AssetID: "usdc.near", Price: &oracle.Price{Multiplier: big.NewInt(1), Decimals: 0}},
			},
		},
		Msg: `{"actions":[{"kind":"IncreaseCollateral","asset_amount":{"token_id":"wrap.near","amount":"100"}},{"kind":"Borrow","asset_amount":{"token_id":"usdc.near","amount":"300"}}]}`,
	}, nowMs)
	if err != nil {
		t.Fatalf("open position: %v", err)
	}

	if err := c.StakeBooster("alice.near", nil, cfg.MinimumStakingDurationSec, nowMs); err != nil {
		t.Fatalf("stake booster: %v", err)
	}
	if err := c.ClaimAllRewards("alice.near", nowMs+1000); err != nil {
		t.Fatalf("claim rewards: %v", err)
	}
	return c
}

func snapshotJSON(t *testing.T, snap *SnapshotData) string {
	t.Helper()
	snap.CreatedAt = time.Time{}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	return string(data)
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := populatedCore(t)
	snap := Capture(c)

	restored := core.New(core.Config{}, zerolog.Nop(), nil, nil)
	if err := Restore(restored, snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if restored.Sequence() != c.Sequence() {
		t.Errorf("sequence = %d, want %d", restored.Sequence(), c.Sequence())
	}
	if restored.Config() != c.Config() {
		t.Errorf("config = %+v, want %+v", restored.Config(), c.Config())
	}

	// Recapturing the restored core must reproduce the snapshot exactly.
	again := Capture(restored)
	if got, want := snapshotJSON(t, again), snapshotJSON(t, snap); got != want {
		t.Errorf("recaptured snapshot drifted:\n got %s\nwant %s", got, want)
	}
}

// Asset listing order feeds pagination and the rate sampler, so a restart
// must not reshuffle it.
func TestRestoreListsAssetsInStableOrder(t *testing.T) {
	snap := Capture(populatedCore(t))

	want := []string{"booster.near", "usdc.near", "wrap.near"}
	for i := 0; i < 5; i++ {
		restored := core.New(core.Config{}, zerolog.Nop(), nil, nil)
		if err := Restore(restored, snap); err != nil {
			t.Fatalf("restore: %v", err)
		}
		got := restored.AssetIDs()
		if len(got) != len(want) {
			t.Fatalf("restored %d assets, want %d", len(got), len(want))
		}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("asset order = %v, want %v", got, want)
			}
		}
	}
}

func TestSnapshotEnvelopeRoundTrip(t *testing.T) {
	snap := Capture(populatedCore(t))

	env := snapshotEnvelope{Version: snapshotFormatVersion}
	payload, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	env.Data = payload
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	decoded, err := decodeSnapshot(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got, want := snapshotJSON(t, decoded), snapshotJSON(t, snap); got != want {
		t.Errorf("decoded snapshot drifted:\n got %s\nwant %s", got, want)
	}
}

func TestDecodeSnapshotUpgradesV0(t *testing.T) {
	raw := `{
		"version": 0,
		"data": {
			"sequence": 7,
			"config": {"owner_id": "owner.near", "oracle_account_id": "priceoracle.near"},
			"assets": {
				"wrap.near": {
					"supplied": {"shares": "100", "balance": "110"},
					"borrowed": {"shares": "40", "balance": "44"},
					"reserved": "5",
					"last_update_timestamp": 1700000000000,
					"config": {"reserve_ratio": 2500, "volatility_ratio": 6000}
				}
			},
			"accounts": [{
				"account_id": "alice.near",
				"supplied": {"wrap.near": "60"},
				"collateral": {"wrap.near": "40"},
				"borrowed": {},
				"farms": {}
			}],
			"farms": {},
			"created_at": "2024-06-01T00:00:00Z"
		}
	}`

	snap, err := decodeSnapshot([]byte(raw))
	if err != nil {
		t.Fatalf("decode v0: %v", err)
	}
	if snap.Sequence != 7 {
		t.Errorf("sequence = %d, want 7", snap.Sequence)
	}
	// v0 predates the net-TVL weighting; full weight is implied.
	if got := snap.Assets["wrap.near"].Config.NetTvlMultiplier; got != decimal.MaxRatio {
		t.Errorf("net_tvl_multiplier = %d, want %d", got, decimal.MaxRatio)
	}
	if len(snap.Accounts) != 1 || snap.Accounts[0].BoosterStaking != nil {
		t.Errorf("accounts = %+v, want one without booster staking", snap.Accounts)
	}
}

func TestDecodeSnapshotUnknownVersion(t *testing.T) {
	_, err := decodeSnapshot([]byte(`{"version": 99, "data": {}}`))
	if err == nil || !strings.Contains(err.Error(), "version") {
		t.Fatalf("err = %v, want unknown version error", err)
	}
}
