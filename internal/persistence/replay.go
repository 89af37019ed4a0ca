package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"github.com/NearDeFi/burrowland/internal/core"
	"github.com/NearDeFi/burrowland/internal/event"
	"github.com/NearDeFi/burrowland/internal/observability"
	"github.com/NearDeFi/burrowland/internal/state"
)

const replayBatchSize = 1000

// Recoverer rebuilds ledger state on startup: load the latest snapshot,
// then replay every call committed after it. Call payloads are the
// original inbound requests, so replay runs the same entrypoints as live
// traffic.
type Recoverer struct {
	core      *core.Core
	writer    *CallLogWriter
	snapshots *SnapshotManager
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

func NewRecoverer(c *core.Core, writer *CallLogWriter, snapshots *SnapshotManager, logger zerolog.Logger, metrics *observability.Metrics) *Recoverer {
	return &Recoverer{core: c, writer: writer, snapshots: snapshots, logger: logger, metrics: metrics}
}

// Recover restores the core to the tip of the call log. The core must have
// a nil persistence channel while this runs; replayed calls are already in
// the log.
func (r *Recoverer) Recover(ctx context.Context) error {
	start := time.Now()

	snap, err := r.snapshots.LoadLatest(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap != nil {
		if err := Restore(r.core, snap); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		r.logger.Info().
			Int64("sequence", snap.Sequence).
			Time("created_at", snap.CreatedAt).
			Msg("snapshot restored")
	}

	var replayed int64
	from := r.core.Sequence()
	for {
		calls, err := r.writer.LoadCallsFrom(ctx, from, replayBatchSize)
		if err != nil {
			return fmt.Errorf("load calls from %d: %w", from, err)
		}
		if len(calls) == 0 {
			break
		}
		for _, call := range calls {
			if call.Sequence != r.core.Sequence() {
				return fmt.Errorf("call log gap: have sequence %d, expected %d",
					call.Sequence, r.core.Sequence())
			}
			if err := r.replayCall(call); err != nil {
				return fmt.Errorf("replay call %d (%s): %w", call.Sequence, call.CallType, err)
			}
			replayed++
			if r.metrics != nil {
				r.metrics.ReplayRecordsTotal.Inc()
			}
		}
		from = calls[len(calls)-1].Sequence + 1
	}

	if r.metrics != nil {
		r.metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	r.logger.Info().
		Int64("replayed", replayed).
		Int64("sequence", r.core.Sequence()).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return nil
}

// replayCall re-invokes the entrypoint that produced the row. Every logged
// call succeeded once; a failure here means the log and snapshot disagree.
func (r *Recoverer) replayCall(call CallRow) error {
	switch call.CallType {
	case "token_transfer":
		var transfer event.TokenTransfer
		if err := json.Unmarshal(call.Payload, &transfer); err != nil {
			return err
		}
		_, err := r.core.HandleTokenTransfer(&transfer)
		return err

	case "oracle_call":
		var oc event.OracleCall
		if err := json.Unmarshal(call.Payload, &oc); err != nil {
			return err
		}
		// Staleness is judged against the call's own timestamp, so prices
		// that were fresh at commit time stay acceptable on replay.
		_, err := r.core.HandleOracleCall(r.core.Config().OracleAccountID, &oc, call.TimestampMs)
		return err

	case "execute":
		var p struct {
			AccountID string         `json:"account_id"`
			Actions   []event.Action `json:"actions"`
		}
		if err := json.Unmarshal(call.Payload, &p); err != nil {
			return err
		}
		_, err := r.core.ExecuteActions(p.AccountID, p.Actions, call.TimestampMs)
		return err

	case "compensate":
		var p struct {
			AccountID string `json:"account_id"`
			TokenID   string `json:"token_id"`
			Amount    string `json:"amount"`
		}
		if err := json.Unmarshal(call.Payload, &p); err != nil {
			return err
		}
		amount, err := parseBalance(p.Amount)
		if err != nil {
			return err
		}
		return r.core.CompensateWithdrawal(p.AccountID, p.TokenID, amount, call.TimestampMs)

	case "stake_booster":
		var p struct {
			AccountID   string  `json:"account_id"`
			Amount      *string `json:"amount"`
			DurationSec int64   `json:"duration_sec"`
		}
		if err := json.Unmarshal(call.Payload, &p); err != nil {
			return err
		}
		var amount *big.Int
		if p.Amount != nil {
			var err error
			if amount, err = parseBalance(*p.Amount); err != nil {
				return err
			}
		}
		return r.core.StakeBooster(p.AccountID, amount, p.DurationSec, call.TimestampMs)

	case "unstake_booster":
		return r.core.UnstakeBooster(call.AccountID, call.TimestampMs)

	case "claim_all":
		return r.core.ClaimAllRewards(call.AccountID, call.TimestampMs)

	case "add_asset":
		var p struct {
			TokenID string            `json:"token_id"`
			Config  state.AssetConfig `json:"config"`
		}
		if err := json.Unmarshal(call.Payload, &p); err != nil {
			return err
		}
		return r.core.AddAsset(call.AccountID, p.TokenID, p.Config, call.TimestampMs)

	case "update_asset":
		var p struct {
			TokenID string            `json:"token_id"`
			Config  state.AssetConfig `json:"config"`
		}
		if err := json.Unmarshal(call.Payload, &p); err != nil {
			return err
		}
		return r.core.UpdateAsset(call.AccountID, p.TokenID, p.Config, call.TimestampMs)

	case "update_config":
		var cfg core.Config
		if err := json.Unmarshal(call.Payload, &cfg); err != nil {
			return err
		}
		return r.core.UpdateConfig(call.AccountID, cfg, call.TimestampMs)

	case "add_farm_reward":
		var p struct {
			FarmID         string `json:"farm_id"`
			RewardTokenID  string `json:"reward_token_id"`
			RewardPerDay   string `json:"reward_per_day"`
			BoosterLogBase string `json:"booster_log_base"`
			Amount         string `json:"amount"`
		}
		if err := json.Unmarshal(call.Payload, &p); err != nil {
			return err
		}
		farmID, err := state.ParseFarmID(p.FarmID)
		if err != nil {
			return err
		}
		perDay, err := parseBalance(p.RewardPerDay)
		if err != nil {
			return err
		}
		logBase, err := parseBalance(p.BoosterLogBase)
		if err != nil {
			return err
		}
		amount, err := parseBalance(p.Amount)
		if err != nil {
			return err
		}
		return r.core.AddFarmReward(call.AccountID, farmID, p.RewardTokenID, perDay, logBase, amount, call.TimestampMs)

	default:
		return fmt.Errorf("unknown call type %q", call.CallType)
	}
}
