package core

import (
	"errors"
	"math/big"
	"time"

	"github.com/NearDeFi/burrowland/internal/event"
	"github.com/NearDeFi/burrowland/internal/oracle"
	"github.com/NearDeFi/burrowland/internal/state"
)

var ErrNotOracle = errors.New("core: price data from unauthorized sender")

// HandleTokenTransfer processes an inbound fungible-token deposit. The
// attached msg selects between a plain deposit, a deposit-to-reserve, and a
// deposit followed by an action batch. The whole call commits or none of it
// does.
func (c *Core) HandleTokenTransfer(transfer *event.TokenTransfer) ([]OutgoingTransfer, error) {
	start := time.Now()
	tx := c.Begin(transfer.TimestampMs)

	msg, err := event.ParseTransferMsg(transfer.Msg)
	if err != nil {
		return nil, c.reject("token_transfer", err)
	}

	asset, err := tx.Asset(transfer.TokenID)
	if err != nil {
		return nil, c.reject("token_transfer", err)
	}
	// Inbound amounts arrive in the token's own decimals; the ledger runs
	// on internal units.
	amount := asset.Config.ScaleUp(transfer.Amount)

	if msg.DepositToReserve {
		asset.Reserved.Add(asset.Reserved, amount)
	} else {
		account := tx.AccountOrNew(transfer.SenderID)
		if _, err := tx.Deposit(account, transfer.TokenID, amount); err != nil {
			return nil, c.reject("token_transfer", err)
		}
		if msg.Execute != nil {
			err = tx.Execute(account, msg.Execute.Actions, oracle.NewPrices())
		} else {
			err = tx.ApplyAffectedFarms(account)
		}
		if err != nil {
			return nil, c.reject("token_transfer", err)
		}
	}

	tx.record("token_transfer", transfer.SenderID, transfer)
	c.commit(tx)
	c.observe("token_transfer", start)
	return tx.Outgoing(), nil
}

// HandleOracleCall processes a price delivery with an embedded action batch
// run on behalf of the inner sender under that exact snapshot.
func (c *Core) HandleOracleCall(oracleAccountID string, call *event.OracleCall, nowMs int64) ([]OutgoingTransfer, error) {
	start := time.Now()
	if oracleAccountID != c.config.OracleAccountID {
		return nil, c.reject("oracle_call", ErrNotOracle)
	}
	if err := call.PriceData.AssertRecent(nowMs, c.config.MaximumStalenessSec); err != nil {
		return nil, c.reject("oracle_call", err)
	}
	prices, err := oracle.FromPriceData(call.PriceData)
	if err != nil {
		return nil, c.reject("oracle_call", err)
	}
	actions, err := event.ParseOracleMsg(call.Msg)
	if err != nil {
		return nil, c.reject("oracle_call", err)
	}

	tx := c.Begin(nowMs)
	tx.SetPrices(prices)
	account, err := tx.Account(call.SenderID)
	if err != nil {
		return nil, c.reject("oracle_call", err)
	}
	if err := tx.Execute(account, actions, prices); err != nil {
		return nil, c.reject("oracle_call", err)
	}

	tx.record("oracle_call", call.SenderID, call)
	c.commit(tx)
	c.observe("oracle_call", start)
	return tx.Outgoing(), nil
}

// ExecuteActions runs a direct action batch with no price snapshot. Actions
// that require pricing fail with ErrMissingPrice; deposits, repayments and
// collateral increases run fine.
func (c *Core) ExecuteActions(accountID string, actions []event.Action, nowMs int64) ([]OutgoingTransfer, error) {
	start := time.Now()
	tx := c.Begin(nowMs)
	account, err := tx.Account(accountID)
	if err != nil {
		return nil, c.reject("execute", err)
	}
	if err := tx.Execute(account, actions, oracle.NewPrices()); err != nil {
		return nil, c.reject("execute", err)
	}

	tx.record("execute", accountID, struct {
		AccountID string         `json:"account_id"`
		Actions   []event.Action `json:"actions"`
	}{accountID, actions})
	c.commit(tx)
	c.observe("execute", start)
	return tx.Outgoing(), nil
}

// CompensateWithdrawal credits a previously withdrawn amount back after the
// outbound transfer failed downstream. The credit is a plain deposit, so
// running it is safe even if the tokens never actually left.
func (c *Core) CompensateWithdrawal(accountID, tokenID string, amount *big.Int, nowMs int64) error {
	start := time.Now()
	tx := c.Begin(nowMs)
	account := tx.AccountOrNew(accountID)
	asset, err := tx.Asset(tokenID)
	if err != nil {
		return c.reject("compensate", err)
	}
	// The failed transfer reported a token-denominated amount; credit the
	// equivalent internal units back.
	internalAmount := asset.Config.ScaleUp(amount)
	shares := asset.Supplied.AmountToShares(internalAmount, false)
	asset.Supplied.Deposit(shares, internalAmount)
	account.DepositSupplied(tokenID, shares)
	account.AddAffectedFarm(state.FarmID{Kind: state.FarmKindSupplied, TokenID: tokenID})
	if err := tx.ApplyAffectedFarms(account); err != nil {
		return c.reject("compensate", err)
	}

	tx.record("compensate", accountID, struct {
		AccountID string `json:"account_id"`
		TokenID   string `json:"token_id"`
		Amount    string `json:"amount"`
	}{accountID, tokenID, amount.String()})
	c.commit(tx)
	if c.metrics != nil {
		c.metrics.TransferCompensations.Inc()
	}
	c.observe("compensate", start)
	return nil
}

// StakeBooster locks part of the account's supplied booster balance.
func (c *Core) StakeBooster(accountID string, amount *big.Int, durationSec int64, nowMs int64) error {
	start := time.Now()
	tx := c.Begin(nowMs)
	account, err := tx.Account(accountID)
	if err != nil {
		return c.reject("stake_booster", err)
	}
	if err := tx.StakeBooster(account, amount, durationSec); err != nil {
		return c.reject("stake_booster", err)
	}

	var amountStr *string
	if amount != nil {
		s := amount.String()
		amountStr = &s
	}
	tx.record("stake_booster", accountID, struct {
		AccountID   string  `json:"account_id"`
		Amount      *string `json:"amount,omitempty"`
		DurationSec int64   `json:"duration_sec"`
	}{accountID, amountStr, durationSec})
	c.commit(tx)
	if c.metrics != nil {
		c.metrics.BoosterUpdates.Inc()
	}
	c.observe("stake_booster", start)
	return nil
}

// UnstakeBooster releases an expired booster stake.
func (c *Core) UnstakeBooster(accountID string, nowMs int64) error {
	start := time.Now()
	tx := c.Begin(nowMs)
	account, err := tx.Account(accountID)
	if err != nil {
		return c.reject("unstake_booster", err)
	}
	if err := tx.UnstakeBooster(account); err != nil {
		return c.reject("unstake_booster", err)
	}

	tx.record("unstake_booster", accountID, struct {
		AccountID string `json:"account_id"`
	}{accountID})
	c.commit(tx)
	if c.metrics != nil {
		c.metrics.BoosterUpdates.Inc()
	}
	c.observe("unstake_booster", start)
	return nil
}

// ClaimAllRewards settles every farm the account participates in.
func (c *Core) ClaimAllRewards(accountID string, nowMs int64) error {
	start := time.Now()
	tx := c.Begin(nowMs)
	account, err := tx.Account(accountID)
	if err != nil {
		return c.reject("claim_all", err)
	}
	if err := tx.ClaimAll(account); err != nil {
		return c.reject("claim_all", err)
	}

	tx.record("claim_all", accountID, struct {
		AccountID string `json:"account_id"`
	}{accountID})
	c.commit(tx)
	c.observe("claim_all", start)
	return nil
}

func (c *Core) reject(callType string, err error) error {
	if c.metrics != nil {
		c.metrics.CallsRejected.WithLabelValues(callType, "error").Inc()
	}
	c.logger.Debug().Str("call", callType).Err(err).Msg("call rejected")
	return err
}

func (c *Core) observe(callType string, start time.Time) {
	if c.metrics != nil {
		c.metrics.CallsApplied.WithLabelValues(callType).Inc()
		c.metrics.CallDuration.WithLabelValues(callType).Observe(time.Since(start).Seconds())
	}
}
