package event

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/NearDeFi/burrowland/internal/oracle"
)

// TokenTransferMsg is the message attached to an inbound fungible-token
// transfer. Exactly one variant is set.
type TokenTransferMsg struct {
	// Execute runs the given actions after crediting the deposit. The
	// actions that can run here are limited to the set that needs no
	// pricing; price-gated actions must arrive through the oracle callback.
	Execute *ExecuteMsg `json:"execute,omitempty"`
	// DepositToReserve credits the asset's reserve instead of the sender.
	DepositToReserve bool `json:"deposit_to_reserve,omitempty"`
}

type ExecuteMsg struct {
	Actions []Action `json:"actions"`
}

// TokenTransfer is an inbound deposit: the token contract notifies the
// ledger that sender transferred amount of token.
type TokenTransfer struct {
	TokenID     string   `json:"token_id"`
	SenderID    string   `json:"sender_id"`
	Amount      *big.Int `json:"-"`
	Msg         string   `json:"msg"`
	TimestampMs int64    `json:"timestamp_ms"`
}

func (t TokenTransfer) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TokenID     string `json:"token_id"`
		SenderID    string `json:"sender_id"`
		Amount      string `json:"amount"`
		Msg         string `json:"msg"`
		TimestampMs int64  `json:"timestamp_ms"`
	}{t.TokenID, t.SenderID, t.Amount.String(), t.Msg, t.TimestampMs})
}

func (t *TokenTransfer) UnmarshalJSON(data []byte) error {
	var raw struct {
		TokenID     string `json:"token_id"`
		SenderID    string `json:"sender_id"`
		Amount      string `json:"amount"`
		Msg         string `json:"msg"`
		TimestampMs int64  `json:"timestamp_ms"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse TokenTransfer: %w", err)
	}
	amount, err := parseBalance(raw.Amount)
	if err != nil {
		return err
	}
	t.TokenID = raw.TokenID
	t.SenderID = raw.SenderID
	t.Amount = amount
	t.Msg = raw.Msg
	t.TimestampMs = raw.TimestampMs
	return nil
}

// ParseTransferMsg decodes the msg string of a token transfer. An empty msg
// is a plain deposit.
func ParseTransferMsg(msg string) (*TokenTransferMsg, error) {
	if msg == "" {
		return &TokenTransferMsg{}, nil
	}
	var m TokenTransferMsg
	if err := json.Unmarshal([]byte(msg), &m); err != nil {
		return nil, fmt.Errorf("parse TokenTransferMsg: %w", err)
	}
	if m.Execute != nil && m.DepositToReserve {
		return nil, fmt.Errorf("TokenTransferMsg sets both execute and deposit_to_reserve")
	}
	return &m, nil
}

// OracleCall is the oracle's price delivery with the embedded action batch to
// run under that snapshot, on behalf of SenderID.
type OracleCall struct {
	SenderID  string            `json:"sender_id"`
	PriceData *oracle.PriceData `json:"price_data"`
	Msg       string            `json:"msg"`
}

// ParseOracleMsg decodes the action batch embedded in an oracle callback.
func ParseOracleMsg(msg string) ([]Action, error) {
	var m ExecuteMsg
	if err := json.Unmarshal([]byte(msg), &m); err != nil {
		return nil, fmt.Errorf("parse oracle msg: %w", err)
	}
	return m.Actions, nil
}

// TransferResult is the settlement callback for an outbound transfer
// intent: success confirms the tokens left, failure triggers the
// compensation path.
type TransferResult struct {
	IntentID    string `json:"intent_id"`
	Success     bool   `json:"success"`
	TimestampMs int64  `json:"timestamp_ms"`
}
