package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/NearDeFi/burrowland/internal/event"
)

// InboundMessage is a fully decoded inbound message. Exactly one of the
// payload fields is set, matching the envelope kind.
type InboundMessage struct {
	Envelope       *event.Envelope
	TokenTransfer  *event.TokenTransfer
	OracleCall     *event.OracleCall
	TransferResult *event.TransferResult
}

// ParseRawMessage decodes the envelope and its kind-specific payload.
// Field names use snake_case to match upstream producers.
func ParseRawMessage(raw RawMessage) (*InboundMessage, error) {
	env, err := event.ParseEnvelope(raw.Data)
	if err != nil {
		return nil, err
	}

	msg := &InboundMessage{Envelope: env}
	switch env.Kind {
	case event.KindTokenTransfer:
		msg.TokenTransfer, err = parseTokenTransfer(env.Payload)
	case event.KindOracleCall:
		msg.OracleCall, err = parseOracleCall(env.Payload)
	case event.KindTransferResult:
		msg.TransferResult, err = parseTransferResult(env.Payload)
	default:
		err = fmt.Errorf("unknown message kind %q", env.Kind)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func parseTokenTransfer(data []byte) (*event.TokenTransfer, error) {
	var t event.TokenTransfer
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	if t.TokenID == "" {
		return nil, fmt.Errorf("token transfer missing token_id")
	}
	if t.SenderID == "" {
		return nil, fmt.Errorf("token transfer missing sender_id")
	}
	if t.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("token transfer amount must be positive")
	}
	if t.TimestampMs <= 0 {
		return nil, fmt.Errorf("token transfer missing timestamp_ms")
	}
	return &t, nil
}

func parseOracleCall(data []byte) (*event.OracleCall, error) {
	var c event.OracleCall
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse OracleCall: %w", err)
	}
	if c.SenderID == "" {
		return nil, fmt.Errorf("oracle call missing sender_id")
	}
	if c.PriceData == nil {
		return nil, fmt.Errorf("oracle call missing price_data")
	}
	if c.Msg == "" {
		return nil, fmt.Errorf("oracle call missing msg")
	}
	return &c, nil
}

func parseTransferResult(data []byte) (*event.TransferResult, error) {
	var r event.TransferResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse TransferResult: %w", err)
	}
	if r.IntentID == "" {
		return nil, fmt.Errorf("transfer result missing intent_id")
	}
	return &r, nil
}
