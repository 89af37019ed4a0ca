package event

import (
	"encoding/json"
	"fmt"
)

// Message kinds carried on the inbound subjects.
const (
	KindTokenTransfer  = "token_transfer"
	KindOracleCall     = "oracle_call"
	KindTransferResult = "transfer_result"
)

// Envelope wraps every inbound message. MessageID is the upstream producer's
// stable identifier and is the deduplication key; redeliveries carry the
// same ID.
type Envelope struct {
	MessageID   string          `json:"message_id"`
	Kind        string          `json:"kind"`
	TimestampMs int64           `json:"timestamp_ms"`
	Payload     json.RawMessage `json:"payload"`
}

// ParseEnvelope decodes and validates the outer envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if env.MessageID == "" {
		return nil, fmt.Errorf("envelope missing message_id")
	}
	switch env.Kind {
	case KindTokenTransfer, KindOracleCall, KindTransferResult:
	default:
		return nil, fmt.Errorf("envelope has unknown kind %q", env.Kind)
	}
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("envelope missing payload")
	}
	return &env, nil
}
