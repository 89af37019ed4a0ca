package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundPublisher announces committed calls to downstream consumers
// (indexers, notification services). Subjects follow the pattern
// burrow.ledger.calls.{call_type}. Announcements are best-effort: the call
// log in Postgres is the authoritative record, so a dropped announcement
// costs nothing but freshness.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan chan PublishableCall
	logger    zerolog.Logger
}

// PublishableCall is the outbound notification for one committed call.
type PublishableCall struct {
	Sequence    int64  `json:"sequence"`
	CallType    string `json:"call_type"`
	AccountID   string `json:"account_id"`
	TimestampMs int64  `json:"timestamp_ms"`
}

func NewOutboundPublisher(js jetstream.JetStream, bufferSize int, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: make(chan PublishableCall, bufferSize),
		logger:    logger,
	}
}

// Notify queues a call announcement. Never blocks the processor loop; a
// full buffer drops the announcement.
func (op *OutboundPublisher) Notify(call PublishableCall) {
	select {
	case op.inputChan <- call:
	default:
		op.logger.Warn().Int64("sequence", call.Sequence).Msg("outbound buffer full, dropping announcement")
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case call, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, call); err != nil {
				// Non-fatal: downstream consumers can read the call log.
				op.logger.Warn().Err(err).Int64("sequence", call.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, call PublishableCall) error {
	data, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("marshal call: %w", err)
	}

	subject := fmt.Sprintf("burrow.ledger.calls.%s", call.CallType)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureLedgerStream creates the outbound announcements stream.
func EnsureLedgerStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "BURROW_LEDGER",
		Subjects:  []string{"burrow.ledger.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create ledger stream: %w", err)
	}
	logger.Info().Str("stream", "BURROW_LEDGER").Msg("ensured stream")
	return nil
}
