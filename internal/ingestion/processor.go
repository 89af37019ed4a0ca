package ingestion

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/NearDeFi/burrowland/internal/core"
	"github.com/NearDeFi/burrowland/internal/event"
	"github.com/NearDeFi/burrowland/internal/observability"
	"github.com/NearDeFi/burrowland/internal/transfer"
)

// Processor is the single loop that drives the core. All state mutation
// funnels through here, so the core itself never needs locking.
type Processor struct {
	core      *core.Core
	transfers *transfer.Manager
	dedup     *Deduplicator
	msgChan   <-chan RawMessage
	publisher *OutboundPublisher

	// Identity the oracle bridge publishes under; the core compares it
	// against its configured oracle account.
	oracleSenderID string

	// Read closures from the query layer, interleaved between calls so
	// views observe committed state without locks.
	viewChan chan func()

	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewProcessor(
	c *core.Core,
	transfers *transfer.Manager,
	dedup *Deduplicator,
	msgChan <-chan RawMessage,
	publisher *OutboundPublisher,
	oracleSenderID string,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Processor {
	return &Processor{
		core:           c,
		transfers:      transfers,
		dedup:          dedup,
		msgChan:        msgChan,
		publisher:      publisher,
		oracleSenderID: oracleSenderID,
		viewChan:       make(chan func(), 64),
		logger:         logger,
		metrics:        metrics,
	}
}

// Do runs f on the processor goroutine and waits for it to finish. Views
// submitted while a call is in flight run right after it commits.
func (p *Processor) Do(ctx context.Context, f func()) error {
	done := make(chan struct{})
	wrapped := func() {
		f()
		close(done)
	}
	select {
	case p.viewChan <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunCall executes a state-changing call on the processor goroutine and
// gives it the same follow-up a NATS-delivered call gets: outgoing transfer
// intents are opened and the committed call is announced. Used by the API
// surface for account and admin operations.
func (p *Processor) RunCall(ctx context.Context, callType, accountID string, nowMs int64, f func() ([]core.OutgoingTransfer, error)) error {
	var callErr error
	err := p.Do(ctx, func() {
		outgoing, err := f()
		if err != nil {
			callErr = err
			return
		}
		p.afterCall(ctx, callType, accountID, outgoing, nowMs)
	})
	if err != nil {
		return err
	}
	return callErr
}

// Run drains the message channel until the context is cancelled or the
// channel closes.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case view := <-p.viewChan:
			view()
		case raw, ok := <-p.msgChan:
			if !ok {
				return nil
			}
			p.handle(ctx, raw)
		}
	}
}

func (p *Processor) handle(ctx context.Context, raw RawMessage) {
	if p.metrics != nil {
		p.metrics.IngestMessages.WithLabelValues(raw.Subject).Inc()
		p.metrics.IngestPullLatency.WithLabelValues(raw.Subject).Observe(time.Since(raw.Received).Seconds())
	}

	msg, err := ParseRawMessage(raw)
	if err != nil {
		// Malformed messages will never parse on redelivery either.
		if p.metrics != nil {
			p.metrics.IngestParseErrors.WithLabelValues(raw.Subject).Inc()
		}
		p.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable message")
		raw.AckFunc()
		return
	}

	env := msg.Envelope
	if p.dedup.IsDuplicate(raw.Subject, env.MessageID) {
		raw.AckFunc()
		return
	}

	if err := p.dispatch(ctx, msg); err != nil {
		// A rejected call is deterministic: redelivery would reject again.
		p.logger.Warn().
			Err(err).
			Str("subject", raw.Subject).
			Str("message_id", env.MessageID).
			Str("kind", env.Kind).
			Msg("call rejected")
	}

	p.dedup.MarkProcessed(ctx, raw.Subject, env.MessageID)
	raw.AckFunc()
}

func (p *Processor) dispatch(ctx context.Context, msg *InboundMessage) error {
	env := msg.Envelope
	switch env.Kind {
	case event.KindTokenTransfer:
		outgoing, err := p.core.HandleTokenTransfer(msg.TokenTransfer)
		if err != nil {
			return err
		}
		p.afterCall(ctx, "token_transfer", msg.TokenTransfer.SenderID, outgoing, msg.TokenTransfer.TimestampMs)
		return nil

	case event.KindOracleCall:
		outgoing, err := p.core.HandleOracleCall(p.oracleSenderID, msg.OracleCall, env.TimestampMs)
		if err != nil {
			return err
		}
		p.afterCall(ctx, "oracle_call", msg.OracleCall.SenderID, outgoing, env.TimestampMs)
		return nil

	case event.KindTransferResult:
		return p.transfers.Resolve(ctx, msg.TransferResult)
	}
	return nil
}

// afterCall opens withdrawal intents and publishes the committed-call
// notification. Both are best-effort relative to the committed core state;
// failures are logged, never unwound.
func (p *Processor) afterCall(ctx context.Context, callType, accountID string, outgoing []core.OutgoingTransfer, nowMs int64) {
	if len(outgoing) > 0 {
		if err := p.transfers.Open(ctx, outgoing, nowMs); err != nil {
			p.logger.Error().Err(err).Str("call", callType).Msg("failed to open transfer intents")
		}
	}
	if p.publisher != nil {
		p.publisher.Notify(PublishableCall{
			Sequence:    p.core.Sequence() - 1,
			CallType:    callType,
			AccountID:   accountID,
			TimestampMs: nowMs,
		})
	}
}
