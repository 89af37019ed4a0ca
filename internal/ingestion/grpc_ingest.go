package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/NearDeFi/burrowland/internal/event"
	"github.com/NearDeFi/burrowland/internal/oracle"
)

// Injector provides admin/manual message injection through the gRPC
// surface. It is for operations and backfill, not for high-throughput
// ingestion; production traffic arrives over NATS.
type Injector struct {
	msgChan chan<- RawMessage
}

func NewInjector(msgChan chan<- RawMessage) *Injector {
	return &Injector{msgChan: msgChan}
}

// InjectTokenTransfer manually injects a token deposit.
func (s *Injector) InjectTokenTransfer(
	ctx context.Context,
	tokenID, senderID string,
	amount *big.Int,
	msg string,
) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	nowMs := time.Now().UnixMilli()
	return s.inject(ctx, event.KindTokenTransfer, "burrow.deposits.injected", nowMs, event.TokenTransfer{
		TokenID:     tokenID,
		SenderID:    senderID,
		Amount:      amount,
		Msg:         msg,
		TimestampMs: nowMs,
	})
}

// InjectOracleCall manually injects a price delivery with an action batch.
func (s *Injector) InjectOracleCall(
	ctx context.Context,
	senderID string,
	priceData *oracle.PriceData,
	msg string,
) error {
	if priceData == nil {
		return fmt.Errorf("price data is required")
	}

	return s.inject(ctx, event.KindOracleCall, "burrow.oracle.injected", time.Now().UnixMilli(), event.OracleCall{
		SenderID:  senderID,
		PriceData: priceData,
		Msg:       msg,
	})
}

// InjectTransferResult manually resolves an outbound transfer intent.
// Useful when the token mover is down and an operator has confirmed the
// transfer outcome by hand.
func (s *Injector) InjectTransferResult(
	ctx context.Context,
	intentID string,
	success bool,
) error {
	if intentID == "" {
		return fmt.Errorf("intent_id is required")
	}

	nowMs := time.Now().UnixMilli()
	return s.inject(ctx, event.KindTransferResult, "burrow.transfers.results.injected", nowMs, event.TransferResult{
		IntentID:    intentID,
		Success:     success,
		TimestampMs: nowMs,
	})
}

func (s *Injector) inject(ctx context.Context, kind, subject string, nowMs int64, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	data, err := json.Marshal(event.Envelope{
		MessageID:   uuid.NewString(),
		Kind:        kind,
		TimestampMs: nowMs,
		Payload:     body,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	raw := RawMessage{
		Subject:  subject,
		Data:     data,
		Received: time.Now(),
		AckFunc:  func() {},
		NakFunc:  func() {},
	}

	select {
	case s.msgChan <- raw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
