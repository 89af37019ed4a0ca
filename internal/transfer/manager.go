// Package transfer settles outbound token transfers. A withdrawal debits
// the ledger immediately and commits, so the tokens leaving the system is a
// separate, later event; this package bridges the two with transfer
// intents. An intent is opened when a call queues an outgoing amount,
// published for the token-side mover to act on, and resolved by a result
// callback: success closes it, failure credits the amount back through the
// core's compensation entrypoint. Resolution is idempotent: duplicate or
// unknown results are dropped, and the compensation credit itself is a
// plain deposit that is safe to apply even if the tokens never left.
package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/NearDeFi/burrowland/internal/core"
	"github.com/NearDeFi/burrowland/internal/event"
	"github.com/NearDeFi/burrowland/internal/observability"
)

// Intent is one pending outbound transfer.
type Intent struct {
	ID          string   `json:"intent_id"`
	AccountID   string   `json:"account_id"`
	TokenID     string   `json:"token_id"`
	Amount      *big.Int `json:"-"`
	OpenedAtMs  int64    `json:"opened_at_ms"`
}

type intentJSON struct {
	ID         string `json:"intent_id"`
	AccountID  string `json:"account_id"`
	TokenID    string `json:"token_id"`
	Amount     string `json:"amount"`
	OpenedAtMs int64  `json:"opened_at_ms"`
}

func (i Intent) MarshalJSON() ([]byte, error) {
	return json.Marshal(intentJSON{
		ID:         i.ID,
		AccountID:  i.AccountID,
		TokenID:    i.TokenID,
		Amount:     i.Amount.String(),
		OpenedAtMs: i.OpenedAtMs,
	})
}

func (i *Intent) UnmarshalJSON(data []byte) error {
	var j intentJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	amount, ok := new(big.Int).SetString(j.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return fmt.Errorf("transfer: invalid amount %q", j.Amount)
	}
	i.ID = j.ID
	i.AccountID = j.AccountID
	i.TokenID = j.TokenID
	i.Amount = amount
	i.OpenedAtMs = j.OpenedAtMs
	return nil
}

// IntentStore persists intents so pending transfers survive a restart.
type IntentStore interface {
	SaveIntent(ctx context.Context, intent Intent) error
	DeleteIntent(ctx context.Context, intentID string) error
	LoadIntents(ctx context.Context) ([]Intent, error)
}

// Manager owns the pending intent set. Like the core it is driven by the
// single ingestion loop and needs no locking.
type Manager struct {
	core    *core.Core
	js      jetstream.JetStream
	store   IntentStore
	pending map[string]Intent

	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewManager(c *core.Core, js jetstream.JetStream, store IntentStore, logger zerolog.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		core:    c,
		js:      js,
		store:   store,
		pending: make(map[string]Intent),
		logger:  logger,
		metrics: metrics,
	}
}

// Recover reloads pending intents after a restart.
func (m *Manager) Recover(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	intents, err := m.store.LoadIntents(ctx)
	if err != nil {
		return fmt.Errorf("load transfer intents: %w", err)
	}
	for _, intent := range intents {
		m.pending[intent.ID] = intent
	}
	m.logger.Info().Int("pending", len(m.pending)).Msg("transfer intents recovered")
	return nil
}

// Open creates and publishes intents for every transfer a committed call
// queued.
func (m *Manager) Open(ctx context.Context, outgoing []core.OutgoingTransfer, nowMs int64) error {
	for _, out := range outgoing {
		intent := Intent{
			ID:         uuid.NewString(),
			AccountID:  out.AccountID,
			TokenID:    out.TokenID,
			Amount:     out.Amount,
			OpenedAtMs: nowMs,
		}
		if m.store != nil {
			if err := m.store.SaveIntent(ctx, intent); err != nil {
				return fmt.Errorf("save transfer intent: %w", err)
			}
		}
		m.pending[intent.ID] = intent
		if err := m.publish(ctx, intent); err != nil {
			// The intent is durable; the token mover can also poll the
			// store, so a failed publish is not fatal.
			m.logger.Warn().Err(err).Str("intent_id", intent.ID).Msg("intent publish failed")
		}
		if m.metrics != nil {
			m.metrics.TransferIntentsOpened.Inc()
		}
	}
	return nil
}

// Resolve settles an intent from a result callback. Success drops the
// intent; failure credits the amount back first. Unknown intent IDs are
// ignored so redelivered results cannot double-compensate.
func (m *Manager) Resolve(ctx context.Context, result *event.TransferResult) error {
	intent, ok := m.pending[result.IntentID]
	if !ok {
		m.logger.Debug().Str("intent_id", result.IntentID).Msg("result for unknown intent dropped")
		return nil
	}

	if !result.Success {
		if err := m.core.CompensateWithdrawal(intent.AccountID, intent.TokenID, intent.Amount, result.TimestampMs); err != nil {
			return fmt.Errorf("compensate intent %s: %w", intent.ID, err)
		}
	}

	if m.store != nil {
		if err := m.store.DeleteIntent(ctx, intent.ID); err != nil {
			return fmt.Errorf("delete transfer intent: %w", err)
		}
	}
	delete(m.pending, intent.ID)

	if m.metrics != nil {
		outcome := "success"
		if !result.Success {
			outcome = "compensated"
		}
		m.metrics.TransferIntentsResolved.WithLabelValues(outcome).Inc()
	}
	return nil
}

// Pending returns the number of unresolved intents.
func (m *Manager) Pending() int { return len(m.pending) }

func (m *Manager) publish(ctx context.Context, intent Intent) error {
	if m.js == nil {
		return nil
	}
	data, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("burrow.transfers.outgoing.%s", intent.TokenID)
	_, err = m.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the stream carrying outbound transfer
// intents.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "BURROW_TRANSFERS",
		Subjects:  []string{"burrow.transfers.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create transfers stream: %w", err)
	}
	return nil
}
