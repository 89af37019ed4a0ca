package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/NearDeFi/burrowland/internal/event"
	"github.com/NearDeFi/burrowland/internal/ingestion"
)

func rawFromEnvelope(t *testing.T, messageID, kind string, payload interface{}) ingestion.RawMessage {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	data, err := json.Marshal(event.Envelope{
		MessageID:   messageID,
		Kind:        kind,
		TimestampMs: 1700000000000,
		Payload:     body,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return ingestion.RawMessage{
		Subject:  "test",
		Data:     data,
		Received: time.Now(),
		AckFunc:  func() {},
		NakFunc:  func() {},
	}
}

func TestParseTokenTransfer(t *testing.T) {
	payload := map[string]interface{}{
		"token_id":     "usdc.token",
		"sender_id":    "alice.near",
		"amount":       "1000000000",
		"msg":          "",
		"timestamp_ms": int64(1700000000000),
	}

	raw := rawFromEnvelope(t, "msg-1", event.KindTokenTransfer, payload)
	msg, err := ingestion.ParseRawMessage(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	tt := msg.TokenTransfer
	if tt == nil {
		t.Fatal("expected token transfer payload")
	}
	if tt.TokenID != "usdc.token" {
		t.Errorf("token_id: got %s, want usdc.token", tt.TokenID)
	}
	if tt.SenderID != "alice.near" {
		t.Errorf("sender_id: got %s, want alice.near", tt.SenderID)
	}
	if tt.Amount.String() != "1000000000" {
		t.Errorf("amount: got %s, want 1000000000", tt.Amount)
	}
	if msg.Envelope.MessageID != "msg-1" {
		t.Errorf("message_id: got %s, want msg-1", msg.Envelope.MessageID)
	}
}

func TestParseTokenTransferWithExecuteMsg(t *testing.T) {
	payload := map[string]interface{}{
		"token_id":     "usdc.token",
		"sender_id":    "alice.near",
		"amount":       "5000",
		"msg":          `{"execute":{"actions":[{"kind":"IncreaseCollateral","asset_amount":{"token_id":"usdc.token"}}]}}`,
		"timestamp_ms": int64(1700000000000),
	}

	raw := rawFromEnvelope(t, "msg-2", event.KindTokenTransfer, payload)
	msg, err := ingestion.ParseRawMessage(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	parsed, err := event.ParseTransferMsg(msg.TokenTransfer.Msg)
	if err != nil {
		t.Fatalf("parse inner msg: %v", err)
	}
	if parsed.Execute == nil {
		t.Fatal("expected execute variant")
	}
	if got := len(parsed.Execute.Actions); got != 1 {
		t.Fatalf("actions: got %d, want 1", got)
	}
}

func TestParseOracleCall(t *testing.T) {
	payload := map[string]interface{}{
		"sender_id": "alice.near",
		"price_data": map[string]interface{}{
			"timestamp_ms":         int64(1700000000000),
			"recency_duration_sec": int64(90),
			"prices": []map[string]interface{}{
				{"asset_id": "usdc.token", "price": map[string]interface{}{"multiplier": "10000", "decimals": 10}},
				{"asset_id": "wnear.token"},
			},
		},
		"msg": `{"actions":[{"kind":"Borrow","asset_amount":{"token_id":"usdc.token","amount":"100"}}]}`,
	}

	raw := rawFromEnvelope(t, "msg-3", event.KindOracleCall, payload)
	msg, err := ingestion.ParseRawMessage(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	oc := msg.OracleCall
	if oc == nil {
		t.Fatal("expected oracle call payload")
	}
	if oc.SenderID != "alice.near" {
		t.Errorf("sender_id: got %s, want alice.near", oc.SenderID)
	}
	if got := len(oc.PriceData.Prices); got != 2 {
		t.Fatalf("prices: got %d entries, want 2", got)
	}
	if oc.PriceData.Prices[0].Price.Multiplier.String() != "10000" {
		t.Errorf("multiplier: got %s, want 10000", oc.PriceData.Prices[0].Price.Multiplier)
	}
	if oc.PriceData.Prices[1].Price != nil {
		t.Error("expected absent price for wnear.token")
	}
}

func TestParseTransferResult(t *testing.T) {
	payload := map[string]interface{}{
		"intent_id":    "550e8400-e29b-41d4-a716-446655440000",
		"success":      false,
		"timestamp_ms": int64(1700000001000),
	}

	raw := rawFromEnvelope(t, "msg-4", event.KindTransferResult, payload)
	msg, err := ingestion.ParseRawMessage(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	tr := msg.TransferResult
	if tr == nil {
		t.Fatal("expected transfer result payload")
	}
	if tr.IntentID != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("intent_id: got %s", tr.IntentID)
	}
	if tr.Success {
		t.Error("success: got true, want false")
	}
}

func TestParseMissingMessageID_Fails(t *testing.T) {
	raw := rawFromEnvelope(t, "", event.KindTransferResult, map[string]interface{}{
		"intent_id": "x",
	})
	if _, err := ingestion.ParseRawMessage(raw); err == nil {
		t.Fatal("expected error for missing message_id")
	}
}

func TestParseUnknownKind_Fails(t *testing.T) {
	raw := rawFromEnvelope(t, "msg-5", event.KindTokenTransfer, map[string]interface{}{})
	var env event.Envelope
	if err := json.Unmarshal(raw.Data, &env); err != nil {
		t.Fatal(err)
	}
	env.Kind = "token_burn"
	data, _ := json.Marshal(env)
	raw.Data = data

	if _, err := ingestion.ParseRawMessage(raw); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawMessage{Data: []byte(`{invalid json`)}
	if _, err := ingestion.ParseRawMessage(raw); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseZeroAmountTransfer_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"token_id":     "usdc.token",
		"sender_id":    "alice.near",
		"amount":       "0",
		"timestamp_ms": int64(1700000000000),
	}
	raw := rawFromEnvelope(t, "msg-6", event.KindTokenTransfer, payload)
	if _, err := ingestion.ParseRawMessage(raw); err == nil {
		t.Fatal("expected error for zero amount")
	}
}
