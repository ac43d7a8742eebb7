package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"TroveLedger/internal/event"
	"TroveLedger/internal/ingestion"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseTroveOpen(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"owner":        "660e8400-e29b-41d4-a716-446655440001",
		"coll":         "2000000000000000000",
		"debt":         "100000000000000000000",
		"sequence":     int64(42),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "TroveOpen")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	op, ok := evt.(*event.TroveOpen)
	if !ok {
		t.Fatalf("expected *event.TroveOpen, got %T", evt)
	}

	if op.Coll != "2000000000000000000" {
		t.Errorf("coll: got %s", op.Coll)
	}
	if op.Debt != "100000000000000000000" {
		t.Errorf("debt: got %s", op.Debt)
	}
	if op.Sequence != 42 {
		t.Errorf("sequence: got %d, want 42", op.Sequence)
	}
	if op.EventType() != event.EventTypeTroveOpen {
		t.Errorf("event type: got %v, want TroveOpen", op.EventType())
	}
	if op.IdempotencyKey() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("idempotency key: got %s", op.IdempotencyKey())
	}
}

func TestParseTroveAdjust(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":    "550e8400-e29b-41d4-a716-446655440000",
		"owner":         "660e8400-e29b-41d4-a716-446655440001",
		"coll_change":   "500000000000000000",
		"coll_increase": true,
		"debt_change":   "10000000000000000000",
		"debt_increase": false,
		"sequence":      int64(7),
		"timestamp_us":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "TroveAdjust")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	adj, ok := evt.(*event.TroveAdjust)
	if !ok {
		t.Fatalf("expected *event.TroveAdjust, got %T", evt)
	}

	if !adj.CollIncrease {
		t.Error("coll_increase: got false, want true")
	}
	if adj.DebtIncrease {
		t.Error("debt_increase: got true, want false")
	}
	if adj.CollChange != "500000000000000000" {
		t.Errorf("coll_change: got %s", adj.CollChange)
	}
}

func TestParseTroveClose(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"owner":        "660e8400-e29b-41d4-a716-446655440001",
		"sequence":     int64(3),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "TroveClose")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	cl, ok := evt.(*event.TroveClose)
	if !ok {
		t.Fatalf("expected *event.TroveClose, got %T", evt)
	}
	if cl.EventType() != event.EventTypeTroveClose {
		t.Errorf("event type: got %v, want TroveClose", cl.EventType())
	}
}

func TestParseCollPriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"source":         "oracle-chainlink",
		"price":          "3200000000000000000000",
		"price_sequence": int64(100),
		"timestamp_us":   int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "CollPriceUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pu, ok := evt.(*event.CollPriceUpdate)
	if !ok {
		t.Fatalf("expected *event.CollPriceUpdate, got %T", evt)
	}

	if pu.Source != "oracle-chainlink" {
		t.Errorf("source: got %s", pu.Source)
	}
	if pu.PriceSequence != 100 {
		t.Errorf("price_sequence: got %d, want 100", pu.PriceSequence)
	}
	if pu.IdempotencyKey() != "oracle-chainlink:100" {
		t.Errorf("idempotency key: got %s", pu.IdempotencyKey())
	}
}

func TestParseUnknownEventType_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{}`)}
	_, err := ingestion.ParseRawEvent(raw, "NonExistentType")
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseRawEvent(raw, "TroveOpen")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "not-a-uuid",
		"owner":        "also-not-a-uuid",
		"coll":         "1",
		"debt":         "1",
		"sequence":     int64(0),
		"timestamp_us": int64(0),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawEvent(raw, "TroveOpen")
	if err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}

func TestParseBadAmount_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"owner":        "660e8400-e29b-41d4-a716-446655440001",
		"coll":         "2.5e18",
		"debt":         "100",
		"sequence":     int64(0),
		"timestamp_us": int64(0),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "TroveOpen"); err == nil {
		t.Fatal("expected error for non-decimal amount")
	}
}

func TestParsePriceRequiresSource(t *testing.T) {
	payload := map[string]interface{}{
		"source":         "",
		"price":          "100",
		"price_sequence": int64(1),
		"timestamp_us":   int64(0),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "CollPriceUpdate"); err == nil {
		t.Fatal("expected error for empty source")
	}
}
