package event_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"FundLedger/internal/event"
	"FundLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func sampleBatch() *ledger.Batch {
	return &ledger.Batch{
		ID:          uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		BatchDate:   time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		Description: "Capital Call: $500,000.00",
		Category:    ledger.CategoryCapitalCall,
		Status:      ledger.StatusPosted,
		Total:       decimal.RequireFromString("500000.00"),
		EntryCount:  3,
	}
}

func TestBatchEvent_Subject(t *testing.T) {
	evt := event.NewBatchEvent(event.EventTypeBatchPosted, sampleBatch(), "USD", time.Now())
	want := "fund.ledger.batches.posted.capital_call"
	if got := evt.Subject(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBatchEvent_IdempotencyKey(t *testing.T) {
	evt := event.NewBatchEvent(event.EventTypeBatchDrafted, sampleBatch(), "USD", time.Now())
	if !strings.HasSuffix(evt.IdempotencyKey(), ":BatchDrafted") {
		t.Errorf("got %q", evt.IdempotencyKey())
	}
}

func TestBatchEvent_JSON(t *testing.T) {
	evt := event.NewBatchEvent(event.EventTypeBatchDeleted, sampleBatch(), "USD", time.Now())
	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["event_type"] != "BatchDeleted" {
		t.Errorf("event_type: got %v", raw["event_type"])
	}
	if raw["total"] != "500000" {
		t.Errorf("total should be decimal text, got %v (%T)", raw["total"], raw["total"])
	}
	if raw["batch_date"] != "2024-06-30" {
		t.Errorf("batch_date: got %v", raw["batch_date"])
	}

	var back event.BatchEvent
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Type != event.EventTypeBatchDeleted {
		t.Errorf("type: got %s", back.Type)
	}
}
