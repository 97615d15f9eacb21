package event

import (
	"fmt"
	"strings"
	"time"

	"FundLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType discriminator for batch lifecycle events
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeBatchDrafted
	EventTypeBatchPosted
	EventTypeBatchDeleted
)

func (et EventType) String() string {
	switch et {
	case EventTypeBatchDrafted:
		return "BatchDrafted"
	case EventTypeBatchPosted:
		return "BatchPosted"
	case EventTypeBatchDeleted:
		return "BatchDeleted"
	default:
		return "Unknown"
	}
}

// subjectToken is the lower-case verb used in subjects and topics.
func (et EventType) subjectToken() string {
	switch et {
	case EventTypeBatchDrafted:
		return "drafted"
	case EventTypeBatchPosted:
		return "posted"
	case EventTypeBatchDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

func (et EventType) MarshalText() ([]byte, error) {
	return []byte(et.String()), nil
}

func (et *EventType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "BatchDrafted":
		*et = EventTypeBatchDrafted
	case "BatchPosted":
		*et = EventTypeBatchPosted
	case "BatchDeleted":
		*et = EventTypeBatchDeleted
	default:
		return fmt.Errorf("unknown event type %q", b)
	}
	return nil
}

// Event is the interface all outbound payloads implement
type Event interface {
	// IdempotencyKey returns a stable dedup key for downstream consumers
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType
}

// BatchEvent reports a ledger batch lifecycle transition.
type BatchEvent struct {
	EventID     uuid.UUID       `json:"event_id"`
	Type        EventType       `json:"event_type"`
	BatchID     uuid.UUID       `json:"batch_id"`
	Category    ledger.Category `json:"category"`
	Status      ledger.Status   `json:"status"`
	BatchDate   string          `json:"batch_date"` // YYYY-MM-DD
	Description string          `json:"description"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	EntryCount  int             `json:"entry_count"`
	RequestKey  string          `json:"idempotency_key,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// NewBatchEvent snapshots b for publication.
func NewBatchEvent(t EventType, b *ledger.Batch, currency string, at time.Time) BatchEvent {
	return BatchEvent{
		EventID:     uuid.New(),
		Type:        t,
		BatchID:     b.ID,
		Category:    b.Category,
		Status:      b.Status,
		BatchDate:   b.BatchDate.Format(time.DateOnly),
		Description: b.Description,
		Total:       b.Total,
		Currency:    currency,
		EntryCount:  b.EntryCount,
		RequestKey:  b.IdempotencyKey,
		OccurredAt:  at.UTC(),
	}
}

// IdempotencyKey is stable per batch and transition.
func (e BatchEvent) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s", e.BatchID, e.Type)
}

func (e BatchEvent) EventType() EventType {
	return e.Type
}

// Subject builds fund.ledger.batches.{drafted|posted|deleted}.{category}
func (e BatchEvent) Subject() string {
	return fmt.Sprintf("fund.ledger.batches.%s.%s", e.Type.subjectToken(), strings.ToLower(string(e.Category)))
}
