package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BatchFilter narrows ListBatches. Zero values match everything.
type BatchFilter struct {
	Statuses   []Status
	Categories []Category
}

// IdempotencyRecord pairs a client idempotency key with the batch it created.
type IdempotencyRecord struct {
	Key     string
	BatchID uuid.UUID
}

// Store is the persistence collaborator of the ledger.
//
// InsertBatchWithEntries and DeleteDraftBatch are all-or-nothing: readers
// never observe a batch with a subset of its entries. UpdateBatchStatus is a
// compare-and-set on the current status.
type Store interface {
	CreateInvestor(ctx context.Context, inv *Investor) error
	GetInvestor(ctx context.Context, id uuid.UUID) (*Investor, error)
	CreateCommitment(ctx context.Context, c *Commitment) error
	GetCommitment(ctx context.Context, id uuid.UUID) (*Commitment, error)
	ListCommitments(ctx context.Context) ([]Commitment, error)

	InsertBatchWithEntries(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error)
	FindBatchByIdempotencyKey(ctx context.Context, key string) (*Batch, error)
	RecentIdempotencyKeys(ctx context.Context, limit int) ([]IdempotencyRecord, error)
	UpdateBatchStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) error
	DeleteDraftBatch(ctx context.Context, id uuid.UUID) error
	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error)
	ListEntries(ctx context.Context, batchID uuid.UUID) ([]Entry, error)
	ListPostedEntriesForCommitment(ctx context.Context, commitmentID uuid.UUID) ([]PostedEntry, error)

	Ping(ctx context.Context) error
}

// Matches reports whether b passes the filter.
func (f BatchFilter) Matches(b *Batch) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if b.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Categories) > 0 {
		ok := false
		for _, c := range f.Categories {
			if b.Category == c {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
