package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Investor is a limited partner. Immutable once a commitment references it.
type Investor struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Commitment is an investor's pledge to the fund and its allocation weight.
type Commitment struct {
	ID              uuid.UUID
	InvestorID      uuid.UUID
	InvestorName    string // joined from the investor on read
	CommittedAmount decimal.Decimal
	CreatedAt       time.Time
}

// Entry is a single cash movement for one commitment.
type Entry struct {
	ID           uuid.UUID
	BatchID      uuid.UUID
	CommitmentID uuid.UUID
	Code         TransactionCode
	Amount       decimal.Decimal // ALWAYS positive, direction from Code
}

// Batch is a named group of entries drafted from one engine run.
type Batch struct {
	ID             uuid.UUID
	BatchDate      time.Time
	Description    string
	Category       Category
	Status         Status
	IdempotencyKey string
	Total          decimal.Decimal // Σ entry amounts
	Checksum       string          // hex SHA-256 over the entries, set at draft time
	EntryCount     int
	CreatedAt      time.Time
	PostedAt       *time.Time
	Entries        []Entry // nil on list reads
}

// PostedEntry is an entry joined with its parent batch.
type PostedEntry struct {
	Entry
	BatchStatus      Status
	BatchDate        time.Time
	BatchDescription string
	Category         Category
}

// Validate ensures the batch is well-formed: non-empty, every entry positive,
// owned by this batch, carrying a code the category allows, and summing to Total.
func (b *Batch) Validate() error {
	if b.ID == uuid.Nil {
		return fmt.Errorf("%w: batch id is nil", ErrInvalidBatch)
	}
	if strings.TrimSpace(b.Description) == "" {
		return fmt.Errorf("%w: batch %s has no description", ErrInvalidBatch, b.ID)
	}
	if _, err := ParseCategory(string(b.Category)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBatch, err)
	}
	if len(b.Entries) == 0 {
		return fmt.Errorf("%w: batch %s is empty", ErrInvalidBatch, b.ID)
	}

	sum := decimal.Zero
	seen := make(map[uuid.UUID]struct{}, len(b.Entries))
	for _, e := range b.Entries {
		if !e.Amount.IsPositive() {
			return fmt.Errorf("%w: entry %s has non-positive amount %s", ErrInvalidBatch, e.ID, e.Amount)
		}
		if e.BatchID != b.ID {
			return fmt.Errorf("%w: entry %s has mismatched batch_id", ErrInvalidBatch, e.ID)
		}
		if !e.Code.Valid() {
			return fmt.Errorf("%w: entry %s: %q", ErrUnknownTransactionCode, e.ID, e.Code)
		}
		if !b.Category.Allows(e.Code) {
			return fmt.Errorf("%w: code %s not allowed in %s batch", ErrInvalidBatch, e.Code, b.Category)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("%w: duplicate entry id %s", ErrInvalidBatch, e.ID)
		}
		seen[e.ID] = struct{}{}
		sum = sum.Add(e.Amount)
	}

	if !sum.Equal(b.Total) {
		return fmt.Errorf("%w: entries sum to %s, batch total is %s", ErrInvalidBatch, sum, b.Total)
	}
	return nil
}

// IsDraft reports whether the batch can still be posted or deleted.
func (b *Batch) IsDraft() bool {
	return b.Status == StatusDraft
}
