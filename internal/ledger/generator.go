package ledger

import (
	"fmt"
	"strings"
	"time"

	"FundLedger/internal/allocation"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Leg books one allocation proposal under a single transaction code.
type Leg struct {
	Code     TransactionCode
	Proposal *allocation.Proposal
}

// DraftRequest describes a batch to be drafted from engine output.
type DraftRequest struct {
	BatchDate      time.Time
	Description    string
	Category       Category
	IdempotencyKey string
	Legs           []Leg
}

// Total is the batch total the request would produce: the sum of leg
// magnitudes, since negative P&L legs are booked as positive amounts.
func (r DraftRequest) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, leg := range r.Legs {
		if leg.Proposal != nil {
			sum = sum.Add(leg.Proposal.Total().Abs())
		}
	}
	return sum
}

// DraftGenerator turns allocation proposals into DRAFT batches.
// Entries are only ever produced from a Proposal, never from caller-supplied rows.
type DraftGenerator struct {
	now   func() time.Time
	newID func() uuid.UUID
}

func NewDraftGenerator() *DraftGenerator {
	return &DraftGenerator{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.New,
	}
}

// NewDraftGeneratorWithClock is used by tests that need stable timestamps.
func NewDraftGeneratorWithClock(now func() time.Time) *DraftGenerator {
	g := NewDraftGenerator()
	g.now = now
	return g
}

// Generate builds a DRAFT batch with one entry per non-zero share.
//
// A leg whose proposal total is negative is booked under the opposing P&L
// code (income becomes expense, gain becomes loss) with positive magnitudes.
// Codes without an opposite reject a negative total.
func (g *DraftGenerator) Generate(req DraftRequest) (*Batch, error) {
	if len(req.Legs) == 0 {
		return nil, fmt.Errorf("%w: draft has no legs", ErrInvalidBatch)
	}
	if req.BatchDate.IsZero() {
		return nil, fmt.Errorf("%w: batch date is required", ErrInvalidBatch)
	}

	batchID := g.newID()
	batch := &Batch{
		ID:             batchID,
		BatchDate:      DateOf(req.BatchDate),
		Description:    strings.TrimSpace(req.Description),
		Category:       req.Category,
		Status:         StatusDraft,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
		Total:          decimal.Zero,
		CreatedAt:      g.now(),
	}

	for _, leg := range req.Legs {
		if leg.Proposal == nil {
			return nil, fmt.Errorf("%w: leg %s has no proposal", ErrInvalidBatch, leg.Code)
		}
		if !leg.Code.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTransactionCode, leg.Code)
		}

		code := leg.Code
		if leg.Proposal.Total().IsNegative() {
			opposite, ok := code.Opposite()
			if !ok {
				return nil, fmt.Errorf("%w: %s cannot carry negative total %s", ErrInvalidBatch, code, leg.Proposal.Total())
			}
			code = opposite
		}

		for _, share := range leg.Proposal.Shares() {
			if share.Amount.IsZero() {
				continue
			}
			commitmentID, err := uuid.Parse(share.ParticipantID)
			if err != nil {
				return nil, fmt.Errorf("%w: participant %q is not a commitment id", ErrInvalidBatch, share.ParticipantID)
			}
			amount := share.Amount.Abs()
			batch.Entries = append(batch.Entries, Entry{
				ID:           g.newID(),
				BatchID:      batchID,
				CommitmentID: commitmentID,
				Code:         code,
				Amount:       amount,
			})
			batch.Total = batch.Total.Add(amount)
		}
	}

	batch.EntryCount = len(batch.Entries)
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	return batch, nil
}

// DateOf normalises t to midnight UTC of its calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
