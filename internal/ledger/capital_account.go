package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountSnapshot is a fund-to-date capital account roll-forward for one commitment.
// BeginningBalance is always zero: there is no prior-period carryforward.
type AccountSnapshot struct {
	CommitmentID     uuid.UUID
	CommittedAmount  decimal.Decimal
	BeginningBalance decimal.Decimal
	Contributions    decimal.Decimal // CC-PRIN
	Additions        decimal.Decimal // INC-ORD, GAIN-RL
	Deductions       decimal.Decimal // EXP-GEN, LOSS-RL
	Distributions    decimal.Decimal // DIST-ROC, DIST-GAIN
	EndingBalance    decimal.Decimal
	UnfundedBalance  decimal.Decimal
	EntryCount       int
}

// RollForward folds the POSTED entries of one commitment into a snapshot.
// Entries from DRAFT batches are skipped. An unrecognised code fails the
// whole computation rather than being dropped.
func RollForward(c Commitment, entries []PostedEntry) (*AccountSnapshot, error) {
	snap := &AccountSnapshot{
		CommitmentID:     c.ID,
		CommittedAmount:  c.CommittedAmount,
		BeginningBalance: decimal.Zero,
		Contributions:    decimal.Zero,
		Additions:        decimal.Zero,
		Deductions:       decimal.Zero,
		Distributions:    decimal.Zero,
	}

	for _, e := range entries {
		if e.BatchStatus != StatusPosted {
			continue
		}
		if e.CommitmentID != c.ID {
			return nil, fmt.Errorf("entry %s belongs to commitment %s, not %s", e.ID, e.CommitmentID, c.ID)
		}

		switch e.Code {
		case CodeCapitalCall:
			snap.Contributions = snap.Contributions.Add(e.Amount)
		case CodeIncome, CodeRealizedGain:
			snap.Additions = snap.Additions.Add(e.Amount)
		case CodeExpense, CodeRealizedLoss:
			snap.Deductions = snap.Deductions.Add(e.Amount)
		case CodeReturnOfCapital, CodeDistributionGain:
			snap.Distributions = snap.Distributions.Add(e.Amount)
		default:
			return nil, fmt.Errorf("%w: entry %s has code %q", ErrUnknownTransactionCode, e.ID, e.Code)
		}
		snap.EntryCount++
	}

	snap.EndingBalance = snap.BeginningBalance.
		Add(snap.Contributions).
		Add(snap.Additions).
		Sub(snap.Deductions).
		Sub(snap.Distributions)
	snap.UnfundedBalance = c.CommittedAmount.Sub(snap.Contributions)

	return snap, nil
}

// SignedAmount returns the entry's contribution to an ending balance.
// Presentation only; stored amounts stay positive.
func SignedAmount(code TransactionCode, amount decimal.Decimal) decimal.Decimal {
	if code.Sign() < 0 {
		return amount.Neg()
	}
	return amount
}

// Add accumulates another snapshot into a fund-level total.
func (s *AccountSnapshot) Add(o *AccountSnapshot) {
	s.CommittedAmount = s.CommittedAmount.Add(o.CommittedAmount)
	s.BeginningBalance = s.BeginningBalance.Add(o.BeginningBalance)
	s.Contributions = s.Contributions.Add(o.Contributions)
	s.Additions = s.Additions.Add(o.Additions)
	s.Deductions = s.Deductions.Add(o.Deductions)
	s.Distributions = s.Distributions.Add(o.Distributions)
	s.EndingBalance = s.EndingBalance.Add(o.EndingBalance)
	s.UnfundedBalance = s.UnfundedBalance.Add(o.UnfundedBalance)
	s.EntryCount += o.EntryCount
}
