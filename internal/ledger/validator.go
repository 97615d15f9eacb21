package ledger

import (
	"fmt"

	fmath "FundLedger/internal/math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvariantValidator checks ledger invariants at a fixed currency precision.
type InvariantValidator struct {
	precision fmath.Precision
}

func NewInvariantValidator(p fmath.Precision) *InvariantValidator {
	return &InvariantValidator{
		precision: p,
	}
}

// ValidateBatch verifies the batch is well-formed and every amount is at
// minor-unit precision.
func (v *InvariantValidator) ValidateBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	for _, e := range batch.Entries {
		if !v.precision.IsExact(e.Amount) {
			return fmt.Errorf("%w: entry %s amount %s is finer than %d decimal places",
				ErrInvalidBatch, e.ID, e.Amount, v.precision.Places)
		}
	}
	return nil
}

// ValidateCommitment rejects zero, negative, or sub-minor-unit commitments
// before they can be used as allocation weights.
func (v *InvariantValidator) ValidateCommitment(c *Commitment) error {
	if !c.CommittedAmount.IsPositive() {
		return fmt.Errorf("%w: committed amount %s must be positive", ErrInvalidCommitment, c.CommittedAmount)
	}
	if !v.precision.IsExact(c.CommittedAmount) {
		return fmt.Errorf("%w: committed amount %s is finer than %d decimal places",
			ErrInvalidCommitment, c.CommittedAmount, v.precision.Places)
	}
	if c.InvestorID == uuid.Nil {
		return fmt.Errorf("%w: investor is required", ErrInvalidCommitment)
	}
	return nil
}

// ValidateSnapshot verifies the roll-forward identity and non-negative movement totals.
func (v *InvariantValidator) ValidateSnapshot(s *AccountSnapshot) error {
	for name, amount := range map[string]decimal.Decimal{
		"contributions": s.Contributions,
		"additions":     s.Additions,
		"deductions":    s.Deductions,
		"distributions": s.Distributions,
	} {
		if amount.IsNegative() {
			return fmt.Errorf("snapshot %s: %s is negative: %s", s.CommitmentID, name, amount)
		}
	}

	want := s.BeginningBalance.Add(s.Contributions).Add(s.Additions).Sub(s.Deductions).Sub(s.Distributions)
	if !s.EndingBalance.Equal(want) {
		return fmt.Errorf("snapshot %s: ending balance %s != %s", s.CommitmentID, s.EndingBalance, want)
	}
	if !s.UnfundedBalance.Equal(s.CommittedAmount.Sub(s.Contributions)) {
		return fmt.Errorf("snapshot %s: unfunded balance %s != committed - contributions", s.CommitmentID, s.UnfundedBalance)
	}
	return nil
}
