package allocation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	fmath "FundLedger/internal/math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvalidAllocationInput is returned for an empty weight set, a non-positive
// weight, a duplicate participant, or a total finer than minor-unit precision.
var ErrInvalidAllocationInput = errors.New("invalid allocation input")

// proposalNamespace scopes deterministic proposal ids.
var proposalNamespace = uuid.MustParse("6f1c1d5e-4c8e-4a57-9d0b-2f7f2b9a1e10")

// Weight is one participant's claim on an allocated amount.
type Weight struct {
	ParticipantID string
	Weight        decimal.Decimal
}

// Share is one participant's slice of an allocated total.
type Share struct {
	ParticipantID string
	Weight        decimal.Decimal
	Ratio         decimal.Decimal // Weight / Σweights, display only
	Amount        decimal.Decimal
}

// Allocate splits total pro-rata across weights.
//
// Participants are ordered by ascending id. Every share but the last is
// truncated toward zero at minor-unit precision and the last participant
// receives total - Σ(previous shares), so shares always sum exactly to total
// and never cross zero.
func Allocate(total decimal.Decimal, weights []Weight, p fmath.Precision) (*Proposal, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: weight set is empty", ErrInvalidAllocationInput)
	}
	if !p.IsExact(total) {
		return nil, fmt.Errorf("%w: total %s is finer than %d decimal places", ErrInvalidAllocationInput, total, p.Places)
	}

	sorted := make([]Weight, len(weights))
	copy(sorted, weights)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ParticipantID < sorted[j].ParticipantID
	})

	sum := decimal.Zero
	for i, w := range sorted {
		if strings.TrimSpace(w.ParticipantID) == "" {
			return nil, fmt.Errorf("%w: participant id is empty", ErrInvalidAllocationInput)
		}
		if i > 0 && sorted[i-1].ParticipantID == w.ParticipantID {
			return nil, fmt.Errorf("%w: duplicate participant %s", ErrInvalidAllocationInput, w.ParticipantID)
		}
		if !w.Weight.IsPositive() {
			return nil, fmt.Errorf("%w: participant %s has non-positive weight %s", ErrInvalidAllocationInput, w.ParticipantID, w.Weight)
		}
		sum = sum.Add(w.Weight)
	}
	if !sum.IsPositive() {
		return nil, fmt.Errorf("%w: weight sum is not positive", ErrInvalidAllocationInput)
	}

	shares := make([]Share, len(sorted))
	allocated := decimal.Zero
	last := len(sorted) - 1

	for i, w := range sorted {
		shares[i] = Share{
			ParticipantID: w.ParticipantID,
			Weight:        w.Weight,
			Ratio:         w.Weight.Div(sum),
		}
		if i == last {
			shares[i].Amount = total.Sub(allocated)
			continue
		}
		amount := p.Round(total.Mul(w.Weight).Div(sum), fmath.RoundDown)
		shares[i].Amount = amount
		allocated = allocated.Add(amount)
	}

	return &Proposal{
		id:        fingerprint(total, sorted, p),
		total:     total,
		weightSum: sum,
		precision: p,
		shares:    shares,
	}, nil
}

// fingerprint derives a stable id from everything that determines the split.
func fingerprint(total decimal.Decimal, sorted []Weight, p fmath.Precision) uuid.UUID {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%d|%s", p.Currency, p.Places, total.String())
	for _, w := range sorted {
		fmt.Fprintf(&b, "|%s=%s", w.ParticipantID, w.Weight.String())
	}
	return uuid.NewSHA1(proposalNamespace, []byte(b.String()))
}
