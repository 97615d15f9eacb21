package allocation_test

import (
	"errors"
	"fmt"
	"testing"

	"FundLedger/internal/allocation"
	fmath "FundLedger/internal/math"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func equalWeights(n int) []allocation.Weight {
	ws := make([]allocation.Weight, n)
	for i := range ws {
		ws[i] = allocation.Weight{ParticipantID: fmt.Sprintf("p%02d", i), Weight: d("1")}
	}
	return ws
}

// ============================================================================
// Test: residual assignment
// ============================================================================

func TestAllocate_ThreeEqualWeights(t *testing.T) {
	p, err := allocation.Allocate(d("100.00"), equalWeights(3), fmath.USD)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	want := []string{"33.33", "33.33", "33.34"}
	for i, s := range p.Shares() {
		if !s.Amount.Equal(d(want[i])) {
			t.Errorf("share %d: got %s, want %s", i, s.Amount, want[i])
		}
	}
	if !p.Sum().Equal(d("100.00")) {
		t.Errorf("sum: got %s, want 100.00", p.Sum())
	}
}

func TestAllocate_NegativeTotal(t *testing.T) {
	p, err := allocation.Allocate(d("-100.00"), equalWeights(3), fmath.USD)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	want := []string{"-33.33", "-33.33", "-33.34"}
	for i, s := range p.Shares() {
		if !s.Amount.Equal(d(want[i])) {
			t.Errorf("share %d: got %s, want %s", i, s.Amount, want[i])
		}
	}
	if !p.Sum().Equal(d("-100.00")) {
		t.Errorf("sum: got %s", p.Sum())
	}
}

func TestAllocate_ZeroTotal(t *testing.T) {
	p, err := allocation.Allocate(decimal.Zero, equalWeights(4), fmath.USD)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	for _, s := range p.Shares() {
		if !s.Amount.IsZero() {
			t.Errorf("share %s: got %s, want 0", s.ParticipantID, s.Amount)
		}
	}
}

func TestAllocate_ProRataByCommitment(t *testing.T) {
	weights := []allocation.Weight{
		{ParticipantID: "a", Weight: d("1000000")},
		{ParticipantID: "b", Weight: d("3000000")},
		{ParticipantID: "c", Weight: d("6000000")},
	}
	p, err := allocation.Allocate(d("500000.00"), weights, fmath.USD)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	want := map[string]string{"a": "50000", "b": "150000", "c": "300000"}
	for id, amount := range want {
		s, ok := p.ShareOf(id)
		if !ok {
			t.Fatalf("missing share for %s", id)
		}
		if !s.Amount.Equal(d(amount)) {
			t.Errorf("%s: got %s, want %s", id, s.Amount, amount)
		}
	}
	if s, _ := p.ShareOf("c"); !s.Ratio.Equal(d("0.6")) {
		t.Errorf("ratio of c: got %s, want 0.6", s.Ratio)
	}
	if !p.WeightSum().Equal(d("10000000")) {
		t.Errorf("weight sum: got %s, want 10000000", p.WeightSum())
	}
}

func TestAllocate_SharesNeverCrossZero(t *testing.T) {
	weights := []allocation.Weight{
		{ParticipantID: "a", Weight: d("1")},
		{ParticipantID: "b", Weight: d("1")},
		{ParticipantID: "c", Weight: d("1")},
		{ParticipantID: "d", Weight: d("0.0001")},
	}
	p, err := allocation.Allocate(d("0.02"), weights, fmath.USD)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	for _, s := range p.Shares() {
		if s.Amount.IsNegative() {
			t.Errorf("share %s is negative: %s", s.ParticipantID, s.Amount)
		}
	}
	if !p.Sum().Equal(d("0.02")) {
		t.Errorf("sum: got %s", p.Sum())
	}
}

func TestAllocate_SumAlwaysEqualsTotal(t *testing.T) {
	totals := []string{"0.01", "1.00", "99.99", "100.00", "1234567.89", "-0.07", "-500000.01", "0"}
	weightSets := [][]string{
		{"1"},
		{"1", "1"},
		{"1", "1", "1"},
		{"7", "11", "13", "17"},
		{"0.5", "250000", "33.333", "1e6"},
	}

	for _, total := range totals {
		for _, set := range weightSets {
			ws := make([]allocation.Weight, len(set))
			for i, w := range set {
				ws[i] = allocation.Weight{ParticipantID: fmt.Sprintf("id-%d", i), Weight: d(w)}
			}
			p, err := allocation.Allocate(d(total), ws, fmath.USD)
			if err != nil {
				t.Fatalf("Allocate(%s, %v): %v", total, set, err)
			}
			if !p.Sum().Equal(d(total)) {
				t.Errorf("Allocate(%s, %v): sum %s != total", total, set, p.Sum())
			}
			for _, s := range p.Shares() {
				if !fmath.USD.IsExact(s.Amount) {
					t.Errorf("Allocate(%s, %v): share %s not at cent precision", total, set, s.Amount)
				}
			}
		}
	}
}

// ============================================================================
// Test: determinism
// ============================================================================

func TestAllocate_DeterministicRegardlessOfInputOrder(t *testing.T) {
	a := []allocation.Weight{
		{ParticipantID: "c", Weight: d("3")},
		{ParticipantID: "a", Weight: d("1")},
		{ParticipantID: "b", Weight: d("2")},
	}
	b := []allocation.Weight{a[1], a[2], a[0]}

	p1, err := allocation.Allocate(d("100.00"), a, fmath.USD)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := allocation.Allocate(d("100.00"), b, fmath.USD)
	if err != nil {
		t.Fatal(err)
	}

	if p1.ID() != p2.ID() {
		t.Errorf("proposal ids differ: %s vs %s", p1.ID(), p2.ID())
	}
	s1, s2 := p1.Shares(), p2.Shares()
	for i := range s1 {
		if s1[i].ParticipantID != s2[i].ParticipantID || !s1[i].Amount.Equal(s2[i].Amount) {
			t.Errorf("share %d differs: %+v vs %+v", i, s1[i], s2[i])
		}
	}
	if s1[0].ParticipantID != "a" {
		t.Errorf("shares should be ordered by participant id, first is %s", s1[0].ParticipantID)
	}
}

func TestAllocate_IDChangesWithInputs(t *testing.T) {
	p1, _ := allocation.Allocate(d("100.00"), equalWeights(3), fmath.USD)
	p2, _ := allocation.Allocate(d("100.01"), equalWeights(3), fmath.USD)
	if p1.ID() == p2.ID() {
		t.Error("different totals should give different proposal ids")
	}
}

func TestProposal_SharesIsACopy(t *testing.T) {
	p, _ := allocation.Allocate(d("10.00"), equalWeights(2), fmath.USD)
	shares := p.Shares()
	shares[0].Amount = d("999")
	if p.Shares()[0].Amount.Equal(d("999")) {
		t.Error("mutating returned shares must not change the proposal")
	}
}

// ============================================================================
// Test: invalid input
// ============================================================================

func TestAllocate_InvalidInput(t *testing.T) {
	cases := []struct {
		name    string
		total   string
		weights []allocation.Weight
	}{
		{"empty", "100", nil},
		{"zero weight", "100", []allocation.Weight{{ParticipantID: "a", Weight: d("0")}}},
		{"negative weight", "100", []allocation.Weight{{ParticipantID: "a", Weight: d("5")}, {ParticipantID: "b", Weight: d("-1")}}},
		{"duplicate participant", "100", []allocation.Weight{{ParticipantID: "a", Weight: d("1")}, {ParticipantID: "a", Weight: d("2")}}},
		{"blank participant", "100", []allocation.Weight{{ParticipantID: " ", Weight: d("1")}}},
		{"sub-cent total", "100.001", equalWeights(2)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := allocation.Allocate(d(tc.total), tc.weights, fmath.USD)
			if !errors.Is(err, allocation.ErrInvalidAllocationInput) {
				t.Fatalf("got err=%v, want ErrInvalidAllocationInput", err)
			}
			if p != nil {
				t.Error("proposal should be nil on error")
			}
		})
	}
}
