package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"FundLedger/internal/allocation"
	"FundLedger/internal/core"
	"FundLedger/internal/ledger"
	"FundLedger/internal/persistence"
	"FundLedger/internal/waterfall"

	"github.com/google/uuid"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

// ====================================================================
// Registry
// ====================================================================

func TestRegistry_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.fund.RegisterInvestor(ctx, "   "); !errors.Is(err, ledger.ErrInvalidInvestor) {
		t.Errorf("blank name: got %v, want ErrInvalidInvestor", err)
	}

	inv, err := h.fund.RegisterInvestor(ctx, "Delta Trust")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	tests := []struct {
		name   string
		amount string
	}{
		{"zero", "0"},
		{"negative", "-100"},
		{"sub-cent", "100.005"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.fund.AddCommitment(ctx, inv.ID, dec(tt.amount))
			if !errors.Is(err, ledger.ErrInvalidCommitment) {
				t.Errorf("got %v, want ErrInvalidCommitment", err)
			}
		})
	}

	if _, err := h.fund.AddCommitment(ctx, uuid.New(), dec("10")); !errors.Is(err, ledger.ErrInvestorNotFound) {
		t.Errorf("unknown investor: got %v, want ErrInvestorNotFound", err)
	}

	if _, err := h.fund.AddCommitment(ctx, inv.ID, dec("10")); err != nil {
		t.Fatalf("first commitment: %v", err)
	}
	if _, err := h.fund.AddCommitment(ctx, inv.ID, dec("10")); !errors.Is(err, ledger.ErrInvalidCommitment) {
		t.Errorf("second commitment: got %v, want ErrInvalidCommitment", err)
	}
}

func TestPreview_NoCommitments(t *testing.T) {
	fund := core.NewFund(core.FundConfig{Store: persistence.NewMemoryStore()})

	if _, err := fund.PreviewCapitalCall(context.Background(), dec("100")); !errors.Is(err, core.ErrNoCommitments) {
		t.Errorf("got %v, want ErrNoCommitments", err)
	}
}

// ====================================================================
// Capital calls
// ====================================================================

func TestPreviewCapitalCall_Deterministic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.fund.PreviewCapitalCall(ctx, dec("333333.33"))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	b, err := h.fund.PreviewCapitalCall(ctx, dec("333333.33"))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if a.ID != b.ID {
		t.Errorf("ids differ: %s vs %s", a.ID, b.ID)
	}
	if !a.Total().Equal(dec("333333.33")) || !a.Legs[0].Proposal.Sum().Equal(dec("333333.33")) {
		t.Errorf("preview total: got %s / %s", a.Total(), a.Legs[0].Proposal.Sum())
	}
}

func TestPreviewCapitalCall_RejectsNonPositive(t *testing.T) {
	h := newHarness(t)

	for _, total := range []string{"0", "-1"} {
		_, err := h.fund.PreviewCapitalCall(context.Background(), dec(total))
		if !errors.Is(err, allocation.ErrInvalidAllocationInput) {
			t.Errorf("total %s: got %v, want ErrInvalidAllocationInput", total, err)
		}
	}
}

func TestDraftCapitalCall_StaleProposal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	preview, err := h.fund.PreviewCapitalCall(ctx, dec("1000"))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}

	h.commit(t, "Late Closer", "500000")

	_, err = h.fund.DraftCapitalCall(ctx, core.CapitalCallRequest{
		Total:        dec("1000"),
		DraftOptions: core.DraftOptions{ProposalID: preview.ID},
	})
	if !errors.Is(err, core.ErrStaleProposal) {
		t.Fatalf("got %v, want ErrStaleProposal", err)
	}
	if v := promtestutil.ToFloat64(h.metrics.StaleProposals); v != 1 {
		t.Errorf("stale metric: got %v, want 1", v)
	}

	all, _ := h.batches.List(ctx, ledger.BatchFilter{})
	if len(all) != 0 {
		t.Errorf("stale request wrote %d batches", len(all))
	}
}

func TestDraft_ReusedKeyForDifferentRequestConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	call, err := h.fund.DraftCapitalCall(ctx, core.CapitalCallRequest{
		Total:        dec("500000"),
		DraftOptions: core.DraftOptions{IdempotencyKey: "k1"},
	})
	if err != nil {
		t.Fatalf("capital call: %v", err)
	}

	tests := []struct {
		name  string
		draft func() (*core.DraftResult, error)
	}{
		{"different category", func() (*core.DraftResult, error) {
			return h.fund.DraftPnL(ctx, core.PnLRequest{
				Code:         ledger.CodeIncome,
				Total:        dec("1234.56"),
				DraftOptions: core.DraftOptions{IdempotencyKey: "k1"},
			})
		}},
		{"different total", func() (*core.DraftResult, error) {
			return h.fund.DraftCapitalCall(ctx, core.CapitalCallRequest{
				Total:        dec("500000.01"),
				DraftOptions: core.DraftOptions{IdempotencyKey: "k1"},
			})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.draft()
			if !errors.Is(err, core.ErrIdempotencyConflict) {
				t.Fatalf("got %+v, %v, want ErrIdempotencyConflict", res, err)
			}
		})
	}

	// The matching request still replays, with a preview equal to its batch.
	again, err := h.fund.DraftCapitalCall(ctx, core.CapitalCallRequest{
		Total:        dec("500000.00"),
		DraftOptions: core.DraftOptions{IdempotencyKey: "k1"},
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !again.Replayed || again.Batch.ID != call.Batch.ID {
		t.Errorf("replay: replayed=%v id=%s, want %s", again.Replayed, again.Batch.ID, call.Batch.ID)
	}
	if !again.Preview.Total().Equal(again.Batch.Total) || again.Preview.Category != again.Batch.Category {
		t.Errorf("preview %s %s does not match batch %s %s",
			again.Preview.Category, again.Preview.Total(), again.Batch.Category, again.Batch.Total)
	}

	all, _ := h.batches.List(ctx, ledger.BatchFilter{})
	if len(all) != 1 {
		t.Errorf("got %d batches, want 1", len(all))
	}
	if v := promtestutil.ToFloat64(h.metrics.BatchesRejected.WithLabelValues("create", "idempotency_conflict")); v != 2 {
		t.Errorf("rejections: got %v, want 2", v)
	}
}

// ====================================================================
// P&L
// ====================================================================

func TestDraftPnL_NegativeFlipsCode(t *testing.T) {
	tests := []struct {
		code ledger.TransactionCode
		want ledger.TransactionCode
	}{
		{ledger.CodeIncome, ledger.CodeExpense},
		{ledger.CodeExpense, ledger.CodeIncome},
		{ledger.CodeRealizedGain, ledger.CodeRealizedLoss},
		{ledger.CodeRealizedLoss, ledger.CodeRealizedGain},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			h := newHarness(t)
			res, err := h.fund.DraftPnL(context.Background(), core.PnLRequest{Code: tt.code, Total: dec("-3000.01")})
			if err != nil {
				t.Fatalf("draft: %v", err)
			}
			for _, e := range res.Batch.Entries {
				if e.Code != tt.want {
					t.Errorf("code: got %s, want %s", e.Code, tt.want)
				}
				if !e.Amount.IsPositive() {
					t.Errorf("amount %s should be a positive magnitude", e.Amount)
				}
			}
			if !res.Batch.Total.Equal(dec("3000.01")) {
				t.Errorf("total: got %s, want 3000.01", res.Batch.Total)
			}
		})
	}
}

func TestPreviewPnL_RejectsNonPnLCode(t *testing.T) {
	h := newHarness(t)

	_, err := h.fund.PreviewPnL(context.Background(), ledger.CodeCapitalCall, dec("10"))
	if !errors.Is(err, ledger.ErrUnknownTransactionCode) {
		t.Errorf("got %v, want ErrUnknownTransactionCode", err)
	}
}

// ====================================================================
// Distributions
// ====================================================================

func referenceDeal() waterfall.Deal {
	return waterfall.Deal{
		Name:                    "Project Atlas",
		CashAvailable:           dec("2500000"),
		CapitalContributed:      dec("1000000"),
		HurdleRate:              dec("0.15"),
		CatchupPct:              dec("0.20"),
		LastDistributionDate:    time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		CurrentDistributionDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestPreviewDistribution_BooksLPSideOnly(t *testing.T) {
	h := newHarness(t)

	preview, err := h.fund.PreviewDistribution(context.Background(), referenceDeal())
	if err != nil {
		t.Fatalf("preview: %v", err)
	}

	wf := preview.Waterfall
	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"accrued pref", wf.AccruedPref, "150000"},
		{"b1", wf.ReturnOfCapital, "1000000"},
		{"b2", wf.PreferredReturn, "150000"},
		{"b3", wf.CatchUp, "37500"},
		{"b4 gp", wf.CarryGP, "262500"},
		{"b4 lp", wf.CarryLP, "1050000"},
		{"total lp", wf.TotalLP, "2200000"},
		{"total gp", wf.TotalGP, "300000"},
		{"preview total", preview.Total(), "2200000"},
	}
	for _, c := range checks {
		if !c.got.Equal(dec(c.want)) {
			t.Errorf("%s: got %s, want %s", c.name, c.got, c.want)
		}
	}

	if len(preview.Legs) != 2 {
		t.Fatalf("got %d legs, want 2", len(preview.Legs))
	}
	if preview.Legs[0].Code != ledger.CodeReturnOfCapital || preview.Legs[1].Code != ledger.CodeDistributionGain {
		t.Errorf("leg codes: %s, %s", preview.Legs[0].Code, preview.Legs[1].Code)
	}

	beta := h.commitments[1].ID.String()
	roc, _ := preview.Legs[0].Proposal.ShareOf(beta)
	gain, _ := preview.Legs[1].Proposal.ShareOf(beta)
	if !roc.Amount.Equal(dec("500000")) || !gain.Amount.Equal(dec("600000")) {
		t.Errorf("beta shares: roc %s gain %s", roc.Amount, gain.Amount)
	}
}

func TestDraftDistribution_PersistsTwoCodes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	preview, err := h.fund.PreviewDistribution(ctx, referenceDeal())
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	res, err := h.fund.DraftDistribution(ctx, core.DistributionRequest{
		Deal:         referenceDeal(),
		DraftOptions: core.DraftOptions{ProposalID: preview.ID},
	})
	if err != nil {
		t.Fatalf("draft: %v", err)
	}

	b := res.Batch
	if b.Category != ledger.CategoryDistribution {
		t.Errorf("category: got %s", b.Category)
	}
	if len(b.Entries) != 6 {
		t.Errorf("entries: got %d, want 6", len(b.Entries))
	}
	if !b.Total.Equal(dec("2200000")) {
		t.Errorf("total: got %s, want 2200000", b.Total)
	}
	if b.Description != "Distribution Project Atlas: $2,200,000.00" {
		t.Errorf("description: got %q", b.Description)
	}
}

func TestRunWaterfall_InvalidInputsCounted(t *testing.T) {
	h := newHarness(t)

	deal := referenceDeal()
	deal.CatchupPct = dec("1")
	if _, err := h.fund.RunWaterfall(deal); !errors.Is(err, waterfall.ErrInvalidCatchupRate) {
		t.Errorf("got %v, want ErrInvalidCatchupRate", err)
	}

	deal = referenceDeal()
	deal.LastDistributionDate, deal.CurrentDistributionDate = deal.CurrentDistributionDate, deal.LastDistributionDate
	if _, err := h.fund.RunWaterfall(deal); !errors.Is(err, waterfall.ErrInvalidDateRange) {
		t.Errorf("got %v, want ErrInvalidDateRange", err)
	}

	if v := promtestutil.ToFloat64(h.metrics.EngineErrors.WithLabelValues(core.EngineWaterfall, "invalid_catchup_rate")); v != 1 {
		t.Errorf("engine errors: got %v, want 1", v)
	}
}
