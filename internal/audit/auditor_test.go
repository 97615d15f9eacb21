package audit_test

import (
	"context"
	"testing"
	"time"

	"FundLedger/internal/audit"
	"FundLedger/internal/core"
	"FundLedger/internal/ledger"
	fmath "FundLedger/internal/math"
	"FundLedger/internal/observability"
	"FundLedger/internal/persistence"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store   *persistence.MemoryStore
	fund    *core.Fund
	metrics *observability.Metrics
	auditor *audit.Auditor
	alpha   *ledger.Commitment
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := persistence.NewMemoryStore()
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	batches := core.NewBatchManager(core.BatchManagerConfig{
		Store:     store,
		Precision: fmath.USD,
		Metrics:   metrics,
		Logger:    zerolog.Nop(),
	})
	fund := core.NewFund(core.FundConfig{
		Name:      "Audit Fund",
		Store:     store,
		Batches:   batches,
		Precision: fmath.USD,
		Metrics:   metrics,
		Logger:    zerolog.Nop(),
	})

	f := &fixture{
		store:   store,
		fund:    fund,
		metrics: metrics,
		auditor: audit.NewAuditor(store, fmath.USD, metrics, zerolog.Nop()),
	}
	for i, c := range []struct{ name, amount string }{
		{"Alpha Pension", "1000000"},
		{"Beta Endowment", "3000000"},
	} {
		inv, err := fund.RegisterInvestor(ctx, c.name)
		if err != nil {
			t.Fatal(err)
		}
		cm, err := fund.AddCommitment(ctx, inv.ID, dec(c.amount))
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			f.alpha = cm
		}
	}
	return f
}

func (f *fixture) postCall(t *testing.T, total string) *ledger.Batch {
	t.Helper()
	ctx := context.Background()
	res, err := f.fund.DraftCapitalCall(ctx, core.CapitalCallRequest{Total: dec(total)})
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	posted, err := f.fund.PostBatch(ctx, res.Batch.ID)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return posted
}

func TestCheck_Healthy(t *testing.T) {
	f := newFixture(t)
	f.postCall(t, "400000")
	f.postCall(t, "100000.01")

	// Drafts are out of scope for the audit.
	if _, err := f.fund.DraftCapitalCall(context.Background(), core.CapitalCallRequest{Total: dec("5")}); err != nil {
		t.Fatal(err)
	}

	report, err := f.auditor.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !report.IsHealthy {
		t.Fatalf("findings: %+v", report.Findings)
	}
	if report.CheckedBatches != 2 {
		t.Errorf("checked batches: got %d, want 2", report.CheckedBatches)
	}
	if report.CheckedEntries != 4 {
		t.Errorf("checked entries: got %d, want 4", report.CheckedEntries)
	}
	if !report.FundTotals.Equal(dec("500000.01")) {
		t.Errorf("fund totals: got %s, want 500000.01", report.FundTotals)
	}

	if v := promtestutil.ToFloat64(f.metrics.AuditRuns); v != 1 {
		t.Errorf("audit runs: got %v, want 1", v)
	}
	if v := promtestutil.ToFloat64(f.metrics.AuditFindings); v != 0 {
		t.Errorf("audit findings: got %v, want 0", v)
	}
}

func TestCheck_DetectsTamperedBatch(t *testing.T) {
	f := newFixture(t)
	f.postCall(t, "1000")

	ctx := context.Background()
	bad := &ledger.Batch{
		ID:          uuid.New(),
		BatchDate:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Description: "imported call",
		Category:    ledger.CategoryCapitalCall,
		Status:      ledger.StatusDraft,
		Total:       dec("250"),
		Checksum:    "0000",
		CreatedAt:   time.Now(),
	}
	bad.Entries = []ledger.Entry{{
		ID:           uuid.New(),
		BatchID:      bad.ID,
		CommitmentID: f.alpha.ID,
		Code:         ledger.CodeCapitalCall,
		Amount:       dec("250"),
	}}
	if err := f.store.InsertBatchWithEntries(ctx, bad); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := f.store.UpdateBatchStatus(ctx, bad.ID, ledger.StatusDraft, ledger.StatusPosted, time.Now()); err != nil {
		t.Fatalf("post: %v", err)
	}

	report, err := f.auditor.Check(ctx)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if report.IsHealthy {
		t.Fatal("tampered batch should make the report unhealthy")
	}
	if len(report.Findings) != 1 {
		t.Fatalf("findings: got %d, want 1: %+v", len(report.Findings), report.Findings)
	}
	got := report.Findings[0]
	if got.Kind != audit.KindChecksumMismatch || got.BatchID != bad.ID {
		t.Errorf("finding: got %+v", got)
	}
	if v := promtestutil.ToFloat64(f.metrics.AuditFindings); v != 1 {
		t.Errorf("audit findings gauge: got %v, want 1", v)
	}
}

func TestCheck_EmptyFund(t *testing.T) {
	store := persistence.NewMemoryStore()
	a := audit.NewAuditor(store, fmath.USD, nil, zerolog.Nop())

	report, err := a.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !report.IsHealthy || report.CheckedBatches != 0 || !report.FundTotals.IsZero() {
		t.Errorf("got %+v", report)
	}
}

func TestRunner_RejectsBadSchedule(t *testing.T) {
	a := audit.NewAuditor(persistence.NewMemoryStore(), fmath.USD, nil, zerolog.Nop())
	r := audit.NewRunner(a, zerolog.Nop())

	if _, err := r.Schedule(context.Background(), "not a schedule"); err == nil {
		t.Error("expected parse error")
	}
	if _, err := r.Schedule(context.Background(), ""); err != nil {
		t.Errorf("default schedule: %v", err)
	}
}

func TestRunner_RunStopsOnCancel(t *testing.T) {
	a := audit.NewAuditor(persistence.NewMemoryStore(), fmath.USD, nil, zerolog.Nop())
	r := audit.NewRunner(a, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}
