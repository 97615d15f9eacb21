package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"FundLedger/internal/core"
	"FundLedger/internal/ingestion"
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

func payload(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

// ====================================================================
// Parsing
// ====================================================================

func TestKindFromSubject(t *testing.T) {
	if got := ingestion.KindFromSubject("fund.commands.capital_call"); got != ingestion.KindCapitalCall {
		t.Errorf("got %q, want capital_call", got)
	}
	if got := ingestion.KindFromSubject("post"); got != ingestion.KindPost {
		t.Errorf("got %q, want post", got)
	}
}

func TestParseCapitalCall(t *testing.T) {
	data := payload(t, map[string]string{
		"total":           "250000.00",
		"idempotency_key": "call-7",
		"batch_date":      "2024-09-30",
	})
	cmd, err := ingestion.ParseCommand(ingestion.KindCapitalCall, data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cc, ok := cmd.(*ingestion.CapitalCallCommand)
	if !ok {
		t.Fatalf("expected *CapitalCallCommand, got %T", cmd)
	}
	if !cc.Request.Total.Equal(decimal.RequireFromString("250000")) {
		t.Errorf("total: got %s", cc.Request.Total)
	}
	if cc.Key() != "call-7" {
		t.Errorf("key: got %q", cc.Key())
	}
	if want := time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC); !cc.Request.BatchDate.Equal(want) {
		t.Errorf("batch date: got %s", cc.Request.BatchDate)
	}
}

func TestParseDistribution_OptionalHurdle(t *testing.T) {
	base := map[string]interface{}{
		"name":                      "Project Atlas",
		"cash_available":            "2500000",
		"capital_contributed":       "1000000",
		"catchup_pct":               "0.20",
		"last_distribution_date":    "2023-01-01",
		"current_distribution_date": "2024-01-01",
		"idempotency_key":           "dist-1",
	}
	cmd, err := ingestion.ParseCommand(ingestion.KindDistribution, payload(t, base))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.(*ingestion.DistributionCommand).HasHurdle {
		t.Error("hurdle should be absent")
	}

	base["hurdle_rate"] = "0.10"
	cmd, err = ingestion.ParseCommand(ingestion.KindDistribution, payload(t, base))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	dc := cmd.(*ingestion.DistributionCommand)
	if !dc.HasHurdle || !dc.Request.Deal.HurdleRate.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("hurdle: %v %s", dc.HasHurdle, dc.Request.Deal.HurdleRate)
	}
}

func TestParseCommand_Malformed(t *testing.T) {
	tests := []struct {
		name string
		kind ingestion.Kind
		data string
	}{
		{"unknown kind", "refund", `{}`},
		{"bad json", ingestion.KindCapitalCall, `{"total":`},
		{"missing key", ingestion.KindCapitalCall, `{"total":"10"}`},
		{"bad code", ingestion.KindPnL, `{"trans_code":"XX","total":"1","idempotency_key":"k"}`},
		{"bad date", ingestion.KindDistribution, `{"last_distribution_date":"yesterday","idempotency_key":"k"}`},
		{"bad batch id", ingestion.KindPost, `{"batch_id":"nope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ingestion.ParseCommand(tt.kind, []byte(tt.data))
			if !errors.Is(err, ingestion.ErrMalformedCommand) {
				t.Errorf("got %v, want ErrMalformedCommand", err)
			}
		})
	}
}

// ====================================================================
// Handler
// ====================================================================

type fixture struct {
	fund    *core.Fund
	handler *ingestion.Handler
	metrics *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())

	batches := core.NewBatchManager(core.BatchManagerConfig{Store: store, Precision: fmath.USD, Logger: zerolog.Nop()})
	fund := core.NewFund(core.FundConfig{
		Name:              "Ingest Fund",
		Store:             store,
		Batches:           batches,
		Precision:         fmath.USD,
		DefaultHurdleRate: decimal.RequireFromString("0.15"),
		Logger:            zerolog.Nop(),
	})
	for _, c := range []struct{ name, amount string }{{"Alpha", "1000000"}, {"Beta", "1000000"}} {
		inv, err := fund.RegisterInvestor(ctx, c.name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fund.AddCommitment(ctx, inv.ID, decimal.RequireFromString(c.amount)); err != nil {
			t.Fatal(err)
		}
	}
	return &fixture{fund: fund, handler: ingestion.NewHandler(fund, metrics, zerolog.Nop()), metrics: metrics}
}

type settled struct{ ack, nak, term int }

func (s *settled) raw(subject string, data []byte) ingestion.RawCommand {
	return ingestion.RawCommand{
		Subject: subject,
		Data:    data,
		Ack:     func() { s.ack++ },
		Nak:     func() { s.nak++ },
		Term:    func() { s.term++ },
	}
}

func TestHandler_RedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := payload(t, map[string]string{"total": "5000", "idempotency_key": "call-42"})

	var s settled
	f.handler.Handle(ctx, s.raw("fund.commands.capital_call", data))
	f.handler.Handle(ctx, s.raw("fund.commands.capital_call", data))

	if s.ack != 2 || s.term != 0 || s.nak != 0 {
		t.Errorf("settlement: %+v", s)
	}
	list, err := f.fund.Batches().List(ctx, ledger.BatchFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("batches: got %d, want 1", len(list))
	}
	if v := promtestutil.ToFloat64(f.metrics.IngestCommands.WithLabelValues("capital_call", ingestion.ResultReplayed)); v != 1 {
		t.Errorf("replayed metric: got %v, want 1", v)
	}

	// Posting twice is also harmless.
	post := payload(t, map[string]string{"batch_id": list[0].ID.String()})
	for i := 0; i < 2; i++ {
		f.handler.Handle(ctx, s.raw("fund.commands.post", post))
	}
	if s.ack != 4 {
		t.Errorf("post acks: got %d, want 4", s.ack)
	}
	b, err := f.fund.Batches().Get(ctx, list[0].ID)
	if err != nil || b.Status != ledger.StatusPosted {
		t.Errorf("batch status: %v %v", b, err)
	}
}

func TestHandler_DistributionUsesDefaultHurdle(t *testing.T) {
	f := newFixture(t)
	data := payload(t, map[string]string{
		"cash_available":            "2500000",
		"capital_contributed":       "1000000",
		"catchup_pct":               "0.20",
		"last_distribution_date":    "2023-01-01",
		"current_distribution_date": "2024-01-01",
		"idempotency_key":           "dist-1",
	})

	result, err := f.handler.Apply(context.Background(), ingestion.KindDistribution, data)
	if err != nil || result != ingestion.ResultOK {
		t.Fatalf("apply: %s %v", result, err)
	}
	list, _ := f.fund.Batches().List(context.Background(), ledger.BatchFilter{})
	if len(list) != 1 || !list[0].Total.Equal(decimal.RequireFromString("2200000")) {
		t.Errorf("distribution batch: %+v", list)
	}
}

func TestHandler_PermanentFailuresTerminate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var s settled
	f.handler.Handle(ctx, s.raw("fund.commands.capital_call", []byte(`{"total":"0","idempotency_key":"z"}`)))
	f.handler.Handle(ctx, s.raw("fund.commands.post", payload(t, map[string]string{"batch_id": uuid.NewString()})))
	f.handler.Handle(ctx, s.raw("fund.commands.unknown", []byte(`{}`)))

	if s.term != 3 || s.ack != 0 || s.nak != 0 {
		t.Errorf("settlement: %+v", s)
	}
}

func TestHandler_RunStopsWhenChannelCloses(t *testing.T) {
	f := newFixture(t)
	in := make(chan ingestion.RawCommand, 1)

	var s settled
	in <- s.raw("fund.commands.pnl", []byte(`{"trans_code":"INC-ORD","total":"100","idempotency_key":"inc-1"}`))
	close(in)

	if err := f.handler.Run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.ack != 1 {
		t.Errorf("ack: got %d, want 1", s.ack)
	}
}
