package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"FundLedger/internal/core"
	"FundLedger/internal/event"
	"FundLedger/internal/ledger"
	fmath "FundLedger/internal/math"
	"FundLedger/internal/observability"
	"FundLedger/internal/persistence"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var fixedNow = time.Date(2024, 6, 30, 15, 4, 5, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.BatchEvent
	full   bool
}

func (p *recordingPublisher) Publish(evt event.BatchEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full {
		return false
	}
	p.events = append(p.events, evt)
	return true
}

func (p *recordingPublisher) types() []event.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type harness struct {
	fund        *core.Fund
	batches     *core.BatchManager
	store       *persistence.MemoryStore
	pub         *recordingPublisher
	metrics     *observability.Metrics
	commitments []*ledger.Commitment
}

// newHarness builds a fund with three investors committing 1,000,000 /
// 2,000,000 / 1,000,000.
func newHarness(t *testing.T) *harness {
	t.Helper()

	store := persistence.NewMemoryStore()
	pub := &recordingPublisher{}
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	now := func() time.Time { return fixedNow }

	batches := core.NewBatchManager(core.BatchManagerConfig{
		Store:         store,
		Precision:     fmath.USD,
		Publisher:     pub,
		Metrics:       metrics,
		Logger:        zerolog.Nop(),
		DedupCapacity: 16,
		Now:           now,
	})
	fund := core.NewFund(core.FundConfig{
		Name:              "Test Fund I",
		Store:             store,
		Batches:           batches,
		Precision:         fmath.USD,
		DefaultHurdleRate: decimal.RequireFromString("0.08"),
		Metrics:           metrics,
		Logger:            zerolog.Nop(),
		Now:               now,
	})

	h := &harness{fund: fund, batches: batches, store: store, pub: pub, metrics: metrics}
	for _, c := range []struct{ name, amount string }{
		{"Alpha Pension", "1000000"},
		{"Beta Endowment", "2000000"},
		{"Gamma Family Office", "1000000"},
	} {
		h.commit(t, c.name, c.amount)
	}
	return h
}

func (h *harness) commit(t *testing.T, name, amount string) *ledger.Commitment {
	t.Helper()
	ctx := context.Background()
	inv, err := h.fund.RegisterInvestor(ctx, name)
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	c, err := h.fund.AddCommitment(ctx, inv.ID, decimal.RequireFromString(amount))
	if err != nil {
		t.Fatalf("commit %s: %v", name, err)
	}
	h.commitments = append(h.commitments, c)
	return c
}

func sumEntries(b *ledger.Batch) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range b.Entries {
		sum = sum.Add(e.Amount)
	}
	return sum
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
