package core_test

import (
	"fmt"
	"testing"
	"time"

	"FundLedger/internal/core"
	"FundLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestIdempotencyLRU_Basic(t *testing.T) {
	lru := core.NewIdempotencyLRU(3)
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	lru.Add("a", a)
	lru.Add("b", b)
	lru.Add("c", c)

	if got, ok := lru.Get("a"); !ok || got != a {
		t.Fatalf("a: got %s %v", got, ok)
	}

	// "b" is now least recently used.
	if evicted := lru.Add("d", d); evicted != 1 {
		t.Errorf("evicted: got %d, want 1", evicted)
	}
	if _, ok := lru.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := lru.Get(k); !ok {
			t.Errorf("%s should be present", k)
		}
	}
	if lru.Size() != 3 || lru.Evictions() != 1 {
		t.Errorf("size %d evictions %d", lru.Size(), lru.Evictions())
	}
}

func TestIdempotencyLRU_RemoveAndRefresh(t *testing.T) {
	lru := core.NewIdempotencyLRU(2)
	first, second := uuid.New(), uuid.New()

	lru.Add("k", first)
	lru.Add("k", second)
	if got, _ := lru.Get("k"); got != second {
		t.Errorf("refresh: got %s, want %s", got, second)
	}
	if lru.Size() != 1 {
		t.Errorf("size: got %d, want 1", lru.Size())
	}

	lru.Remove("k")
	lru.Remove("missing")
	if _, ok := lru.Get("k"); ok {
		t.Error("k should be removed")
	}
}

func TestIdempotencyLRU_WarmKeepsNewest(t *testing.T) {
	lru := core.NewIdempotencyLRU(2)

	var recs []ledger.IdempotencyRecord
	for i := 0; i < 4; i++ {
		recs = append(recs, ledger.IdempotencyRecord{Key: fmt.Sprintf("k%d", i), BatchID: uuid.New()})
	}
	if evicted := lru.WarmFrom(recs); evicted != 2 {
		t.Errorf("evicted: got %d, want 2", evicted)
	}
	for _, k := range []string{"k2", "k3"} {
		if _, ok := lru.Get(k); !ok {
			t.Errorf("%s should survive warm-up", k)
		}
	}
}

func TestBatchChecksum(t *testing.T) {
	batchID := uuid.MustParse("3f0b7c2e-8a4d-4c1b-9e6f-2d5a7b8c9e01")
	c1 := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	c2 := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	b := &ledger.Batch{
		ID:        batchID,
		BatchDate: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Category:  ledger.CategoryCapitalCall,
		Total:     decimal.RequireFromString("100.00"),
		Entries: []ledger.Entry{
			{ID: uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001"), BatchID: batchID, CommitmentID: c1, Code: ledger.CodeCapitalCall, Amount: decimal.RequireFromString("40.00")},
			{ID: uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000002"), BatchID: batchID, CommitmentID: c2, Code: ledger.CodeCapitalCall, Amount: decimal.RequireFromString("60.00")},
		},
	}
	sum := core.BatchChecksum(b)
	if len(sum) != 64 {
		t.Fatalf("checksum length: got %d, want 64", len(sum))
	}

	t.Run("entry order independent", func(t *testing.T) {
		swapped := *b
		swapped.Entries = []ledger.Entry{b.Entries[1], b.Entries[0]}
		if core.BatchChecksum(&swapped) != sum {
			t.Error("checksum should not depend on entry order")
		}
	})

	t.Run("trailing zeros ignored", func(t *testing.T) {
		norm := *b
		norm.Total = decimal.RequireFromString("100")
		norm.Entries = []ledger.Entry{b.Entries[0], b.Entries[1]}
		norm.Entries[0].Amount = decimal.RequireFromString("40")
		if core.BatchChecksum(&norm) != sum {
			t.Error("100.00 and 100 should hash the same")
		}
	})

	t.Run("amount change detected", func(t *testing.T) {
		tampered := *b
		tampered.Entries = []ledger.Entry{b.Entries[0], b.Entries[1]}
		tampered.Entries[1].Amount = decimal.RequireFromString("60.01")
		if core.BatchChecksum(&tampered) == sum {
			t.Error("tampered amount should change checksum")
		}
	})

	t.Run("verify", func(t *testing.T) {
		stamped := *b
		stamped.Checksum = sum
		if !core.VerifyChecksum(&stamped) {
			t.Error("stamped checksum should verify")
		}
		stamped.Checksum = ""
		if core.VerifyChecksum(&stamped) {
			t.Error("empty checksum must not verify")
		}
	})
}
