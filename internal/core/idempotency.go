package core

import (
	"container/list"
	"context"
	"errors"
	"sync"

	"FundLedger/internal/ledger"
	"FundLedger/internal/observability"

	"github.com/google/uuid"
)

// Dedup tiers reported on fund_ledger_idempotent_replays_total.
const (
	TierLRU   = "lru"
	TierStore = "store"
)

// IdempotencyChecker resolves draft idempotency keys in two tiers: an
// in-memory LRU of key -> batch id, then the store.
type IdempotencyChecker struct {
	lru     *IdempotencyLRU
	store   ledger.Store
	metrics *observability.Metrics
}

func NewIdempotencyChecker(capacity int, store ledger.Store, metrics *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:     NewIdempotencyLRU(capacity),
		store:   store,
		metrics: metrics,
	}
}

// Lookup returns the batch previously created under key, or nil when the key
// is unseen. Store errors other than not-found are returned.
func (ic *IdempotencyChecker) Lookup(ctx context.Context, key string) (*ledger.Batch, error) {
	if key == "" {
		return nil, nil
	}

	// Tier 1: LRU (hot path)
	if id, ok := ic.lru.Get(key); ok {
		b, err := ic.store.GetBatch(ctx, id)
		if err == nil {
			ic.recordReplay(TierLRU)
			return b, nil
		}
		if !errors.Is(err, ledger.ErrBatchNotFound) {
			return nil, err
		}
		// Batch was discarded elsewhere; fall through to the store.
		ic.lru.Remove(key)
	}

	// Tier 2: store (cold path)
	b, err := ic.store.FindBatchByIdempotencyKey(ctx, key)
	if errors.Is(err, ledger.ErrBatchNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ic.recordReplay(TierStore)
	ic.MarkProcessed(key, b.ID)
	return b, nil
}

// MarkProcessed records key after a successful insert.
func (ic *IdempotencyChecker) MarkProcessed(key string, batchID uuid.UUID) {
	if key == "" {
		return
	}
	evicted := ic.lru.Add(key, batchID)
	ic.updateGauges(evicted)
}

// Forget drops key, used when its draft is deleted so the key can be reused.
func (ic *IdempotencyChecker) Forget(key string) {
	if key == "" {
		return
	}
	ic.lru.Remove(key)
	ic.updateGauges(0)
}

// Warm loads recent keys from the store into the LRU on startup.
func (ic *IdempotencyChecker) Warm(ctx context.Context) (int, error) {
	recs, err := ic.store.RecentIdempotencyKeys(ctx, ic.lru.Capacity())
	if err != nil {
		return 0, err
	}
	evicted := ic.lru.WarmFrom(recs)
	ic.updateGauges(evicted)
	return len(recs), nil
}

func (ic *IdempotencyChecker) LRU() *IdempotencyLRU {
	return ic.lru
}

func (ic *IdempotencyChecker) recordReplay(tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotentReplays.WithLabelValues(tier).Inc()
	}
}

func (ic *IdempotencyChecker) updateGauges(evicted int) {
	if ic.metrics == nil {
		return
	}
	ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
	if evicted > 0 {
		ic.metrics.DedupLRUEvictions.Add(float64(evicted))
	}
}

// --- LRU Implementation ---

// IdempotencyLRU maps idempotency keys to batch ids with least-recently-used
// eviction. Safe for concurrent use; HTTP handlers share one instance.
type IdempotencyLRU struct {
	mu       sync.Mutex
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key     string
	batchID uuid.UUID
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Get returns the batch id for key and promotes it to most recently used.
func (lru *IdempotencyLRU) Get(key string) (uuid.UUID, bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	elem, exists := lru.cache[key]
	if !exists {
		return uuid.Nil, false
	}
	lru.lruList.MoveToFront(elem)
	return elem.Value.(*lruEntry).batchID, true
}

// Add inserts or refreshes key and returns how many entries were evicted.
func (lru *IdempotencyLRU) Add(key string, batchID uuid.UUID) int {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return lru.addLocked(key, batchID)
}

func (lru *IdempotencyLRU) addLocked(key string, batchID uuid.UUID) int {
	if elem, exists := lru.cache[key]; exists {
		elem.Value.(*lruEntry).batchID = batchID
		lru.lruList.MoveToFront(elem)
		return 0
	}

	elem := lru.lruList.PushFront(&lruEntry{key: key, batchID: batchID})
	lru.cache[key] = elem

	evicted := 0
	for lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
		evicted++
	}
	return evicted
}

func (lru *IdempotencyLRU) Remove(key string) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if elem, exists := lru.cache[key]; exists {
		lru.lruList.Remove(elem)
		delete(lru.cache, key)
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		delete(lru.cache, elem.Value.(*lruEntry).key)
		lru.evictions++
	}
}

// WarmFrom loads records oldest first, so the newest end up most recent.
func (lru *IdempotencyLRU) WarmFrom(recs []ledger.IdempotencyRecord) int {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	evicted := 0
	for _, r := range recs {
		evicted += lru.addLocked(r.Key, r.BatchID)
	}
	return evicted
}

func (lru *IdempotencyLRU) Size() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return lru.lruList.Len()
}

func (lru *IdempotencyLRU) Capacity() int {
	return lru.capacity
}

func (lru *IdempotencyLRU) Evictions() int64 {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return lru.evictions
}
