package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"FundLedger/internal/ledger"

	"github.com/google/uuid"
)

// MemoryStore is an in-process ledger.Store used by tests and by the
// service when no database DSN is configured. A single mutex serializes
// writers, which gives the same all-or-nothing guarantees as the
// Postgres transactions.
type MemoryStore struct {
	mu sync.RWMutex

	investors   map[uuid.UUID]ledger.Investor
	commitments map[uuid.UUID]ledger.Commitment
	byInvestor  map[uuid.UUID]uuid.UUID // investor -> commitment
	batches     map[uuid.UUID]ledger.Batch
	entries     map[uuid.UUID][]ledger.Entry // batch -> entries
	keys        map[string]uuid.UUID         // idempotency key -> batch
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		investors:   make(map[uuid.UUID]ledger.Investor),
		commitments: make(map[uuid.UUID]ledger.Commitment),
		byInvestor:  make(map[uuid.UUID]uuid.UUID),
		batches:     make(map[uuid.UUID]ledger.Batch),
		entries:     make(map[uuid.UUID][]ledger.Entry),
		keys:        make(map[string]uuid.UUID),
	}
}

var _ ledger.Store = (*MemoryStore)(nil)

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) CreateInvestor(_ context.Context, inv *ledger.Investor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.investors[inv.ID]; ok {
		return fmt.Errorf("%w: investor %s already exists", ledger.ErrPersistenceFailure, inv.ID)
	}
	s.investors[inv.ID] = *inv
	return nil
}

func (s *MemoryStore) GetInvestor(_ context.Context, id uuid.UUID) (*ledger.Investor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.investors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrInvestorNotFound, id)
	}
	return &inv, nil
}

func (s *MemoryStore) CreateCommitment(_ context.Context, c *ledger.Commitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.investors[c.InvestorID]
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrInvestorNotFound, c.InvestorID)
	}
	if _, exists := s.byInvestor[c.InvestorID]; exists {
		return fmt.Errorf("%w: investor %s already has a commitment", ledger.ErrInvalidCommitment, c.InvestorID)
	}
	if !c.CommittedAmount.IsPositive() {
		return fmt.Errorf("%w: committed amount %s must be positive", ledger.ErrInvalidCommitment, c.CommittedAmount)
	}

	stored := *c
	stored.InvestorName = inv.Name
	s.commitments[c.ID] = stored
	s.byInvestor[c.InvestorID] = c.ID
	return nil
}

func (s *MemoryStore) GetCommitment(_ context.Context, id uuid.UUID) (*ledger.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.commitments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrCommitmentNotFound, id)
	}
	return &c, nil
}

func (s *MemoryStore) ListCommitments(_ context.Context) ([]ledger.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.Commitment, 0, len(s.commitments))
	for _, c := range s.commitments {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *MemoryStore) InsertBatchWithEntries(_ context.Context, b *ledger.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(b.Entries) == 0 {
		return fmt.Errorf("%w: batch %s has no entries", ledger.ErrInvalidBatch, b.ID)
	}
	if _, ok := s.batches[b.ID]; ok {
		return fmt.Errorf("%w: batch %s already exists", ledger.ErrPersistenceFailure, b.ID)
	}
	if b.IdempotencyKey != "" {
		if _, ok := s.keys[b.IdempotencyKey]; ok {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateKey, b.IdempotencyKey)
		}
	}
	for _, e := range b.Entries {
		if _, ok := s.commitments[e.CommitmentID]; !ok {
			return fmt.Errorf("%w: entry references unknown commitment %s", ledger.ErrCommitmentNotFound, e.CommitmentID)
		}
	}

	header := copyBatch(b)
	header.EntryCount = len(b.Entries)
	header.Entries = nil
	s.batches[b.ID] = header
	s.entries[b.ID] = append([]ledger.Entry(nil), b.Entries...)
	if b.IdempotencyKey != "" {
		s.keys[b.IdempotencyKey] = b.ID
	}
	return nil
}

func (s *MemoryStore) GetBatch(_ context.Context, id uuid.UUID) (*ledger.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getBatchLocked(id)
}

func (s *MemoryStore) getBatchLocked(id uuid.UUID) (*ledger.Batch, error) {
	b, ok := s.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrBatchNotFound, id)
	}
	out := copyBatch(&b)
	out.Entries = sortedEntries(s.entries[id])
	return &out, nil
}

func (s *MemoryStore) FindBatchByIdempotencyKey(_ context.Context, key string) (*ledger.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.keys[key]
	if !ok {
		return nil, fmt.Errorf("%w: idempotency key %q", ledger.ErrBatchNotFound, key)
	}
	return s.getBatchLocked(id)
}

func (s *MemoryStore) RecentIdempotencyKeys(_ context.Context, limit int) ([]ledger.IdempotencyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.IdempotencyRecord, 0, len(s.keys))
	for k, id := range s.keys {
		out = append(out, ledger.IdempotencyRecord{Key: k, BatchID: id})
	}
	sort.Slice(out, func(i, j int) bool {
		return s.batches[out[i].BatchID].CreatedAt.Before(s.batches[out[j].BatchID].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// UpdateBatchStatus is a compare-and-set on the current status.
func (s *MemoryStore) UpdateBatchStatus(_ context.Context, id uuid.UUID, from, to ledger.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[id]
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrBatchNotFound, id)
	}
	if b.Status != from {
		return fmt.Errorf("%w: batch %s is %s, expected %s", ledger.ErrInvalidStateTransition, id, b.Status, from)
	}

	b.Status = to
	if to == ledger.StatusPosted {
		t := at.UTC()
		b.PostedAt = &t
	} else {
		b.PostedAt = nil
	}
	s.batches[id] = b
	return nil
}

func (s *MemoryStore) DeleteDraftBatch(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[id]
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrBatchNotFound, id)
	}
	if b.Status != ledger.StatusDraft {
		return fmt.Errorf("%w: batch %s is %s, only DRAFT can be deleted", ledger.ErrInvalidStateTransition, id, b.Status)
	}

	delete(s.entries, id)
	delete(s.batches, id)
	if b.IdempotencyKey != "" {
		delete(s.keys, b.IdempotencyKey)
	}
	return nil
}

// ListBatches returns headers newest first, matching the Postgres ordering.
func (s *MemoryStore) ListBatches(_ context.Context, filter ledger.BatchFilter) ([]ledger.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Batch
	for _, b := range s.batches {
		if filter.Matches(&b) {
			out = append(out, copyBatch(&b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BatchDate.Equal(out[j].BatchDate) {
			return out[i].BatchDate.After(out[j].BatchDate)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *MemoryStore) ListEntries(_ context.Context, batchID uuid.UUID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.batches[batchID]; !ok {
		return nil, nil
	}
	return sortedEntries(s.entries[batchID]), nil
}

func (s *MemoryStore) ListPostedEntriesForCommitment(_ context.Context, commitmentID uuid.UUID) ([]ledger.PostedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.PostedEntry
	for id, b := range s.batches {
		if b.Status != ledger.StatusPosted {
			continue
		}
		for _, e := range s.entries[id] {
			if e.CommitmentID != commitmentID {
				continue
			}
			out = append(out, ledger.PostedEntry{
				Entry:            e,
				BatchStatus:      b.Status,
				BatchDate:        b.BatchDate,
				BatchDescription: b.Description,
				Category:         b.Category,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BatchDate.Equal(out[j].BatchDate) {
			return out[i].BatchDate.Before(out[j].BatchDate)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func copyBatch(b *ledger.Batch) ledger.Batch {
	out := *b
	if b.PostedAt != nil {
		t := *b.PostedAt
		out.PostedAt = &t
	}
	out.Entries = nil
	return out
}

func sortedEntries(in []ledger.Entry) []ledger.Entry {
	out := append([]ledger.Entry(nil), in...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].CommitmentID != out[j].CommitmentID {
			return out[i].CommitmentID.String() < out[j].CommitmentID.String()
		}
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
