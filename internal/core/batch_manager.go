package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FundLedger/internal/event"
	"FundLedger/internal/ledger"
	fmath "FundLedger/internal/math"
	"FundLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrIdempotencyConflict is returned when an idempotency key already names a
// batch of a different category or total than the request carrying it.
var ErrIdempotencyConflict = errors.New("idempotency key already used for a different request")

// Publisher accepts batch lifecycle events. Publish must not block; a false
// return means the event was dropped.
type Publisher interface {
	Publish(evt event.BatchEvent) bool
}

// BatchManagerConfig wires a BatchManager. Only Store is required.
type BatchManagerConfig struct {
	Store         ledger.Store
	Precision     fmath.Precision
	Publisher     Publisher
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
	DedupCapacity int
	Now           func() time.Time
}

// BatchManager owns the DRAFT -> POSTED state machine and the DRAFT delete.
//
// Draft creation and deletion are single store transactions. Posting is a
// compare-and-set on the stored status, so of two concurrent posts exactly
// one succeeds and the other fails with ErrInvalidStateTransition.
type BatchManager struct {
	store     ledger.Store
	generator *ledger.DraftGenerator
	validator *ledger.InvariantValidator
	dedup     *IdempotencyChecker
	precision fmath.Precision
	publisher Publisher
	metrics   *observability.Metrics
	log       zerolog.Logger
	now       func() time.Time
}

func NewBatchManager(cfg BatchManagerConfig) *BatchManager {
	if cfg.Precision.Currency == "" {
		cfg.Precision = fmath.USD
	}
	if cfg.DedupCapacity <= 0 {
		cfg.DedupCapacity = 100_000
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	return &BatchManager{
		store:     cfg.Store,
		generator: ledger.NewDraftGeneratorWithClock(cfg.Now),
		validator: ledger.NewInvariantValidator(cfg.Precision),
		dedup:     NewIdempotencyChecker(cfg.DedupCapacity, cfg.Store, cfg.Metrics),
		precision: cfg.Precision,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
		now:       cfg.Now,
	}
}

// DraftOutcome is the result of CreateDraft. Replayed is true when the
// idempotency key matched an existing batch and nothing was written.
type DraftOutcome struct {
	Batch    *ledger.Batch
	Replayed bool
}

// CreateDraft builds a DRAFT batch from engine proposals and persists the
// batch with every entry in one transaction.
func (m *BatchManager) CreateDraft(ctx context.Context, req ledger.DraftRequest) (*DraftOutcome, error) {
	if existing, err := m.Replay(ctx, req); err != nil {
		return nil, err
	} else if existing != nil {
		m.log.Info().
			Str("batch_id", existing.ID.String()).
			Str("idempotency_key", req.IdempotencyKey).
			Msg("draft request replayed")
		return &DraftOutcome{Batch: existing, Replayed: true}, nil
	}

	batch, err := m.generator.Generate(req)
	if err != nil {
		m.reject("create", err)
		return nil, err
	}
	if err := m.validator.ValidateBatch(batch); err != nil {
		m.reject("create", err)
		return nil, err
	}
	batch.Checksum = BatchChecksum(batch)

	start := time.Now()
	err = m.store.InsertBatchWithEntries(ctx, batch)
	m.observePersist("insert_batch", start)

	if errors.Is(err, ledger.ErrDuplicateKey) {
		// Lost a race with a concurrent request carrying the same key.
		existing, lookupErr := m.Replay(ctx, req)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing != nil {
			return &DraftOutcome{Batch: existing, Replayed: true}, nil
		}
	}
	if err != nil {
		if errors.Is(err, ledger.ErrPersistenceFailure) {
			return nil, m.persistErr("insert_batch", err)
		}
		m.reject("create", err)
		return nil, err
	}

	m.dedup.MarkProcessed(batch.IdempotencyKey, batch.ID)

	if m.metrics != nil {
		m.metrics.BatchesDrafted.WithLabelValues(string(batch.Category)).Inc()
		m.metrics.BatchEntries.Observe(float64(batch.EntryCount))
	}
	m.log.Info().
		Str("batch_id", batch.ID.String()).
		Str("category", string(batch.Category)).
		Int("entries", batch.EntryCount).
		Str("total", batch.Total.String()).
		Msg("draft batch created")

	m.publish(event.EventTypeBatchDrafted, batch)
	return &DraftOutcome{Batch: batch}, nil
}

// Post transitions a DRAFT batch to POSTED. Fails with ErrBatchNotFound or
// ErrInvalidStateTransition and leaves the batch untouched.
//
// The batch is read before the compare-and-set, so once the status write
// succeeds the call reports success without another read.
func (m *BatchManager) Post(ctx context.Context, id uuid.UUID) (*ledger.Batch, error) {
	batch, err := m.store.GetBatch(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrPersistenceFailure) {
			return nil, m.persistErr("get_batch", err)
		}
		m.reject("post", err)
		return nil, err
	}
	if !batch.IsDraft() {
		err := fmt.Errorf("%w: batch %s is %s", ledger.ErrInvalidStateTransition, id, batch.Status)
		m.reject("post", err)
		return nil, err
	}

	postedAt := m.now().UTC()
	start := time.Now()
	err = m.store.UpdateBatchStatus(ctx, id, ledger.StatusDraft, ledger.StatusPosted, postedAt)
	m.observePersist("post_batch", start)
	if err != nil {
		if errors.Is(err, ledger.ErrPersistenceFailure) {
			return nil, m.persistErr("post_batch", err)
		}
		m.reject("post", err)
		return nil, err
	}
	batch.Status = ledger.StatusPosted
	batch.PostedAt = &postedAt

	if m.metrics != nil {
		m.metrics.BatchesPosted.WithLabelValues(string(batch.Category)).Inc()
		m.metrics.PostedAmountTotal.WithLabelValues(string(batch.Category)).Add(batch.Total.InexactFloat64())
	}
	m.log.Info().
		Str("batch_id", batch.ID.String()).
		Str("category", string(batch.Category)).
		Int("entries", batch.EntryCount).
		Str("total", batch.Total.String()).
		Msg("batch posted")

	m.publish(event.EventTypeBatchPosted, batch)
	return batch, nil
}

// DeleteDraft removes a DRAFT batch together with all of its entries.
func (m *BatchManager) DeleteDraft(ctx context.Context, id uuid.UUID) error {
	batch, err := m.store.GetBatch(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrPersistenceFailure) {
			return m.persistErr("get_batch", err)
		}
		m.reject("delete", err)
		return err
	}
	if !batch.IsDraft() {
		err := fmt.Errorf("%w: batch %s is %s, only DRAFT can be deleted",
			ledger.ErrInvalidStateTransition, id, batch.Status)
		m.reject("delete", err)
		return err
	}

	start := time.Now()
	err = m.store.DeleteDraftBatch(ctx, id)
	m.observePersist("delete_batch", start)
	if err != nil {
		if errors.Is(err, ledger.ErrPersistenceFailure) {
			return m.persistErr("delete_batch", err)
		}
		m.reject("delete", err)
		return err
	}

	m.dedup.Forget(batch.IdempotencyKey)

	if m.metrics != nil {
		m.metrics.BatchesDeleted.WithLabelValues(string(batch.Category)).Inc()
	}
	m.log.Info().
		Str("batch_id", batch.ID.String()).
		Str("category", string(batch.Category)).
		Int("entries", batch.EntryCount).
		Msg("draft batch deleted")

	m.publish(event.EventTypeBatchDeleted, batch)
	return nil
}

// Replay returns the batch already created under req's idempotency key, or
// nil. A stored batch whose category or total differs from what req would
// produce fails with ErrIdempotencyConflict.
func (m *BatchManager) Replay(ctx context.Context, req ledger.DraftRequest) (*ledger.Batch, error) {
	b, err := m.dedup.Lookup(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, m.persistErr("lookup_key", err)
	}
	if b == nil {
		return nil, nil
	}
	if want := req.Total(); b.Category != req.Category || !b.Total.Equal(want) {
		err := fmt.Errorf("%w: key %q names %s batch %s of %s, request is %s of %s",
			ErrIdempotencyConflict, req.IdempotencyKey, b.Category, b.ID, b.Total, req.Category, want)
		m.reject("create", err)
		return nil, err
	}
	return b, nil
}

func (m *BatchManager) Get(ctx context.Context, id uuid.UUID) (*ledger.Batch, error) {
	return m.store.GetBatch(ctx, id)
}

// List returns batch headers filtered by status and category.
func (m *BatchManager) List(ctx context.Context, filter ledger.BatchFilter) ([]ledger.Batch, error) {
	return m.store.ListBatches(ctx, filter)
}

// WarmIdempotency preloads recent idempotency keys from the store.
func (m *BatchManager) WarmIdempotency(ctx context.Context) error {
	n, err := m.dedup.Warm(ctx)
	if err != nil {
		return m.persistErr("warm_keys", err)
	}
	m.log.Info().Int("keys", n).Msg("idempotency cache warmed")
	return nil
}

func (m *BatchManager) publish(t event.EventType, b *ledger.Batch) {
	if m.publisher == nil {
		return
	}
	evt := event.NewBatchEvent(t, b, m.precision.Currency, m.now())
	if !m.publisher.Publish(evt) {
		m.log.Warn().
			Str("batch_id", b.ID.String()).
			Str("event_type", t.String()).
			Msg("outbound queue full, event dropped")
	}
}

func (m *BatchManager) reject(op string, err error) {
	if m.metrics != nil {
		m.metrics.BatchesRejected.WithLabelValues(op, rejectReason(err)).Inc()
	}
	m.log.Debug().Err(err).Str("operation", op).Msg("batch operation rejected")
}

func (m *BatchManager) persistErr(op string, err error) error {
	if m.metrics != nil {
		m.metrics.PersistErrors.WithLabelValues(op).Inc()
	}
	m.log.Error().Err(err).Str("operation", op).Msg("store failure")
	return err
}

func (m *BatchManager) observePersist(op string, start time.Time) {
	if m.metrics != nil {
		m.metrics.PersistDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrBatchNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrInvalidStateTransition):
		return "invalid_transition"
	case errors.Is(err, ledger.ErrUnknownTransactionCode):
		return "unknown_code"
	case errors.Is(err, ledger.ErrCommitmentNotFound):
		return "unknown_commitment"
	case errors.Is(err, ledger.ErrInvalidBatch):
		return "invalid_batch"
	case errors.Is(err, ErrIdempotencyConflict):
		return "idempotency_conflict"
	default:
		return "other"
	}
}
