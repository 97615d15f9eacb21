// Package audit re-verifies POSTED ledger data: batch totals, category and
// code compatibility, draft-time checksums and per-commitment roll-forwards.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FundLedger/internal/core"
	"FundLedger/internal/ledger"
	fmath "FundLedger/internal/math"
	"FundLedger/internal/observability"
	"FundLedger/internal/query"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Finding kinds.
const (
	KindInvalidBatch     = "invalid_batch"
	KindChecksumMismatch = "checksum_mismatch"
	KindEntryCount       = "entry_count_mismatch"
	KindMissingPostedAt  = "missing_posted_at"
	KindUnknownCode      = "unknown_transaction_code"
	KindSnapshot         = "snapshot_identity"
)

type Auditor struct {
	store     ledger.Store
	validator *ledger.InvariantValidator
	metrics   *observability.Metrics
	log       zerolog.Logger
	now       func() time.Time
}

func NewAuditor(store ledger.Store, p fmath.Precision, metrics *observability.Metrics, log zerolog.Logger) *Auditor {
	return &Auditor{
		store:     store,
		validator: ledger.NewInvariantValidator(p),
		metrics:   metrics,
		log:       log,
		now:       time.Now,
	}
}

// Check walks every POSTED batch and every commitment. Findings are
// reported, never repaired. A store error aborts the run.
func (a *Auditor) Check(ctx context.Context) (*query.IntegrityReport, error) {
	start := a.now()
	report := &query.IntegrityReport{StartedAt: start.UTC(), FundTotals: decimal.Zero}

	posted, err := a.store.ListBatches(ctx, ledger.BatchFilter{Statuses: []ledger.Status{ledger.StatusPosted}})
	if err != nil {
		return nil, fmt.Errorf("audit list batches: %w", err)
	}

	for _, header := range posted {
		b, err := a.store.GetBatch(ctx, header.ID)
		if err != nil {
			return nil, fmt.Errorf("audit get batch %s: %w", header.ID, err)
		}
		report.CheckedBatches++
		report.CheckedEntries += len(b.Entries)
		a.checkBatch(b, report)
	}

	commitments, err := a.store.ListCommitments(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit list commitments: %w", err)
	}
	for _, c := range commitments {
		entries, err := a.store.ListPostedEntriesForCommitment(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("audit entries for %s: %w", c.ID, err)
		}
		snap, err := ledger.RollForward(c, entries)
		if err != nil {
			kind := KindSnapshot
			if errors.Is(err, ledger.ErrUnknownTransactionCode) {
				kind = KindUnknownCode
			}
			a.addFinding(report, query.AuditFinding{CommitmentID: c.ID, Kind: kind, Detail: err.Error()})
			continue
		}
		if err := a.validator.ValidateSnapshot(snap); err != nil {
			a.addFinding(report, query.AuditFinding{CommitmentID: c.ID, Kind: KindSnapshot, Detail: err.Error()})
		}
		report.FundTotals = report.FundTotals.Add(snap.EndingBalance)
	}

	elapsed := a.now().Sub(start)
	report.Duration = elapsed.String()
	report.IsHealthy = len(report.Findings) == 0

	if a.metrics != nil {
		a.metrics.AuditRuns.Inc()
		a.metrics.AuditFindings.Set(float64(len(report.Findings)))
		a.metrics.AuditDuration.Observe(elapsed.Seconds())
		a.metrics.AuditLastRun.Set(float64(a.now().Unix()))
	}

	ev := a.log.Info()
	if !report.IsHealthy {
		ev = a.log.Warn()
	}
	ev.Int("batches", report.CheckedBatches).
		Int("entries", report.CheckedEntries).
		Int("findings", len(report.Findings)).
		Dur("duration", elapsed).
		Msg("integrity audit complete")

	return report, nil
}

func (a *Auditor) checkBatch(b *ledger.Batch, report *query.IntegrityReport) {
	if err := a.validator.ValidateBatch(b); err != nil {
		kind := KindInvalidBatch
		if errors.Is(err, ledger.ErrUnknownTransactionCode) {
			kind = KindUnknownCode
		}
		a.addFinding(report, query.AuditFinding{BatchID: b.ID, Kind: kind, Detail: err.Error()})
	}
	if b.EntryCount != len(b.Entries) {
		a.addFinding(report, query.AuditFinding{
			BatchID: b.ID,
			Kind:    KindEntryCount,
			Detail:  fmt.Sprintf("header records %d entries, found %d", b.EntryCount, len(b.Entries)),
		})
	}
	if !core.VerifyChecksum(b) {
		a.addFinding(report, query.AuditFinding{
			BatchID: b.ID,
			Kind:    KindChecksumMismatch,
			Detail:  fmt.Sprintf("stored %q, computed %q", b.Checksum, core.BatchChecksum(b)),
		})
	}
	if b.PostedAt == nil {
		a.addFinding(report, query.AuditFinding{BatchID: b.ID, Kind: KindMissingPostedAt, Detail: "posted batch has no posted_at"})
	}
}

func (a *Auditor) addFinding(report *query.IntegrityReport, f query.AuditFinding) {
	report.Findings = append(report.Findings, f)

	ev := a.log.Error().Str("kind", f.Kind).Str("detail", f.Detail)
	if f.BatchID != uuid.Nil {
		ev = ev.Str("batch_id", f.BatchID.String())
	}
	if f.CommitmentID != uuid.Nil {
		ev = ev.Str("commitment_id", f.CommitmentID.String())
	}
	ev.Msg("integrity finding")
}
