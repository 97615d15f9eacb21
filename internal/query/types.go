package query

import (
	"time"

	"FundLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CapTableResponse is the fund overview: every commitment and its ownership.
type CapTableResponse struct {
	FundName      string          `json:"fund_name"`
	Currency      string          `json:"currency"`
	TotalFundSize decimal.Decimal `json:"total_fund_size"`
	InvestorCount int             `json:"investor_count"`
	Rows          []CapTableRow   `json:"rows"`
}

type CapTableRow struct {
	CommitmentID    uuid.UUID       `json:"commitment_id"`
	InvestorID      uuid.UUID       `json:"investor_id"`
	InvestorName    string          `json:"investor_name"`
	CommittedAmount decimal.Decimal `json:"committed_amount"`
	Ownership       decimal.Decimal `json:"ownership"` // fraction of fund size
}

// SnapshotResponse is an AccountSnapshot with exact decimal text fields.
type SnapshotResponse struct {
	CommitmentID     uuid.UUID       `json:"commitment_id"`
	InvestorName     string          `json:"investor_name,omitempty"`
	CommittedAmount  decimal.Decimal `json:"committed_amount"`
	BeginningBalance decimal.Decimal `json:"beginning_balance"`
	Contributions    decimal.Decimal `json:"contributions"`
	Additions        decimal.Decimal `json:"additions"`
	Deductions       decimal.Decimal `json:"deductions"`
	Distributions    decimal.Decimal `json:"distributions"`
	EndingBalance    decimal.Decimal `json:"ending_balance"`
	UnfundedBalance  decimal.Decimal `json:"unfunded_balance"`
	EntryCount       int             `json:"entry_count"`
}

func newSnapshotResponse(s *ledger.AccountSnapshot, investorName string) SnapshotResponse {
	return SnapshotResponse{
		CommitmentID:     s.CommitmentID,
		InvestorName:     investorName,
		CommittedAmount:  s.CommittedAmount,
		BeginningBalance: s.BeginningBalance,
		Contributions:    s.Contributions,
		Additions:        s.Additions,
		Deductions:       s.Deductions,
		Distributions:    s.Distributions,
		EndingBalance:    s.EndingBalance,
		UnfundedBalance:  s.UnfundedBalance,
		EntryCount:       s.EntryCount,
	}
}

// StatementResponse is one partner's capital account statement.
type StatementResponse struct {
	FundName     string           `json:"fund_name"`
	Currency     string           `json:"currency"`
	InvestorName string           `json:"investor_name"`
	Snapshot     SnapshotResponse `json:"snapshot"`
	History      []StatementLine  `json:"history"`
}

// StatementLine is one POSTED entry. Amount is the stored magnitude; Signed
// and RunningBalance apply the code's direction for display.
type StatementLine struct {
	EntryID          uuid.UUID              `json:"entry_id"`
	BatchID          uuid.UUID              `json:"batch_id"`
	BatchDate        string                 `json:"batch_date"`
	BatchDescription string                 `json:"batch_description"`
	Code             ledger.TransactionCode `json:"trans_code"`
	CodeDescription  string                 `json:"code_description"`
	Amount           decimal.Decimal        `json:"amount"`
	Signed           decimal.Decimal        `json:"signed_amount"`
	RunningBalance   decimal.Decimal        `json:"running_balance"`
}

// FundSummaryResponse rolls every commitment forward and totals the fund.
type FundSummaryResponse struct {
	FundName string             `json:"fund_name"`
	Currency string             `json:"currency"`
	Accounts []SnapshotResponse `json:"accounts"`
	Totals   SnapshotResponse   `json:"totals"`
}

// BatchResponse is a batch header, with entries on single-batch reads.
type BatchResponse struct {
	ID             uuid.UUID       `json:"id"`
	BatchDate      string          `json:"batch_date"`
	Description    string          `json:"description"`
	Category       ledger.Category `json:"category"`
	Status         ledger.Status   `json:"status"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Total          decimal.Decimal `json:"total"`
	EntryCount     int             `json:"entry_count"`
	Checksum       string          `json:"checksum"`
	CreatedAt      time.Time       `json:"created_at"`
	PostedAt       *time.Time      `json:"posted_at,omitempty"`
	Entries        []EntryResponse `json:"entries,omitempty"`
}

type EntryResponse struct {
	ID           uuid.UUID              `json:"id"`
	CommitmentID uuid.UUID              `json:"commitment_id"`
	InvestorName string                 `json:"investor_name,omitempty"`
	Code         ledger.TransactionCode `json:"trans_code"`
	Amount       decimal.Decimal        `json:"amount"`
}

// NewBatchResponse renders b. names maps commitment id to investor name and may be nil.
func NewBatchResponse(b *ledger.Batch, names map[uuid.UUID]string) BatchResponse {
	resp := BatchResponse{
		ID:             b.ID,
		BatchDate:      b.BatchDate.Format(time.DateOnly),
		Description:    b.Description,
		Category:       b.Category,
		Status:         b.Status,
		IdempotencyKey: b.IdempotencyKey,
		Total:          b.Total,
		EntryCount:     b.EntryCount,
		Checksum:       b.Checksum,
		CreatedAt:      b.CreatedAt,
		PostedAt:       b.PostedAt,
	}
	for _, e := range b.Entries {
		resp.Entries = append(resp.Entries, EntryResponse{
			ID:           e.ID,
			CommitmentID: e.CommitmentID,
			InvestorName: names[e.CommitmentID],
			Code:         e.Code,
			Amount:       e.Amount,
		})
	}
	return resp
}

// IntegrityReport is the result of an integrity verification run.
type IntegrityReport struct {
	IsHealthy      bool            `json:"is_healthy"`
	CheckedBatches int             `json:"checked_batches"`
	CheckedEntries int             `json:"checked_entries"`
	Findings       []AuditFinding  `json:"findings,omitempty"`
	FundTotals     decimal.Decimal `json:"fund_ending_balance"`
	StartedAt      time.Time       `json:"started_at"`
	Duration       string          `json:"duration"`
}

// AuditFinding is one integrity violation on a POSTED batch or commitment.
type AuditFinding struct {
	BatchID      uuid.UUID `json:"batch_id"`
	CommitmentID uuid.UUID `json:"commitment_id"`
	Kind         string    `json:"kind"`
	Detail       string    `json:"detail"`
}
