package query

import (
	"context"
	"fmt"
	"time"

	"FundLedger/internal/allocation"
	"FundLedger/internal/ledger"
	fmath "FundLedger/internal/math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ownershipPlaces is the display precision of cap table ownership fractions.
const ownershipPlaces = 8

// QueryService provides read-only views over the ledger store: cap table,
// partner statements, fund summary and batch reads. Every balance is derived
// from POSTED entries at query time.
type QueryService struct {
	store     ledger.Store
	fundName  string
	precision fmath.Precision
}

func NewQueryService(store ledger.Store, fundName string, p fmath.Precision) *QueryService {
	return &QueryService{store: store, fundName: fundName, precision: p}
}

// CapTable lists every commitment with its share of total fund size. The
// ownership fractions are the ratios the allocation engine uses for calls.
func (qs *QueryService) CapTable(ctx context.Context) (*CapTableResponse, error) {
	commitments, err := qs.store.ListCommitments(ctx)
	if err != nil {
		return nil, err
	}

	resp := &CapTableResponse{
		FundName:      qs.fundName,
		Currency:      qs.precision.Currency,
		TotalFundSize: decimal.Zero,
		InvestorCount: len(commitments),
		Rows:          []CapTableRow{},
	}
	if len(commitments) == 0 {
		return resp, nil
	}

	weights := make([]allocation.Weight, 0, len(commitments))
	for _, c := range commitments {
		weights = append(weights, allocation.Weight{ParticipantID: c.ID.String(), Weight: c.CommittedAmount})
		resp.TotalFundSize = resp.TotalFundSize.Add(c.CommittedAmount)
	}

	proposal, err := allocation.Allocate(resp.TotalFundSize, weights, qs.precision)
	if err != nil {
		return nil, fmt.Errorf("cap table: %w", err)
	}

	for _, c := range commitments {
		share, _ := proposal.ShareOf(c.ID.String())
		resp.Rows = append(resp.Rows, CapTableRow{
			CommitmentID:    c.ID,
			InvestorID:      c.InvestorID,
			InvestorName:    c.InvestorName,
			CommittedAmount: c.CommittedAmount,
			Ownership:       share.Ratio.Round(ownershipPlaces),
		})
	}
	return resp, nil
}

// Statement is the fund-to-date capital account for one commitment.
// Beginning balance is always zero; there is no prior-period carryforward.
func (qs *QueryService) Statement(ctx context.Context, commitmentID uuid.UUID) (*StatementResponse, error) {
	c, err := qs.store.GetCommitment(ctx, commitmentID)
	if err != nil {
		return nil, err
	}
	entries, err := qs.store.ListPostedEntriesForCommitment(ctx, commitmentID)
	if err != nil {
		return nil, err
	}
	snap, err := ledger.RollForward(*c, entries)
	if err != nil {
		return nil, err
	}

	resp := &StatementResponse{
		FundName:     qs.fundName,
		Currency:     qs.precision.Currency,
		InvestorName: c.InvestorName,
		Snapshot:     newSnapshotResponse(snap, c.InvestorName),
		History:      []StatementLine{},
	}

	running := snap.BeginningBalance
	for _, e := range entries {
		signed := ledger.SignedAmount(e.Code, e.Amount)
		running = running.Add(signed)
		resp.History = append(resp.History, StatementLine{
			EntryID:          e.ID,
			BatchID:          e.BatchID,
			BatchDate:        e.BatchDate.Format(time.DateOnly),
			BatchDescription: e.BatchDescription,
			Code:             e.Code,
			CodeDescription:  e.Code.Description(),
			Amount:           e.Amount,
			Signed:           signed,
			RunningBalance:   running,
		})
	}
	return resp, nil
}

// FundSummary rolls every commitment forward and totals the results.
func (qs *QueryService) FundSummary(ctx context.Context) (*FundSummaryResponse, error) {
	commitments, err := qs.store.ListCommitments(ctx)
	if err != nil {
		return nil, err
	}

	totals := &ledger.AccountSnapshot{}
	resp := &FundSummaryResponse{
		FundName: qs.fundName,
		Currency: qs.precision.Currency,
		Accounts: []SnapshotResponse{},
	}

	for _, c := range commitments {
		entries, err := qs.store.ListPostedEntriesForCommitment(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		snap, err := ledger.RollForward(c, entries)
		if err != nil {
			return nil, err
		}
		totals.Add(snap)
		resp.Accounts = append(resp.Accounts, newSnapshotResponse(snap, c.InvestorName))
	}

	resp.Totals = newSnapshotResponse(totals, "")
	return resp, nil
}

// GetBatch returns a batch with its entries labelled by investor.
func (qs *QueryService) GetBatch(ctx context.Context, id uuid.UUID) (*BatchResponse, error) {
	b, err := qs.store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	names, err := qs.InvestorNames(ctx)
	if err != nil {
		return nil, err
	}
	resp := NewBatchResponse(b, names)
	return &resp, nil
}

// ListBatches returns batch headers, newest first.
func (qs *QueryService) ListBatches(ctx context.Context, filter ledger.BatchFilter) ([]BatchResponse, error) {
	batches, err := qs.store.ListBatches(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]BatchResponse, 0, len(batches))
	for i := range batches {
		out = append(out, NewBatchResponse(&batches[i], nil))
	}
	return out, nil
}

// InvestorNames maps commitment id to investor display name.
func (qs *QueryService) InvestorNames(ctx context.Context) (map[uuid.UUID]string, error) {
	commitments, err := qs.store.ListCommitments(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[uuid.UUID]string, len(commitments))
	for _, c := range commitments {
		names[c.ID] = c.InvestorName
	}
	return names, nil
}
