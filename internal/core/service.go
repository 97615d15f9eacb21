package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"FundLedger/internal/allocation"
	"FundLedger/internal/ledger"
	fmath "FundLedger/internal/math"
	"FundLedger/internal/observability"
	"FundLedger/internal/waterfall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrStaleProposal is returned when a draft request names a proposal that
// no longer matches a recomputation from current commitments.
var ErrStaleProposal = errors.New("stale allocation proposal")

// ErrNoCommitments is returned when an allocation is requested before any
// commitment exists.
var ErrNoCommitments = errors.New("fund has no commitments")

// previewNamespace scopes the combined id of multi-leg previews.
var previewNamespace = uuid.MustParse("b7a4f0c2-61d3-4f0e-8c55-3e2a9d7c4b18")

// Engine labels for fund_engine_* metrics.
const (
	EngineAllocation = "allocation"
	EngineWaterfall  = "waterfall"
)

// FundConfig wires a Fund.
type FundConfig struct {
	Name              string
	Store             ledger.Store
	Batches           *BatchManager
	Precision         fmath.Precision
	DefaultHurdleRate decimal.Decimal
	Metrics           *observability.Metrics
	Logger            zerolog.Logger
	Now               func() time.Time
}

// Fund orchestrates the registry and the preview -> draft flows on top of
// the allocation and waterfall engines and the BatchManager.
type Fund struct {
	name      string
	store     ledger.Store
	batches   *BatchManager
	validator *ledger.InvariantValidator
	precision fmath.Precision
	hurdle    decimal.Decimal
	metrics   *observability.Metrics
	log       zerolog.Logger
	now       func() time.Time
	newID     func() uuid.UUID
}

func NewFund(cfg FundConfig) *Fund {
	if cfg.Precision.Currency == "" {
		cfg.Precision = fmath.USD
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Fund{
		name:      cfg.Name,
		store:     cfg.Store,
		batches:   cfg.Batches,
		validator: ledger.NewInvariantValidator(cfg.Precision),
		precision: cfg.Precision,
		hurdle:    cfg.DefaultHurdleRate,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
		now:       cfg.Now,
		newID:     uuid.New,
	}
}

func (f *Fund) Name() string { return f.name }

func (f *Fund) Precision() fmath.Precision { return f.precision }

// DefaultHurdleRate is applied by callers when a deal omits its own rate.
func (f *Fund) DefaultHurdleRate() decimal.Decimal { return f.hurdle }

func (f *Fund) Batches() *BatchManager { return f.batches }

// --- Registry ---

// RegisterInvestor creates an investor with the given display name.
func (f *Fund) RegisterInvestor(ctx context.Context, name string) (*ledger.Investor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: display name is required", ledger.ErrInvalidInvestor)
	}
	inv := &ledger.Investor{ID: f.newID(), Name: name, CreatedAt: f.now()}
	if err := f.store.CreateInvestor(ctx, inv); err != nil {
		return nil, err
	}
	f.log.Info().Str("investor_id", inv.ID.String()).Str("name", name).Msg("investor registered")
	return inv, nil
}

// AddCommitment records the investor's single commitment to the fund.
func (f *Fund) AddCommitment(ctx context.Context, investorID uuid.UUID, amount decimal.Decimal) (*ledger.Commitment, error) {
	inv, err := f.store.GetInvestor(ctx, investorID)
	if err != nil {
		return nil, err
	}
	c := &ledger.Commitment{
		ID:              f.newID(),
		InvestorID:      inv.ID,
		InvestorName:    inv.Name,
		CommittedAmount: amount,
		CreatedAt:       f.now(),
	}
	if err := f.validator.ValidateCommitment(c); err != nil {
		return nil, err
	}
	if err := f.store.CreateCommitment(ctx, c); err != nil {
		return nil, err
	}
	f.log.Info().
		Str("commitment_id", c.ID.String()).
		Str("investor_id", inv.ID.String()).
		Str("amount", amount.String()).
		Msg("commitment added")
	return c, nil
}

// --- Previews ---

// Preview is an explicit, immutable proposal. Draft requests echo its ID back
// so a preview can never silently turn into a different persisted split.
type Preview struct {
	ID        uuid.UUID
	Category  ledger.Category
	Legs      []ledger.Leg
	Waterfall *waterfall.DealResult // distributions only
}

// Total is the sum of leg totals (signed).
func (p *Preview) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range p.Legs {
		sum = sum.Add(l.Proposal.Total())
	}
	return sum
}

func (f *Fund) PreviewCapitalCall(ctx context.Context, total decimal.Decimal) (*Preview, error) {
	if !total.IsPositive() {
		return nil, fmt.Errorf("%w: capital call total %s must be positive", allocation.ErrInvalidAllocationInput, total)
	}
	p, err := f.allocate(ctx, total)
	if err != nil {
		return nil, err
	}
	return newPreview(ledger.CategoryCapitalCall, nil, ledger.Leg{Code: ledger.CodeCapitalCall, Proposal: p}), nil
}

// PreviewPnL allocates a P&L amount. A negative total is kept signed in the
// proposal and booked under the opposing code at draft time.
func (f *Fund) PreviewPnL(ctx context.Context, code ledger.TransactionCode, total decimal.Decimal) (*Preview, error) {
	if !ledger.CategoryPnL.Allows(code) {
		return nil, fmt.Errorf("%w: %s is not a P&L code", ledger.ErrUnknownTransactionCode, code)
	}
	p, err := f.allocate(ctx, total)
	if err != nil {
		return nil, err
	}
	return newPreview(ledger.CategoryPnL, nil, ledger.Leg{Code: code, Proposal: p}), nil
}

// PreviewDistribution runs the deal waterfall and allocates the LP side:
// return of capital as DIST-ROC and LP profit as DIST-GAIN. GP amounts are
// reported on the waterfall but not booked to LP capital accounts.
func (f *Fund) PreviewDistribution(ctx context.Context, deal waterfall.Deal) (*Preview, error) {
	res, err := f.RunWaterfall(deal)
	if err != nil {
		return nil, err
	}
	roc, err := f.allocate(ctx, res.ReturnOfCapital)
	if err != nil {
		return nil, err
	}
	gain, err := f.allocate(ctx, res.LPProfit())
	if err != nil {
		return nil, err
	}
	return newPreview(ledger.CategoryDistribution, res,
		ledger.Leg{Code: ledger.CodeReturnOfCapital, Proposal: roc},
		ledger.Leg{Code: ledger.CodeDistributionGain, Proposal: gain},
	), nil
}

// RunWaterfall accrues pref for the deal and applies the four tiers.
func (f *Fund) RunWaterfall(deal waterfall.Deal) (*waterfall.DealResult, error) {
	start := time.Now()
	res, err := waterfall.RunDeal(deal, f.precision)
	f.observeEngine(EngineWaterfall, start, err)
	return res, err
}

func (f *Fund) allocate(ctx context.Context, total decimal.Decimal) (*allocation.Proposal, error) {
	weights, err := f.commitmentWeights(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	p, err := allocation.Allocate(total, weights, f.precision)
	f.observeEngine(EngineAllocation, start, err)
	return p, err
}

func (f *Fund) commitmentWeights(ctx context.Context) ([]allocation.Weight, error) {
	commitments, err := f.store.ListCommitments(ctx)
	if err != nil {
		return nil, err
	}
	if len(commitments) == 0 {
		return nil, ErrNoCommitments
	}
	weights := make([]allocation.Weight, 0, len(commitments))
	for _, c := range commitments {
		if err := f.validator.ValidateCommitment(&c); err != nil {
			return nil, err
		}
		weights = append(weights, allocation.Weight{
			ParticipantID: c.ID.String(),
			Weight:        c.CommittedAmount,
		})
	}
	return weights, nil
}

func newPreview(cat ledger.Category, wf *waterfall.DealResult, legs ...ledger.Leg) *Preview {
	p := &Preview{Category: cat, Legs: legs, Waterfall: wf}
	if len(legs) == 1 {
		p.ID = legs[0].Proposal.ID()
		return p
	}
	var b strings.Builder
	b.WriteString(string(cat))
	for _, l := range legs {
		fmt.Fprintf(&b, "|%s=%s", l.Code, l.Proposal.ID())
	}
	p.ID = uuid.NewSHA1(previewNamespace, []byte(b.String()))
	return p
}

// --- Drafts ---

// DraftOptions are shared by every draft request. A zero ProposalID skips
// the staleness check; a zero BatchDate means today.
type DraftOptions struct {
	BatchDate      time.Time
	Description    string
	ProposalID     uuid.UUID
	IdempotencyKey string
}

type CapitalCallRequest struct {
	Total decimal.Decimal
	DraftOptions
}

type PnLRequest struct {
	Code  ledger.TransactionCode
	Total decimal.Decimal
	DraftOptions
}

type DistributionRequest struct {
	Deal waterfall.Deal
	DraftOptions
}

// DraftResult is a created (or replayed) batch plus the preview it came from.
type DraftResult struct {
	Batch    *ledger.Batch
	Preview  *Preview
	Replayed bool
}

func (f *Fund) DraftCapitalCall(ctx context.Context, req CapitalCallRequest) (*DraftResult, error) {
	preview, err := f.PreviewCapitalCall(ctx, req.Total)
	if err != nil {
		return nil, err
	}
	desc := fmt.Sprintf("Capital Call: %s", f.precision.Format(req.Total))
	return f.draft(ctx, preview, req.DraftOptions, desc)
}

func (f *Fund) DraftPnL(ctx context.Context, req PnLRequest) (*DraftResult, error) {
	preview, err := f.PreviewPnL(ctx, req.Code, req.Total)
	if err != nil {
		return nil, err
	}
	code := req.Code
	if req.Total.IsNegative() {
		if opp, ok := code.Opposite(); ok {
			code = opp
		}
	}
	desc := fmt.Sprintf("P&L Allocation: %s %s", code.Description(), f.precision.Format(req.Total.Abs()))
	return f.draft(ctx, preview, req.DraftOptions, desc)
}

func (f *Fund) DraftDistribution(ctx context.Context, req DistributionRequest) (*DraftResult, error) {
	preview, err := f.PreviewDistribution(ctx, req.Deal)
	if err != nil {
		return nil, err
	}
	desc := fmt.Sprintf("Distribution: %s", f.precision.Format(preview.Waterfall.TotalLP))
	if name := strings.TrimSpace(req.Deal.Name); name != "" {
		desc = fmt.Sprintf("Distribution %s: %s", name, f.precision.Format(preview.Waterfall.TotalLP))
	}
	return f.draft(ctx, preview, req.DraftOptions, desc)
}

func (f *Fund) draft(ctx context.Context, preview *Preview, opts DraftOptions, defaultDesc string) (*DraftResult, error) {
	date := opts.BatchDate
	if date.IsZero() {
		date = f.now()
	}
	desc := strings.TrimSpace(opts.Description)
	if desc == "" {
		desc = defaultDesc
	}
	req := ledger.DraftRequest{
		BatchDate:      date,
		Description:    desc,
		Category:       preview.Category,
		IdempotencyKey: opts.IdempotencyKey,
		Legs:           preview.Legs,
	}

	// A retried request is answered from its original batch even if the
	// commitments have moved on since. Category and total must still match.
	existing, err := f.batches.Replay(ctx, req)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &DraftResult{Batch: existing, Preview: preview, Replayed: true}, nil
	}

	if opts.ProposalID != uuid.Nil && opts.ProposalID != preview.ID {
		if f.metrics != nil {
			f.metrics.StaleProposals.Inc()
		}
		f.log.Warn().
			Str("proposal_id", opts.ProposalID.String()).
			Str("current_id", preview.ID.String()).
			Msg("draft request rejected, proposal is stale")
		return nil, fmt.Errorf("%w: previewed %s, current %s", ErrStaleProposal, opts.ProposalID, preview.ID)
	}

	out, err := f.batches.CreateDraft(ctx, req)
	if err != nil {
		return nil, err
	}
	return &DraftResult{Batch: out.Batch, Preview: preview, Replayed: out.Replayed}, nil
}

// --- Lifecycle passthroughs ---

func (f *Fund) PostBatch(ctx context.Context, id uuid.UUID) (*ledger.Batch, error) {
	return f.batches.Post(ctx, id)
}

func (f *Fund) DiscardBatch(ctx context.Context, id uuid.UUID) error {
	return f.batches.DeleteDraft(ctx, id)
}

func (f *Fund) observeEngine(engine string, start time.Time, err error) {
	if f.metrics == nil {
		return
	}
	f.metrics.EngineRuns.WithLabelValues(engine).Inc()
	f.metrics.EngineDuration.WithLabelValues(engine).Observe(time.Since(start).Seconds())
	if err != nil {
		f.metrics.EngineErrors.WithLabelValues(engine, engineErrReason(err)).Inc()
	}
}

func engineErrReason(err error) string {
	switch {
	case errors.Is(err, allocation.ErrInvalidAllocationInput):
		return "invalid_allocation_input"
	case errors.Is(err, waterfall.ErrInvalidDateRange):
		return "invalid_date_range"
	case errors.Is(err, waterfall.ErrInvalidCatchupRate):
		return "invalid_catchup_rate"
	case errors.Is(err, waterfall.ErrInvalidInput):
		return "invalid_input"
	default:
		return "other"
	}
}
