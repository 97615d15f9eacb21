package server

import (
	"fmt"
	"strings"
	"time"

	"FundLedger/internal/core"
	"FundLedger/internal/ledger"
	"FundLedger/internal/query"
	"FundLedger/internal/waterfall"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- Requests ---

type investorRequest struct {
	Name string `json:"name"`
}

type commitmentRequest struct {
	InvestorID      uuid.UUID       `json:"investor_id"`
	CommittedAmount decimal.Decimal `json:"committed_amount"`
}

// draftFields are accepted by every draft endpoint. proposal_id is required:
// a draft books exactly the split a preview returned.
type draftFields struct {
	BatchDate      string    `json:"batch_date"`
	Description    string    `json:"description"`
	ProposalID     uuid.UUID `json:"proposal_id"`
	IdempotencyKey string    `json:"idempotency_key"`
}

func (d draftFields) options(headerKey string) (core.DraftOptions, error) {
	opts := core.DraftOptions{
		Description:    strings.TrimSpace(d.Description),
		ProposalID:     d.ProposalID,
		IdempotencyKey: strings.TrimSpace(d.IdempotencyKey),
	}
	if opts.IdempotencyKey == "" {
		opts.IdempotencyKey = strings.TrimSpace(headerKey)
	}
	if opts.ProposalID == uuid.Nil {
		return opts, badRequest("proposal_id is required, preview the draft first")
	}
	if d.BatchDate != "" {
		t, err := parseDate("batch_date", d.BatchDate)
		if err != nil {
			return opts, err
		}
		opts.BatchDate = t
	}
	return opts, nil
}

type capitalCallRequest struct {
	Total decimal.Decimal `json:"total"`
	draftFields
}

type pnlRequest struct {
	Code  string          `json:"trans_code"`
	Total decimal.Decimal `json:"total"`
	draftFields
}

type dealRequest struct {
	Name                    string           `json:"name"`
	CashAvailable           decimal.Decimal  `json:"cash_available"`
	CapitalContributed      decimal.Decimal  `json:"capital_contributed"`
	HurdleRate              *decimal.Decimal `json:"hurdle_rate"`
	CatchupPct              decimal.Decimal  `json:"catchup_pct"`
	LastDistributionDate    string           `json:"last_distribution_date"`
	CurrentDistributionDate string           `json:"current_distribution_date"`
}

// deal converts the request; a missing hurdle rate takes defaultHurdle.
func (r dealRequest) deal(defaultHurdle decimal.Decimal) (waterfall.Deal, error) {
	last, err := parseDate("last_distribution_date", r.LastDistributionDate)
	if err != nil {
		return waterfall.Deal{}, err
	}
	current, err := parseDate("current_distribution_date", r.CurrentDistributionDate)
	if err != nil {
		return waterfall.Deal{}, err
	}
	hurdle := defaultHurdle
	if r.HurdleRate != nil {
		hurdle = *r.HurdleRate
	}
	return waterfall.Deal{
		Name:                    strings.TrimSpace(r.Name),
		CashAvailable:           r.CashAvailable,
		CapitalContributed:      r.CapitalContributed,
		HurdleRate:              hurdle,
		CatchupPct:              r.CatchupPct,
		LastDistributionDate:    last,
		CurrentDistributionDate: current,
	}, nil
}

type distributionRequest struct {
	Deal dealRequest `json:"deal"`
	draftFields
}

func parseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, &badRequestError{msg: fmt.Sprintf("%s: want YYYY-MM-DD, got %q", field, s)}
	}
	return t, nil
}

// --- Responses ---

type InvestorResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type CommitmentResponse struct {
	ID              uuid.UUID       `json:"id"`
	InvestorID      uuid.UUID       `json:"investor_id"`
	CommittedAmount decimal.Decimal `json:"committed_amount"`
	CreatedAt       time.Time       `json:"created_at"`
}

type ShareResponse struct {
	CommitmentID string          `json:"commitment_id"`
	InvestorName string          `json:"investor_name,omitempty"`
	Weight       decimal.Decimal `json:"weight"`
	Ratio        decimal.Decimal `json:"ratio"`
	Amount       decimal.Decimal `json:"amount"`
}

type LegResponse struct {
	Code   ledger.TransactionCode `json:"trans_code"`
	Total  decimal.Decimal        `json:"total"`
	Shares []ShareResponse        `json:"shares"`
}

// PreviewResponse echoes a proposal. Clients send ID back as proposal_id.
type PreviewResponse struct {
	ID        uuid.UUID             `json:"proposal_id"`
	Category  ledger.Category       `json:"category"`
	Total     decimal.Decimal       `json:"total"`
	Legs      []LegResponse         `json:"legs"`
	Waterfall *waterfall.DealResult `json:"waterfall,omitempty"`
}

func newPreviewResponse(p *core.Preview, names map[uuid.UUID]string) PreviewResponse {
	resp := PreviewResponse{
		ID:        p.ID,
		Category:  p.Category,
		Total:     p.Total(),
		Legs:      make([]LegResponse, 0, len(p.Legs)),
		Waterfall: p.Waterfall,
	}
	for _, leg := range p.Legs {
		lr := LegResponse{Code: leg.Code, Total: leg.Proposal.Total()}
		for _, s := range leg.Proposal.Shares() {
			name := ""
			if id, err := uuid.Parse(s.ParticipantID); err == nil {
				name = names[id]
			}
			lr.Shares = append(lr.Shares, ShareResponse{
				CommitmentID: s.ParticipantID,
				InvestorName: name,
				Weight:       s.Weight,
				Ratio:        s.Ratio,
				Amount:       s.Amount,
			})
		}
		resp.Legs = append(resp.Legs, lr)
	}
	return resp
}

type DraftResponse struct {
	Batch    query.BatchResponse `json:"batch"`
	Preview  *PreviewResponse    `json:"preview,omitempty"`
	Replayed bool                `json:"replayed"`
}
