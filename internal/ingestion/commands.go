package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"FundLedger/internal/core"
	"FundLedger/internal/ledger"
	"FundLedger/internal/waterfall"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind identifies an inbound command by the last token of its subject.
type Kind string

const (
	KindCapitalCall  Kind = "capital_call"
	KindPnL          Kind = "pnl"
	KindDistribution Kind = "distribution"
	KindPost         Kind = "post"
)

// ErrMalformedCommand marks a payload that can never succeed on redelivery.
var ErrMalformedCommand = errors.New("malformed command")

// Command is a parsed inbound instruction.
type Command interface {
	Kind() Kind
	Key() string
}

type CapitalCallCommand struct {
	Request core.CapitalCallRequest
}

func (c *CapitalCallCommand) Kind() Kind  { return KindCapitalCall }
func (c *CapitalCallCommand) Key() string { return c.Request.IdempotencyKey }

type PnLCommand struct {
	Request core.PnLRequest
}

func (c *PnLCommand) Kind() Kind  { return KindPnL }
func (c *PnLCommand) Key() string { return c.Request.IdempotencyKey }

// DistributionCommand leaves a missing hurdle rate zero-valued; HasHurdle
// tells the handler to substitute the fund default.
type DistributionCommand struct {
	Request   core.DistributionRequest
	HasHurdle bool
}

func (c *DistributionCommand) Kind() Kind  { return KindDistribution }
func (c *DistributionCommand) Key() string { return c.Request.IdempotencyKey }

type PostCommand struct {
	BatchID uuid.UUID
}

func (c *PostCommand) Kind() Kind  { return KindPost }
func (c *PostCommand) Key() string { return c.BatchID.String() }

// KindFromSubject maps "fund.commands.capital_call" to KindCapitalCall.
func KindFromSubject(subject string) Kind {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return Kind(subject[i+1:])
	}
	return Kind(subject)
}

// ParseCommand decodes data for kind. Draft commands must carry an
// idempotency key so JetStream redelivery cannot create a second batch.
func ParseCommand(kind Kind, data []byte) (Command, error) {
	switch kind {
	case KindCapitalCall:
		return parseCapitalCall(data)
	case KindPnL:
		return parsePnL(data)
	case KindDistribution:
		return parseDistribution(data)
	case KindPost:
		return parsePost(data)
	default:
		return nil, fmt.Errorf("%w: unknown command kind %q", ErrMalformedCommand, kind)
	}
}

// --- JSON wire formats ---

type draftJSON struct {
	IdempotencyKey string    `json:"idempotency_key"`
	BatchDate      string    `json:"batch_date"`
	Description    string    `json:"description"`
	ProposalID     uuid.UUID `json:"proposal_id"`
}

func (d draftJSON) options() (core.DraftOptions, error) {
	opts := core.DraftOptions{
		IdempotencyKey: strings.TrimSpace(d.IdempotencyKey),
		Description:    strings.TrimSpace(d.Description),
		ProposalID:     d.ProposalID,
	}
	if opts.IdempotencyKey == "" {
		return opts, fmt.Errorf("%w: idempotency_key is required", ErrMalformedCommand)
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

type capitalCallJSON struct {
	Total decimal.Decimal `json:"total"`
	draftJSON
}

type pnlJSON struct {
	Code  string          `json:"trans_code"`
	Total decimal.Decimal `json:"total"`
	draftJSON
}

type distributionJSON struct {
	Name                    string           `json:"name"`
	CashAvailable           decimal.Decimal  `json:"cash_available"`
	CapitalContributed      decimal.Decimal  `json:"capital_contributed"`
	HurdleRate              *decimal.Decimal `json:"hurdle_rate"`
	CatchupPct              decimal.Decimal  `json:"catchup_pct"`
	LastDistributionDate    string           `json:"last_distribution_date"`
	CurrentDistributionDate string           `json:"current_distribution_date"`
	draftJSON
}

type postJSON struct {
	BatchID string `json:"batch_id"`
}

func decode(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	return nil
}

func parseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: want YYYY-MM-DD, got %q", ErrMalformedCommand, field, s)
	}
	return t, nil
}

func parseCapitalCall(data []byte) (*CapitalCallCommand, error) {
	var j capitalCallJSON
	if err := decode(data, &j); err != nil {
		return nil, err
	}
	opts, err := j.options()
	if err != nil {
		return nil, err
	}
	return &CapitalCallCommand{Request: core.CapitalCallRequest{Total: j.Total, DraftOptions: opts}}, nil
}

func parsePnL(data []byte) (*PnLCommand, error) {
	var j pnlJSON
	if err := decode(data, &j); err != nil {
		return nil, err
	}
	code, err := ledger.ParseTransactionCode(j.Code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	opts, err := j.options()
	if err != nil {
		return nil, err
	}
	return &PnLCommand{Request: core.PnLRequest{Code: code, Total: j.Total, DraftOptions: opts}}, nil
}

func parseDistribution(data []byte) (*DistributionCommand, error) {
	var j distributionJSON
	if err := decode(data, &j); err != nil {
		return nil, err
	}
	last, err := parseDate("last_distribution_date", j.LastDistributionDate)
	if err != nil {
		return nil, err
	}
	current, err := parseDate("current_distribution_date", j.CurrentDistributionDate)
	if err != nil {
		return nil, err
	}
	opts, err := j.options()
	if err != nil {
		return nil, err
	}

	cmd := &DistributionCommand{
		Request: core.DistributionRequest{
			Deal: waterfall.Deal{
				Name:                    strings.TrimSpace(j.Name),
				CashAvailable:           j.CashAvailable,
				CapitalContributed:      j.CapitalContributed,
				CatchupPct:              j.CatchupPct,
				LastDistributionDate:    last,
				CurrentDistributionDate: current,
			},
			DraftOptions: opts,
		},
	}
	if j.HurdleRate != nil {
		cmd.Request.Deal.HurdleRate = *j.HurdleRate
		cmd.HasHurdle = true
	}
	return cmd, nil
}

func parsePost(data []byte) (*PostCommand, error) {
	var j postJSON
	if err := decode(data, &j); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(j.BatchID)
	if err != nil {
		return nil, fmt.Errorf("%w: batch_id: %v", ErrMalformedCommand, err)
	}
	return &PostCommand{BatchID: id}, nil
}
