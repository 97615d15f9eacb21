// Package waterfall implements a deal-level European distribution waterfall:
// return of capital, preferred return, GP catch-up, then a residual carry split.
package waterfall

import (
	"errors"
	"fmt"
	"time"

	fmath "FundLedger/internal/math"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidDateRange   = errors.New("invalid date range")
	ErrInvalidCatchupRate = errors.New("invalid catch-up rate")
	ErrInvalidInput       = errors.New("invalid waterfall input")
)

// Recipient is the party a bucket is paid to.
type Recipient string

const (
	RecipientLP Recipient = "LP"
	RecipientGP Recipient = "GP"
)

// Tier numbers, in the order they are filled.
const (
	TierReturnOfCapital = 1
	TierPreferredReturn = 2
	TierCatchUp         = 3
	TierCarry           = 4
)

// Bucket is one line of a waterfall breakdown.
type Bucket struct {
	Tier      int             `json:"tier"`
	Label     string          `json:"label"`
	Recipient Recipient       `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
}

// Input holds the cash flows of a single deal.
type Input struct {
	CashAvailable      decimal.Decimal
	CapitalContributed decimal.Decimal
	AccruedPref        decimal.Decimal
	CatchupPct         decimal.Decimal // GP share, in [0, 1)
}

// Result is the outcome of one waterfall run.
type Result struct {
	ReturnOfCapital decimal.Decimal `json:"return_of_capital"` // b1
	PreferredReturn decimal.Decimal `json:"preferred_return"`  // b2
	CatchUp         decimal.Decimal `json:"catch_up"`          // b3
	CarryGP         decimal.Decimal `json:"carry_gp"`          // b4 GP
	CarryLP         decimal.Decimal `json:"carry_lp"`          // b4 LP
	TotalLP         decimal.Decimal `json:"total_lp"`
	TotalGP         decimal.Decimal `json:"total_gp"`
	Buckets         []Bucket        `json:"buckets"`
}

// LPProfit is what LPs receive beyond their capital back.
func (r *Result) LPProfit() decimal.Decimal {
	return r.PreferredReturn.Add(r.CarryLP)
}

// Run applies the four tiers in order against the cash pool.
//
// Catch-up and the GP carry share are rounded down to minor units. The LP
// total is the exact complement of the GP total, so TotalLP + TotalGP always
// equals CashAvailable.
func Run(in Input, p fmath.Precision) (*Result, error) {
	if err := validate(in, p); err != nil {
		return nil, err
	}

	remaining := in.CashAvailable

	b1 := decimal.Min(remaining, in.CapitalContributed)
	remaining = remaining.Sub(b1)

	b2 := decimal.Min(remaining, in.AccruedPref)
	remaining = remaining.Sub(b2)

	one := decimal.NewFromInt(1)
	catchupReq := p.Round(b2.Mul(in.CatchupPct).Div(one.Sub(in.CatchupPct)), fmath.RoundDown)
	b3 := decimal.Min(remaining, catchupReq)
	remaining = remaining.Sub(b3)

	b4GP := p.Round(remaining.Mul(in.CatchupPct), fmath.RoundDown)
	b4LP := remaining.Sub(b4GP)

	totalGP := b3.Add(b4GP)
	totalLP := in.CashAvailable.Sub(totalGP)

	if !totalLP.Equal(b1.Add(b2).Add(b4LP)) {
		return nil, fmt.Errorf("waterfall residual mismatch: LP %s != %s", totalLP, b1.Add(b2).Add(b4LP))
	}

	return &Result{
		ReturnOfCapital: b1,
		PreferredReturn: b2,
		CatchUp:         b3,
		CarryGP:         b4GP,
		CarryLP:         b4LP,
		TotalLP:         totalLP,
		TotalGP:         totalGP,
		Buckets: []Bucket{
			{Tier: TierReturnOfCapital, Label: "Return of Capital", Recipient: RecipientLP, Amount: b1},
			{Tier: TierPreferredReturn, Label: "Preferred Return", Recipient: RecipientLP, Amount: b2},
			{Tier: TierCatchUp, Label: "GP Catch-up", Recipient: RecipientGP, Amount: b3},
			{Tier: TierCarry, Label: "Carried Interest", Recipient: RecipientGP, Amount: b4GP},
			{Tier: TierCarry, Label: "Residual Split", Recipient: RecipientLP, Amount: b4LP},
		},
	}, nil
}

func validate(in Input, p fmath.Precision) error {
	if in.CatchupPct.IsNegative() || in.CatchupPct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: %s is outside [0, 1)", ErrInvalidCatchupRate, in.CatchupPct)
	}

	fields := []struct {
		name  string
		value decimal.Decimal
	}{
		{"cash available", in.CashAvailable},
		{"capital contributed", in.CapitalContributed},
		{"accrued pref", in.AccruedPref},
	}
	for _, f := range fields {
		if f.value.IsNegative() {
			return fmt.Errorf("%w: %s %s is negative", ErrInvalidInput, f.name, f.value)
		}
		if !p.IsExact(f.value) {
			return fmt.Errorf("%w: %s %s is finer than %d decimal places", ErrInvalidInput, f.name, f.value, p.Places)
		}
	}
	return nil
}

// Deal describes a distribution event whose pref is accrued from dates.
type Deal struct {
	Name                    string
	CashAvailable           decimal.Decimal
	CapitalContributed      decimal.Decimal
	HurdleRate              decimal.Decimal // annual, e.g. 0.08
	CatchupPct              decimal.Decimal
	LastDistributionDate    time.Time
	CurrentDistributionDate time.Time
}

// DealResult pairs a waterfall result with the pref it was run against.
type DealResult struct {
	Deal        Deal            `json:"-"`
	DaysElapsed int64           `json:"days_elapsed"`
	AccruedPref decimal.Decimal `json:"accrued_pref"`
	Result
}

// RunDeal accrues the preferred return for the deal's interval and runs the waterfall.
func RunDeal(deal Deal, p fmath.Precision) (*DealResult, error) {
	days, err := DaysBetween(deal.LastDistributionDate, deal.CurrentDistributionDate)
	if err != nil {
		return nil, err
	}
	pref, err := AccruePreferredReturn(deal.CapitalContributed, deal.HurdleRate,
		deal.LastDistributionDate, deal.CurrentDistributionDate, p)
	if err != nil {
		return nil, err
	}

	res, err := Run(Input{
		CashAvailable:      deal.CashAvailable,
		CapitalContributed: deal.CapitalContributed,
		AccruedPref:        pref,
		CatchupPct:         deal.CatchupPct,
	}, p)
	if err != nil {
		return nil, err
	}

	return &DealResult{
		Deal:        deal,
		DaysElapsed: days,
		AccruedPref: pref,
		Result:      *res,
	}, nil
}
