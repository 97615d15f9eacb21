package waterfall

import (
	"fmt"
	"time"

	fmath "FundLedger/internal/math"

	"github.com/shopspring/decimal"
)

// DayCountBasis is the Actual/365 denominator. Simple interest, no compounding.
const DayCountBasis = 365

var basis = decimal.NewFromInt(DayCountBasis)

// DaysBetween counts calendar days from last to current, both taken as UTC dates.
func DaysBetween(last, current time.Time) (int64, error) {
	from := truncateToDate(last)
	to := truncateToDate(current)
	if to.Before(from) {
		return 0, fmt.Errorf("%w: %s is before %s", ErrInvalidDateRange,
			to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	// Sub saturates past ~292 years; both are midnight UTC so seconds divide evenly.
	return (to.Unix() - from.Unix()) / 86400, nil
}

// AccruePreferredReturn computes capital * hurdleRate * days/365 and rounds
// the result half-even to minor units. Zero capital accrues zero.
func AccruePreferredReturn(capital, hurdleRate decimal.Decimal, last, current time.Time, p fmath.Precision) (decimal.Decimal, error) {
	if capital.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: capital contributed %s is negative", ErrInvalidInput, capital)
	}
	if hurdleRate.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: hurdle rate %s is negative", ErrInvalidInput, hurdleRate)
	}

	days, err := DaysBetween(last, current)
	if err != nil {
		return decimal.Zero, err
	}

	pref := capital.Mul(hurdleRate).Mul(decimal.NewFromInt(days)).Div(basis)
	return p.Round(pref, fmath.RoundHalfEven), nil
}

func truncateToDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
