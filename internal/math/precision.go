// internal/math/precision.go
package math

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// RoundingMode selects how a value is brought to minor-unit precision.
type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown                         // Toward zero (truncation)
	RoundUp                           // Away from zero
)

func (m RoundingMode) String() string {
	switch m {
	case RoundHalfEven:
		return "half_even"
	case RoundDown:
		return "down"
	case RoundUp:
		return "up"
	default:
		return "unknown"
	}
}

// Precision is the minor-unit precision of a currency.
// USD has 2 places (0.01), JPY 0, KWD 3.
type Precision struct {
	Currency string
	Places   int32
}

// USD is the default fund currency.
var USD = Precision{Currency: "USD", Places: 2}

// PrecisionFor resolves the minor-unit precision of an ISO 4217 currency code.
func PrecisionFor(code string) (Precision, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	cur := money.GetCurrency(code)
	if cur == nil {
		return Precision{}, fmt.Errorf("unknown currency %q", code)
	}
	return Precision{Currency: cur.Code, Places: int32(cur.Fraction)}, nil
}

// Unit returns the smallest representable amount (e.g. 0.01).
func (p Precision) Unit() decimal.Decimal {
	return decimal.New(1, -p.Places)
}

// Round brings d to minor-unit precision using the given mode.
func (p Precision) Round(d decimal.Decimal, mode RoundingMode) decimal.Decimal {
	switch mode {
	case RoundDown:
		return d.RoundDown(p.Places)
	case RoundUp:
		return d.RoundUp(p.Places)
	default:
		return d.RoundBank(p.Places)
	}
}

// IsExact reports whether d carries no digits beyond minor-unit precision.
func (p Precision) IsExact(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(p.Places))
}

// MinorUnits converts d to an integer count of minor units.
// d must already be exact at this precision; excess digits are truncated.
func (p Precision) MinorUnits(d decimal.Decimal) int64 {
	return d.Shift(p.Places).IntPart()
}

// FromMinorUnits converts an integer count of minor units back to a decimal.
func (p Precision) FromMinorUnits(units int64) decimal.Decimal {
	return decimal.New(units, -p.Places)
}

// Format renders d in the currency's display convention, e.g. "$1,250.00".
func (p Precision) Format(d decimal.Decimal) string {
	return money.New(p.MinorUnits(p.Round(d, RoundHalfEven)), p.Currency).Display()
}
