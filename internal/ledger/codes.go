package ledger

import (
	"fmt"
	"strings"
)

// TransactionCode classifies a ledger entry. The stored amount is always a
// positive magnitude; the code carries the direction.
type TransactionCode string

const (
	CodeCapitalCall      TransactionCode = "CC-PRIN"
	CodeIncome           TransactionCode = "INC-ORD"
	CodeExpense          TransactionCode = "EXP-GEN"
	CodeRealizedGain     TransactionCode = "GAIN-RL"
	CodeRealizedLoss     TransactionCode = "LOSS-RL"
	CodeReturnOfCapital  TransactionCode = "DIST-ROC"
	CodeDistributionGain TransactionCode = "DIST-GAIN"
)

var codeDescriptions = map[TransactionCode]string{
	CodeCapitalCall:      "Capital call principal",
	CodeIncome:           "Ordinary income",
	CodeExpense:          "General expense",
	CodeRealizedGain:     "Realized gain",
	CodeRealizedLoss:     "Realized loss",
	CodeReturnOfCapital:  "Distribution, return of capital",
	CodeDistributionGain: "Distribution, realized gain",
}

// AllCodes lists every transaction code in display order.
var AllCodes = []TransactionCode{
	CodeCapitalCall,
	CodeIncome,
	CodeExpense,
	CodeRealizedGain,
	CodeRealizedLoss,
	CodeReturnOfCapital,
	CodeDistributionGain,
}

// ParseTransactionCode accepts the canonical code, case-insensitively.
func ParseTransactionCode(s string) (TransactionCode, error) {
	c := TransactionCode(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTransactionCode, s)
	}
	return c, nil
}

func (c TransactionCode) Valid() bool {
	_, ok := codeDescriptions[c]
	return ok
}

func (c TransactionCode) Description() string {
	if d, ok := codeDescriptions[c]; ok {
		return d
	}
	return "unknown"
}

// Sign is the contribution of the code to an ending balance: +1 or -1.
func (c TransactionCode) Sign() int {
	switch c {
	case CodeCapitalCall, CodeIncome, CodeRealizedGain:
		return 1
	case CodeExpense, CodeRealizedLoss, CodeReturnOfCapital, CodeDistributionGain:
		return -1
	default:
		return 0
	}
}

// Opposite returns the P&L code booked when an allocation total is negative.
func (c TransactionCode) Opposite() (TransactionCode, bool) {
	switch c {
	case CodeIncome:
		return CodeExpense, true
	case CodeExpense:
		return CodeIncome, true
	case CodeRealizedGain:
		return CodeRealizedLoss, true
	case CodeRealizedLoss:
		return CodeRealizedGain, true
	default:
		return "", false
	}
}

// Category tags a batch so listing by kind is exact.
type Category string

const (
	CategoryCapitalCall  Category = "CAPITAL_CALL"
	CategoryPnL          Category = "PNL"
	CategoryDistribution Category = "DISTRIBUTION"
)

var categoryCodes = map[Category][]TransactionCode{
	CategoryCapitalCall:  {CodeCapitalCall},
	CategoryPnL:          {CodeIncome, CodeExpense, CodeRealizedGain, CodeRealizedLoss},
	CategoryDistribution: {CodeReturnOfCapital, CodeDistributionGain},
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := categoryCodes[c]; !ok {
		return "", fmt.Errorf("unknown batch category %q", s)
	}
	return c, nil
}

// Allows reports whether entries with code may appear in a batch of this category.
func (c Category) Allows(code TransactionCode) bool {
	for _, allowed := range categoryCodes[c] {
		if allowed == code {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a batch. POSTED is terminal.
type Status string

const (
	StatusDraft  Status = "DRAFT"
	StatusPosted Status = "POSTED"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusDraft, StatusPosted:
		return st, nil
	default:
		return "", fmt.Errorf("unknown batch status %q", s)
	}
}
