package cli

import (
	"fmt"
	"strings"

	"FundLedger/internal/core"
	fmath "FundLedger/internal/math"
	"FundLedger/internal/query"
	"FundLedger/internal/waterfall"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func pct(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).StringFixed(4) + "%"
}

func CapTableMarkdown(ct *query.CapTableResponse, p fmath.Precision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", ct.FundName)
	fmt.Fprintf(&b, "Total fund size: **%s** across %d investors\n\n", p.Format(ct.TotalFundSize), ct.InvestorCount)
	if len(ct.Rows) == 0 {
		b.WriteString("_No commitments._\n")
		return b.String()
	}
	b.WriteString("| Investor | Commitment | Committed | Ownership |\n")
	b.WriteString("|:---|:---|---:|---:|\n")
	for _, r := range ct.Rows {
		fmt.Fprintf(&b, "| %s | `%s` | %s | %s |\n", r.InvestorName, r.CommitmentID, p.Format(r.CommittedAmount), pct(r.Ownership))
	}
	return b.String()
}

// PreviewMarkdown renders every leg of a proposal. names maps commitment id to investor.
func PreviewMarkdown(pv *core.Preview, names map[uuid.UUID]string, p fmath.Precision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s preview\n\n", pv.Category)
	fmt.Fprintf(&b, "Proposal id: `%s`\n\nTotal: **%s**\n\n", pv.ID, p.Format(pv.Total()))
	if pv.Waterfall != nil {
		b.WriteString(WaterfallMarkdown(pv.Waterfall, p))
		b.WriteString("\n")
	}
	for _, leg := range pv.Legs {
		fmt.Fprintf(&b, "## %s (%s)\n\n", leg.Code, leg.Code.Description())
		b.WriteString("| Investor | Ratio | Amount |\n")
		b.WriteString("|:---|---:|---:|\n")
		for _, s := range leg.Proposal.Shares() {
			name := s.ParticipantID
			if id, err := uuid.Parse(s.ParticipantID); err == nil && names[id] != "" {
				name = names[id]
			}
			fmt.Fprintf(&b, "| %s | %s | %s |\n", name, pct(s.Ratio), p.Format(s.Amount))
		}
		fmt.Fprintf(&b, "| **Total** | | **%s** |\n\n", p.Format(leg.Proposal.Total()))
	}
	return b.String()
}

func WaterfallMarkdown(r *waterfall.DealResult, p fmath.Precision) string {
	var b strings.Builder
	title := "Waterfall"
	if r.Deal.Name != "" {
		title = "Waterfall: " + r.Deal.Name
	}
	fmt.Fprintf(&b, "## %s\n\n", title)
	fmt.Fprintf(&b, "%d days elapsed, accrued preferred return %s\n\n", r.DaysElapsed, p.Format(r.AccruedPref))
	b.WriteString("| Tier | Bucket | Recipient | Amount |\n")
	b.WriteString("|---:|:---|:---|---:|\n")
	for _, bk := range r.Buckets {
		fmt.Fprintf(&b, "| %d | %s | %s | %s |\n", bk.Tier, bk.Label, bk.Recipient, p.Format(bk.Amount))
	}
	fmt.Fprintf(&b, "\nLP total **%s**, GP total **%s**\n", p.Format(r.TotalLP), p.Format(r.TotalGP))
	return b.String()
}

func BatchMarkdown(br *query.BatchResponse, p fmath.Precision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", br.Description)
	fmt.Fprintf(&b, "- Batch: `%s`\n", br.ID)
	fmt.Fprintf(&b, "- Date: %s\n", br.BatchDate)
	fmt.Fprintf(&b, "- Category: %s\n", br.Category)
	fmt.Fprintf(&b, "- Status: **%s**\n", br.Status)
	if br.IdempotencyKey != "" {
		fmt.Fprintf(&b, "- Idempotency key: `%s`\n", br.IdempotencyKey)
	}
	fmt.Fprintf(&b, "- Total: %s (%d entries)\n\n", p.Format(br.Total), br.EntryCount)
	if len(br.Entries) > 0 {
		b.WriteString("| Investor | Code | Amount |\n")
		b.WriteString("|:---|:---|---:|\n")
		for _, e := range br.Entries {
			name := e.InvestorName
			if name == "" {
				name = e.CommitmentID.String()
			}
			fmt.Fprintf(&b, "| %s | %s | %s |\n", name, e.Code, p.Format(e.Amount))
		}
	}
	return b.String()
}

func BatchListMarkdown(list []query.BatchResponse, p fmath.Precision) string {
	var b strings.Builder
	b.WriteString("# Batches\n\n")
	if len(list) == 0 {
		b.WriteString("_No batches._\n")
		return b.String()
	}
	b.WriteString("| Date | Id | Category | Status | Description | Total |\n")
	b.WriteString("|:---|:---|:---|:---|:---|---:|\n")
	for _, br := range list {
		fmt.Fprintf(&b, "| %s | `%s` | %s | %s | %s | %s |\n",
			br.BatchDate, br.ID, br.Category, br.Status, br.Description, p.Format(br.Total))
	}
	return b.String()
}

func StatementMarkdown(st *query.StatementResponse, p fmath.Precision) string {
	var b strings.Builder
	s := st.Snapshot
	fmt.Fprintf(&b, "# %s\n\n", st.FundName)
	fmt.Fprintf(&b, "Capital account statement for **%s**\n\n", st.InvestorName)

	b.WriteString("| | Amount |\n|:---|---:|\n")
	for _, row := range []struct {
		label string
		v     decimal.Decimal
	}{
		{"Beginning balance", s.BeginningBalance},
		{"Contributions", s.Contributions},
		{"Additions", s.Additions},
		{"Deductions", s.Deductions.Neg()},
		{"Distributions", s.Distributions.Neg()},
		{"**Ending balance**", s.EndingBalance},
		{"Committed", s.CommittedAmount},
		{"Unfunded", s.UnfundedBalance},
	} {
		fmt.Fprintf(&b, "| %s | %s |\n", row.label, p.Format(row.v))
	}

	if len(st.History) > 0 {
		b.WriteString("\n## History\n\n")
		b.WriteString("| Date | Description | Code | Amount | Balance |\n")
		b.WriteString("|:---|:---|:---|---:|---:|\n")
		for _, l := range st.History {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				l.BatchDate, l.BatchDescription, l.Code, p.Format(l.Signed), p.Format(l.RunningBalance))
		}
	}
	return b.String()
}

func AuditMarkdown(r *query.IntegrityReport, p fmath.Precision) string {
	var b strings.Builder
	b.WriteString("# Integrity audit\n\n")
	state := "healthy"
	if !r.IsHealthy {
		state = "**UNHEALTHY**"
	}
	fmt.Fprintf(&b, "Ledger is %s. Checked %d posted batches and %d entries in %s.\n\n",
		state, r.CheckedBatches, r.CheckedEntries, r.Duration)
	fmt.Fprintf(&b, "Fund ending balance: %s\n", p.Format(r.FundTotals))
	if len(r.Findings) == 0 {
		return b.String()
	}
	b.WriteString("\n| Kind | Batch | Commitment | Detail |\n|:---|:---|:---|:---|\n")
	for _, f := range r.Findings {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", f.Kind, shortID(f.BatchID), shortID(f.CommitmentID), f.Detail)
	}
	return b.String()
}

func shortID(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return "`" + id.String()[:8] + "`"
}
