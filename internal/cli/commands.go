package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"FundLedger/internal/core"
	"FundLedger/internal/ledger"
	"FundLedger/internal/query"
	"FundLedger/internal/waterfall"

	"github.com/google/subcommands"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OpenApp builds the App for each command. Tests replace it.
var OpenApp = Open

// Register adds every fundctl command to c.
func Register(c *subcommands.Commander) {
	c.Register(c.HelpCommand(), "")
	c.Register(c.FlagsCommand(), "")

	c.Register(&investorCmd{}, "registry")
	c.Register(&capTableCmd{}, "registry")

	c.Register(&callCmd{}, "drafts")
	c.Register(&pnlCmd{}, "drafts")
	c.Register(&waterfallCmd{}, "drafts")
	c.Register(&distributeCmd{}, "drafts")

	c.Register(&batchesCmd{}, "batches")
	c.Register(&postCmd{}, "batches")
	c.Register(&discardCmd{}, "batches")

	c.Register(&statementCmd{}, "reports")
	c.Register(&auditCmd{}, "reports")
}

// run opens the app, runs fn and maps errors to exit codes.
func run(ctx context.Context, fn func(*App) error) subcommands.ExitStatus {
	app, err := OpenApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer app.Close()

	if err := fn(app); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func usageError(format string, args ...interface{}) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	return subcommands.ExitUsageError
}

func parseDecimal(name, s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, fmt.Errorf("-%s is required", name)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("-%s: %w", name, err)
	}
	return d, nil
}

func parseDay(name, s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("-%s: want YYYY-MM-DD, got %q", name, s)
	}
	return t, nil
}

func argID(f *flag.FlagSet) (uuid.UUID, error) {
	if f.NArg() != 1 {
		return uuid.Nil, fmt.Errorf("expected exactly one id argument")
	}
	return uuid.Parse(f.Arg(0))
}

// --- draft flags ---

type draftFlags struct {
	date, desc, key string
	preview         bool
}

func (d *draftFlags) set(f *flag.FlagSet) {
	f.StringVar(&d.date, "d", "", "Batch date YYYY-MM-DD (defaults to today)")
	f.StringVar(&d.desc, "desc", "", "Batch description (defaults to a generated one)")
	f.StringVar(&d.key, "key", "", "Idempotency key; repeating a key returns the original batch")
	f.BoolVar(&d.preview, "preview", false, "Only print the proposal, do not draft a batch")
}

// options binds the draft to proposal so a change in commitments between
// preview and draft is rejected as stale.
func (d *draftFlags) options(proposal uuid.UUID) (core.DraftOptions, error) {
	opts := core.DraftOptions{Description: d.desc, IdempotencyKey: d.key, ProposalID: proposal}
	if d.date != "" {
		t, err := parseDay("d", d.date)
		if err != nil {
			return opts, err
		}
		opts.BatchDate = t
	}
	return opts, nil
}

func printDraft(ctx context.Context, app *App, res *core.DraftResult) error {
	names, err := app.Query.InvestorNames(ctx)
	if err != nil {
		return err
	}
	br := query.NewBatchResponse(res.Batch, names)
	md := BatchMarkdown(&br, app.Precision)
	if res.Replayed {
		md = "_Idempotency key already used; showing the original batch._\n\n" + md
	}
	app.Print(md)
	return nil
}

func printPreview(ctx context.Context, app *App, pv *core.Preview) error {
	names, err := app.Query.InvestorNames(ctx)
	if err != nil {
		return err
	}
	app.Print(PreviewMarkdown(pv, names, app.Precision))
	return nil
}

// --- deal flags ---

type dealFlags struct {
	name, cash, contributed, hurdle, catchup, last, current string
}

func (d *dealFlags) set(f *flag.FlagSet) {
	f.StringVar(&d.name, "name", "", "Deal name")
	f.StringVar(&d.cash, "cash", "", "Cash available for distribution")
	f.StringVar(&d.contributed, "contributed", "", "Capital contributed to the deal")
	f.StringVar(&d.hurdle, "hurdle", "", "Annual hurdle rate, e.g. 0.08 (defaults to waterfall.hurdle_rate)")
	f.StringVar(&d.catchup, "catchup", "0.20", "GP catch-up / carry percentage")
	f.StringVar(&d.last, "last", "", "Last distribution date YYYY-MM-DD")
	f.StringVar(&d.current, "current", "", "Current distribution date YYYY-MM-DD")
}

func (d *dealFlags) deal(defaultHurdle decimal.Decimal) (waterfall.Deal, error) {
	var deal waterfall.Deal
	var err error
	deal.Name = d.name
	if deal.CashAvailable, err = parseDecimal("cash", d.cash); err != nil {
		return deal, err
	}
	if deal.CapitalContributed, err = parseDecimal("contributed", d.contributed); err != nil {
		return deal, err
	}
	deal.HurdleRate = defaultHurdle
	if d.hurdle != "" {
		if deal.HurdleRate, err = parseDecimal("hurdle", d.hurdle); err != nil {
			return deal, err
		}
	}
	if deal.CatchupPct, err = parseDecimal("catchup", d.catchup); err != nil {
		return deal, err
	}
	if deal.LastDistributionDate, err = parseDay("last", d.last); err != nil {
		return deal, err
	}
	if deal.CurrentDistributionDate, err = parseDay("current", d.current); err != nil {
		return deal, err
	}
	return deal, nil
}

// ====================================================================
// Registry
// ====================================================================

type investorCmd struct {
	name, commit string
}

func (*investorCmd) Name() string     { return "investor" }
func (*investorCmd) Synopsis() string { return "register an investor and their commitment" }
func (*investorCmd) Usage() string {
	return `fundctl investor -name <name> -commit <amount>

  Registers a limited partner and records their capital commitment.
`
}

func (c *investorCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.name, "name", "", "Investor display name")
	f.StringVar(&c.commit, "commit", "", "Committed amount")
}

func (c *investorCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	amount, err := parseDecimal("commit", c.commit)
	if err != nil {
		return usageError("%v", err)
	}
	return run(ctx, func(app *App) error {
		inv, err := app.Fund.RegisterInvestor(ctx, c.name)
		if err != nil {
			return err
		}
		cm, err := app.Fund.AddCommitment(ctx, inv.ID, amount)
		if err != nil {
			return err
		}
		app.Print(fmt.Sprintf("Registered **%s** (`%s`) with commitment `%s` of %s\n",
			inv.Name, inv.ID, cm.ID, app.Precision.Format(cm.CommittedAmount)))
		return nil
	})
}

type capTableCmd struct{}

func (*capTableCmd) Name() string     { return "captable" }
func (*capTableCmd) Synopsis() string { return "display commitments and ownership" }
func (*capTableCmd) Usage() string {
	return `fundctl captable

  Lists every commitment with its share of total fund size.
`
}
func (*capTableCmd) SetFlags(*flag.FlagSet) {}

func (*capTableCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(app *App) error {
		ct, err := app.Query.CapTable(ctx)
		if err != nil {
			return err
		}
		app.Print(CapTableMarkdown(ct, app.Precision))
		return nil
	})
}

// ====================================================================
// Drafts
// ====================================================================

type callCmd struct {
	total string
	draft draftFlags
}

func (*callCmd) Name() string     { return "call" }
func (*callCmd) Synopsis() string { return "preview or draft a capital call" }
func (*callCmd) Usage() string {
	return `fundctl call -total <amount> [-d <date>] [-desc <text>] [-key <key>] [-preview]

  Splits a capital call across commitments pro-rata and drafts a batch.
`
}

func (c *callCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.total, "total", "", "Total amount to call")
	c.draft.set(f)
}

func (c *callCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	total, err := parseDecimal("total", c.total)
	if err != nil {
		return usageError("%v", err)
	}
	return run(ctx, func(app *App) error {
		pv, err := app.Fund.PreviewCapitalCall(ctx, total)
		if err != nil {
			return err
		}
		if c.draft.preview {
			return printPreview(ctx, app, pv)
		}
		opts, err := c.draft.options(pv.ID)
		if err != nil {
			return err
		}
		res, err := app.Fund.DraftCapitalCall(ctx, core.CapitalCallRequest{Total: total, DraftOptions: opts})
		if err != nil {
			return err
		}
		return printDraft(ctx, app, res)
	})
}

type pnlCmd struct {
	code, total string
	draft       draftFlags
}

func (*pnlCmd) Name() string     { return "pnl" }
func (*pnlCmd) Synopsis() string { return "preview or draft a P&L allocation" }
func (*pnlCmd) Usage() string {
	return `fundctl pnl -code <INC-ORD|EXP-GEN|GAIN-RL|LOSS-RL> -total <amount> [-d <date>] [-desc <text>] [-key <key>] [-preview]

  Allocates income, expense or realised gain/loss pro-rata. A negative total
  books the opposing code.
`
}

func (c *pnlCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.code, "code", "", "Transaction code")
	f.StringVar(&c.total, "total", "", "Signed total amount")
	c.draft.set(f)
}

func (c *pnlCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	code, err := ledger.ParseTransactionCode(c.code)
	if err != nil {
		return usageError("-code: %v", err)
	}
	total, err := parseDecimal("total", c.total)
	if err != nil {
		return usageError("%v", err)
	}
	return run(ctx, func(app *App) error {
		pv, err := app.Fund.PreviewPnL(ctx, code, total)
		if err != nil {
			return err
		}
		if c.draft.preview {
			return printPreview(ctx, app, pv)
		}
		opts, err := c.draft.options(pv.ID)
		if err != nil {
			return err
		}
		res, err := app.Fund.DraftPnL(ctx, core.PnLRequest{Code: code, Total: total, DraftOptions: opts})
		if err != nil {
			return err
		}
		return printDraft(ctx, app, res)
	})
}

type waterfallCmd struct {
	deal dealFlags
}

func (*waterfallCmd) Name() string     { return "waterfall" }
func (*waterfallCmd) Synopsis() string { return "run a deal-level distribution waterfall" }
func (*waterfallCmd) Usage() string {
	return `fundctl waterfall -cash <amount> -contributed <amount> -last <date> -current <date> [-hurdle <rate>] [-catchup <pct>] [-name <deal>]

  Computes the four-tier waterfall without touching the ledger.
`
}

func (c *waterfallCmd) SetFlags(f *flag.FlagSet) { c.deal.set(f) }

func (c *waterfallCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(app *App) error {
		deal, err := c.deal.deal(app.Fund.DefaultHurdleRate())
		if err != nil {
			return err
		}
		res, err := app.Fund.RunWaterfall(deal)
		if err != nil {
			return err
		}
		app.Print(WaterfallMarkdown(res, app.Precision))
		return nil
	})
}

type distributeCmd struct {
	deal  dealFlags
	draft draftFlags
}

func (*distributeCmd) Name() string     { return "distribute" }
func (*distributeCmd) Synopsis() string { return "preview or draft a distribution from a waterfall" }
func (*distributeCmd) Usage() string {
	return `fundctl distribute -cash <amount> -contributed <amount> -last <date> -current <date> [deal flags] [-d <date>] [-key <key>] [-preview]

  Runs the waterfall and allocates the LP side across commitments as
  DIST-ROC and DIST-GAIN entries.
`
}

func (c *distributeCmd) SetFlags(f *flag.FlagSet) {
	c.deal.set(f)
	c.draft.set(f)
}

func (c *distributeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(app *App) error {
		deal, err := c.deal.deal(app.Fund.DefaultHurdleRate())
		if err != nil {
			return err
		}
		pv, err := app.Fund.PreviewDistribution(ctx, deal)
		if err != nil {
			return err
		}
		if c.draft.preview {
			return printPreview(ctx, app, pv)
		}
		opts, err := c.draft.options(pv.ID)
		if err != nil {
			return err
		}
		res, err := app.Fund.DraftDistribution(ctx, core.DistributionRequest{Deal: deal, DraftOptions: opts})
		if err != nil {
			return err
		}
		return printDraft(ctx, app, res)
	})
}

// ====================================================================
// Batches
// ====================================================================

type batchesCmd struct {
	status, category string
}

func (*batchesCmd) Name() string     { return "batches" }
func (*batchesCmd) Synopsis() string { return "list batches" }
func (*batchesCmd) Usage() string {
	return `fundctl batches [-status DRAFT|POSTED] [-category CAPITAL_CALL|PNL|DISTRIBUTION]

  Lists batch headers, newest first.
`
}

func (c *batchesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.status, "status", "", "Filter by status")
	f.StringVar(&c.category, "category", "", "Filter by category")
}

func (c *batchesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	var filter ledger.BatchFilter
	if c.status != "" {
		st, err := ledger.ParseStatus(c.status)
		if err != nil {
			return usageError("%v", err)
		}
		filter.Statuses = []ledger.Status{st}
	}
	if c.category != "" {
		cat, err := ledger.ParseCategory(c.category)
		if err != nil {
			return usageError("%v", err)
		}
		filter.Categories = []ledger.Category{cat}
	}
	return run(ctx, func(app *App) error {
		list, err := app.Query.ListBatches(ctx, filter)
		if err != nil {
			return err
		}
		app.Print(BatchListMarkdown(list, app.Precision))
		return nil
	})
}

type postCmd struct{}

func (*postCmd) Name() string     { return "post" }
func (*postCmd) Synopsis() string { return "post a draft batch" }
func (*postCmd) Usage() string {
	return `fundctl post <batch-id>

  Moves a DRAFT batch to POSTED. Posted batches are permanent.
`
}
func (*postCmd) SetFlags(*flag.FlagSet) {}

func (*postCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	id, err := argID(f)
	if err != nil {
		return usageError("%v", err)
	}
	return run(ctx, func(app *App) error {
		if _, err := app.Fund.PostBatch(ctx, id); err != nil {
			return err
		}
		br, err := app.Query.GetBatch(ctx, id)
		if err != nil {
			return err
		}
		app.Print(BatchMarkdown(br, app.Precision))
		return nil
	})
}

type discardCmd struct{}

func (*discardCmd) Name() string     { return "discard" }
func (*discardCmd) Synopsis() string { return "delete a draft batch" }
func (*discardCmd) Usage() string {
	return `fundctl discard <batch-id>

  Deletes a DRAFT batch and its entries. Posted batches cannot be discarded.
`
}
func (*discardCmd) SetFlags(*flag.FlagSet) {}

func (*discardCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	id, err := argID(f)
	if err != nil {
		return usageError("%v", err)
	}
	return run(ctx, func(app *App) error {
		if err := app.Fund.DiscardBatch(ctx, id); err != nil {
			return err
		}
		app.Print(fmt.Sprintf("Discarded draft batch `%s`\n", id))
		return nil
	})
}

// ====================================================================
// Reports
// ====================================================================

type statementCmd struct{}

func (*statementCmd) Name() string     { return "statement" }
func (*statementCmd) Synopsis() string { return "display a partner capital account statement" }
func (*statementCmd) Usage() string {
	return `fundctl statement <commitment-id>

  Rolls the commitment forward over its POSTED entries.
`
}
func (*statementCmd) SetFlags(*flag.FlagSet) {}

func (*statementCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	id, err := argID(f)
	if err != nil {
		return usageError("%v", err)
	}
	return run(ctx, func(app *App) error {
		st, err := app.Query.Statement(ctx, id)
		if err != nil {
			return err
		}
		app.Print(StatementMarkdown(st, app.Precision))
		return nil
	})
}

type auditCmd struct{}

func (*auditCmd) Name() string     { return "audit" }
func (*auditCmd) Synopsis() string { return "verify posted batches and capital accounts" }
func (*auditCmd) Usage() string {
	return `fundctl audit

  Re-checks every POSTED batch and commitment. Exits non-zero on findings.
`
}
func (*auditCmd) SetFlags(*flag.FlagSet) {}

func (*auditCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(app *App) error {
		report, err := app.Auditor.Check(ctx)
		if err != nil {
			return err
		}
		app.Print(AuditMarkdown(report, app.Precision))
		if !report.IsHealthy {
			return fmt.Errorf("%d integrity findings", len(report.Findings))
		}
		return nil
	})
}
