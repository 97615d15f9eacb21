// Package cli implements the fundctl operator commands. Each command opens
// the configured Postgres store, runs one ledger operation and prints a
// markdown report.
package cli

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"FundLedger/internal/audit"
	"FundLedger/internal/config"
	"FundLedger/internal/core"
	"FundLedger/internal/ledger"
	fmath "FundLedger/internal/math"
	"FundLedger/internal/observability"
	"FundLedger/internal/persistence"
	"FundLedger/internal/query"

	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	configPath = flag.String("config", "", "YAML config file; FUND_* variables are always read")
	rawOutput  = flag.Bool("raw", false, "print plain markdown instead of rendering it")
)

// App bundles the services a command needs.
type App struct {
	Fund      *core.Fund
	Query     *query.QueryService
	Auditor   *audit.Auditor
	Precision fmath.Precision
	Out       io.Writer
	Raw       bool

	db *sql.DB
}

// Open loads config and connects to Postgres. fundctl needs a durable store,
// so the memory driver is rejected.
func Open(ctx context.Context) (*App, error) {
	cfg, err := config.Load(*configPath, *configPath == "")
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.Driver != config.DriverPostgres {
		return nil, errors.New("fundctl requires store.driver=postgres")
	}
	precision, err := fmath.PrecisionFor(cfg.App.Currency)
	if err != nil {
		return nil, err
	}
	hurdle, err := decimal.NewFromString(cfg.Waterfall.HurdleRate)
	if err != nil {
		return nil, fmt.Errorf("waterfall.hurdle_rate: %w", err)
	}

	db, err := persistence.OpenPostgres(ctx, cfg.Postgres.DSN, 4, 2, cfg.Postgres.ConnMaxLifetime)
	if err != nil {
		return nil, err
	}
	store := persistence.NewPostgresStore(db)

	app := NewApp(store, cfg.App.FundName, precision, hurdle,
		observability.NewLoggerTo(os.Stderr, "fundctl", observability.ParseLevel(cfg.Log.Level)))
	app.db = db
	app.Raw = *rawOutput
	return app, nil
}

// NewApp wires the ledger services over store without metrics or events.
func NewApp(store ledger.Store, fundName string, p fmath.Precision, hurdle decimal.Decimal, log zerolog.Logger) *App {
	batches := core.NewBatchManager(core.BatchManagerConfig{
		Store:     store,
		Precision: p,
		Logger:    log,
	})
	return &App{
		Fund: core.NewFund(core.FundConfig{
			Name:              fundName,
			Store:             store,
			Batches:           batches,
			Precision:         p,
			DefaultHurdleRate: hurdle,
			Logger:            log,
		}),
		Query:     query.NewQueryService(store, fundName, p),
		Auditor:   audit.NewAuditor(store, p, nil, log),
		Precision: p,
		Out:       os.Stdout,
	}
}

func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Print renders md with glamour unless raw output was requested.
func (a *App) Print(md string) {
	if a.Raw {
		fmt.Fprint(a.Out, md)
		return
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(120))
	if err != nil {
		fmt.Fprint(a.Out, md)
		return
	}
	out, err := r.Render(md)
	if err != nil {
		fmt.Fprint(a.Out, md)
		return
	}
	fmt.Fprint(a.Out, out)
}
