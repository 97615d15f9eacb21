package cli_test

import (
	"bytes"
	"context"
	"flag"
	"io"
	"strings"
	"testing"

	"FundLedger/internal/cli"
	"FundLedger/internal/ledger"
	fmath "FundLedger/internal/math"
	"FundLedger/internal/persistence"

	"github.com/google/subcommands"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type cliHarness struct {
	app *cli.App
	out *bytes.Buffer
}

func newCLI(t *testing.T) *cliHarness {
	t.Helper()
	out := &bytes.Buffer{}
	app := cli.NewApp(persistence.NewMemoryStore(), "CLI Fund", fmath.USD, decimal.RequireFromString("0.15"), zerolog.Nop())
	app.Out = out
	app.Raw = true

	prev := cli.OpenApp
	cli.OpenApp = func(context.Context) (*cli.App, error) { return app, nil }
	t.Cleanup(func() { cli.OpenApp = prev })

	return &cliHarness{app: app, out: out}
}

// exec runs one fundctl invocation and returns its exit status and output.
func (h *cliHarness) exec(t *testing.T, args ...string) (subcommands.ExitStatus, string) {
	t.Helper()
	h.out.Reset()

	fs := flag.NewFlagSet("fundctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cmdr := subcommands.NewCommander(fs, "fundctl")
	cmdr.Error = io.Discard
	cli.Register(cmdr)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse: %v", err)
	}
	status := cmdr.Execute(context.Background())
	return status, h.out.String()
}

func TestCLI_CallAndPost(t *testing.T) {
	h := newCLI(t)

	for _, inv := range [][]string{
		{"investor", "-name", "Alpha Pension", "-commit", "1000000"},
		{"investor", "-name", "Beta Endowment", "-commit", "3000000"},
	} {
		status, out := h.exec(t, inv...)
		if status != subcommands.ExitSuccess {
			t.Fatalf("%v: status %v", inv, status)
		}
		if !strings.Contains(out, "Registered **") {
			t.Errorf("investor output: %q", out)
		}
	}

	status, out := h.exec(t, "captable")
	if status != subcommands.ExitSuccess {
		t.Fatalf("captable: status %v", status)
	}
	for _, want := range []string{"$4,000,000.00", "25.0000%", "75.0000%"} {
		if !strings.Contains(out, want) {
			t.Errorf("captable missing %q:\n%s", want, out)
		}
	}

	status, out = h.exec(t, "call", "-total", "1000", "-preview")
	if status != subcommands.ExitSuccess || !strings.Contains(out, "CAPITAL_CALL preview") {
		t.Fatalf("preview: status %v\n%s", status, out)
	}

	status, out = h.exec(t, "call", "-total", "1000", "-d", "2024-03-31", "-key", "q1-call")
	if status != subcommands.ExitSuccess {
		t.Fatalf("call: status %v", status)
	}
	if !strings.Contains(out, "# Capital Call: $1,000.00") || !strings.Contains(out, "**DRAFT**") {
		t.Errorf("call output:\n%s", out)
	}

	status, out = h.exec(t, "call", "-total", "1000", "-key", "q1-call")
	if status != subcommands.ExitSuccess || !strings.Contains(out, "already used") {
		t.Errorf("replay: status %v\n%s", status, out)
	}

	list, err := h.app.Query.ListBatches(context.Background(), ledger.BatchFilter{})
	if err != nil || len(list) != 1 {
		t.Fatalf("batches: %v %d", err, len(list))
	}

	status, out = h.exec(t, "post", list[0].ID.String())
	if status != subcommands.ExitSuccess || !strings.Contains(out, "**POSTED**") {
		t.Errorf("post: status %v\n%s", status, out)
	}
	if status, _ := h.exec(t, "discard", list[0].ID.String()); status != subcommands.ExitFailure {
		t.Errorf("discard posted: got %v, want failure", status)
	}

	status, out = h.exec(t, "audit")
	if status != subcommands.ExitSuccess || !strings.Contains(out, "Ledger is healthy") {
		t.Errorf("audit: status %v\n%s", status, out)
	}
}

func TestCLI_Waterfall(t *testing.T) {
	h := newCLI(t)

	status, out := h.exec(t, "waterfall",
		"-name", "Project Atlas",
		"-cash", "2500000",
		"-contributed", "1000000",
		"-last", "2023-01-01",
		"-current", "2024-01-01",
	)
	if status != subcommands.ExitSuccess {
		t.Fatalf("status %v", status)
	}
	for _, want := range []string{"Waterfall: Project Atlas", "365 days elapsed", "LP total **$2,200,000.00**", "GP total **$300,000.00**"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
}

func TestCLI_UsageErrors(t *testing.T) {
	h := newCLI(t)

	tests := []struct {
		name string
		args []string
		want subcommands.ExitStatus
	}{
		{"missing total", []string{"call"}, subcommands.ExitUsageError},
		{"bad code", []string{"pnl", "-code", "BOGUS", "-total", "1"}, subcommands.ExitUsageError},
		{"bad id", []string{"post", "not-a-uuid"}, subcommands.ExitUsageError},
		{"bad status", []string{"batches", "-status", "VOID"}, subcommands.ExitUsageError},
		{"no commitments", []string{"call", "-total", "10"}, subcommands.ExitFailure},
		{"non pnl code", []string{"pnl", "-code", "CC-PRIN", "-total", "10"}, subcommands.ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, _ := h.exec(t, tt.args...); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
