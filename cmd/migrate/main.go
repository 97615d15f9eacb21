package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"FundLedger/internal/config"
	"FundLedger/internal/observability"
	"FundLedger/internal/persistence"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [-config path] <up|down|status>")
	fmt.Fprintln(os.Stderr, "  up     - apply all pending migrations")
	fmt.Fprintln(os.Stderr, "  down   - roll back the last migration")
	fmt.Fprintln(os.Stderr, "  status - list migrations and whether each is applied")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Environment:")
	fmt.Fprintln(os.Stderr, "  FUND_POSTGRES_DSN   - Postgres connection string")
	fmt.Fprintln(os.Stderr, "  FUND_MIGRATIONS_DIR - path to migrations directory (default: migrations)")
}

func main() {
	configPath := flag.String("config", "", "optional YAML config; FUND_* variables are always read")
	flag.Usage = usage
	flag.Parse()

	log := observability.NewLogger("migrate")
	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath, *configPath == "")
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx := context.Background()
	db, err := persistence.OpenPostgres(ctx, cfg.Postgres.DSN, 2, 1, cfg.Postgres.ConnMaxLifetime)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, log)

	switch flag.Arg(0) {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate up")
		}
		log.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate down")
		}
		log.Info().Msg("last migration rolled back")

	case "status":
		statuses, err := migrator.Status(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("migrate status")
		}
		for _, s := range statuses {
			state := "pending"
			if s.Applied {
				state = "applied"
			}
			fmt.Printf("%-8s %-8s %s\n", s.Version, state, s.Filename)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
		usage()
		os.Exit(1)
	}
}
