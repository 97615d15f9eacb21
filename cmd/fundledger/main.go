package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"FundLedger/internal/audit"
	"FundLedger/internal/config"
	"FundLedger/internal/core"
	"FundLedger/internal/ingestion"
	"FundLedger/internal/ledger"
	fmath "FundLedger/internal/math"
	"FundLedger/internal/observability"
	"FundLedger/internal/outbound"
	"FundLedger/internal/persistence"
	"FundLedger/internal/query"
	"FundLedger/internal/server"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	envOnly := flag.Bool("env-only", false, "skip the config file and read FUND_* variables only")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envOnly)
	if err != nil {
		bootLog := observability.NewLogger("main")
		bootLog.Fatal().Err(err).Msg("load config")
	}

	level := observability.ParseLevel(cfg.Log.Level)
	log := observability.NewLoggerWithLevel("main", level)
	log.Info().Str("env", cfg.App.Env).Str("fund", cfg.App.FundName).Msg("FundLedger starting")

	precision, err := fmath.PrecisionFor(cfg.App.Currency)
	if err != nil {
		log.Fatal().Err(err).Str("currency", cfg.App.Currency).Msg("unsupported currency")
	}
	hurdle, err := decimal.NewFromString(cfg.Waterfall.HurdleRate)
	if err != nil {
		log.Fatal().Err(err).Msg("parse waterfall.hurdle_rate")
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Store ---
	var store ledger.Store
	switch cfg.Store.Driver {
	case config.DriverMemory:
		store = persistence.NewMemoryStore()
		log.Warn().Msg("using in-memory store, data is lost on exit")
	default:
		db, err := persistence.OpenPostgres(ctx, cfg.Postgres.DSN,
			cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns, cfg.Postgres.ConnMaxLifetime)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres")
		}
		defer db.Close()
		log.Info().Msg("Postgres connected")

		migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLoggerWithLevel("migrate", level))
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("run migrations")
		}
		store = persistence.NewPostgresStore(db)
	}
	healthChecker.AddCheck("store", store.Ping)

	// --- NATS (outbound events and inbound commands share one connection) ---
	var js jetstream.JetStream
	if cfg.Events.Backend == config.BackendNATS || cfg.Ingest.Enabled {
		nc, stream, err := outbound.ConnectNATS(cfg.Events.NATSURL, observability.NewLoggerWithLevel("nats", level))
		if err != nil {
			log.Fatal().Err(err).Msg("connect NATS")
		}
		defer nc.Close()
		js = stream
		healthChecker.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats not connected")
			}
			return nil
		})
	}

	// --- Outbound events ---
	var sink outbound.Sink = outbound.NopSink{}
	switch cfg.Events.Backend {
	case config.BackendNATS:
		if err := outbound.EnsureStream(ctx, js, log); err != nil {
			log.Fatal().Err(err).Msg("ensure NATS stream")
		}
		sink = outbound.NewNATSSink(js)
	case config.BackendKafka:
		sink = outbound.NewKafkaSink(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
	}
	defer sink.Close()
	dispatcher := outbound.NewDispatcher(sink, cfg.Events.QueueSize, metrics, observability.NewLoggerWithLevel("outbound", level))

	// --- Ledger ---
	batches := core.NewBatchManager(core.BatchManagerConfig{
		Store:     store,
		Precision: precision,
		Publisher: dispatcher,
		Metrics:   metrics,
		Logger:    observability.NewLoggerWithLevel("batches", level),
	})
	if err := batches.WarmIdempotency(ctx); err != nil {
		log.Fatal().Err(err).Msg("warm idempotency cache")
	}

	fund := core.NewFund(core.FundConfig{
		Name:              cfg.App.FundName,
		Store:             store,
		Batches:           batches,
		Precision:         precision,
		DefaultHurdleRate: hurdle,
		Metrics:           metrics,
		Logger:            observability.NewLoggerWithLevel("fund", level),
	})
	queryService := query.NewQueryService(store, cfg.App.FundName, precision)
	auditor := audit.NewAuditor(store, precision, metrics, observability.NewLoggerWithLevel("audit", level))

	handler, err := server.NewHandler(server.Deps{
		Fund:    fund,
		Query:   queryService,
		Auditor: auditor,
		Health:  healthChecker,
		Metrics: metrics,
		Logger:  observability.NewLoggerWithLevel("http", level),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build HTTP handler")
	}
	grpcServer := server.NewGRPCServer(cfg.Server.GRPCAddr, observability.NewLoggerWithLevel("grpc", level))
	httpServer := server.NewHTTPServer(cfg.Server.HTTPAddr, handler, observability.NewLoggerWithLevel("http", level))

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := server.NewHTTPServer(cfg.Server.MetricsAddr, metricsMux, observability.NewLoggerWithLevel("metrics", level))

	// --- Start goroutines ---
	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("component", name).Msg("component stopped")
				cancel()
			}
		}()
	}

	run("dispatcher", dispatcher.Run)
	run("grpc", grpcServer.Start)
	run("http", httpServer.Start)
	run("metrics", metricsServer.Start)
	run("queue-metrics", func(ctx context.Context) error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				metrics.SetChannelMetrics("outbound", dispatcher.Pending(), cfg.Events.QueueSize)
			}
		}
	})

	if cfg.Audit.Enabled {
		runner := audit.NewRunner(auditor, observability.NewLoggerWithLevel("audit-cron", level))
		if _, err := runner.Schedule(ctx, cfg.Audit.Schedule); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.Audit.Schedule).Msg("schedule audit")
		}
		run("audit-cron", runner.Run)
	}

	if cfg.Ingest.Enabled {
		if err := ingestion.EnsureCommandStream(ctx, js); err != nil {
			log.Fatal().Err(err).Msg("ensure command stream")
		}
		commands := make(chan ingestion.RawCommand, cfg.Ingest.QueueSize)
		subscriber := ingestion.NewNATSSubscriber(js, commands, observability.NewLoggerWithLevel("ingest", level))
		if err := subscriber.Subscribe(ctx); err != nil {
			log.Fatal().Err(err).Msg("subscribe to commands")
		}
		defer subscriber.Stop()
		commandHandler := ingestion.NewHandler(fund, metrics, observability.NewLoggerWithLevel("ingest", level))
		run("ingest", func(ctx context.Context) error {
			return commandHandler.Run(ctx, commands)
		})
	}

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)
	log.Info().
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Str("store", cfg.Store.Driver).
		Str("events", cfg.Events.Backend).
		Bool("ingest", cfg.Ingest.Enabled).
		Msg("FundLedger ready")

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	log.Info().Msg("shutting down")
	healthChecker.SetReady(false)
	grpcServer.SetServing(false)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("FundLedger stopped")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out")
		os.Exit(1)
	}
}
