package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/automaxprocs/maxprocs"

	appdashboard "github.com/avolric/crewsight/internal/app/dashboard"
	appmetrics "github.com/avolric/crewsight/internal/app/metrics"
	"github.com/avolric/crewsight/internal/config/fileloader"
	"github.com/avolric/crewsight/internal/infra/eventbus/kafka"
	"github.com/avolric/crewsight/internal/infra/scheduler"
	facilitystore "github.com/avolric/crewsight/internal/infra/storage/facility/postgres"
	"github.com/avolric/crewsight/pkg/common"
	"github.com/avolric/crewsight/pkg/common/logger"
	"github.com/avolric/crewsight/pkg/common/otel"
)

const serviceType = "server"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}

			// Add any error-specific attributes.
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("CREWSIGHT-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	log := logger.NewWithMetadata(os.Stdout, logger.LevelDebug, svcName, traceIDFn, logEvents, metadata)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configPath := os.Getenv("CREWSIGHT_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := fileloader.NewFileLoader(configPath).Load(ctx)
	if err != nil {
		log.Error(ctx, "failed to load config", "error", err, "path", configPath)
		os.Exit(1)
	}

	tp, telemetryTeardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Service.Name,
		ExporterEndpoint: cfg.Telemetry.ExporterEndpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/health":    {},
			"/v1/readiness": {},
		},
		Probability: cfg.Telemetry.Probability,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
		},
		InsecureExporter: true, // TODO: Come back to setup TLS.
	})
	if err != nil {
		log.Error(ctx, "failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryTeardown(ctx)

	tracer := tp.Tracer(cfg.Service.Name)

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(ready)
	defer func() {
		if err := healthServer.Server().Shutdown(ctx); err != nil {
			log.Error(ctx, "Error shutting down health server", "error", err)
		}
	}()

	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN())
	if err != nil {
		log.Error(ctx, "failed to parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MinConns = 5
	poolCfg.MaxConns = 20
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error(ctx, "failed to open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := runMigrations(ctx, pool); err != nil {
		log.Error(ctx, "failed to run migrations", "error", err)
		os.Exit(1)
	}

	log.Info(ctx, "Migrations applied successfully. Starting application...")

	store := facilitystore.NewStore(pool, tracer)

	mp := otel.GetMeterProvider()
	cacheMetrics, err := appmetrics.NewCacheMetrics(mp)
	if err != nil {
		log.Error(ctx, "failed to create cache metrics collector", "error", err)
		os.Exit(1)
	}
	busMetrics, err := appdashboard.NewBusMetrics(mp)
	if err != nil {
		log.Error(ctx, "failed to create bus metrics collector", "error", err)
		os.Exit(1)
	}

	limiter := common.NewRateLimiter(cfg.Cache.ComputeRPS, cfg.Cache.ComputeBurst)
	computer := appmetrics.NewComputer(store, limiter, log, tracer)
	registry := appmetrics.NewObservationRegistry(store, cacheMetrics, log, tracer)
	cache := appmetrics.NewCache(computer, registry, cfg.Cache.Freshness, cacheMetrics, log, tracer)

	groupDefs, err := fileloader.LoadGroups(cfg.GroupsPath)
	if err != nil {
		log.Error(ctx, "failed to load portfolio groups", "error", err, "path", cfg.GroupsPath)
		os.Exit(1)
	}
	portfolioGroups := appmetrics.NewPortfolioGroups(cache, groupDefs, log, tracer)
	log.Info(ctx, "portfolio groups loaded", "groups", portfolioGroups.Names())

	state := appdashboard.NewUnifiedState()
	bus := appdashboard.NewSyncBus(cache, store, state, busMetrics, log, tracer)

	reconciler := appdashboard.NewReconciler(
		store, state, bus, cfg.Dashboard.ReconcileInterval, busMetrics, log, tracer)
	reconciler.Start(ctx)
	defer reconciler.Stop()

	maintenance, err := scheduler.New(cache, bus, bus, scheduler.Config{
		SweepInterval: cfg.Cache.SweepInterval,
		DigestHour:    cfg.Dashboard.DigestHour,
		DigestMinute:  cfg.Dashboard.DigestMinute,
	}, log, tracer)
	if err != nil {
		log.Error(ctx, "failed to create maintenance scheduler", "error", err)
		os.Exit(1)
	}
	if err := maintenance.Start(ctx); err != nil {
		log.Error(ctx, "failed to start maintenance scheduler", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := maintenance.Stop(); err != nil {
			log.Error(ctx, "failed to stop maintenance scheduler", "error", err)
		}
	}()

	var relayRunner *kafka.Runner
	if cfg.Kafka.Enabled() {
		kafkaClient, err := kafka.NewClient(&kafka.ClientConfig{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: svcName,
		})
		if err != nil {
			log.Error(ctx, "failed to create kafka client", "error", err)
			os.Exit(1)
		}
		defer kafkaClient.Close()

		relay, err := kafka.ConnectRelay(&kafka.RelayConfig{
			TaskEventsTopic:      cfg.Kafka.TaskEventsTopic,
			WorkerEventsTopic:    cfg.Kafka.WorkerEventsTopic,
			MetricsEventsTopic:   cfg.Kafka.MetricsEventsTopic,
			PortfolioEventsTopic: cfg.Kafka.PortfolioEventsTopic,
			ClientID:             svcName,
		}, kafkaClient, log, busMetrics, tracer)
		if err != nil {
			log.Error(ctx, "failed to connect kafka update relay", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := relay.Close(); err != nil {
				log.Error(ctx, "failed to close kafka update relay", "error", err)
			}
		}()

		relayRunner = kafka.NewRunner(bus, relay, log, tracer)
		relayRunner.Start(ctx)
	}

	if cfg.Service.DebugAddr != "" {
		go func() {
			if err := http.ListenAndServe(cfg.Service.DebugAddr, debugMux()); err != nil {
				log.Error(ctx, "debug server stopped", "error", err)
			}
		}()
	}

	log.Info(ctx, "crewsight sync engine initialized",
		"freshness", cfg.Cache.Freshness.String(),
		"reconcile_interval", cfg.Dashboard.ReconcileInterval.String(),
		"kafka_relay", cfg.Kafka.Enabled(),
	)
	ready.Store(true)

	sig := <-sigCh
	log.Info(ctx, "Received shutdown signal", "signal", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if relayRunner != nil {
		relayRunner.Stop()
		select {
		case <-relayRunner.Done():
		case <-shutdownCtx.Done():
			log.Error(shutdownCtx, "timed out waiting for kafka relay to drain")
		}
	}
}

// debugMux serves the pprof endpoints on the side listener.
func debugMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// runMigrations uses golang-migrate to apply all up migrations from
// db/migrations. It acquires a single pgx connection from the pool, runs
// migrations, and then releases the connection back to the pool.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("could not acquire connection: %w", err)
	}
	defer conn.Release()

	db := stdlib.OpenDBFromPool(pool)

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}

	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "file://db/migrations"
	}
	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up failed: %w", err)
	}

	return nil
}
