// Command concord runs the scheduling coordination engine: booking
// admission, conflict detection, and bounded negotiation behind a REST
// surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/concord-io/concord/internal/api"
	"github.com/concord-io/concord/internal/config"
	"github.com/concord-io/concord/pkg/cache"
	"github.com/concord-io/concord/pkg/events"
	"github.com/concord-io/concord/pkg/graph"
	"github.com/concord-io/concord/pkg/locks"
	"github.com/concord-io/concord/pkg/notify"
	"github.com/concord-io/concord/pkg/observability"
	"github.com/concord-io/concord/pkg/oracle"
	"github.com/concord-io/concord/pkg/repository"
	"github.com/concord-io/concord/pkg/repository/memory"
	pgrepo "github.com/concord-io/concord/pkg/repository/postgres"
	"github.com/concord-io/concord/pkg/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "concord: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	logger := observability.NewStandardLoggerWithLevel("concord", logLevel(cfg.Service.LogLevel))
	metrics := observability.NewNoOpMetricsClient()
	bus := events.NewMemoryBus(1024, logger)
	defer bus.Close()

	store, cleanup, err := buildStore(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	g := graph.New(logger)
	if err := hydrateGraph(context.Background(), g, store, logger); err != nil {
		return err
	}

	lockMgr, sigCache, redisCleanup := buildRedis(cfg, logger)
	defer redisCleanup()

	reasoner := buildOracle(cfg, logger)
	notifier, err := buildNotifier(cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer notifier.Close()

	svcCfg := services.ServiceConfig{Logger: logger, Metrics: metrics}
	detector := services.NewConflictDetector(svcCfg, bus, g, store.Conflicts(), sigCache, reasoner)
	scheduler := services.NewScheduler(svcCfg, services.SchedulerConfig{
		LockTTL:       cfg.Scheduler.LockTTL,
		ProbeStep:     cfg.Scheduler.ProbeStep,
		ProbeHorizon:  cfg.Scheduler.ProbeHorizon,
		AutoNegotiate: cfg.Scheduler.AutoNegotiate,
	}, bus, g, store, detector, lockMgr, notifier)

	scorer, err := services.NewPriorityScorer(0)
	if err != nil {
		return errors.Wrap(err, "failed to build priority scorer")
	}
	negotiator := services.NewNegotiationCoordinator(svcCfg, services.CoordinatorConfig{
		MaxRounds:       cfg.Negotiation.MaxRounds,
		SessionBudget:   cfg.Negotiation.SessionBudget,
		ReslotBuffer:    cfg.Negotiation.ReslotBuffer,
		RequireApproval: cfg.Negotiation.RequireApproval,
	}, bus, g, store, reasoner, scorer, scheduler, lockMgr, notifier)
	scheduler.SetNegotiator(negotiator)

	addr := fmt.Sprintf(":%d", cfg.Service.Port)
	server := api.NewServer(addr, logger, metrics, scheduler, detector, negotiator, store)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", map[string]interface{}{
		"timeout": cfg.Service.ShutdownTimeout.String(),
	})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	scheduler.Wait()
	return nil
}

// buildStore selects postgres or the in-memory store per configuration.
func buildStore(cfg *config.Config, logger observability.Logger) (repository.Store, func(), error) {
	if !cfg.Database.Enabled {
		logger.Info("using in-memory store", nil)
		return memory.New(), func() {}, nil
	}

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to postgres")
	}
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	logger.Info("connected to postgres", map[string]interface{}{
		"host":   cfg.Database.Host,
		"schema": cfg.Database.Schema,
	})
	return pgrepo.New(db, cfg.Database.Schema), func() { _ = db.Close() }, nil
}

func runMigrations(db *sqlx.DB, cfg config.DatabaseConfig) error {
	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{SchemaName: cfg.Schema})
	if err != nil {
		return errors.Wrap(err, "failed to build migration driver")
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+cfg.MigrationDir, cfg.Database, driver)
	if err != nil {
		return errors.Wrap(err, "failed to load migrations")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "failed to apply migrations")
	}
	return nil
}

// hydrateGraph loads the persisted schedule into the in-memory graph.
func hydrateGraph(ctx context.Context, g *graph.Graph, store repository.Store, logger observability.Logger) error {
	items, err := store.Items().ListActive(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load items")
	}
	for _, item := range items {
		g.UpsertItem(item)
	}

	edges, err := store.Edges().List(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load dependency edges")
	}
	restored := 0
	for _, edge := range edges {
		if _, err := g.AddDependency(edge.SourceID, edge.TargetID, edge.Lag); err != nil {
			// Edges pointing at completed or cancelled items are expected.
			logger.Debug("skipping stale edge", map[string]interface{}{
				"edge_id": edge.ID,
				"error":   err.Error(),
			})
			continue
		}
		restored++
	}

	logger.Info("graph hydrated", map[string]interface{}{
		"items": len(items),
		"edges": restored,
	})
	return nil
}

// buildRedis wires the lock manager and signature cache, falling back to
// in-process implementations when redis is disabled.
func buildRedis(cfg *config.Config, logger observability.Logger) (locks.Manager, cache.SignatureCache, func()) {
	if !cfg.Redis.Enabled {
		return locks.NewLocalManager(), cache.NewMemorySignatureCache(cfg.Redis.SignatureTTL), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Address,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.Database,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	logger.Info("using redis-backed locks and signature cache", map[string]interface{}{
		"address": cfg.Redis.Address,
	})
	return locks.NewRedisManager(client, ""),
		cache.NewRedisSignatureCache(client, cfg.Redis.SignatureTTL),
		func() { _ = client.Close() }
}

func buildOracle(cfg *config.Config, logger observability.Logger) oracle.ReasoningOracle {
	if !cfg.Oracle.Enabled {
		logger.Info("reasoning oracle disabled, negotiation degrades to abstention", nil)
		return nil
	}
	inner := oracle.NewOpenAIOracle(cfg.Oracle.APIKey, cfg.Oracle.Model, logger)
	resilientCfg := oracle.DefaultResilientConfig()
	if cfg.Oracle.CallTimeout > 0 {
		resilientCfg.CallTimeout = cfg.Oracle.CallTimeout
	}
	if cfg.Oracle.MaxRetries > 0 {
		resilientCfg.MaxRetries = uint64(cfg.Oracle.MaxRetries)
	}
	if cfg.Oracle.RequestsPerSecond > 0 {
		resilientCfg.RequestsPerSecond = cfg.Oracle.RequestsPerSecond
	}
	return oracle.NewResilient(inner, resilientCfg, logger)
}

func buildNotifier(cfg *config.Config, logger observability.Logger, metrics observability.MetricsClient) (*notify.AsyncNotifier, error) {
	sinks := []notify.Sink{notify.NewLogSink(logger)}
	if cfg.Notify.SQSEnabled {
		sqsSink, err := notify.NewSQSSink(context.Background(), cfg.Notify.SQSQueueURL)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build sqs sink")
		}
		sinks = append(sinks, sqsSink)
	}
	return notify.NewAsyncNotifier(sinks, logger, metrics), nil
}

func logLevel(s string) observability.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return observability.LogLevelDebug
	case "warn":
		return observability.LogLevelWarn
	case "error":
		return observability.LogLevelError
	default:
		return observability.LogLevelInfo
	}
}
