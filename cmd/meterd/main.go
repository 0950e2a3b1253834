// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MadsRC/tenantmeter"
	"github.com/MadsRC/tenantmeter/internal/api"
	"github.com/MadsRC/tenantmeter/internal/api/middleware"
	"github.com/MadsRC/tenantmeter/internal/bootstrap"
	"github.com/MadsRC/tenantmeter/internal/memstore"
	"github.com/MadsRC/tenantmeter/internal/metering"
	"github.com/MadsRC/tenantmeter/internal/monitoring"
	"github.com/MadsRC/tenantmeter/internal/notify"
	"github.com/MadsRC/tenantmeter/internal/postgres"
	"github.com/MadsRC/tenantmeter/internal/redisstore"
	"github.com/MadsRC/tenantmeter/internal/services"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v3"
)

const version = "0.1.0"

const (
	storePostgres = "postgres"
	storeRedis    = "redis"
	storeMemory   = "memory"
)

func main() {
	cmd := &cli.Command{
		Name:    "meterd",
		Usage:   "Usage metering and quota enforcement server",
		Version: version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Enable debug logging",
				Sources: cli.EnvVars("METERD_DEBUG"),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
		},
		DefaultCommand: "serve",
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("Failed to run command", "error", err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the metering API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Value:   "localhost:8080",
				Usage:   "Address for the metering API to listen on",
				Sources: cli.EnvVars("METERD_LISTEN"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "PostgreSQL database connection URL. Organizations are kept in memory when unset",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "store",
				Value:   storePostgres,
				Usage:   "Usage bucket store: postgres, redis or memory",
				Sources: cli.EnvVars("METERD_STORE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection URL, required with --store redis",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "otlp-endpoint",
				Usage:   "OTLP gRPC endpoint for metrics. Metrics are disabled when unset",
				Sources: cli.EnvVars("METERD_OTLP_ENDPOINT"),
			},
			&cli.BoolFlag{
				Name:    "otlp-tls",
				Usage:   "Use TLS towards the OTLP collector",
				Sources: cli.EnvVars("METERD_OTLP_TLS"),
			},
			&cli.DurationFlag{
				Name:    "metrics-interval",
				Value:   30 * time.Second,
				Usage:   "How often metrics are exported",
				Sources: cli.EnvVars("METERD_METRICS_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "tier-cache-ttl",
				Value:   time.Minute,
				Usage:   "How long organization tiers are cached. Zero disables the cache",
				Sources: cli.EnvVars("METERD_TIER_CACHE_TTL"),
			},
			&cli.DurationFlag{
				Name:    "alert-sweep-interval",
				Value:   5 * time.Minute,
				Usage:   "How often every tenant is checked for threshold alerts. Zero disables the sweep",
				Sources: cli.EnvVars("METERD_ALERT_SWEEP_INTERVAL"),
			},
			&cli.StringSliceFlag{
				Name:    "cors-origin",
				Usage:   "Origin allowed to call the API from a browser (repeatable)",
				Sources: cli.EnvVars("METERD_CORS_ORIGINS"),
			},
			&cli.StringSliceFlag{
				Name:    "tenant",
				Usage:   "Organization to create or update on startup, as name=tier (repeatable)",
				Sources: cli.EnvVars("METERD_TENANTS"),
			},
			&cli.StringSliceFlag{
				Name:    "tier-limit",
				Usage:   "Override one tier limit, as tier.field=limit, e.g. free.max_documents=25 (repeatable)",
				Sources: cli.EnvVars("METERD_TIER_LIMITS"),
			},
			&cli.StringSliceFlag{
				Name:    "token-price",
				Usage:   "Price per token for a usage type, as type=price (repeatable)",
				Sources: cli.EnvVars("METERD_TOKEN_PRICES"),
			},
		},
		Action: runServer,
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply or roll back database migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "PostgreSQL database connection URL",
				Sources:  cli.EnvVars("DATABASE_URL"),
				Required: true,
			},
			&cli.IntFlag{
				Name:  "rollback",
				Usage: "Roll back this many migrations instead of applying them",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := newLogger(c.Bool("debug"))
			if steps := int(c.Int("rollback")); steps > 0 {
				return postgres.RollbackMigrations(logger, c.String("database-url"), steps)
			}
			return postgres.RunMigrations(logger, c.String("database-url"))
		},
	}
}

func newLogger(debug bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

func runServer(ctx context.Context, c *cli.Command) error {
	logger := newLogger(c.Bool("debug"))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsManager *monitoring.Manager
	if endpoint := c.String("otlp-endpoint"); endpoint != "" {
		var err error
		metricsManager, err = monitoring.NewManager(ctx, monitoring.Config{
			ServiceName:    "meterd",
			ServiceVersion: version,
			OTLPEndpoint:   endpoint,
			Logger:         logger,
			ExportInterval: c.Duration("metrics-interval"),
			TLS:            c.Bool("otlp-tls"),
		})
		if err != nil {
			return fmt.Errorf("failed to set up metrics: %w", err)
		}
		defer func() {
			if err := metricsManager.Shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.Error("Failed to flush metrics", "error", err)
			}
		}()
	}
	if !metricsManager.Enabled() {
		logger.Info("No OTLP endpoint configured, metrics are disabled")
	}
	metrics := metricsManager.GetUsageMetrics()

	var dbPool *pgxpool.Pool
	if dbURL := c.String("database-url"); dbURL != "" {
		logger.Info("Connecting to database")
		var err error
		dbPool, err = pgxpool.New(ctx, dbURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}
		logger.Info("Database connection established")

		if err := postgres.RunMigrations(logger, dbURL); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
	}

	var orgRepo tenantmeter.OrganizationRepository
	if dbPool != nil {
		pgOrgs, err := postgres.NewOrganizationRepository(
			postgres.WithOrganizationRepositoryLogger(logger),
			postgres.WithOrganizationRepositoryDb(dbPool),
		)
		if err != nil {
			return fmt.Errorf("failed to create organization repository: %w", err)
		}
		orgRepo = pgOrgs
		if ttl := c.Duration("tier-cache-ttl"); ttl > 0 {
			cached := postgres.NewCachedOrganizationRepository(pgOrgs, ttl)
			defer cached.Close()
			orgRepo = cached
		}
	} else {
		logger.Warn("No database configured, organizations are kept in memory")
		orgRepo = memstore.NewOrganizationRepository()
	}

	store, closeStore, err := newBucketStore(ctx, c, logger, dbPool, metrics)
	if err != nil {
		return err
	}
	defer closeStore()

	seeds, err := bootstrap.ParseTenantSeeds(c.StringSlice("tenant"))
	if err != nil {
		return err
	}
	if err := bootstrap.CheckAndBootstrap(ctx, logger, orgRepo, seeds); err != nil {
		return err
	}

	prices, err := services.ParseTokenPrices(c.StringSlice("token-price"))
	if err != nil {
		return err
	}
	costs := services.NewCostCalculator(
		services.WithTokenPrices(prices),
		services.WithLogger(logger),
	)

	overrides, err := metering.ParseLimitOverrides(c.StringSlice("tier-limit"))
	if err != nil {
		return err
	}
	table := metering.NewTierLimitTable(overrides...)
	aggregator := metering.NewPeriodAggregator(store,
		metering.WithAggregatorLogger(logger),
		metering.WithAggregatorMetrics(metrics),
	)
	recorder := metering.NewUsageRecorder(store,
		metering.WithRecorderLogger(logger),
		metering.WithRecorderMetrics(metrics),
		metering.WithCostEstimator(costs),
	)
	evaluator := metering.NewQuotaEvaluator(metering.NewOrganizationTierDirectory(orgRepo), table, aggregator,
		metering.WithEvaluatorLogger(logger),
		metering.WithEvaluatorMetrics(metrics),
	)
	dispatcher := metering.NewAlertDispatcher(evaluator, metering.NewAlertThresholdMonitor(),
		notify.NewLogNotifier(notify.WithLogger(logger)),
		metering.WithDispatcherLogger(logger),
		metering.WithDispatcherMetrics(metrics),
	)

	gate := middleware.NewQuotaGate(evaluator, recorder,
		middleware.WithLogger(logger),
		middleware.WithMetrics(metrics),
		middleware.WithDispatcher(dispatcher),
	)
	defer gate.Shutdown()

	server, err := api.NewServer(
		api.WithServerLogger(logger),
		api.WithServerAddr(c.String("listen")),
		api.WithServerCORSOrigins(c.StringSlice("cors-origin")...),
		api.WithServerRecorder(recorder),
		api.WithServerLimitChecker(evaluator),
		api.WithServerAggregator(aggregator),
		api.WithServerLimitTable(table),
		api.WithServerAlertSource(dispatcher),
		api.WithServerQuotaGate(gate),
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if interval := c.Duration("alert-sweep-interval"); interval > 0 {
		scheduler := services.NewScheduler(orgRepo, dispatcher, table.GovernedTypes(),
			services.WithSchedulerLogger(logger),
			services.WithSchedulerMetrics(metrics),
			services.WithSweepInterval(interval),
		)
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	return server.Start(ctx)
}

func newBucketStore(
	ctx context.Context,
	c *cli.Command,
	logger *slog.Logger,
	dbPool *pgxpool.Pool,
	metrics *monitoring.UsageMetrics,
) (tenantmeter.UsageBucketStore, func(), error) {
	noop := func() {}

	switch kind := c.String("store"); kind {
	case storeRedis:
		redisURL := c.String("redis-url")
		if redisURL == "" {
			return nil, nil, fmt.Errorf("--redis-url is required with --store %s", storeRedis)
		}
		client, err := redisstore.Connect(ctx, redisURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using Redis usage store")
		closeClient := func() {
			if err := client.Close(); err != nil {
				logger.Error("Failed to close Redis client", "error", err)
			}
		}
		return redisstore.New(client,
			redisstore.WithLogger(logger),
			redisstore.WithMetrics(metrics),
		), closeClient, nil

	case storeMemory:
		logger.Warn("Using in-memory usage store, usage is lost on restart")
		return memstore.NewStore(), noop, nil

	case storePostgres:
		if dbPool == nil {
			return nil, nil, fmt.Errorf("--database-url is required with --store %s", storePostgres)
		}
		logger.Info("Using PostgreSQL usage store")
		repo, err := postgres.NewUsageBucketRepository(
			postgres.WithUsageBucketRepositoryLogger(logger),
			postgres.WithUsageBucketRepositoryDb(dbPool),
			postgres.WithUsageBucketRepositoryMetrics(metrics),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create usage bucket repository: %w", err)
		}
		return repo, noop, nil

	default:
		return nil, nil, fmt.Errorf("unknown store %q, want %s, %s or %s", kind, storePostgres, storeRedis, storeMemory)
	}
}
