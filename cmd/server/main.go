package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/productcareerlyst/careerlyst/backend/internal/billing"
	"github.com/productcareerlyst/careerlyst/backend/internal/config"
	"github.com/productcareerlyst/careerlyst/backend/internal/entitlement"
	"github.com/productcareerlyst/careerlyst/backend/internal/httpserver"
	"github.com/productcareerlyst/careerlyst/backend/internal/logging"
	"github.com/productcareerlyst/careerlyst/backend/internal/metrics"
	"github.com/productcareerlyst/careerlyst/backend/internal/migrations"
	"github.com/productcareerlyst/careerlyst/backend/internal/prospects"
	"github.com/productcareerlyst/careerlyst/backend/internal/reconcile"
	"github.com/productcareerlyst/careerlyst/backend/internal/store"
	"github.com/productcareerlyst/careerlyst/backend/internal/tracing"
	"github.com/productcareerlyst/careerlyst/backend/internal/wiza"
	"github.com/productcareerlyst/careerlyst/backend/internal/worker"
)

func main() {
	// Best-effort: load environment variables from .env-style files in local
	// development. These calls are safe to ignore in production environments.
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	shutdownTracing, err := tracing.Init(context.Background(), tracing.Config{
		ServiceName: "careerlyst-backend",
		Environment: cfg.Environment,
		Exporter:    cfg.TracesExporter,
		PrettyPrint: cfg.IsDevelopment(),
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	logger.Info("database configured", logging.DSNFields(cfg.DatabaseURL)...)
	configureDB(db, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrationsWithDirtyFix(db, logger); err != nil {
		return fmt.Errorf("apply database migrations: %w", err)
	}

	st, err := store.New(db)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	jobStore, err := store.NewJobStore(db)
	if err != nil {
		return fmt.Errorf("create job store: %w", err)
	}

	m := metrics.New()
	stripeClient := billing.NewStripeClient(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, logger)

	engine := entitlement.NewEngine(logger, m, entitlement.PublicPortfolioRule(st))
	reconciler := reconcile.New(stripeClient, st, st, engine,
		reconcile.WithLogger(logger),
		reconcile.WithMetrics(m),
	)

	prospectService := prospects.NewService(st,
		wiza.NewClient(cfg.Wiza.APIKey, cfg.Wiza.BaseURL, cfg.Wiza.MaxProfiles),
		prospects.Config{
			PollInterval: cfg.Prospect.PollInterval,
			WaitTimeout:  cfg.Prospect.WaitTimeout,
			StaleAfter:   cfg.Prospect.StaleAfter,
		},
		prospects.WithLogger(logger),
		prospects.WithMetrics(m),
	)

	workerCfg := worker.DefaultConfig()
	workerCfg.MaxConcurrent = cfg.Worker.Concurrency
	workerCfg.PollInterval = cfg.Worker.PollInterval
	jobWorker := worker.New(workerCfg, jobStore, logger, nil)
	jobWorker.SetInstrumentation(worker.MetricsInstrumentation(m, logger))
	worker.RegisterReconcileJobs(jobWorker, reconciler, stripeClient)

	srv := httpserver.New(cfg, httpserver.Deps{
		DB:            db,
		Reconciler:    reconciler,
		Subscriptions: st,
		Webhooks:      stripeClient,
		Events:        jobWorker,
		Prospects:     prospectService,
		Jobs:          jobStore,
		Worker:        jobWorker,
		Metrics:       m,
		Logger:        logger,
	})

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("backend starting", zap.String("addr", cfg.ServerAddress), zap.String("env", cfg.Environment))
	if err := srv.Start(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func configureDB(db *sql.DB, cfg config.Config) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
}

func runMigrationsWithDirtyFix(db *sql.DB, logger *zap.Logger) error {
	err := migrations.Up(db, logger)
	if err == nil {
		return nil
	}
	state, statusErr := migrations.Status(db)
	if statusErr != nil || !state.Dirty {
		return err
	}
	logger.Warn("dirty database detected, attempting to fix", zap.Uint("version", state.Version), zap.Error(err))
	if fixErr := migrations.FixDirtyDatabase(db, logger); fixErr != nil {
		logger.Error("failed to fix dirty database", zap.Error(fixErr))
		return err
	}
	return migrations.Up(db, logger)
}
