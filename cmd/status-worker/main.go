package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talkscribe/talkscribe-backend/internal/assignments"
	"github.com/talkscribe/talkscribe-backend/internal/engine"
	"github.com/talkscribe/talkscribe-backend/internal/jobs"
	"github.com/talkscribe/talkscribe-backend/internal/ledger"
	"github.com/talkscribe/talkscribe-backend/internal/statussync"
	"github.com/talkscribe/talkscribe-backend/pkg/config"
	"github.com/talkscribe/talkscribe-backend/pkg/db"
	"github.com/talkscribe/talkscribe-backend/pkg/logger"
	"github.com/talkscribe/talkscribe-backend/pkg/metrics"
	"github.com/talkscribe/talkscribe-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "status-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "status-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Repo:   ledger.NewRepository(dbClient.DB()),
		Tx:     dbClient,
		Logger: logg,
		Config: cfg.Ledger,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	assignmentService, err := assignments.NewService(assignments.ServiceParams{
		Repo:   assignments.NewRepository(dbClient.DB()),
		Logger: logg,
		Config: cfg.Assignment,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create assignment service", err)
		os.Exit(1)
	}

	engineClient, err := engine.NewClient(engine.ClientParams{
		Config: cfg.Engine,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create engine client", err)
		os.Exit(1)
	}

	jobsRepo := jobs.NewRepository(dbClient.DB())
	jobService, err := jobs.NewService(jobs.ServiceParams{
		Repo:        jobsRepo,
		Tx:          dbClient,
		Ledger:      ledgerService,
		Assignments: assignmentService,
		Engine:      engineClient,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create job service", err)
		os.Exit(1)
	}

	pollerMetrics := metrics.NewPollerMetrics(prometheus.DefaultRegisterer)
	worker, err := statussync.NewWorker(statussync.WorkerParams{
		Jobs:    jobService,
		Repo:    jobsRepo,
		Engine:  engineClient,
		Lock:    redisClient,
		Metrics: pollerMetrics,
		Logger:  logg,
		Config:  cfg.StatusSync,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create status sync worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":           cfg.App.Env,
		"poll_interval": cfg.StatusSync.PollInterval.String(),
	})

	metricsServer := &http.Server{
		Addr:    ":" + cfg.Metrics.Port,
		Handler: promhttp.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "metrics server stopped unexpectedly", err)
		}
	}()
	defer metricsServer.Close()

	logg.Info(ctx, "starting status sync worker")

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "status sync worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "status sync worker shutting down gracefully")
}
