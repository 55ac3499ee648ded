package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/talkscribe/talkscribe-backend/api/routes"
	"github.com/talkscribe/talkscribe-backend/internal/assignments"
	"github.com/talkscribe/talkscribe-backend/internal/engine"
	"github.com/talkscribe/talkscribe-backend/internal/jobs"
	"github.com/talkscribe/talkscribe-backend/internal/ledger"
	"github.com/talkscribe/talkscribe-backend/internal/webhooks/payment"
	"github.com/talkscribe/talkscribe-backend/pkg/config"
	"github.com/talkscribe/talkscribe-backend/pkg/db"
	"github.com/talkscribe/talkscribe-backend/pkg/logger"
	"github.com/talkscribe/talkscribe-backend/pkg/migrate"
	"github.com/talkscribe/talkscribe-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	if cfg.App.IsDev() {
		sqlDB, err := dbClient.DB().DB()
		if err != nil {
			logg.Error(context.Background(), "failed to get sql handle", err)
			os.Exit(1)
		}
		if err := migrate.Up(context.Background(), sqlDB, migrate.DefaultDir); err != nil {
			logg.Error(context.Background(), "failed to run dev migrations", err)
			os.Exit(1)
		}
	}

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

	jobService, err := jobs.NewService(jobs.ServiceParams{
		Repo:        jobs.NewRepository(dbClient.DB()),
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

	paymentService, err := payment.NewService(payment.ServiceParams{
		Repo:   payment.NewRepository(dbClient.DB()),
		Tx:     dbClient,
		Ledger: ledgerService,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment webhook service", err)
		os.Exit(1)
	}

	paymentGuard, err := payment.NewIdempotencyGuard(redisClient, cfg.Payment.IdempotencyTTL, "payment")
	if err != nil {
		logg.Error(context.Background(), "failed to create payment idempotency guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:       cfg,
			Logger:       logg,
			DBPinger:     dbClient,
			RedisPinger:  redisClient,
			Ledger:       ledgerService,
			Jobs:         jobService,
			Payment:      paymentService,
			PaymentGuard: paymentGuard,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
