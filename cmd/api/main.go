package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/relaycrm-backend/api/routes"
	"github.com/angelmondragon/relaycrm-backend/internal/autorecharge"
	"github.com/angelmondragon/relaycrm-backend/internal/credits"
	"github.com/angelmondragon/relaycrm-backend/pkg/config"
	"github.com/angelmondragon/relaycrm-backend/pkg/db"
	"github.com/angelmondragon/relaycrm-backend/pkg/env"
	"github.com/angelmondragon/relaycrm-backend/pkg/logger"
	"github.com/angelmondragon/relaycrm-backend/pkg/metrics"
	"github.com/angelmondragon/relaycrm-backend/pkg/migrate"
	"github.com/angelmondragon/relaycrm-backend/pkg/pubsub"
	"github.com/angelmondragon/relaycrm-backend/pkg/redis"
	"github.com/angelmondragon/relaycrm-backend/pkg/square"
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

	dbClient, err := db.New(context.Background(), cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
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

	ledgerMetrics := metrics.NewLedgerMetrics(prometheus.DefaultRegisterer)

	creditsService, err := credits.NewService(credits.ServiceParams{
		Repo:    credits.NewRepository(dbClient.DB()),
		DB:      dbClient,
		Logger:  logg,
		Metrics: ledgerMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create credits service", err)
		os.Exit(1)
	}

	pricer, err := autorecharge.NewPricer(cfg.Recharge.CreditPriceCents)
	if err != nil {
		logg.Error(context.Background(), "invalid credit price", err)
		os.Exit(1)
	}

	var gateway autorecharge.Gateway
	if cfg.Square.Enabled() {
		squareClient, err := square.NewClient(context.Background(), cfg.Square, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap square", err)
			os.Exit(1)
		}
		if gateway, err = autorecharge.NewSquareGateway(squareClient); err != nil {
			logg.Error(context.Background(), "failed to create payment gateway", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(context.Background(), "square credentials missing; auto-recharge will not charge cards")
	}

	var publisher autorecharge.EventPublisher
	if cfg.PubSub.RechargeTopic != "" {
		pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		if publisher, err = autorecharge.NewPubSubPublisher(pubsubClient.RechargePublisher()); err != nil {
			logg.Error(context.Background(), "failed to create recharge publisher", err)
			os.Exit(1)
		}
	}

	rechargeRepo := autorecharge.NewRepository(dbClient.DB())
	rechargeService, err := autorecharge.NewService(autorecharge.ServiceParams{
		Repo:            rechargeRepo,
		Ledger:          creditsService,
		Gateway:         gateway,
		Publisher:       publisher,
		Pricer:          pricer,
		Logger:          logg,
		Metrics:         ledgerMetrics,
		DefaultCooldown: cfg.Recharge.DefaultCooldown,
		GatewayTimeout:  cfg.Recharge.GatewayTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auto-recharge service", err)
		os.Exit(1)
	}

	trigger := autorecharge.NewAsyncTrigger(autorecharge.TriggerParams{
		Evaluator:   rechargeService,
		Concurrency: cfg.Recharge.InlineConcurrency,
		Timeout:     cfg.Recharge.InlineTimeout,
		Logger:      logg,
		Metrics:     ledgerMetrics,
	})
	creditsService.SetRechargeNotifier(trigger)

	sweeper, err := autorecharge.NewSweeper(autorecharge.SweeperParams{
		Candidates: rechargeRepo,
		Evaluator:  rechargeService,
		BatchSize:  cfg.Recharge.SweepBatchSize,
		RatePerSec: cfg.Recharge.SweepRatePerSec,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sweeper", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": env.Instance(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			prometheus.DefaultGatherer,
			creditsService,
			rechargeService,
			sweeper,
		),
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}

	// In-flight recharge evaluations hold a claim; let them record their outcome.
	trigger.Wait()
	logg.Info(ctx, "api server stopped")
}
