package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/relaycrm-backend/internal/autorecharge"
	"github.com/angelmondragon/relaycrm-backend/internal/credits"
	"github.com/angelmondragon/relaycrm-backend/internal/cron"
	"github.com/angelmondragon/relaycrm-backend/pkg/config"
	"github.com/angelmondragon/relaycrm-backend/pkg/db"
	"github.com/angelmondragon/relaycrm-backend/pkg/logger"
	"github.com/angelmondragon/relaycrm-backend/pkg/metrics"
	"github.com/angelmondragon/relaycrm-backend/pkg/migrate"
	"github.com/angelmondragon/relaycrm-backend/pkg/pubsub"
	"github.com/angelmondragon/relaycrm-backend/pkg/redis"
	"github.com/angelmondragon/relaycrm-backend/pkg/square"
)

const (
	sweepServiceName = "recharge-sweep"
	dailyServiceName = "daily"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	ledgerMetrics := metrics.NewLedgerMetrics(prometheus.DefaultRegisterer)

	creditsRepo := credits.NewRepository(dbClient.DB())
	creditsService, err := credits.NewService(credits.ServiceParams{
		Repo:    creditsRepo,
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
		logg.Warn(context.Background(), "square credentials missing; sweep will not charge cards and reconcile is disabled")
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

	sweepJob, err := cron.NewRechargeSweepJob(cron.RechargeSweepJobParams{Logger: logg, Sweeper: sweeper})
	if err != nil {
		logg.Error(context.Background(), "failed to create sweep job", err)
		os.Exit(1)
	}

	auditJob, err := cron.NewLedgerAuditJob(cron.LedgerAuditJobParams{
		Logger:  logg,
		Tenants: creditsRepo,
		Ledger:  creditsService,
		Metrics: ledgerMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger audit job", err)
		os.Exit(1)
	}
	dailyJobs := []cron.Job{auditJob}

	if gateway != nil {
		reconcileJob, err := cron.NewRechargeReconcileJob(cron.RechargeReconcileJobParams{
			Logger:   logg,
			Credits:  creditsRepo,
			Gateway:  gateway,
			Lookback: cfg.Recharge.ReconcileLookback,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create recharge reconcile job", err)
			os.Exit(1)
		}
		dailyJobs = append(dailyJobs, reconcileJob)
	}

	sweepService := newCronService(logg, redisClient, cronMetrics, sweepServiceName, cfg.Recharge.SweepInterval, 2*cfg.Recharge.SweepInterval, sweepJob)
	dailyService := newCronService(logg, redisClient, cronMetrics, dailyServiceName, cfg.Recharge.DailyInterval, 0, dailyJobs...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	group, groupCtx := errgroup.WithContext(ctx)
	for _, svc := range []*cron.Service{sweepService, dailyService} {
		svc := svc
		group.Go(func() error {
			return svc.Run(groupCtx)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func newCronService(logg *logger.Logger, redisClient *redis.Client, collector *metrics.CronJobMetrics, name string, interval, lockTTL time.Duration, jobs ...cron.Job) *cron.Service {
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron:"+name), lockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Name:     name,
		Logger:   logg,
		Registry: cron.NewRegistry(jobs...),
		Lock:     lock,
		Metrics:  collector,
		Interval: interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}
	return service
}
