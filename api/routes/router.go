package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/relaycrm-backend/api/controllers"
	"github.com/angelmondragon/relaycrm-backend/api/middleware"
	"github.com/angelmondragon/relaycrm-backend/internal/autorecharge"
	"github.com/angelmondragon/relaycrm-backend/internal/credits"
	"github.com/angelmondragon/relaycrm-backend/pkg/config"
	"github.com/angelmondragon/relaycrm-backend/pkg/db"
	"github.com/angelmondragon/relaycrm-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/relaycrm-backend/pkg/redis"
)

const (
	internalCaller = "internal-service"
	sweepCaller    = "recharge-sweep"
)

// RedisStore is the redis surface the HTTP layer needs.
type RedisStore interface {
	pkgredis.IdempotencyStore
	pkgredis.Pinger
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisStore RedisStore,
	gatherer prometheus.Gatherer,
	creditsService credits.Service,
	autoRechargeService autorecharge.Service,
	sweeper controllers.RechargeSweeper,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	sweepPolicy := middleware.SweepRateLimitPolicy{
		Limit:  cfg.Recharge.SweepRequestLimit,
		Window: cfg.Recharge.SweepRequestWindow,
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    dbP,
			"redis": redisStore,
		}))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.App.CORSAllowedOrigins))
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/credits", func(r chi.Router) {
			r.Get("/", controllers.CreditSummary(creditsService, logg))
			r.Get("/auto-recharge", controllers.AutoRechargeSettingsFetch(autoRechargeService, logg))
			r.With(middleware.RequireBillingRole(logg)).Put("/auto-recharge", controllers.AutoRechargeSettingsUpdate(autoRechargeService, logg))
		})
	})

	r.Route("/internal/v1", func(r chi.Router) {
		r.With(
			middleware.ServiceToken(cfg.Internal.ServiceToken, internalCaller, logg),
			middleware.Idempotency(redisStore, cfg.App.IdempotencyTTL, logg),
		).Post("/credits", controllers.ApplyCredit(creditsService, logg))

		r.With(
			middleware.ServiceToken(cfg.Internal.SweepToken, sweepCaller, logg),
			middleware.SweepRateLimit(sweepPolicy, redisStore, logg),
		).Post("/auto-recharge/sweep", controllers.RechargeSweep(sweeper, logg))
	})

	return r
}
