package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Internal     InternalAuthConfig
	FeatureFlags FeatureFlagsConfig
	Square       SquareConfig
	Recharge     RechargeConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.App.IsProd() && cfg.FeatureFlags.UseSQLite {
		return nil, fmt.Errorf("%s is not allowed when %s=%s", EnvUseSQLite, EnvAppEnv, AppEnvProd)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Recharge.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"RELAYCRM_APP_ENV" required:"true"`
	Port         string `envconfig:"RELAYCRM_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"RELAYCRM_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"RELAYCRM_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string      `envconfig:"RELAYCRM_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	IdempotencyTTL     time.Duration `envconfig:"RELAYCRM_IDEMPOTENCY_TTL" default:"24h"`
	ShutdownTimeout    time.Duration `envconfig:"RELAYCRM_SHUTDOWN_TIMEOUT" default:"15s"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"RELAYCRM_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"RELAYCRM_DB_DSN"`
	Driver string `envconfig:"RELAYCRM_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"RELAYCRM_DB_HOST"`
	LegacyPort     int    `envconfig:"RELAYCRM_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"RELAYCRM_DB_USER"`
	LegacyPassword string `envconfig:"RELAYCRM_DB_PASSWORD"`
	LegacyName     string `envconfig:"RELAYCRM_DB_NAME"`
	LegacySSLMode  string `envconfig:"RELAYCRM_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"RELAYCRM_SQLITE_PATH" default:"relaycrm.db"`

	MaxOpenConns    int           `envconfig:"RELAYCRM_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"RELAYCRM_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"RELAYCRM_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RELAYCRM_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"RELAYCRM_REDIS_URL"`
	Address      string        `envconfig:"RELAYCRM_REDIS_ADDR"`
	Password     string        `envconfig:"RELAYCRM_REDIS_PASSWORD"`
	DB           int           `envconfig:"RELAYCRM_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RELAYCRM_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"RELAYCRM_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"RELAYCRM_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RELAYCRM_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RELAYCRM_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies dashboard access tokens minted by the auth service.
type JWTConfig struct {
	Secret string `envconfig:"RELAYCRM_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"RELAYCRM_JWT_ISSUER" required:"true"`
}

// InternalAuthConfig holds the shared secrets used by service-to-service callers.
type InternalAuthConfig struct {
	ServiceToken string `envconfig:"RELAYCRM_INTERNAL_SERVICE_TOKEN" required:"true"`
	SweepToken   string `envconfig:"RELAYCRM_RECHARGE_SWEEP_TOKEN" required:"true"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"RELAYCRM_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"RELAYCRM_AUTO_MIGRATE" default:"false"`
}

type SquareConfig struct {
	AccessToken string `envconfig:"RELAYCRM_SQUARE_ACCESS_TOKEN"`
	Env         string `envconfig:"RELAYCRM_SQUARE_ENV" default:"sandbox"`
	LocationID  string `envconfig:"RELAYCRM_SQUARE_LOCATION_ID"`
	Currency    string `envconfig:"RELAYCRM_SQUARE_CURRENCY" default:"USD"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

// Enabled reports whether enough credentials exist to charge cards.
func (s SquareConfig) Enabled() bool {
	return strings.TrimSpace(s.AccessToken) != "" && strings.TrimSpace(s.LocationID) != ""
}

type RechargeConfig struct {
	DefaultCooldown   time.Duration `envconfig:"RELAYCRM_RECHARGE_DEFAULT_COOLDOWN" default:"1h"`
	CreditPriceCents  string        `envconfig:"RELAYCRM_RECHARGE_CREDIT_PRICE_CENTS" default:"1"`
	GatewayTimeout    time.Duration `envconfig:"RELAYCRM_RECHARGE_GATEWAY_TIMEOUT" default:"30s"`
	SweepInterval     time.Duration `envconfig:"RELAYCRM_RECHARGE_SWEEP_INTERVAL" default:"5m"`
	SweepBatchSize    int           `envconfig:"RELAYCRM_RECHARGE_SWEEP_BATCH_SIZE" default:"200"`
	SweepRatePerSec   float64       `envconfig:"RELAYCRM_RECHARGE_SWEEP_RATE_PER_SEC" default:"5"`
	InlineConcurrency int64         `envconfig:"RELAYCRM_RECHARGE_INLINE_CONCURRENCY" default:"16"`
	InlineTimeout     time.Duration `envconfig:"RELAYCRM_RECHARGE_INLINE_TIMEOUT" default:"45s"`
	ReconcileLookback time.Duration `envconfig:"RELAYCRM_RECHARGE_RECONCILE_LOOKBACK" default:"72h"`
	DailyInterval     time.Duration `envconfig:"RELAYCRM_CRON_DAILY_INTERVAL" default:"24h"`

	// Per-scope fixed window for the internal sweep endpoint.
	SweepRequestLimit  int           `envconfig:"RELAYCRM_RECHARGE_SWEEP_REQUEST_LIMIT" default:"6"`
	SweepRequestWindow time.Duration `envconfig:"RELAYCRM_RECHARGE_SWEEP_REQUEST_WINDOW" default:"1m"`
}

func (r RechargeConfig) validate() error {
	if r.DefaultCooldown < MinRechargeCooldown {
		return fmt.Errorf("%s must be at least %s", EnvRechargeDefaultCooldown, MinRechargeCooldown)
	}
	if r.DefaultCooldown > MaxRechargeCooldown {
		return fmt.Errorf("%s must be at most %s", EnvRechargeDefaultCooldown, MaxRechargeCooldown)
	}
	return nil
}

type GCPConfig struct {
	ProjectID string `envconfig:"RELAYCRM_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	RechargeTopic string `envconfig:"RELAYCRM_PUBSUB_RECHARGE_TOPIC"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
