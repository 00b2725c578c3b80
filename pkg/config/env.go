package config

import "time"

// EnvPrefix is passed to envconfig; every field carries its full variable name.
const EnvPrefix = "RELAYCRM"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv                  = "RELAYCRM_APP_ENV"
	EnvPort                    = "RELAYCRM_APP_PORT"
	EnvDBDSN                   = "RELAYCRM_DB_DSN"
	EnvDBHost                  = "RELAYCRM_DB_HOST"
	EnvDBUser                  = "RELAYCRM_DB_USER"
	EnvDBName                  = "RELAYCRM_DB_NAME"
	EnvDBPassword              = "RELAYCRM_DB_PASSWORD"
	EnvUseSQLite               = "RELAYCRM_USE_SQLITE"
	EnvRedisURL                = "RELAYCRM_REDIS_URL"
	EnvJWTSecret               = "RELAYCRM_JWT_SECRET"
	EnvJWTIssuer               = "RELAYCRM_JWT_ISSUER"
	EnvInternalServiceToken    = "RELAYCRM_INTERNAL_SERVICE_TOKEN"
	EnvRechargeSweepToken      = "RELAYCRM_RECHARGE_SWEEP_TOKEN"
	EnvRechargeDefaultCooldown = "RELAYCRM_RECHARGE_DEFAULT_COOLDOWN"
)

// MinRechargeCooldown is the smallest cooldown window accepted for auto-recharge.
const MinRechargeCooldown = time.Minute

// MaxRechargeCooldown bounds the cooldown window; keep in sync with the
// cooldown_seconds validator tag on the settings endpoint.
const MaxRechargeCooldown = 30 * 24 * time.Hour

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
