package config

const EnvPrefix = "FORESTCARBON"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "FORESTCARBON_APP_ENV"
	EnvLogLevel = "FORESTCARBON_LOG_LEVEL"
	EnvWorkerID = "FORESTCARBON_WORKER_ID"

	EnvDBDSN  = "FORESTCARBON_DB_DSN"
	EnvDBHost = "FORESTCARBON_DB_HOST"
	EnvDBUser = "FORESTCARBON_DB_USER"
	EnvDBName = "FORESTCARBON_DB_NAME"

	EnvRedisURL  = "FORESTCARBON_REDIS_URL"
	EnvUseSQLite = "FORESTCARBON_USE_SQLITE"

	EnvCarbonRenewalNoticeDays   = "FORESTCARBON_CARBON_RENEWAL_NOTICE_DAYS"
	EnvCarbonHealthAlertSurvival = "FORESTCARBON_CARBON_HEALTH_ALERT_SURVIVAL"

	EnvCronInterval = "FORESTCARBON_CRON_INTERVAL"
	EnvWeatherURL   = "FORESTCARBON_WEATHER_BASE_URL"
	EnvPubSubTopic  = "FORESTCARBON_PUBSUB_NOTIFICATION_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
