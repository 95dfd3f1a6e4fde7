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
	FeatureFlags FeatureFlagsConfig
	Carbon       CarbonConfig
	Cron         CronConfig
	Weather      WeatherConfig
	GoogleMaps   GoogleMapsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Metrics      MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = "sqlite"
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Carbon.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FORESTCARBON_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"FORESTCARBON_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FORESTCARBON_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FORESTCARBON_SERVICE_KIND" default:"cron-worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"FORESTCARBON_DB_DSN"`
	Driver string `envconfig:"FORESTCARBON_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FORESTCARBON_DB_HOST"`
	LegacyPort     int    `envconfig:"FORESTCARBON_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FORESTCARBON_DB_USER"`
	LegacyPassword string `envconfig:"FORESTCARBON_DB_PASSWORD"`
	LegacyName     string `envconfig:"FORESTCARBON_DB_NAME"`
	LegacySSLMode  string `envconfig:"FORESTCARBON_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FORESTCARBON_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FORESTCARBON_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FORESTCARBON_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FORESTCARBON_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"FORESTCARBON_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FORESTCARBON_REDIS_URL"`
	Address      string        `envconfig:"FORESTCARBON_REDIS_ADDR"`
	Password     string        `envconfig:"FORESTCARBON_REDIS_PASSWORD"`
	DB           int           `envconfig:"FORESTCARBON_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FORESTCARBON_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FORESTCARBON_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FORESTCARBON_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FORESTCARBON_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FORESTCARBON_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether any Redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"FORESTCARBON_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"FORESTCARBON_AUTO_MIGRATE" default:"false"`
	// Notifications are logged instead of published when disabled.
	PublishNotifications bool `envconfig:"FORESTCARBON_FEATURE_PUBLISH_NOTIFICATIONS" default:"false"`
}

// CarbonConfig carries the engine-wide policy knobs.
type CarbonConfig struct {
	ReserveTTL               time.Duration `envconfig:"FORESTCARBON_CARBON_RESERVE_TTL" default:"8760h"`
	CreditLifetime           time.Duration `envconfig:"FORESTCARBON_CARBON_CREDIT_LIFETIME" default:"87600h"`
	DefaultRenewalNoticeDays int           `envconfig:"FORESTCARBON_CARBON_RENEWAL_NOTICE_DAYS" default:"30"`
	HealthAlertSurvival      float64       `envconfig:"FORESTCARBON_CARBON_HEALTH_ALERT_SURVIVAL" default:"0.8"`
	DefaultTermMonths        int           `envconfig:"FORESTCARBON_CARBON_DEFAULT_TERM_MONTHS" default:"12"`
}

func (c CarbonConfig) validate() error {
	if c.HealthAlertSurvival < 0 || c.HealthAlertSurvival > 1 {
		return fmt.Errorf("%s must be between 0 and 1", EnvCarbonHealthAlertSurvival)
	}
	if c.DefaultRenewalNoticeDays < 0 {
		return fmt.Errorf("%s must not be negative", EnvCarbonRenewalNoticeDays)
	}
	return nil
}

type CronConfig struct {
	Interval time.Duration `envconfig:"FORESTCARBON_CRON_INTERVAL" default:"24h"`
	LockTTL  time.Duration `envconfig:"FORESTCARBON_CRON_LOCK_TTL" default:"30m"`
}

type WeatherConfig struct {
	BaseURL string        `envconfig:"FORESTCARBON_WEATHER_BASE_URL"`
	APIKey  string        `envconfig:"FORESTCARBON_WEATHER_API_KEY"`
	Timeout time.Duration `envconfig:"FORESTCARBON_WEATHER_TIMEOUT" default:"10s"`
	// Lookback is the measurement window fetched by the refresh job.
	Lookback time.Duration `envconfig:"FORESTCARBON_WEATHER_LOOKBACK" default:"720h"`
}

type GoogleMapsConfig struct {
	APIKey string `envconfig:"FORESTCARBON_GOOGLE_MAPS_API_KEY"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"FORESTCARBON_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"FORESTCARBON_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"FORESTCARBON_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"FORESTCARBON_PUBSUB_NOTIFICATION_TOPIC" default:"fc-notification-events"`
}

type MetricsConfig struct {
	Port string `envconfig:"FORESTCARBON_METRICS_PORT" default:"9090"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.DSN = "file:forestcarbon.db?cache=shared"
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
