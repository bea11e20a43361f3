package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "printloop"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "PRINTLOOP_DB_DSN"
	EnvDBHost = "PRINTLOOP_DB_HOST"
	EnvDBUser = "PRINTLOOP_DB_USER"
	EnvDBName = "PRINTLOOP_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	Stripe        StripeConfig
	PrintProvider PrintProviderConfig
	Payouts       PayoutConfig
	Fulfillment   FulfillmentConfig
	FeatureFlags  FeatureFlagsConfig
	Eventing      EventingConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	BigQuery      BigQueryConfig
	Outbox        OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PRINTLOOP_APP_ENV" required:"true"`
	Port         string `envconfig:"PRINTLOOP_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PRINTLOOP_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PRINTLOOP_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PRINTLOOP_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PRINTLOOP_DB_DSN"`
	Driver string `envconfig:"PRINTLOOP_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PRINTLOOP_DB_HOST"`
	LegacyPort     int    `envconfig:"PRINTLOOP_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PRINTLOOP_DB_USER"`
	LegacyPassword string `envconfig:"PRINTLOOP_DB_PASSWORD"`
	LegacyName     string `envconfig:"PRINTLOOP_DB_NAME"`
	LegacySSLMode  string `envconfig:"PRINTLOOP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PRINTLOOP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PRINTLOOP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PRINTLOOP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PRINTLOOP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PRINTLOOP_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PRINTLOOP_REDIS_ADDR"`
	Password     string        `envconfig:"PRINTLOOP_REDIS_PASSWORD"`
	DB           int           `envconfig:"PRINTLOOP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PRINTLOOP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PRINTLOOP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PRINTLOOP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PRINTLOOP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PRINTLOOP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type StripeConfig struct {
	APIKey string `envconfig:"PRINTLOOP_STRIPE_API_KEY"`
	Secret string `envconfig:"PRINTLOOP_STRIPE_SECRET"`
	Env    string `envconfig:"PRINTLOOP_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type PrintProviderConfig struct {
	BaseURL     string        `envconfig:"PRINTLOOP_PRINT_PROVIDER_BASE_URL" required:"true"`
	APIKey      string        `envconfig:"PRINTLOOP_PRINT_PROVIDER_API_KEY" required:"true"`
	CallTimeout time.Duration `envconfig:"PRINTLOOP_PRINT_PROVIDER_CALL_TIMEOUT" default:"15s"`
}

type PayoutConfig struct {
	MinimumCents int `envconfig:"PRINTLOOP_PAYOUT_MINIMUM_CENTS" default:"1000"`
}

type FulfillmentConfig struct {
	MaxAttempts     int           `envconfig:"PRINTLOOP_FULFILLMENT_MAX_ATTEMPTS" default:"5"`
	BaseBackoff     time.Duration `envconfig:"PRINTLOOP_FULFILLMENT_BASE_BACKOFF" default:"2s"`
	RequeueInterval time.Duration `envconfig:"PRINTLOOP_FULFILLMENT_REQUEUE_INTERVAL" default:"5m"`
	RequeueAfter    time.Duration `envconfig:"PRINTLOOP_FULFILLMENT_REQUEUE_AFTER" default:"15m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PRINTLOOP_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"PRINTLOOP_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookDedupeTTL     time.Duration `envconfig:"PRINTLOOP_EVENTING_WEBHOOK_DEDUPE_TTL" default:"168h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PRINTLOOP_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"PRINTLOOP_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PRINTLOOP_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic           string `envconfig:"PRINTLOOP_PUBSUB_ORDERS_TOPIC" required:"true"`
	OrdersSubscription    string `envconfig:"PRINTLOOP_PUBSUB_ORDERS_SUBSCRIPTION" required:"true"`
	AnalyticsTopic        string `envconfig:"PRINTLOOP_PUBSUB_ANALYTICS_TOPIC" required:"true"`
	AnalyticsSubscription string `envconfig:"PRINTLOOP_PUBSUB_ANALYTICS_SUBSCRIPTION" required:"true"`
}

type BigQueryConfig struct {
	Dataset             string `envconfig:"PRINTLOOP_BIGQUERY_DATASET" default:"printloop"`
	PipelineEventsTable string `envconfig:"PRINTLOOP_BIGQUERY_PIPELINE_TABLE" default:"pipeline_events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PRINTLOOP_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PRINTLOOP_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PRINTLOOP_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
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
