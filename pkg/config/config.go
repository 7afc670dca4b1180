package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Stripe       StripeConfig
	Pricing      PricingConfig
	Escrow       EscrowConfig
	Webhooks     WebhooksConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	GCS          GCSConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Pricing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"NORETMY_APP_ENV" required:"true"`
	Port         string `envconfig:"NORETMY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"NORETMY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"NORETMY_LOG_WARN_STACK" default:"false"`
	CORSOrigins  string `envconfig:"NORETMY_CORS_ORIGINS" default:"*"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

// AllowedOrigins splits the comma separated CORS origin list.
func (a AppConfig) AllowedOrigins() []string {
	parts := strings.Split(a.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type ServiceConfig struct {
	Kind string `envconfig:"NORETMY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"NORETMY_DB_DSN"`
	Driver string `envconfig:"NORETMY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"NORETMY_DB_HOST"`
	LegacyPort     int    `envconfig:"NORETMY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"NORETMY_DB_USER"`
	LegacyPassword string `envconfig:"NORETMY_DB_PASSWORD"`
	LegacyName     string `envconfig:"NORETMY_DB_NAME"`
	LegacySSLMode  string `envconfig:"NORETMY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"NORETMY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"NORETMY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"NORETMY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"NORETMY_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"NORETMY_DB_SLOW_QUERY" default:"500ms"`
	TxAttempts         int           `envconfig:"NORETMY_DB_TX_ATTEMPTS" default:"3"`
}

type RedisConfig struct {
	URL          string        `envconfig:"NORETMY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"NORETMY_REDIS_ADDR"`
	Password     string        `envconfig:"NORETMY_REDIS_PASSWORD"`
	DB           int           `envconfig:"NORETMY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"NORETMY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"NORETMY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"NORETMY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"NORETMY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"NORETMY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"NORETMY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"NORETMY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"NORETMY_JWT_EXPIRATION_MINUTES" default:"60"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"NORETMY_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"NORETMY_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"NORETMY_STRIPE_ENV" default:"test"`

	MaxNetworkRetries int           `envconfig:"NORETMY_STRIPE_MAX_RETRIES" default:"2"`
	WebhookTolerance  time.Duration `envconfig:"NORETMY_STRIPE_WEBHOOK_TOLERANCE" default:"5m"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// PricingConfig holds the marketplace fee schedule. Rates are fractions, 0.10 means 10%.
type PricingConfig struct {
	PlatformFeeRate string `envconfig:"NORETMY_PLATFORM_FEE_RATE" default:"0.10"`
	DefaultVATRate  string `envconfig:"NORETMY_DEFAULT_VAT_RATE" default:"0"`
	Currency        string `envconfig:"NORETMY_CURRENCY" default:"usd"`
}

func (p PricingConfig) FeeRate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(p.PlatformFeeRate))
	if err != nil {
		return decimal.Zero
	}
	return rate
}

func (p PricingConfig) VATRate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(p.DefaultVATRate))
	if err != nil {
		return decimal.Zero
	}
	return rate
}

func (p PricingConfig) validate() error {
	for name, raw := range map[string]string{EnvPlatformFeeRate: p.PlatformFeeRate, EnvDefaultVATRate: p.DefaultVATRate} {
		rate, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fmt.Errorf("%s must be within [0,1), got %s", name, raw)
		}
	}
	return nil
}

type EscrowConfig struct {
	GatewayTimeout time.Duration `envconfig:"NORETMY_GATEWAY_TIMEOUT" default:"15s"`
	// DefaultDeliveryDays applies when the gig does not carry its own delivery window.
	DefaultDeliveryDays int `envconfig:"NORETMY_DEFAULT_DELIVERY_DAYS" default:"7"`
}

type WebhooksConfig struct {
	IdempotencyTTL time.Duration `envconfig:"NORETMY_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
	MaxBodyBytes   int64         `envconfig:"NORETMY_WEBHOOK_MAX_BODY_BYTES" default:"65536"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"NORETMY_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"NORETMY_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	RequestIdempotencyTTL time.Duration `envconfig:"NORETMY_REQUEST_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"NORETMY_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"NORETMY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"NORETMY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName string `envconfig:"NORETMY_GCS_BUCKET_NAME" required:"true"`
	PublicBase string `envconfig:"NORETMY_GCS_PUBLIC_BASE_URL" default:"https://storage.googleapis.com"`
}

type PubSubConfig struct {
	EscrowTopic              string `envconfig:"NORETMY_PUBSUB_ESCROW_TOPIC" default:"nm-escrow-events"`
	AlertsTopic              string `envconfig:"NORETMY_PUBSUB_ALERTS_TOPIC" default:"nm-escrow-alerts"`
	NotificationSubscription string `envconfig:"NORETMY_PUBSUB_NOTIFICATION_SUBSCRIPTION" default:"nm-escrow-notifications"`
	EmailTopic               string `envconfig:"NORETMY_PUBSUB_EMAIL_TOPIC" default:"nm-email-dispatch"`
	// AnalyticsSubscription is a second subscription on the escrow topic.
	AnalyticsSubscription string `envconfig:"NORETMY_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"nm-escrow-analytics"`
}

type BigQueryConfig struct {
	Dataset          string `envconfig:"NORETMY_BIGQUERY_DATASET" default:"noretmy_escrow"`
	EscrowFactsTable string `envconfig:"NORETMY_BIGQUERY_ESCROW_FACTS_TABLE" default:"escrow_facts"`
	CreateTable      bool   `envconfig:"NORETMY_BIGQUERY_CREATE_TABLE" default:"false"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"NORETMY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"NORETMY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"NORETMY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	PublishTimeout time.Duration `envconfig:"NORETMY_OUTBOX_PUBLISH_TIMEOUT" default:"15s"`
	// MaxBackoff caps the idle wait after a batch in which nothing was published.
	MaxBackoff time.Duration `envconfig:"NORETMY_OUTBOX_MAX_BACKOFF" default:"10s"`
}

type CronConfig struct {
	Interval       time.Duration `envconfig:"NORETMY_CRON_INTERVAL" default:"15m"`
	LockTTL        time.Duration `envconfig:"NORETMY_CRON_LOCK_TTL" default:"10m"`
	ReconcileBatch int           `envconfig:"NORETMY_CRON_RECONCILE_BATCH" default:"500"`
	// ReleaseGrace is how long an order may sit in waiting_review before the
	// cron retries its release.
	ReleaseGrace        time.Duration `envconfig:"NORETMY_CRON_RELEASE_GRACE" default:"10m"`
	OutboxRetentionDays int           `envconfig:"NORETMY_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
	JobTimeout          time.Duration `envconfig:"NORETMY_CRON_JOB_TIMEOUT" default:"5m"`
}

// RateLimitConfig throttles order actions per caller. A zero limit disables it.
type RateLimitConfig struct {
	Actions int64         `envconfig:"NORETMY_RATE_LIMIT_ACTIONS" default:"30"`
	Period  time.Duration `envconfig:"NORETMY_RATE_LIMIT_PERIOD" default:"1m"`
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
