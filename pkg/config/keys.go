package config

const (
	EnvPrefix = "NORETMY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv = "NORETMY_APP_ENV"
	EnvPort   = "NORETMY_APP_PORT"

	EnvDBDSN  = "NORETMY_DB_DSN"
	EnvDBHost = "NORETMY_DB_HOST"
	EnvDBUser = "NORETMY_DB_USER"
	EnvDBName = "NORETMY_DB_NAME"

	EnvRedisURL = "NORETMY_REDIS_URL"

	EnvJWTSecret = "NORETMY_JWT_SECRET"
	EnvJWTIssuer = "NORETMY_JWT_ISSUER"

	EnvStripeAPIKey        = "NORETMY_STRIPE_API_KEY"
	EnvStripeWebhookSecret = "NORETMY_STRIPE_WEBHOOK_SECRET"

	EnvPlatformFeeRate = "NORETMY_PLATFORM_FEE_RATE"
	EnvDefaultVATRate  = "NORETMY_DEFAULT_VAT_RATE"

	EnvGCPProjectID = "NORETMY_GCP_PROJECT_ID"
	EnvGCSBucket    = "NORETMY_GCS_BUCKET_NAME"

	EnvPubSubEscrowTopic = "NORETMY_PUBSUB_ESCROW_TOPIC"
	EnvPubSubEmailTopic  = "NORETMY_PUBSUB_EMAIL_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
