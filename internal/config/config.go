// Package config describes memberpay's environment variables. A variable set
// in the environment beats the local .env file, which beats a NAME_FILE
// secret mount. Startup fails on any missing or malformed value.
package config

import (
	"time"

	"memberpay/internal/types"
)

// SecretString never prints its value; see types.SecretString.
type SecretString = types.SecretString

// Config is the whole process configuration. Components take only the
// section they use.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"memberpay"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	IsTestMode  bool   `envconfig:"IS_TEST_MODE" default:"false"`

	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	AWS           AWSConfig
	Stripe        StripeConfig
	Checkout      CheckoutConfig
	Sync          SyncConfig
	Security      SecurityConfig
	Observability ObservabilityConfig
	Feature       FeatureConfig

	// Build is filled by NewBuildInfo, not from the environment.
	Build BuildInfo
}

type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
	// SiteURL is the site identity mixed into every external id. Changing it
	// orphans every remote plan and coupon.
	SiteURL string `envconfig:"SITE_URL" validate:"required,url"`
}

// DatabaseConfig feeds db.Connect.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	ConnectRetries    int           `envconfig:"DB_CONNECT_RETRIES" default:"3"`
	ConnectRetryWait  time.Duration `envconfig:"DB_CONNECT_RETRY_WAIT" default:"2s"`
	AutoMigrate       bool          `envconfig:"AUTO_MIGRATE" default:"false"`
}

// RedisConfig configures the shared fingerprint cache. An empty URL selects
// the in-process cache.
type RedisConfig struct {
	URL            SecretString  `envconfig:"REDIS_URL"`
	RetryAttempts  int           `envconfig:"REDIS_RETRY_ATTEMPTS" default:"3"`
	RetryInterval  time.Duration `envconfig:"REDIS_RETRY_INTERVAL" default:"2s"`
	ConnectTimeout time.Duration `envconfig:"REDIS_CONNECT_TIMEOUT" default:"5s"`
}

// AWSConfig covers CloudWatch and the SQS renewal queue.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// RenewalQueue receives renewal notification events. Required when
	// FEATURE_RENEWAL_NOTIFICATIONS is on.
	RenewalQueue string `envconfig:"SQS_RENEWAL_NOTIFICATIONS" validate:"omitempty,url"`

	// EndpointURL points the SDK at LocalStack in development.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// StripeKeys is one mode's credential triple.
type StripeKeys struct {
	PublishableKey string
	SecretKey      SecretString
	WebhookSecret  SecretString
}

// StripeConfig holds both credential triples and the mode selecting between
// them. The runtime view is GatewayConfig.
type StripeConfig struct {
	Mode string `envconfig:"STRIPE_MODE" default:"sandbox" validate:"oneof=live sandbox"`

	LivePublishableKey string       `envconfig:"STRIPE_LIVE_PUBLISHABLE_KEY"`
	LiveSecretKey      SecretString `envconfig:"STRIPE_LIVE_SECRET_KEY"`
	LiveWebhookSecret  SecretString `envconfig:"STRIPE_LIVE_WEBHOOK_SECRET"`

	TestPublishableKey string       `envconfig:"STRIPE_TEST_PUBLISHABLE_KEY"`
	TestSecretKey      SecretString `envconfig:"STRIPE_TEST_SECRET_KEY"`
	TestWebhookSecret  SecretString `envconfig:"STRIPE_TEST_WEBHOOK_SECRET"`

	Currency string `envconfig:"STRIPE_CURRENCY" default:"usd" validate:"len=3"`
	Active   bool   `envconfig:"STRIPE_GATEWAY_ACTIVE" default:"true"`

	// WebhookEvents narrows the accepted event whitelist. Empty accepts the
	// full whitelist.
	WebhookEvents []string      `envconfig:"STRIPE_WEBHOOK_EVENTS"`
	Timeout       time.Duration `envconfig:"STRIPE_TIMEOUT" default:"15s"`
	APIBaseURL    string        `envconfig:"STRIPE_API_BASE_URL" default:"https://api.stripe.com" validate:"url"`
	MaxRetries    int           `envconfig:"STRIPE_MAX_RETRIES" default:"2"`
}

// LiveKeys returns the live credential triple.
func (c StripeConfig) LiveKeys() StripeKeys {
	return StripeKeys{PublishableKey: c.LivePublishableKey, SecretKey: c.LiveSecretKey, WebhookSecret: c.LiveWebhookSecret}
}

// TestKeys returns the sandbox credential triple.
func (c StripeConfig) TestKeys() StripeKeys {
	return StripeKeys{PublishableKey: c.TestPublishableKey, SecretKey: c.TestSecretKey, WebhookSecret: c.TestWebhookSecret}
}

// CheckoutConfig configures the hosted checkout return URLs.
type CheckoutConfig struct {
	// ReturnURL is the page the member lands on after leaving checkout.
	ReturnURL string       `envconfig:"CHECKOUT_RETURN_URL" validate:"required,url"`
	NonceKey  SecretString `envconfig:"CHECKOUT_NONCE_KEY" validate:"required,min=32"`
}

// SyncConfig tunes the batch synchronizer.
type SyncConfig struct {
	Concurrency int `envconfig:"SYNC_CONCURRENCY" default:"4" validate:"min=1,max=32"`
}

// SecurityConfig holds the admin API credential.
type SecurityConfig struct {
	AdminAPIKey SecretString `envconfig:"ADMIN_API_KEY" validate:"required,min=16"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"MemberPay"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// FeatureConfig holds host add-on switches.
type FeatureConfig struct {
	RenewalNotifications bool `envconfig:"FEATURE_RENEWAL_NOTIFICATIONS" default:"false"`
	TrialAddon           bool `envconfig:"FEATURE_TRIAL_ADDON" default:"false"`
	Coupons              bool `envconfig:"FEATURE_COUPONS" default:"false"`
}

// BuildInfo identifies the running binary in logs and /health.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType classifies a ConfigError.
type ConfigErrorType string

const (
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	ErrSecretFile ConfigErrorType = "SECRET_FILE_FAILURE"
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing    ConfigErrorType = "PARSING_FAILED"
)
