package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"memberpay/internal/types"
)

// ConfigError reports why LoadConfig refused to start the process.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Type, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErr(kind ConfigErrorType, err error, format string, args ...any) *ConfigError {
	return &ConfigError{Type: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

const (
	// STRIPE_LIVE_SECRET_KEY_FILE=/run/secrets/stripe populates
	// STRIPE_LIVE_SECRET_KEY unless it is already set.
	secretFileSuffix = "_FILE"

	localEnv = "local"
)

// loaderDeps isolates LoadConfig from the process environment in tests.
type loaderDeps struct {
	lookupEnv func(key string) (string, bool)
	setEnv    func(key, value string) error
	environ   func() []string
	readFile  func(name string) ([]byte, error)
	dotenv    func() error
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
		readFile:  os.ReadFile,
		dotenv:    func() error { return godotenv.Load() },
	}
}

// LoadConfig reads the process configuration from the environment. Outside
// deployed environments a .env file in the working directory is read first;
// it never overrides variables that are already set.
func LoadConfig() (*Config, error) {
	return loadConfigWithDeps(defaultDeps())
}

func loadConfigWithDeps(deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	env, hasEnv := deps.lookupEnv("APP_ENV")
	if deps.dotenv != nil && (!hasEnv || env == localEnv) {
		_ = deps.dotenv()
	}
	if err := resolveSecretFiles(deps); err != nil {
		return nil, err
	}
	if _, ok := deps.lookupEnv("APP_ENV"); !ok {
		return nil, configErr(ErrMissingEnv, nil, "APP_ENV must be set")
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, configErr(ErrParsing, err, "failed to process environment configuration")
	}
	cfg.Build = NewBuildInfo()

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate applies the struct tags and then the rules that span fields.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return configErr(ErrValidation, err, "configuration validation failed")
	}

	for _, name := range cfg.Stripe.WebhookEvents {
		if !types.IsWhitelistedEvent(name) {
			return configErr(ErrValidation, nil, "STRIPE_WEBHOOK_EVENTS contains unsupported event %q", name)
		}
	}

	if cfg.Feature.RenewalNotifications && cfg.AWS.RenewalQueue == "" {
		return configErr(ErrValidation, nil, "FEATURE_RENEWAL_NOTIFICATIONS requires SQS_RENEWAL_NOTIFICATIONS")
	}

	if cfg.Environment == localEnv {
		return nil
	}
	return validateActiveKeys(cfg.Stripe)
}

// validateActiveKeys requires the selected mode's credentials and rejects a
// secret key issued for the other mode.
func validateActiveKeys(s StripeConfig) error {
	keys, keyPrefix := s.TestKeys(), "_test_"
	if s.Mode == string(ModeLive) {
		keys, keyPrefix = s.LiveKeys(), "_live_"
	}
	if keys.SecretKey.IsZero() || keys.WebhookSecret.IsZero() {
		return configErr(ErrMissingEnv, nil, "secret key and webhook secret are required for %s mode", s.Mode)
	}
	if k := keys.SecretKey.Unmask(); len(k) > 2 && !strings.HasPrefix(k[2:], keyPrefix) {
		return configErr(ErrValidation, nil, "%s mode secret key %s belongs to the other mode", s.Mode, keys.SecretKey.Hint())
	}
	return nil
}

// resolveSecretFiles loads every NAME_FILE variable's file into NAME.
func resolveSecretFiles(deps loaderDeps) error {
	for _, entry := range deps.environ() {
		key, path, ok := strings.Cut(entry, "=")
		if !ok || path == "" {
			continue
		}
		target, ok := strings.CutSuffix(key, secretFileSuffix)
		if !ok || target == "" {
			continue
		}
		if _, set := deps.lookupEnv(target); set {
			continue
		}

		raw, err := deps.readFile(path)
		if err != nil {
			return configErr(ErrSecretFile, err, "failed to read secret file for %s", target)
		}
		if err := deps.setEnv(target, strings.TrimSpace(string(raw))); err != nil {
			return configErr(ErrSecretFile, err, "failed to set resolved value for %s", target)
		}
	}
	return nil
}
