package external

import (
	"log/slog"
	"net/http"

	"memberpay/internal/config"
)

// NewGateway selects the Gateway implementation for the process.
// If cfg.IsTestMode is true or cfg.Environment is "local", a StubGateway is
// returned that needs no credentials. Otherwise the real StripeGateway is
// built with the configured timeout, retry budget and base URL.
func NewGateway(cfg *config.Config, keys *config.GatewayConfig, logger *slog.Logger) Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.IsTestMode || cfg.Environment == "local" {
		logger.Info("initializing payment gateway in STUB mode",
			"is_test_mode", cfg.IsTestMode,
			"environment", cfg.Environment,
		)
		return NewStubGateway(logger.With("mode", "stub"))
	}

	logger.Info("initializing payment gateway",
		"environment", cfg.Environment,
		"stripe_mode", string(keys.Mode()),
		"secret_key", keys.SecretKey().Hint(),
	)
	httpClient := &http.Client{Timeout: cfg.Stripe.Timeout}
	return NewStripeGateway(httpClient, keys, cfg.Stripe.MaxRetries, StripeGatewayConfig{
		BaseURL: cfg.Stripe.APIBaseURL,
		Logger:  logger.With("client", "stripe"),
	})
}

var (
	_ Gateway         = (*StripeGateway)(nil)
	_ Gateway         = (*StubGateway)(nil)
	_ WebhookVerifier = (*StripeVerifier)(nil)
)
