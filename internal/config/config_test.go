package config

import (
	"encoding/json"
	"strings"
	"testing"
)

// TestConfigSecretFieldsJSONRedaction verifies that marshalling the whole
// Config never exposes secret values.
func TestConfigSecretFieldsJSONRedaction(t *testing.T) {
	cfg := Config{
		Database: DatabaseConfig{URL: "postgres://user:hunter2@db/memberpay"},
		Redis:    RedisConfig{URL: "redis://:hunter3@cache:6379/0"},
		Stripe: StripeConfig{
			LiveSecretKey:     "sk_live_secret",
			LiveWebhookSecret: "whsec_live_secret",
			TestSecretKey:     "sk_test_secret",
			TestWebhookSecret: "whsec_test_secret",
		},
		Checkout: CheckoutConfig{NonceKey: "nonce-secret"},
		Security: SecurityConfig{AdminAPIKey: "admin-secret"},
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("json.Marshal failed: %v", err)
	}
	out := string(data)

	for _, secret := range []string{"hunter2", "hunter3", "sk_live_secret", "whsec_live_secret", "sk_test_secret", "whsec_test_secret", "nonce-secret", "admin-secret"} {
		if strings.Contains(out, secret) {
			t.Errorf("marshalled config leaked %q", secret)
		}
	}
}

func TestStripeConfigKeyTriples(t *testing.T) {
	c := StripeConfig{
		LivePublishableKey: "pk_live", LiveSecretKey: "sk_live", LiveWebhookSecret: "wh_live",
		TestPublishableKey: "pk_test", TestSecretKey: "sk_test", TestWebhookSecret: "wh_test",
	}

	live := c.LiveKeys()
	if live.PublishableKey != "pk_live" || live.SecretKey.Unmask() != "sk_live" || live.WebhookSecret.Unmask() != "wh_live" {
		t.Errorf("LiveKeys() = %+v", live)
	}
	test := c.TestKeys()
	if test.PublishableKey != "pk_test" || test.SecretKey.Unmask() != "sk_test" || test.WebhookSecret.Unmask() != "wh_test" {
		t.Errorf("TestKeys() = %+v", test)
	}
}
