package external

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"memberpay/internal/config"
	"memberpay/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// TestNewGateway_TestModeReturnsStub verifies that IsTestMode selects the
// in-memory gateway.
func TestNewGateway_TestModeReturnsStub(t *testing.T) {
	cfg := &config.Config{IsTestMode: true, Environment: "dev"}

	gw := NewGateway(cfg, testGatewayConfig(), testLogger())
	if _, ok := gw.(*StubGateway); !ok {
		t.Errorf("gateway is %T, want *StubGateway", gw)
	}
}

// TestNewGateway_LocalEnvReturnsStub verifies that APP_ENV=local selects the
// stub even when IsTestMode is false.
func TestNewGateway_LocalEnvReturnsStub(t *testing.T) {
	cfg := &config.Config{IsTestMode: false, Environment: "local"}

	gw := NewGateway(cfg, testGatewayConfig(), testLogger())
	if _, ok := gw.(*StubGateway); !ok {
		t.Errorf("gateway is %T, want *StubGateway", gw)
	}
}

// TestNewGateway_DeployedReturnsStripe verifies the real client is built
// outside local and test mode.
func TestNewGateway_DeployedReturnsStripe(t *testing.T) {
	cfg := &config.Config{Environment: "prod"}
	cfg.Stripe.Timeout = 15 * time.Second
	cfg.Stripe.MaxRetries = 2
	cfg.Stripe.APIBaseURL = "https://api.stripe.com/"

	gw := NewGateway(cfg, testGatewayConfig(), nil)
	sg, ok := gw.(*StripeGateway)
	if !ok {
		t.Fatalf("gateway is %T, want *StripeGateway", gw)
	}
	if sg.baseURL != "https://api.stripe.com" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", sg.baseURL)
	}
	if sg.base.retryPolicy.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", sg.base.retryPolicy.MaxRetries)
	}
	if sg.base.client.Timeout != 15*time.Second {
		t.Errorf("timeout = %v, want 15s", sg.base.client.Timeout)
	}
}

func TestStubGateway_PlanLifecycle(t *testing.T) {
	ctx := context.Background()
	stub := NewStubGateway(testLogger())

	intent := types.PlanIntent{ExternalID: "ms-plan-1-a", AmountMinorUnits: 100, Currency: "usd", Interval: types.IntervalMonth, IntervalCount: 1}
	if err := stub.CreateOrUpdatePlan(ctx, intent); err != nil {
		t.Fatalf("CreateOrUpdatePlan: %v", err)
	}
	if ok, _ := stub.PlanExists(ctx, "ms-plan-1-a"); !ok {
		t.Fatal("plan should exist after create")
	}

	if _, err := stub.CreateCheckoutSession(ctx, types.CheckoutSessionRequest{PlanID: "ms-plan-1-a", RelationshipID: 1}); err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if got := len(stub.Sessions()); got != 1 {
		t.Errorf("sessions = %d, want 1", got)
	}

	if err := stub.DeletePlan(ctx, "ms-plan-1-a"); err != nil {
		t.Fatalf("DeletePlan: %v", err)
	}
	if err := stub.DeletePlan(ctx, "ms-plan-1-a"); !types.IsNotFound(err) {
		t.Errorf("second delete err = %v, want not found", err)
	}
	if _, err := stub.CreateCheckoutSession(ctx, types.CheckoutSessionRequest{PlanID: "ms-plan-1-a", RelationshipID: 1}); !types.IsNotFound(err) {
		t.Errorf("session for missing plan err = %v, want not found", err)
	}
}

func TestStubGateway_CustomersAndSubscriptions(t *testing.T) {
	ctx := context.Background()
	stub := NewStubGateway(nil)

	a, err := stub.FindOrCreateCustomer(ctx, "a@example.com", "")
	if err != nil {
		t.Fatalf("FindOrCreateCustomer: %v", err)
	}
	b, _ := stub.FindOrCreateCustomer(ctx, "A@example.com", "")
	if a.ID != b.ID {
		t.Errorf("email lookup should be case-insensitive: %s vs %s", a.ID, b.ID)
	}

	stub.PutSubscription(Subscription{ID: "sub_1", Metadata: map[string]string{types.CorrelationMetadataKey: "9"}})
	sub, err := stub.RetrieveSubscription(ctx, "sub_1")
	if err != nil {
		t.Fatalf("RetrieveSubscription: %v", err)
	}
	if id, ok := sub.RelationshipID(); !ok || id != 9 {
		t.Errorf("RelationshipID = %d,%v want 9,true", id, ok)
	}
}

func TestStubGateway_VerifyWebhookParsesEnvelope(t *testing.T) {
	stub := NewStubGateway(nil)
	payload, _ := json.Marshal(map[string]any{
		"id": "evt_1", "type": types.EventCustomerCreated, "created": 1,
		"data": map[string]any{"object": map[string]any{"id": "cus_1", "email": "a@example.com"}},
	})

	ev, err := stub.VerifyWebhook(payload, "")
	if err != nil {
		t.Fatalf("VerifyWebhook: %v", err)
	}
	c, err := DecodeCustomer(ev)
	if err != nil {
		t.Fatalf("DecodeCustomer: %v", err)
	}
	if c.Email != "a@example.com" {
		t.Errorf("email = %q", c.Email)
	}

	if _, err := stub.VerifyWebhook([]byte("not json"), ""); err == nil {
		t.Error("expected error for malformed payload")
	}
}
