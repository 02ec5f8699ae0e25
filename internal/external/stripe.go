package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"memberpay/internal/cache"
	"memberpay/internal/config"
	"memberpay/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
const stripeAPIBase = "https://api.stripe.com"

// DefaultSubscriptionCacheTTL bounds how long a retrieved subscription is
// reused. Webhook bursts for one checkout arrive within seconds.
const DefaultSubscriptionCacheTTL = 30 * time.Second

// StripeGatewayConfig holds the configuration for creating a StripeGateway.
type StripeGatewayConfig struct {
	BaseURL              string // Override for testing; defaults to stripeAPIBase
	SubscriptionCacheTTL time.Duration
	Logger               *slog.Logger
}

// StripeGateway implements Gateway with direct calls to the Stripe REST API
// through BaseClient. Credentials are read from the shared GatewayConfig on
// every call, so a mode switch takes effect immediately.
type StripeGateway struct {
	base     *BaseClient
	keys     *config.GatewayConfig
	baseURL  string
	verifier WebhookVerifier
	subs     *cache.TTLMap[*Subscription]
	subTTL   time.Duration
	logger   *slog.Logger
}

// NewStripeGateway creates a StripeGateway with the production resilience
// settings.
func NewStripeGateway(httpClient *http.Client, keys *config.GatewayConfig, retries int, cfg StripeGatewayConfig) *StripeGateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	policy := DefaultRetryPolicy()
	policy.MaxRetries = retries

	base := NewBaseClient(
		httpClient,
		"stripe",
		policy,
		"memberpay/1.0",
		WithLogger(logger),
	)
	return NewStripeGatewayWithBase(base, keys, cfg)
}

// NewStripeGatewayWithBase creates a StripeGateway with a pre-configured
// BaseClient.
func NewStripeGatewayWithBase(base *BaseClient, keys *config.GatewayConfig, cfg StripeGatewayConfig) *StripeGateway {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.SubscriptionCacheTTL
	if ttl == 0 {
		ttl = DefaultSubscriptionCacheTTL
	}

	return &StripeGateway{
		base:     base,
		keys:     keys,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		verifier: &StripeVerifier{},
		subs:     cache.NewTTLMap[*Subscription](),
		subTTL:   ttl,
		logger:   logger,
	}
}

// CreateCheckoutSession creates a subscription-mode hosted checkout session.
// The relationship id is written to the subscription metadata so every
// later webhook can be correlated.
func (s *StripeGateway) CreateCheckoutSession(ctx context.Context, req types.CheckoutSessionRequest) (*CheckoutSession, error) {
	if req.PlanID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "plan id is required", nil)
	}
	if req.RelationshipID <= 0 {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidID, "relationship id is required", nil)
	}

	relID := strconv.FormatInt(req.RelationshipID, 10)

	params := url.Values{}
	params.Set("mode", "subscription")
	params.Set("line_items[0][price]", req.PlanID)
	params.Set("line_items[0][quantity]", "1")
	params.Set("success_url", req.SuccessURL)
	params.Set("cancel_url", req.CancelURL)
	params.Set("metadata["+types.CorrelationMetadataKey+"]", relID)
	params.Set("subscription_data[metadata]["+types.CorrelationMetadataKey+"]", relID)

	methods := req.PaymentMethodTypes
	if len(methods) == 0 {
		methods = []string{"card"}
	}
	for i, m := range methods {
		params.Set(fmt.Sprintf("payment_method_types[%d]", i), m)
	}

	switch {
	case req.CustomerID != "":
		params.Set("customer", req.CustomerID)
	case req.CustomerEmail != "":
		params.Set("customer_email", req.CustomerEmail)
	}

	var session CheckoutSession
	if err := s.call(ctx, http.MethodPost, "/v1/checkout/sessions", params, "CreateCheckoutSession", &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// RetrieveCustomer fetches a customer by id.
func (s *StripeGateway) RetrieveCustomer(ctx context.Context, customerID string) (*Customer, error) {
	if customerID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "customer id is required", nil)
	}
	var c Customer
	if err := s.call(ctx, http.MethodGet, "/v1/customers/"+url.PathEscape(customerID), nil, "RetrieveCustomer", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindOrCreateCustomer lists customers by exact email and creates one when
// none is found.
func (s *StripeGateway) FindOrCreateCustomer(ctx context.Context, email, sourceToken string) (*Customer, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "customer email is required", nil)
	}

	query := url.Values{}
	query.Set("email", email)
	query.Set("limit", "1")

	var list stripeCustomerList
	if err := s.call(ctx, http.MethodGet, "/v1/customers", query, "FindOrCreateCustomer.list", &list); err != nil {
		return nil, err
	}
	for _, c := range list.Data {
		if !c.Deleted {
			found := c
			return &found, nil
		}
	}

	params := url.Values{}
	params.Set("email", email)
	if sourceToken != "" {
		params.Set("source", sourceToken)
	}

	var created Customer
	if err := s.call(ctx, http.MethodPost, "/v1/customers", params, "FindOrCreateCustomer.create", &created); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "created stripe customer", "customer_id", created.ID)
	return &created, nil
}

// CreateOrUpdatePlan deletes any existing plan with the intent's id and,
// unless the intent is a deletion, creates it again.
func (s *StripeGateway) CreateOrUpdatePlan(ctx context.Context, intent types.PlanIntent) error {
	exists, err := s.PlanExists(ctx, intent.ExternalID)
	if err != nil {
		return err
	}
	if exists {
		if err := s.DeletePlan(ctx, intent.ExternalID); err != nil && !types.IsNotFound(err) {
			return err
		}
	}
	if intent.IsDeletion() {
		return nil
	}

	params := url.Values{}
	params.Set("id", intent.ExternalID)
	params.Set("amount", strconv.FormatInt(intent.AmountMinorUnits, 10))
	params.Set("currency", strings.ToLower(intent.Currency))
	params.Set("product[name]", intent.ProductName)
	params.Set("interval", string(intent.Interval))
	params.Set("interval_count", strconv.FormatInt(intent.IntervalCount, 10))
	if intent.TrialPeriodDays != nil {
		params.Set("trial_period_days", strconv.FormatInt(*intent.TrialPeriodDays, 10))
	}

	return s.call(ctx, http.MethodPost, "/v1/plans", params, "CreatePlan", nil)
}

// PlanExists reports whether a plan with the given id exists remotely.
func (s *StripeGateway) PlanExists(ctx context.Context, planID string) (bool, error) {
	err := s.call(ctx, http.MethodGet, "/v1/plans/"+url.PathEscape(planID), nil, "RetrievePlan", nil)
	switch {
	case err == nil:
		return true, nil
	case types.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// DeletePlan deletes a plan. A missing plan yields a not_found error.
func (s *StripeGateway) DeletePlan(ctx context.Context, planID string) error {
	return s.call(ctx, http.MethodDelete, "/v1/plans/"+url.PathEscape(planID), nil, "DeletePlan", nil)
}

// CreateOrUpdateCoupon deletes the coupon if present and, unless the intent
// is a deletion, creates it again.
func (s *StripeGateway) CreateOrUpdateCoupon(ctx context.Context, intent types.CouponIntent) error {
	if err := s.DeleteCoupon(ctx, intent.ExternalID); err != nil && !types.IsNotFound(err) {
		return err
	}
	if intent.IsDeletion() {
		return nil
	}

	params := url.Values{}
	params.Set("id", intent.ExternalID)
	params.Set("duration", string(intent.Duration))
	if intent.AmountOff != nil {
		params.Set("amount_off", strconv.FormatInt(*intent.AmountOff, 10))
		params.Set("currency", strings.ToLower(intent.Currency))
	}
	if intent.PercentOff != nil {
		params.Set("percent_off", strconv.FormatFloat(*intent.PercentOff, 'f', -1, 64))
	}

	return s.call(ctx, http.MethodPost, "/v1/coupons", params, "CreateCoupon", nil)
}

// DeleteCoupon deletes a coupon. A missing coupon yields a not_found error.
func (s *StripeGateway) DeleteCoupon(ctx context.Context, couponID string) error {
	return s.call(ctx, http.MethodDelete, "/v1/coupons/"+url.PathEscape(couponID), nil, "DeleteCoupon", nil)
}

// RetrieveSubscription fetches a subscription, serving repeated lookups for
// the same id from a short-lived in-process cache.
func (s *StripeGateway) RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	if subscriptionID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "subscription id is required", nil)
	}
	key := string(s.keys.Mode()) + ":" + subscriptionID
	if sub, ok := s.subs.Get(key); ok {
		return sub, nil
	}

	var sub Subscription
	if err := s.call(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil, "RetrieveSubscription", &sub); err != nil {
		return nil, err
	}
	s.subs.Set(key, &sub, s.subTTL)
	return &sub, nil
}

// VerifyWebhook verifies payload with the active mode's signing secret.
func (s *StripeGateway) VerifyWebhook(payload []byte, signatureHeader string) (*Event, error) {
	return s.verifier.Verify(payload, signatureHeader, s.keys.SigningSecret().Unmask())
}

// call performs an authenticated request and decodes a 200 response into
// out (when non-nil). Non-200 responses are mapped to AppErrors.
func (s *StripeGateway) call(ctx context.Context, method, path string, params url.Values, operation string, out any) error {
	secret := s.keys.SecretKey().Unmask()
	if secret == "" {
		return types.NewAppError(types.ErrCodeGatewayInactive,
			fmt.Sprintf("%s: no Stripe secret key configured for %s mode", operation, s.keys.Mode()), nil)
	}

	reqURL := s.baseURL + path
	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader(params.Encode())
	} else if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, operation+": failed to build request", err)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	resp, err := s.base.Do(req)
	if err != nil {
		return s.wrapStripeError(operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp, operation)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: failed to decode Stripe response", operation),
			err,
		)
	}
	return nil
}

// handleErrorResponse decodes Stripe's {"error": {...}} body into an
// AppError. Unparseable bodies fall back to the HTTP status text.
func (s *StripeGateway) handleErrorResponse(resp *http.Response, operation string) error {
	apiErr := &stripe.Error{HTTPStatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: unreadable Stripe error body (status %d)", operation, resp.StatusCode), err)
	}

	envelope := struct {
		Error *stripe.Error `json:"error"`
	}{Error: apiErr}
	if json.Unmarshal(body, &envelope) != nil || apiErr.Msg == "" {
		apiErr.Msg = http.StatusText(resp.StatusCode)
	}
	apiErr.HTTPStatusCode = resp.StatusCode
	apiErr.RequestID = resp.Header.Get("Request-Id")

	return mapStripeError(operation, apiErr)
}

// mapStripeError picks the AppError code for a Stripe API error and keeps
// Stripe's own identifiers in Details for operators.
func mapStripeError(operation string, apiErr *stripe.Error) error {
	details := map[string]any{"stripe_status": apiErr.HTTPStatusCode}
	for k, v := range map[string]string{
		"stripe_code":       string(apiErr.Code),
		"decline_code":      string(apiErr.DeclineCode),
		"param":             apiErr.Param,
		"stripe_request_id": apiErr.RequestID,
	} {
		if v != "" {
			details[k] = v
		}
	}

	code := types.ErrCodeUpstreamStripe
	switch status := apiErr.HTTPStatusCode; {
	case status == http.StatusNotFound, apiErr.Code == stripe.ErrorCodeResourceMissing:
		code = types.ErrCodeNotFoundRemoteObject
	case status == http.StatusTooManyRequests:
		code = types.ErrCodeUpstreamRateLimited
	case status >= 500:
		code = types.ErrCodeUpstreamUnavailable
	}

	return types.NewAppErrorWithDetails(code,
		fmt.Sprintf("%s: Stripe error (%d): %s", operation, apiErr.HTTPStatusCode, apiErr.Msg), apiErr, details)
}

// wrapStripeError keeps AppErrors from BaseClient and wraps anything else.
func (s *StripeGateway) wrapStripeError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return types.NewAppError(types.ErrCodeUpstreamStripe, operation+": Stripe request failed", err)
}

type stripeCustomerList struct {
	Data    []Customer `json:"data"`
	HasMore bool       `json:"has_more"`
}
