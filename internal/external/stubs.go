package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"memberpay/internal/types"
)

// StubGateway implements Gateway in memory. It logs every call and keeps
// the plans, coupons, customers and subscriptions it has been given, so the
// service boots and behaves consistently without Stripe credentials. Used
// when config.IsTestMode is true or APP_ENV=local.
type StubGateway struct {
	logger *slog.Logger

	mu            sync.Mutex
	seq           int
	plans         map[string]types.PlanIntent
	coupons       map[string]types.CouponIntent
	customers     map[string]*Customer
	subscriptions map[string]*Subscription
	sessions      []types.CheckoutSessionRequest
}

// NewStubGateway creates an empty StubGateway.
func NewStubGateway(logger *slog.Logger) *StubGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubGateway{
		logger:        logger,
		plans:         make(map[string]types.PlanIntent),
		coupons:       make(map[string]types.CouponIntent),
		customers:     make(map[string]*Customer),
		subscriptions: make(map[string]*Subscription),
	}
}

func (s *StubGateway) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s_stub_%d", prefix, s.seq)
}

func notFound(kind, id string) error {
	return types.NewAppError(types.ErrCodeNotFoundRemoteObject, fmt.Sprintf("stub: no such %s: %s", kind, id), nil)
}

func (s *StubGateway) CreateCheckoutSession(ctx context.Context, req types.CheckoutSessionRequest) (*CheckoutSession, error) {
	s.logger.InfoContext(ctx, "stub: CreateCheckoutSession called",
		"plan_id", req.PlanID,
		"relationship_id", req.RelationshipID,
	)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[req.PlanID]; !ok {
		return nil, notFound("plan", req.PlanID)
	}
	s.sessions = append(s.sessions, req)
	id := s.nextID("cs")
	return &CheckoutSession{ID: id, URL: "https://checkout.stub.local/" + id}, nil
}

func (s *StubGateway) RetrieveCustomer(ctx context.Context, customerID string) (*Customer, error) {
	s.logger.InfoContext(ctx, "stub: RetrieveCustomer called", "customer_id", customerID)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[customerID]
	if !ok {
		return nil, notFound("customer", customerID)
	}
	out := *c
	return &out, nil
}

func (s *StubGateway) FindOrCreateCustomer(ctx context.Context, email, sourceToken string) (*Customer, error) {
	s.logger.InfoContext(ctx, "stub: FindOrCreateCustomer called", "has_source", sourceToken != "")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.customers {
		if !c.Deleted && strings.EqualFold(c.Email, email) {
			out := *c
			return &out, nil
		}
	}
	c := &Customer{ID: s.nextID("cus"), Email: email}
	s.customers[c.ID] = c
	out := *c
	return &out, nil
}

func (s *StubGateway) CreateOrUpdatePlan(ctx context.Context, intent types.PlanIntent) error {
	s.logger.InfoContext(ctx, "stub: CreateOrUpdatePlan called", "plan_id", intent.ExternalID)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.plans, intent.ExternalID)
	if !intent.IsDeletion() {
		s.plans[intent.ExternalID] = intent
	}
	return nil
}

func (s *StubGateway) PlanExists(ctx context.Context, planID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.plans[planID]
	return ok, nil
}

func (s *StubGateway) DeletePlan(ctx context.Context, planID string) error {
	s.logger.InfoContext(ctx, "stub: DeletePlan called", "plan_id", planID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[planID]; !ok {
		return notFound("plan", planID)
	}
	delete(s.plans, planID)
	return nil
}

func (s *StubGateway) CreateOrUpdateCoupon(ctx context.Context, intent types.CouponIntent) error {
	s.logger.InfoContext(ctx, "stub: CreateOrUpdateCoupon called", "coupon_id", intent.ExternalID)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.coupons, intent.ExternalID)
	if !intent.IsDeletion() {
		s.coupons[intent.ExternalID] = intent
	}
	return nil
}

func (s *StubGateway) DeleteCoupon(ctx context.Context, couponID string) error {
	s.logger.InfoContext(ctx, "stub: DeleteCoupon called", "coupon_id", couponID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.coupons[couponID]; !ok {
		return notFound("coupon", couponID)
	}
	delete(s.coupons, couponID)
	return nil
}

func (s *StubGateway) RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return nil, notFound("subscription", subscriptionID)
	}
	out := *sub
	return &out, nil
}

// VerifyWebhook parses the event envelope without checking a signature.
func (s *StubGateway) VerifyWebhook(payload []byte, signatureHeader string) (*Event, error) {
	var env struct {
		ID       string `json:"id"`
		Type     string `json:"type"`
		Created  int64  `json:"created"`
		LiveMode bool   `json:"livemode"`
		Data     struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, types.NewAppError(types.ErrCodeAuthSignatureInvalid, "stub: unparseable webhook payload", err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, types.NewAppError(types.ErrCodeValidationWebhookPayload, "stub: event envelope missing id or type", nil)
	}
	return &Event{
		ID:       env.ID,
		Type:     env.Type,
		Created:  time.Unix(env.Created, 0).UTC(),
		LiveMode: env.LiveMode,
		Object:   env.Data.Object,
	}, nil
}

// PutSubscription seeds a subscription, as the hosted checkout would after
// payment.
func (s *StubGateway) PutSubscription(sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.ID] = &sub
}

// PutCustomer seeds or replaces a customer.
func (s *StubGateway) PutCustomer(c Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = &c
}

// Plan returns a stored plan intent.
func (s *StubGateway) Plan(id string) (types.PlanIntent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	return p, ok
}

// Coupon returns a stored coupon intent.
func (s *StubGateway) Coupon(id string) (types.CouponIntent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[id]
	return c, ok
}

// Sessions returns the checkout session requests received so far.
func (s *StubGateway) Sessions() []types.CheckoutSessionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.CheckoutSessionRequest(nil), s.sessions...)
}
