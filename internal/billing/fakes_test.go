package billing

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"memberpay/internal/cache"
	"memberpay/internal/config"
	"memberpay/internal/core"
	"memberpay/internal/external"
	"memberpay/internal/types"
)

const testSite = "https://club.example.com"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readyKeys() *config.GatewayConfig {
	return config.NewGatewayConfig(config.StripeConfig{
		Mode:               "sandbox",
		TestPublishableKey: "pk_test_123",
		TestSecretKey:      config.SecretString("sk_test_123"),
		TestWebhookSecret:  config.SecretString("whsec_123"),
		Currency:           "USD",
		Active:             true,
	})
}

// countingGateway wraps the stub gateway, counting plan and coupon calls
// and failing calls for the external ids in failFor.
type countingGateway struct {
	*external.StubGateway

	mu            sync.Mutex
	upserts       int
	planChecks    int
	planDeletes   int
	couponUpserts int
	couponDeletes int
	failFor       map[string]error
}

func newCountingGateway() *countingGateway {
	return &countingGateway{StubGateway: external.NewStubGateway(testLogger()), failFor: map[string]error{}}
}

func (g *countingGateway) fail(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failFor[id]
}

func (g *countingGateway) CreateOrUpdatePlan(ctx context.Context, intent types.PlanIntent) error {
	g.mu.Lock()
	g.upserts++
	g.mu.Unlock()
	if err := g.fail(intent.ExternalID); err != nil {
		return err
	}
	return g.StubGateway.CreateOrUpdatePlan(ctx, intent)
}

func (g *countingGateway) PlanExists(ctx context.Context, planID string) (bool, error) {
	g.mu.Lock()
	g.planChecks++
	g.mu.Unlock()
	if err := g.fail(planID); err != nil {
		return false, err
	}
	return g.StubGateway.PlanExists(ctx, planID)
}

func (g *countingGateway) DeletePlan(ctx context.Context, planID string) error {
	g.mu.Lock()
	g.planDeletes++
	g.mu.Unlock()
	return g.StubGateway.DeletePlan(ctx, planID)
}

func (g *countingGateway) CreateOrUpdateCoupon(ctx context.Context, intent types.CouponIntent) error {
	g.mu.Lock()
	g.couponUpserts++
	g.mu.Unlock()
	if err := g.fail(intent.ExternalID); err != nil {
		return err
	}
	return g.StubGateway.CreateOrUpdateCoupon(ctx, intent)
}

func (g *countingGateway) DeleteCoupon(ctx context.Context, couponID string) error {
	g.mu.Lock()
	g.couponDeletes++
	g.mu.Unlock()
	return g.StubGateway.DeleteCoupon(ctx, couponID)
}

type fakeMembers struct {
	byID  map[int64]*types.Member
	saves int
}

func (f *fakeMembers) Get(_ context.Context, id int64) (*types.Member, error) {
	m, ok := f.byID[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundMember, "member not found", nil)
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMembers) FindByEmail(_ context.Context, email string) (*types.Member, error) {
	for _, m := range f.byID {
		if strings.EqualFold(m.Email, email) {
			cp := *m
			return &cp, nil
		}
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundMember, "member not found", nil)
}

func (f *fakeMembers) Save(_ context.Context, m *types.Member) error {
	f.saves++
	cp := *m
	f.byID[m.ID] = &cp
	return nil
}

type fakeMemberships struct {
	byID    map[int64]*types.Membership
	listErr error
}

func (f *fakeMemberships) Get(_ context.Context, id int64) (*types.Membership, error) {
	m, ok := f.byID[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundMembership, "membership not found", nil)
	}
	return m, nil
}

func (f *fakeMemberships) List(context.Context) ([]*types.Membership, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*types.Membership, 0, len(f.byID))
	for _, m := range f.byID {
		out = append(out, m)
	}
	return out, nil
}

type fakeCoupons struct {
	byID map[int64]*types.Coupon
}

func (f *fakeCoupons) Get(_ context.Context, id int64) (*types.Coupon, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundCoupon, "coupon not found", nil)
	}
	return c, nil
}

func (f *fakeCoupons) List(context.Context) ([]*types.Coupon, error) {
	out := make([]*types.Coupon, 0, len(f.byID))
	for _, c := range f.byID {
		out = append(out, c)
	}
	return out, nil
}

type fakeRelationships struct {
	byID  map[int64]*types.Relationship
	saves int
}

func (f *fakeRelationships) Get(_ context.Context, id int64) (*types.Relationship, error) {
	r, ok := f.byID[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundRelationship, "relationship not found", nil)
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRelationships) Save(_ context.Context, r *types.Relationship) error {
	f.saves++
	cp := *r
	f.byID[r.ID] = &cp
	return nil
}

// fakeInvoices keeps invoices per relationship and number. New invoices
// copy the template total.
type fakeInvoices struct {
	rels     *fakeRelationships
	byRel    map[int64]map[int64]*types.Invoice
	template types.Invoice
	nextID   int64
	saves    int
}

func newFakeInvoices(rels *fakeRelationships, total float64) *fakeInvoices {
	return &fakeInvoices{
		rels:     rels,
		byRel:    map[int64]map[int64]*types.Invoice{},
		template: types.Invoice{Status: types.InvoiceBilled, Total: total, Currency: "usd"},
	}
}

func (f *fakeInvoices) ensure(rel *types.Relationship, number int64) *types.Invoice {
	if f.byRel[rel.ID] == nil {
		f.byRel[rel.ID] = map[int64]*types.Invoice{}
	}
	inv, ok := f.byRel[rel.ID][number]
	if !ok {
		f.nextID++
		cp := f.template
		cp.ID = f.nextID
		cp.RelationshipID = rel.ID
		cp.MemberID = rel.MemberID
		cp.MembershipID = rel.MembershipID
		cp.Number = number
		inv = &cp
		f.byRel[rel.ID][number] = inv
	}
	out := *inv
	out.Notes = append([]string(nil), inv.Notes...)
	return &out
}

func (f *fakeInvoices) Current(_ context.Context, rel *types.Relationship) (*types.Invoice, error) {
	if rel.CurrentInvoiceNumber < 1 {
		rel.CurrentInvoiceNumber = 1
	}
	return f.ensure(rel, rel.CurrentInvoiceNumber), nil
}

func (f *fakeInvoices) Next(_ context.Context, rel *types.Relationship) (*types.Invoice, error) {
	rel.CurrentInvoiceNumber++
	f.rels.byID[rel.ID].CurrentInvoiceNumber = rel.CurrentInvoiceNumber
	return f.ensure(rel, rel.CurrentInvoiceNumber), nil
}

func (f *fakeInvoices) Save(_ context.Context, inv *types.Invoice) error {
	f.saves++
	cp := *inv
	f.byRel[inv.RelationshipID][inv.Number] = &cp
	return nil
}

func (f *fakeInvoices) get(relID, number int64) *types.Invoice {
	return f.byRel[relID][number]
}

type recordingNotifier struct {
	published []types.RenewalNotification
	err       error
}

func (n *recordingNotifier) Publish(_ context.Context, msg types.RenewalNotification) error {
	if n.err != nil {
		return n.err
	}
	n.published = append(n.published, msg)
	return nil
}

func newTestCache() *cache.FingerprintCache {
	return cache.NewFingerprintCache(cache.NewMemoryStore(), testLogger())
}

func newTestValidator() IntentValidator {
	return core.NewValidator(testLogger())
}

func makeEvent(t *testing.T, eventType string, object any) *external.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal event object: %v", err)
	}
	return &external.Event{
		ID:      "evt_" + strings.ReplaceAll(eventType, ".", "_"),
		Type:    eventType,
		Created: time.Unix(1700000000, 0).UTC(),
		Object:  raw,
	}
}
