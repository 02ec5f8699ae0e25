// Package checkout starts hosted checkout sessions for membership
// relationships and keeps the member's remote customer reference current.
package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"memberpay/internal/billing"
	"memberpay/internal/config"
	"memberpay/internal/external"
	"memberpay/internal/metrics"
	"memberpay/internal/types"
)

const (
	// customerProfileKey is the member gateway profile entry holding the
	// remote customer id.
	customerProfileKey = "customer_id"

	// SuccessParam is the return-URL flag set by the redirect. It is
	// informational: payment is only ever confirmed by webhook.
	SuccessParam = "stripe-checkout-success"
)

var paymentMethodTypes = []string{"card"}

// Config holds the Initiator's dependencies.
type Config struct {
	Gateway       external.Gateway
	IDs           *billing.IDDeriver
	Keys          *config.GatewayConfig
	Members       billing.MemberStore
	Memberships   billing.MembershipStore
	Relationships billing.RelationshipStore
	Nonce         *NonceSigner
	Metrics       metrics.Recorder
	Logger        *slog.Logger

	// ReturnURL is the page the member returns to from checkout.
	ReturnURL string
}

// Initiator creates checkout sessions.
type Initiator struct {
	gateway       external.Gateway
	ids           *billing.IDDeriver
	keys          *config.GatewayConfig
	members       billing.MemberStore
	memberships   billing.MembershipStore
	relationships billing.RelationshipStore
	nonce         *NonceSigner
	metrics       metrics.Recorder
	logger        *slog.Logger
	returnURL     string
}

// NewInitiator builds an Initiator.
func NewInitiator(cfg Config) *Initiator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NopRecorder{}
	}
	return &Initiator{
		gateway:       cfg.Gateway,
		ids:           cfg.IDs,
		keys:          cfg.Keys,
		members:       cfg.Members,
		memberships:   cfg.Memberships,
		relationships: cfg.Relationships,
		nonce:         cfg.Nonce,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger.With("component", "checkout"),
		returnURL:     cfg.ReturnURL,
	}
}

// CreateSession starts a subscription checkout for the relationship and
// returns the session id. Any failure is logged and yields "", meaning no
// checkout can be offered.
func (i *Initiator) CreateSession(ctx context.Context, membershipID, relationshipID int64, step string) string {
	logger := i.logger.With("membership_id", membershipID, "relationship_id", relationshipID)

	sessionID, err := i.createSession(ctx, membershipID, relationshipID, step)
	if err != nil {
		logger.WarnContext(ctx, "checkout session unavailable", "error", err)
		i.metrics.RecordCheckout(ctx, "unavailable")
		return ""
	}
	logger.InfoContext(ctx, "checkout session created", "session_id", sessionID)
	i.metrics.RecordCheckout(ctx, "created")
	return sessionID
}

func (i *Initiator) createSession(ctx context.Context, membershipID, relationshipID int64, step string) (string, error) {
	if !i.keys.Ready() {
		return "", types.NewAppError(types.ErrCodeGatewayInactive, "gateway inactive or not configured", nil)
	}

	rel, err := i.relationships.Get(ctx, relationshipID)
	if err != nil {
		return "", err
	}
	if rel.MembershipID != membershipID {
		return "", types.NewAppError(types.ErrCodeValidationInvalidID,
			fmt.Sprintf("relationship %d is not for membership %d", relationshipID, membershipID), nil)
	}

	membership, err := i.memberships.Get(ctx, membershipID)
	if err != nil {
		return "", err
	}
	if membership.IsFree || !membership.PaymentType.IsSupported() {
		return "", types.NewAppError(types.ErrCodeCheckoutUnavailable,
			fmt.Sprintf("payment type %q is not billed by this gateway", membership.PaymentType), nil)
	}

	member, err := i.members.Get(ctx, rel.MemberID)
	if err != nil {
		return "", err
	}

	req := types.CheckoutSessionRequest{
		PlanID:             i.ids.Derive(membershipID, billing.ItemPlan),
		RelationshipID:     relationshipID,
		SuccessURL:         i.returnURLFor(step, relationshipID, true),
		CancelURL:          i.returnURLFor(step, relationshipID, false),
		PaymentMethodTypes: paymentMethodTypes,
	}
	if customer := i.liveCustomer(ctx, member); customer != nil {
		req.CustomerID = customer.ID
	} else {
		req.CustomerEmail = member.Email
	}

	session, err := i.gateway.CreateCheckoutSession(ctx, req)
	if err != nil {
		return "", err
	}
	return session.ID, nil
}

// EnsureCustomer returns the member's remote customer, creating it with the
// member's email (and optional payment source token) when the stored
// reference is missing or stale. The reference is persisted on the member.
func (i *Initiator) EnsureCustomer(ctx context.Context, memberID int64, sourceToken string) (*external.Customer, error) {
	if !i.keys.Ready() {
		return nil, types.NewAppError(types.ErrCodeGatewayInactive, "gateway inactive or not configured", nil)
	}

	member, err := i.members.Get(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if customer := i.liveCustomer(ctx, member); customer != nil {
		return customer, nil
	}

	customer, err := i.gateway.FindOrCreateCustomer(ctx, member.Email, sourceToken)
	if err != nil {
		return nil, err
	}
	member.SetGatewayProfile(types.GatewayID, customerProfileKey, customer.ID)
	if err := i.members.Save(ctx, member); err != nil {
		return nil, err
	}
	i.logger.InfoContext(ctx, "customer linked to member",
		"member_id", member.ID,
		"customer_id", customer.ID,
	)
	return customer, nil
}

// liveCustomer resolves the stored customer reference. A customer deleted
// (or missing) remotely clears the stale reference; other lookup failures
// are treated as absent for this request only.
func (i *Initiator) liveCustomer(ctx context.Context, member *types.Member) *external.Customer {
	ref := member.GatewayProfile(types.GatewayID, customerProfileKey)
	if ref == "" {
		return nil
	}

	customer, err := i.gateway.RetrieveCustomer(ctx, ref)
	switch {
	case err == nil && !customer.Deleted:
		return customer
	case err != nil && !types.IsNotFound(err):
		i.logger.WarnContext(ctx, "customer lookup failed, using email",
			"member_id", member.ID,
			"customer_id", ref,
			"error", err,
		)
		return nil
	}

	member.SetGatewayProfile(types.GatewayID, customerProfileKey, "")
	if err := i.members.Save(ctx, member); err != nil {
		i.logger.WarnContext(ctx, "failed to clear stale customer reference",
			"member_id", member.ID,
			"error", err,
		)
	}
	i.logger.InfoContext(ctx, "stale customer reference cleared",
		"member_id", member.ID,
		"customer_id", ref,
	)
	return nil
}

// returnURLFor appends the checkout result parameters to the return URL,
// keeping any query it already carries.
func (i *Initiator) returnURLFor(step string, relationshipID int64, success bool) string {
	base, query, _ := strings.Cut(i.returnURL, "?")
	q, err := url.ParseQuery(query)
	if err != nil {
		q = url.Values{}
	}

	flag := "0"
	if success {
		flag = "1"
	}
	q.Set("step", step)
	q.Set("gateway", types.GatewayID)
	q.Set(types.CorrelationMetadataKey, strconv.FormatInt(relationshipID, 10))
	if i.nonce != nil {
		q.Set("nonce", i.nonce.Sign(relationshipID))
	}
	q.Set(SuccessParam, flag)
	return base + "?" + q.Encode()
}
