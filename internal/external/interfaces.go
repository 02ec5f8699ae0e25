package external

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"memberpay/internal/types"
)

// Gateway abstracts the hosted-checkout payment provider. Implementations
// translate between memberpay types and the vendor API and return
// *types.AppError on failure. A remote object that does not exist is
// reported with a not_found_* code (see types.IsNotFound).
type Gateway interface {
	// CreateCheckoutSession creates a hosted checkout session for one
	// subscription line item.
	CreateCheckoutSession(ctx context.Context, req types.CheckoutSessionRequest) (*CheckoutSession, error)

	// RetrieveCustomer fetches a customer. A customer deleted remotely is
	// returned with Deleted set rather than as an error.
	RetrieveCustomer(ctx context.Context, customerID string) (*Customer, error)

	// FindOrCreateCustomer returns the customer with the given email, creating
	// one (with the optional payment source token) when none exists.
	FindOrCreateCustomer(ctx context.Context, email, sourceToken string) (*Customer, error)

	// CreateOrUpdatePlan replaces the remote plan with the intent. Remote
	// plans are immutable, so an existing plan is deleted first.
	CreateOrUpdatePlan(ctx context.Context, intent types.PlanIntent) error
	PlanExists(ctx context.Context, planID string) (bool, error)
	DeletePlan(ctx context.Context, planID string) error

	// CreateOrUpdateCoupon replaces the remote coupon with the intent.
	CreateOrUpdateCoupon(ctx context.Context, intent types.CouponIntent) error
	DeleteCoupon(ctx context.Context, couponID string) error

	// RetrieveSubscription fetches a subscription. Results are cached per id
	// for a short time.
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// VerifyWebhook checks the signature header against the active signing
	// secret and parses the event envelope.
	VerifyWebhook(payload []byte, signatureHeader string) (*Event, error)
}

// WebhookVerifier abstracts webhook signature checking.
type WebhookVerifier interface {
	// Verify validates payload against the signature header and signing
	// secret and returns the parsed event.
	Verify(payload []byte, header string, secret string) (*Event, error)
}

// CheckoutSession is a created hosted checkout session.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Customer is a remote customer record.
type Customer struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Deleted bool   `json:"deleted"`
}

// Subscription is the subset of a remote subscription the reconciler reads.
type Subscription struct {
	ID         string            `json:"id"`
	Status     string            `json:"status"`
	CustomerID string            `json:"customer"`
	Metadata   map[string]string `json:"metadata"`
}

// RelationshipID returns the local relationship id carried in the
// subscription metadata.
func (s *Subscription) RelationshipID() (int64, bool) {
	if s == nil {
		return 0, false
	}
	raw := strings.TrimSpace(s.Metadata[types.CorrelationMetadataKey])
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Event is a verified webhook event envelope. Object holds the raw
// data.object payload, decoded per event type by the Decode helpers.
type Event struct {
	ID       string
	Type     string
	Created  time.Time
	LiveMode bool
	Object   json.RawMessage
}

// InvoiceObject is the data.object of invoice.* events.
type InvoiceObject struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	CustomerEmail string `json:"customer_email"`
	Subscription  string `json:"subscription"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Total      int64  `json:"total"`
	AmountPaid int64  `json:"amount_paid"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
}

// SubscriptionID returns the invoice's subscription, reading the newer
// parent.subscription_details location when the top-level field is absent.
func (i *InvoiceObject) SubscriptionID() string {
	if s := strings.TrimSpace(i.Subscription); s != "" {
		return s
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return strings.TrimSpace(i.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

// CustomerObject is the data.object of customer.* events.
type CustomerObject struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// CheckoutSessionObject is the data.object of checkout.session.* events.
type CheckoutSessionObject struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Mode         string `json:"mode"`
}

// DecodeInvoice decodes an invoice event object.
func DecodeInvoice(ev *Event) (*InvoiceObject, error) {
	var out InvoiceObject
	return &out, decodeObject(ev, "invoice", &out)
}

// DecodeCustomer decodes a customer event object.
func DecodeCustomer(ev *Event) (*CustomerObject, error) {
	var out CustomerObject
	return &out, decodeObject(ev, "customer", &out)
}

// DecodeSubscription decodes a customer.subscription event object.
func DecodeSubscription(ev *Event) (*Subscription, error) {
	var out Subscription
	return &out, decodeObject(ev, "subscription", &out)
}

// DecodeCheckoutSession decodes a checkout.session event object.
func DecodeCheckoutSession(ev *Event) (*CheckoutSessionObject, error) {
	var out CheckoutSessionObject
	return &out, decodeObject(ev, "checkout session", &out)
}

func decodeObject(ev *Event, kind string, out any) error {
	if ev == nil || len(ev.Object) == 0 {
		return types.NewAppError(types.ErrCodeValidationWebhookPayload, "event has no "+kind+" object", nil)
	}
	if err := json.Unmarshal(ev.Object, out); err != nil {
		return types.NewAppError(types.ErrCodeValidationWebhookPayload, "failed to decode "+kind+" object", err)
	}
	return nil
}
