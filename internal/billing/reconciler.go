package billing

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"memberpay/internal/external"
	"memberpay/internal/metrics"
	"memberpay/internal/types"
)

// ReconcilerConfig holds the Reconciler's dependencies.
type ReconcilerConfig struct {
	Gateway       external.Gateway
	Members       MemberStore
	Memberships   MembershipStore
	Relationships RelationshipStore
	Invoices      InvoiceStore
	Notifier      RenewalNotifier
	Clock         types.Clock
	Metrics       metrics.Recorder
	Logger        *slog.Logger

	// RenewalNotifications enables the notification after a paid renewal.
	RenewalNotifications bool
	// TrialAddon enables moving trial-expired relationships back to
	// pending when the next invoice is created.
	TrialAddon bool
}

// Reconciler applies verified webhook events to local state. Handlers
// return an error for logging only; the webhook is acknowledged either way.
type Reconciler struct {
	gateway       external.Gateway
	members       MemberStore
	memberships   MembershipStore
	relationships RelationshipStore
	invoices      InvoiceStore
	notifier      RenewalNotifier
	clock         types.Clock
	metrics       metrics.Recorder
	logger        *slog.Logger

	renewalNotifications bool
	trialAddon           bool
}

// NewReconciler builds a Reconciler. Clock defaults to the wall clock.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NopRecorder{}
	}
	return &Reconciler{
		gateway:              cfg.Gateway,
		members:              cfg.Members,
		memberships:          cfg.Memberships,
		relationships:        cfg.Relationships,
		invoices:             cfg.Invoices,
		notifier:             cfg.Notifier,
		clock:                cfg.Clock,
		metrics:              cfg.Metrics,
		logger:               cfg.Logger.With("component", "reconciler"),
		renewalNotifications: cfg.RenewalNotifications,
		trialAddon:           cfg.TrialAddon,
	}
}

// Dispatch routes one whitelisted event to its handler. Other event types
// return a reconcile_unsupported_event error without touching state.
func (r *Reconciler) Dispatch(ctx context.Context, ev *external.Event) error {
	switch ev.Type {
	case types.EventCustomerCreated:
		return r.CustomerCreated(ctx, ev)
	case types.EventInvoicePaymentSucceeded:
		return r.PaymentSucceeded(ctx, ev)
	case types.EventInvoiceCreated:
		return r.InvoiceCreated(ctx, ev)
	case types.EventInvoicePaymentFailed:
		return r.PaymentFailed(ctx, ev)
	case types.EventSubscriptionDeleted:
		return r.SubscriptionDeleted(ctx, ev)
	case types.EventCheckoutSessionCompleted:
		return r.CheckoutCompleted(ctx, ev)
	default:
		return types.NewAppError(types.ErrCodeReconcileUnsupportedEvent,
			fmt.Sprintf("event type %q is not handled", ev.Type), nil)
	}
}

// CustomerCreated links the remote customer to the local member with the
// same email. An unknown email is a no-op.
func (r *Reconciler) CustomerCreated(ctx context.Context, ev *external.Event) error {
	customer, err := external.DecodeCustomer(ev)
	if err != nil {
		return err
	}
	email := strings.TrimSpace(customer.Email)
	if email == "" {
		r.logger.InfoContext(ctx, "customer has no email, not linked", "customer_id", customer.ID)
		return nil
	}

	member, err := r.members.FindByEmail(ctx, email)
	if err != nil {
		if types.IsNotFound(err) {
			r.logger.InfoContext(ctx, "no member for customer email", "customer_id", customer.ID)
			return nil
		}
		return err
	}

	member.SetGatewayProfile(types.GatewayID, "customer_id", customer.ID)
	if err := r.members.Save(ctx, member); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "customer linked to member",
		"customer_id", customer.ID,
		"member_id", member.ID,
	)
	return nil
}

// PaymentSucceeded records a paid period on the relationship's invoice.
// When the current invoice is already paid the payment belongs to the next
// period. The delivery is a repeat and ignored when the paid current invoice
// was itself reached by an advance and settled by the same remote invoice,
// or when the next invoice is paid too.
func (r *Reconciler) PaymentSucceeded(ctx context.Context, ev *external.Event) error {
	remote, err := external.DecodeInvoice(ev)
	if err != nil {
		return err
	}
	rel, err := r.relationshipForSubscription(ctx, remote.SubscriptionID())
	if err != nil || rel == nil {
		return err
	}

	invoice, err := r.invoices.Current(ctx, rel)
	if err != nil {
		return err
	}
	if invoice.IsPaid() {
		if invoice.Number > 1 && settledBy(invoice, remote.ID) {
			r.logger.InfoContext(ctx, "invoice already settled by this payment, repeat delivery ignored",
				"relationship_id", rel.ID,
				"invoice_number", invoice.Number,
				"remote_invoice", remote.ID,
			)
			return nil
		}
		invoice, err = r.invoices.Next(ctx, rel)
		if err != nil {
			return err
		}
		if invoice.IsPaid() {
			r.logger.InfoContext(ctx, "invoice already paid, repeat delivery ignored",
				"relationship_id", rel.ID,
				"invoice_number", invoice.Number,
				"remote_invoice", remote.ID,
			)
			return nil
		}
	}

	now := r.clock.Now()
	free := invoice.Total == 0
	if free {
		invoice.MarkFreeProcessed(types.GatewayID, now)
		invoice.AddNote("Free invoice processed via Stripe (invoice %s)", remote.ID)
	} else {
		invoice.PayIt(types.GatewayID, remote.ID, now)
		invoice.AddNote("Payment successful via Stripe (invoice %s)", remote.ID)
	}
	if err := r.invoices.Save(ctx, invoice); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "invoice paid",
		"relationship_id", rel.ID,
		"invoice_id", invoice.ID,
		"invoice_number", invoice.Number,
		"remote_invoice", remote.ID,
		"free", free,
	)

	if free || !r.renewalNotifications || r.notifier == nil {
		return nil
	}
	return r.notifyRenewal(ctx, ev, rel, invoice)
}

// settledBy reports whether inv was paid by the remote invoice id. Free
// invoices keep no external id, only the note written when they settle.
func settledBy(inv *types.Invoice, remoteID string) bool {
	if remoteID == "" {
		return false
	}
	if inv.ExternalID == remoteID {
		return true
	}
	ref := "(invoice " + remoteID + ")"
	return slices.ContainsFunc(inv.Notes, func(note string) bool {
		return strings.HasSuffix(note, ref)
	})
}

func (r *Reconciler) notifyRenewal(ctx context.Context, ev *external.Event, rel *types.Relationship, invoice *types.Invoice) error {
	n := types.RenewalNotification{
		EventID:        ev.ID,
		GatewayID:      types.GatewayID,
		MemberID:       rel.MemberID,
		MembershipID:   rel.MembershipID,
		RelationshipID: rel.ID,
		InvoiceID:      invoice.ID,
		InvoiceNumber:  invoice.Number,
		ExternalRef:    invoice.ExternalID,
		Total:          invoice.Total,
		Currency:       invoice.Currency,
		TestMode:       !ev.LiveMode,
	}
	if invoice.PaidAt != nil {
		n.PaidAt = *invoice.PaidAt
	}
	if err := r.notifier.Publish(ctx, n); err != nil {
		return err
	}
	r.metrics.RecordRenewal(ctx)
	return nil
}

// InvoiceCreated reopens a relationship whose trial expired so the member
// can pay the first full period.
func (r *Reconciler) InvoiceCreated(ctx context.Context, ev *external.Event) error {
	if !r.trialAddon {
		return nil
	}
	remote, err := external.DecodeInvoice(ev)
	if err != nil {
		return err
	}
	rel, err := r.relationshipForSubscription(ctx, remote.SubscriptionID())
	if err != nil || rel == nil {
		return err
	}
	if rel.Status != types.StatusTrialExpired {
		return nil
	}

	membership, err := r.memberships.Get(ctx, rel.MembershipID)
	if err != nil {
		return err
	}
	if !membership.HasTrial() {
		return nil
	}

	rel.Status = types.StatusPending
	if err := r.relationships.Save(ctx, rel); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "trial expired relationship set to pending", "relationship_id", rel.ID)
	return nil
}

// PaymentFailed cancels the relationship of the failed invoice.
func (r *Reconciler) PaymentFailed(ctx context.Context, ev *external.Event) error {
	remote, err := external.DecodeInvoice(ev)
	if err != nil {
		return err
	}
	rel, err := r.relationshipForSubscription(ctx, remote.SubscriptionID())
	if err != nil || rel == nil {
		return err
	}
	return r.cancel(ctx, rel, ev.Type)
}

// SubscriptionDeleted cancels the relationship of a deleted subscription.
// Like the invoice events, the correlation id comes from the subscription
// as retrieved from the gateway, not from the delivered payload.
func (r *Reconciler) SubscriptionDeleted(ctx context.Context, ev *external.Event) error {
	sub, err := external.DecodeSubscription(ev)
	if err != nil {
		return err
	}
	rel, err := r.relationshipForSubscription(ctx, sub.ID)
	if err != nil || rel == nil {
		return err
	}
	return r.cancel(ctx, rel, ev.Type)
}

// CheckoutCompleted needs no local change; the subscription's invoice
// events carry the payment.
func (r *Reconciler) CheckoutCompleted(ctx context.Context, ev *external.Event) error {
	session, err := external.DecodeCheckoutSession(ev)
	if err != nil {
		return err
	}
	r.logger.DebugContext(ctx, "checkout session completed",
		"session_id", session.ID,
		"subscription_id", session.Subscription,
	)
	return nil
}

func (r *Reconciler) cancel(ctx context.Context, rel *types.Relationship, reason string) error {
	if !rel.Cancel(r.clock.Now()) {
		return nil
	}
	if err := r.relationships.Save(ctx, rel); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "relationship canceled",
		"relationship_id", rel.ID,
		"reason", reason,
	)
	return nil
}

// relationshipForSubscription fetches the remote subscription and resolves
// its local relationship.
func (r *Reconciler) relationshipForSubscription(ctx context.Context, subscriptionID string) (*types.Relationship, error) {
	if subscriptionID == "" {
		return nil, types.NewAppError(types.ErrCodeReconcileCorrelationMissing, "invoice has no subscription", nil)
	}
	sub, err := r.gateway.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	return r.relationshipFor(ctx, sub)
}

// relationshipFor resolves the subscription's correlation id. It returns
// (nil, nil) for system relationships, which payment events never touch.
func (r *Reconciler) relationshipFor(ctx context.Context, sub *external.Subscription) (*types.Relationship, error) {
	id, ok := sub.RelationshipID()
	if !ok {
		return nil, types.NewAppError(types.ErrCodeReconcileCorrelationMissing,
			fmt.Sprintf("subscription %s has no %s metadata", sub.ID, types.CorrelationMetadataKey), nil)
	}
	rel, err := r.relationships.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rel.IsSystem() {
		r.logger.InfoContext(ctx, "system relationship skipped", "relationship_id", rel.ID)
		return nil, nil
	}
	return rel, nil
}
