package types

// Webhook event types the gateway understands.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventCustomerCreated          = "customer.created"
	EventInvoiceCreated           = "invoice.created"
	EventInvoicePaymentSucceeded  = "invoice.payment_succeeded"
	EventInvoicePaymentFailed     = "invoice.payment_failed"
	EventSubscriptionDeleted      = "customer.subscription.deleted"
)

// WebhookWhitelist is the full set of event types that are dispatched.
// Anything else is acknowledged and dropped.
var WebhookWhitelist = []string{
	EventCheckoutSessionCompleted,
	EventCustomerCreated,
	EventInvoiceCreated,
	EventInvoicePaymentSucceeded,
	EventInvoicePaymentFailed,
	EventSubscriptionDeleted,
}

// IsWhitelistedEvent reports whether eventType is in WebhookWhitelist.
func IsWhitelistedEvent(eventType string) bool {
	for _, e := range WebhookWhitelist {
		if e == eventType {
			return true
		}
	}
	return false
}
