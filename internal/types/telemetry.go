package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricWebhookReceived = "WebhookReceived"
	MetricSyncOutcome     = "SyncOutcome"
	MetricCheckoutSession = "CheckoutSession"
	MetricRenewalEmitted  = "RenewalNotificationEmitted"
	MetricAPIRequestCount = "APIRequestCount"
	MetricAPILatency      = "APILatency"

	// Dimension Keys
	DimEventType = "EventType"
	DimOutcome   = "Outcome"
	DimItemType  = "ItemType"
	DimMode      = "Mode"
	DimRoute     = "Route"
	DimMethod    = "Method"
	DimStatus    = "StatusCode"

	// Metric Namespace
	MetricNamespace = "MemberPay"
)
