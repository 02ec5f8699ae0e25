// Package metrics publishes memberpay telemetry to CloudWatch.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"memberpay/internal/types"
)

// requestMetricTimeout bounds the PutMetricData call made for each API
// request, which has no caller context.
const requestMetricTimeout = 2 * time.Second

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Recorder is the domain telemetry surface used by the synchronizer, the
// checkout initiator and the webhook reconciler.
type Recorder interface {
	// RecordWebhook counts one inbound delivery. outcome is one of
	// "rejected", "ignored", "dispatched" or "failed".
	RecordWebhook(ctx context.Context, eventType, outcome string)
	// RecordSync counts one plan or coupon sync result.
	RecordSync(ctx context.Context, itemType, outcome string)
	// RecordCheckout counts one session attempt, "created" or "unavailable".
	RecordCheckout(ctx context.Context, outcome string)
	// RecordRenewal counts one emitted renewal notification.
	RecordRenewal(ctx context.Context)
}

// CloudWatchRecorder implements Recorder and the API MetricsCollector by
// emitting one PutMetricData call per observation. Publishing errors are
// logged and never returned.
//
// Metrics emitted:
//   - WebhookReceived: Dims {EventType, Outcome, Mode}
//   - SyncOutcome: Dims {ItemType, Outcome, Mode}
//   - CheckoutSession: Dims {Outcome, Mode}
//   - RenewalNotificationEmitted: Dims {Mode}
//   - APIRequestCount, APILatency: Dims {Method, Route, StatusCode}
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	mode      func() string
	logger    *slog.Logger
}

// NewCloudWatchRecorder creates a recorder publishing to namespace. An empty
// namespace uses types.MetricNamespace. mode, when non-nil, supplies the
// gateway mode dimension at emit time so a live/sandbox switch is reflected
// immediately.
func NewCloudWatchRecorder(client CloudWatchClient, namespace string, mode func() string, logger *slog.Logger) *CloudWatchRecorder {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRecorder{
		client:    client,
		namespace: namespace,
		mode:      mode,
		logger:    logger,
	}
}

func (m *CloudWatchRecorder) RecordWebhook(ctx context.Context, eventType, outcome string) {
	m.count(ctx, types.MetricWebhookReceived,
		dim(types.DimEventType, eventType),
		dim(types.DimOutcome, outcome),
	)
}

func (m *CloudWatchRecorder) RecordSync(ctx context.Context, itemType, outcome string) {
	m.count(ctx, types.MetricSyncOutcome,
		dim(types.DimItemType, itemType),
		dim(types.DimOutcome, outcome),
	)
}

func (m *CloudWatchRecorder) RecordCheckout(ctx context.Context, outcome string) {
	m.count(ctx, types.MetricCheckoutSession, dim(types.DimOutcome, outcome))
}

func (m *CloudWatchRecorder) RecordRenewal(ctx context.Context) {
	m.count(ctx, types.MetricRenewalEmitted)
}

// RecordRequest implements core.MetricsCollector with a request count and
// a latency datum in milliseconds.
func (m *CloudWatchRecorder) RecordRequest(method, route, status string, duration time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), requestMetricTimeout)
	defer cancel()

	dims := []cwtypes.Dimension{
		dim(types.DimMethod, method),
		dim(types.DimRoute, route),
		dim(types.DimStatus, status),
	}
	m.put(ctx,
		datum(types.MetricAPIRequestCount, 1, cwtypes.StandardUnitCount, dims),
		datum(types.MetricAPILatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds, dims),
	)
}

func (m *CloudWatchRecorder) count(ctx context.Context, name string, dims ...cwtypes.Dimension) {
	if m.mode != nil {
		dims = append(dims, dim(types.DimMode, m.mode()))
	}
	m.put(ctx, datum(name, 1, cwtypes.StandardUnitCount, dims))
}

// put publishes data, logging and swallowing any failure.
func (m *CloudWatchRecorder) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "cloudwatch publish failed", "metric", aws.ToString(data[0].MetricName), "error", err)
	}
}

func datum(name string, value float64, unit cwtypes.StandardUnit, dims []cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Dimensions: dims,
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// NopRecorder discards every observation. Used when ENABLE_METRICS is off.
type NopRecorder struct{}

func (NopRecorder) RecordWebhook(context.Context, string, string)       {}
func (NopRecorder) RecordSync(context.Context, string, string)          {}
func (NopRecorder) RecordCheckout(context.Context, string)              {}
func (NopRecorder) RecordRenewal(context.Context)                       {}
func (NopRecorder) RecordRequest(string, string, string, time.Duration) {}

var (
	_ Recorder = (*CloudWatchRecorder)(nil)
	_ Recorder = NopRecorder{}
)
