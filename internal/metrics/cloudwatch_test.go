package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"memberpay/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	mu        sync.Mutex
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func assertDimension(t *testing.T, dims []cwtypes.Dimension, name, value string) {
	t.Helper()
	for _, d := range dims {
		if *d.Name == name {
			if *d.Value != value {
				t.Errorf("dimension %s = %q, want %q", name, *d.Value, value)
			}
			return
		}
	}
	t.Errorf("dimension %s not found", name)
}

func TestCloudWatchRecorder_RecordWebhook(t *testing.T) {
	cw := &mockCloudWatchClient{}
	rec := NewCloudWatchRecorder(cw, "", func() string { return "sandbox" }, discardLogger())

	rec.RecordWebhook(context.Background(), types.EventInvoicePaymentSucceeded, "dispatched")

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(cw.calls))
	}
	input := cw.calls[0]
	if *input.Namespace != types.MetricNamespace {
		t.Errorf("expected namespace %q, got %q", types.MetricNamespace, *input.Namespace)
	}
	datum := input.MetricData[0]
	if *datum.MetricName != types.MetricWebhookReceived {
		t.Errorf("expected metric %q, got %q", types.MetricWebhookReceived, *datum.MetricName)
	}
	if *datum.Value != 1.0 || datum.Unit != cwtypes.StandardUnitCount {
		t.Errorf("expected a count of 1, got %v %s", *datum.Value, datum.Unit)
	}
	assertDimension(t, datum.Dimensions, types.DimEventType, types.EventInvoicePaymentSucceeded)
	assertDimension(t, datum.Dimensions, types.DimOutcome, "dispatched")
	assertDimension(t, datum.Dimensions, types.DimMode, "sandbox")
}

func TestCloudWatchRecorder_ModeIsReadAtEmitTime(t *testing.T) {
	cw := &mockCloudWatchClient{}
	mode := "sandbox"
	rec := NewCloudWatchRecorder(cw, "Custom", func() string { return mode }, discardLogger())

	rec.RecordSync(context.Background(), "plan", "upserted")
	mode = "live"
	rec.RecordSync(context.Background(), "coupon", "deleted")

	if *cw.calls[0].Namespace != "Custom" {
		t.Errorf("expected custom namespace, got %q", *cw.calls[0].Namespace)
	}
	assertDimension(t, cw.calls[0].MetricData[0].Dimensions, types.DimMode, "sandbox")
	assertDimension(t, cw.calls[1].MetricData[0].Dimensions, types.DimMode, "live")
	assertDimension(t, cw.calls[1].MetricData[0].Dimensions, types.DimItemType, "coupon")
}

func TestCloudWatchRecorder_NoModeDimensionWithoutSource(t *testing.T) {
	cw := &mockCloudWatchClient{}
	rec := NewCloudWatchRecorder(cw, "", nil, nil)

	rec.RecordRenewal(context.Background())
	rec.RecordCheckout(context.Background(), "created")

	if n := len(cw.calls[0].MetricData[0].Dimensions); n != 0 {
		t.Errorf("renewal metric should carry no dimensions, got %d", n)
	}
	if *cw.calls[0].MetricData[0].MetricName != types.MetricRenewalEmitted {
		t.Errorf("unexpected metric %q", *cw.calls[0].MetricData[0].MetricName)
	}
	assertDimension(t, cw.calls[1].MetricData[0].Dimensions, types.DimOutcome, "created")
}

func TestCloudWatchRecorder_RecordRequest(t *testing.T) {
	cw := &mockCloudWatchClient{}
	rec := NewCloudWatchRecorder(cw, "", nil, discardLogger())

	rec.RecordRequest("POST", "/webhooks/stripe", "200", 1500*time.Millisecond)

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(cw.calls))
	}
	data := cw.calls[0].MetricData
	if len(data) != 2 {
		t.Fatalf("expected count and latency datums, got %d", len(data))
	}
	if *data[1].MetricName != types.MetricAPILatency || *data[1].Value != 1500 || data[1].Unit != cwtypes.StandardUnitMilliseconds {
		t.Errorf("unexpected latency datum: %s %v %s", *data[1].MetricName, *data[1].Value, data[1].Unit)
	}
	assertDimension(t, data[0].Dimensions, types.DimRoute, "/webhooks/stripe")
	assertDimension(t, data[0].Dimensions, types.DimStatus, "200")
}

func TestCloudWatchRecorder_ErrorsAreSwallowed(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: errors.New("throttled")}
	rec := NewCloudWatchRecorder(cw, "", nil, discardLogger())

	rec.RecordWebhook(context.Background(), "customer.created", "dispatched")
	rec.RecordRequest("GET", "/health", "200", time.Millisecond)

	if len(cw.calls) != 2 {
		t.Errorf("expected both calls to be attempted, got %d", len(cw.calls))
	}
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	r.RecordWebhook(context.Background(), "x", "y")
	r.RecordSync(context.Background(), "plan", "failed")
	r.RecordCheckout(context.Background(), "created")
	r.RecordRenewal(context.Background())
}
