package metrics

import (
	"context"
	"sync"
)

// MockRecorder records domain metric calls for assertions in tests.
type MockRecorder struct {
	mu       sync.Mutex
	Webhooks []string
	Syncs    []string
	Checkout []string
	Renewals int
}

var _ Recorder = (*MockRecorder)(nil)

// RecordWebhook stores "eventType:outcome".
func (m *MockRecorder) RecordWebhook(_ context.Context, eventType, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Webhooks = append(m.Webhooks, eventType+":"+outcome)
}

// RecordSync stores "itemType:outcome".
func (m *MockRecorder) RecordSync(_ context.Context, itemType, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Syncs = append(m.Syncs, itemType+":"+outcome)
}

// RecordCheckout stores the outcome.
func (m *MockRecorder) RecordCheckout(_ context.Context, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Checkout = append(m.Checkout, outcome)
}

// RecordRenewal increments Renewals.
func (m *MockRecorder) RecordRenewal(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Renewals++
}

// WebhookCalls returns a copy of the recorded webhook observations.
func (m *MockRecorder) WebhookCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Webhooks...)
}

// SyncCalls returns a copy of the recorded sync observations.
func (m *MockRecorder) SyncCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Syncs...)
}
