package core

import (
	"context"
	"sync"
	"time"

	"memberpay/internal/types"
)

// MockAuthenticator implements Authenticator for testing. It returns Actor,
// or Err when set, and records every token it sees.
//
//	mock := &MockAuthenticator{
//	    Actor: &types.Actor{ID: "admin", Type: types.ActorTypeAdmin},
//	}
type MockAuthenticator struct {
	Actor *types.Actor
	Err   error

	// ResolveTokenFunc takes precedence over Actor and Err when set.
	ResolveTokenFunc func(ctx context.Context, token string) (*types.Actor, error)

	mu    sync.Mutex
	Calls []string
}

// ResolveToken implements Authenticator.
func (m *MockAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if m.ResolveTokenFunc != nil {
		return m.ResolveTokenFunc(ctx, token)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Actor, nil
}

// MockMetricsCollector implements MetricsCollector for testing.
type MockMetricsCollector struct {
	mu    sync.Mutex
	Calls []MetricsCall
}

// MetricsCall is one recorded RecordRequest invocation.
type MetricsCall struct {
	Method, Route, Status string
	Duration              time.Duration
}

// RecordRequest implements MetricsCollector.
func (m *MockMetricsCollector) RecordRequest(method, route, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MetricsCall{method, route, status, duration})
}

// Recorded returns a copy of the recorded calls.
func (m *MockMetricsCollector) Recorded() []MetricsCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MetricsCall(nil), m.Calls...)
}
