package core

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"memberpay/internal/config"
)

func TestNewServer_Success(t *testing.T) {
	cfg := &config.Config{Environment: "local"}
	logger := slog.Default()

	srv, err := NewServer(cfg, logger)
	if err != nil {
		t.Fatalf("NewServer returned unexpected error: %v", err)
	}
	if srv.Config != cfg {
		t.Error("Config field not set correctly")
	}
	if srv.Logger != logger {
		t.Error("Logger field not set correctly")
	}
	if srv.Validator == nil {
		t.Error("Validator should be initialized by constructor")
	}
	if _, ok := srv.Authenticator.(*APIKeyAuthenticator); !ok {
		t.Errorf("Authenticator = %T, want *APIKeyAuthenticator", srv.Authenticator)
	}
	if srv.Router() == nil || srv.Handler() == nil {
		t.Error("router should be initialized by constructor")
	}
}

func TestNewServer_NilDependencies(t *testing.T) {
	if _, err := NewServer(nil, slog.Default()); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewServer(&config.Config{}, nil); err == nil {
		t.Error("expected error for nil logger")
	}
}

func TestServer_Shutdown_RunsClosers(t *testing.T) {
	srv, _ := NewServer(&config.Config{}, slog.Default())

	var order []string
	srv.Closers = []func(context.Context) error{
		func(context.Context) error { order = append(order, "db"); return nil },
		func(context.Context) error { order = append(order, "redis"); return errors.New("already closed") },
		func(context.Context) error { order = append(order, "queue"); return nil },
	}

	err := srv.Shutdown(context.Background())
	if err == nil {
		t.Fatal("expected joined closer error")
	}
	if len(order) != 3 || order[0] != "db" || order[2] != "queue" {
		t.Errorf("every closer must run in order, got %v", order)
	}
}

func TestServer_Shutdown_NoClosers(t *testing.T) {
	srv, _ := NewServer(&config.Config{}, slog.Default())
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
