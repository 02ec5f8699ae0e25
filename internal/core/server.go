// Package core provides the HTTP chassis for memberpay. It builds a chi
// router, enforces the cross-cutting concerns (panic recovery, request ids,
// structured logging, metrics, admin authentication) and hands requests to
// the domain handlers registered by the application entry point.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"memberpay/internal/config"
)

// MetricsCollector receives one observation per served request.
type MetricsCollector interface {
	// RecordRequest records one completed request. route is the chi route
	// pattern, not the raw path, so ids do not explode metric cardinality.
	RecordRequest(method, route, status string, duration time.Duration)
}

// RouteRegistrar mounts routes on a sub-router.
type RouteRegistrar func(r chi.Router)

// Server holds what the API process needs to answer requests. Tests build
// one directly and swap in fakes.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector

	// Authenticator resolves admin bearer tokens.
	Authenticator Authenticator

	// HealthProbes are run by GET /health.
	HealthProbes []HealthProbe

	// V1RouteRegistrars mount the admin API under /v1, behind admin auth.
	V1RouteRegistrars []RouteRegistrar

	// WebhookRouteRegistrars mount inbound provider callbacks under
	// /webhooks. These routes are never authenticated by the API key; each
	// handler verifies its own signature.
	WebhookRouteRegistrars []RouteRegistrar

	// Closers run on Shutdown in registration order.
	Closers []func(ctx context.Context) error

	router *chi.Mux
}

// NewServer returns a Server with an empty router. Register handlers, then
// call MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("core: nil config")
	}
	if logger == nil {
		return nil, errors.New("core: nil logger")
	}

	return &Server{
		Config:        cfg,
		Logger:        logger,
		Validator:     NewValidator(logger),
		Authenticator: NewAPIKeyAuthenticator(cfg.Security.AdminAPIKey),
		router:        chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown runs every registered closer, even after a failure, and reports
// the joined errors.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("releasing server resources", "closers", len(s.Closers))

	var errs []error
	for i, closeFn := range s.Closers {
		if err := closeFn(ctx); err != nil {
			s.Logger.Error("closer failed", "index", i, "error", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
