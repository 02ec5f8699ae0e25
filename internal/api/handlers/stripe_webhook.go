// Package handlers contains the HTTP handlers of the memberpay API: the
// public Stripe webhook endpoint and the admin endpoints under /v1.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"memberpay/internal/core"
	"memberpay/internal/external"
	"memberpay/internal/metrics"
	"memberpay/internal/types"
)

// maxWebhookBodySize caps the webhook payload (64 KB).
const maxWebhookBodySize = 64 * 1024

// Webhook outcomes reported to metrics.
const (
	webhookRejected   = "rejected"
	webhookIgnored    = "ignored"
	webhookDispatched = "dispatched"
	webhookFailed     = "failed"
)

// EventVerifier checks the signature of a raw webhook and parses it.
type EventVerifier interface {
	VerifyWebhook(payload []byte, signatureHeader string) (*external.Event, error)
}

// EventDispatcher applies a verified event to local state.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev *external.Event) error
}

// EventFilter reports whether an event type is enabled.
type EventFilter interface {
	AcceptsEvent(eventType string) bool
}

// StripeWebhookHandler receives Stripe events. It is not behind admin auth;
// the Stripe-Signature header authenticates each delivery.
type StripeWebhookHandler struct {
	verifier   EventVerifier
	dispatcher EventDispatcher
	filter     EventFilter
	metrics    metrics.Recorder
	logger     *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler.
func NewStripeWebhookHandler(
	verifier EventVerifier,
	dispatcher EventDispatcher,
	filter EventFilter,
	rec metrics.Recorder,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.NopRecorder{}
	}
	return &StripeWebhookHandler{
		verifier:   verifier,
		dispatcher: dispatcher,
		filter:     filter,
		metrics:    rec,
		logger:     logger,
	}
}

// RegisterRoutes mounts the endpoint on the /webhooks router.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/stripe", h.Handle)
}

// Handle runs one delivery through verification, filtering and dispatch.
//
//  1. Read the body, capped at maxWebhookBodySize.
//  2. Verify the signature with the active mode's signing secret. Failure
//     answers 400 and nothing is touched.
//  3. Drop event types outside the whitelist or the configured set.
//  4. Dispatch to exactly one reconciler handler.
//  5. Answer 200. Handler errors are logged, not returned, so Stripe does
//     not retry deliveries that can never succeed.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := types.LoggerFromContext(ctx, h.logger)

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		h.metrics.RecordWebhook(ctx, "unknown", webhookRejected)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationWebhookPayload,
			"failed to read request body",
			err,
		))
		return
	}

	ev, err := h.verifier.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		logger.WarnContext(ctx, "webhook verification failed", "error", err)
		h.metrics.RecordWebhook(ctx, "unknown", webhookRejected)
		core.Error(w, r, rejection(err))
		return
	}

	logger = logger.With("event_id", ev.ID, "event_type", ev.Type)

	if !types.IsWhitelistedEvent(ev.Type) || !h.filter.AcceptsEvent(ev.Type) {
		logger.DebugContext(ctx, "webhook event ignored")
		h.metrics.RecordWebhook(ctx, ev.Type, webhookIgnored)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.dispatcher.Dispatch(types.WithLogger(ctx, logger), ev); err != nil {
		logger.ErrorContext(ctx, "webhook event processing failed", "error", err)
		h.metrics.RecordWebhook(ctx, ev.Type, webhookFailed)
	} else {
		logger.InfoContext(ctx, "webhook event processed")
		h.metrics.RecordWebhook(ctx, ev.Type, webhookDispatched)
	}

	w.WriteHeader(http.StatusOK)
}

// rejection keeps 400-class verification errors and turns anything else
// into a signature failure, so every rejected delivery answers 400.
func rejection(err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.HTTPStatus() == http.StatusBadRequest {
		return appErr
	}
	return types.NewAppError(types.ErrCodeAuthSignatureInvalid, "webhook signature verification failed", err)
}
