package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"memberpay/internal/config"
	"memberpay/internal/core"
	"memberpay/internal/external"
	"memberpay/internal/types"
)

// SessionCreator starts checkout sessions.
type SessionCreator interface {
	CreateSession(ctx context.Context, membershipID, relationshipID int64, step string) string
	EnsureCustomer(ctx context.Context, memberID int64, sourceToken string) (*external.Customer, error)
}

// CheckoutHandler lets the host render the hosted checkout button.
type CheckoutHandler struct {
	initiator SessionCreator
	keys      *config.GatewayConfig
	validator *core.Validator
	logger    *slog.Logger
}

// NewCheckoutHandler creates a CheckoutHandler.
func NewCheckoutHandler(initiator SessionCreator, keys *config.GatewayConfig, validator *core.Validator, logger *slog.Logger) *CheckoutHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutHandler{initiator: initiator, keys: keys, validator: validator, logger: logger}
}

// RegisterRoutes mounts the checkout endpoints on the /v1 router.
func (h *CheckoutHandler) RegisterRoutes(r chi.Router) {
	r.Post("/checkout/sessions", h.CreateSession)
	r.Post("/members/{id}/customer", h.EnsureCustomer)
}

// CreateSessionRequest asks for a checkout session for one relationship.
type CreateSessionRequest struct {
	MembershipID   int64  `json:"membership_id" validate:"required,gt=0"`
	RelationshipID int64  `json:"relationship_id" validate:"required,gt=0"`
	Step           string `json:"step" validate:"max=64"`
}

// CreateSessionResponse carries what the browser needs to redirect.
type CreateSessionResponse struct {
	SessionID      string `json:"session_id"`
	PublishableKey string `json:"publishable_key"`
}

// CreateSession handles POST /v1/checkout/sessions. No session means the
// host shows no payment button, answered as 422 checkout_unavailable.
func (h *CheckoutHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	sessionID := h.initiator.CreateSession(r.Context(), req.MembershipID, req.RelationshipID, strings.TrimSpace(req.Step))
	if sessionID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeCheckoutUnavailable,
			"checkout is not available for this membership",
			nil,
		))
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: CreateSessionResponse{
		SessionID:      sessionID,
		PublishableKey: h.keys.PublishableKey(),
	}})
}

// EnsureCustomerRequest optionally carries a payment source token.
type EnsureCustomerRequest struct {
	SourceToken string `json:"source_token" validate:"max=255"`
}

// EnsureCustomer handles POST /v1/members/{id}/customer.
func (h *CheckoutHandler) EnsureCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req EnsureCustomerRequest
	if r.ContentLength != 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
		if err := h.validator.ValidateStruct(req); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	customer, err := h.initiator.EnsureCustomer(r.Context(), id, req.SourceToken)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{"customer_id": customer.ID}})
}
