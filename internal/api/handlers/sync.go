package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"memberpay/internal/billing"
	"memberpay/internal/config"
	"memberpay/internal/core"
	"memberpay/internal/types"
)

// PlanSyncer pushes local plans and coupons to the gateway.
type PlanSyncer interface {
	SyncPlan(ctx context.Context, m *types.Membership) billing.SyncResult
	SyncCoupon(ctx context.Context, c *types.Coupon) billing.SyncResult
	DeleteCoupon(ctx context.Context, localID int64) billing.SyncResult
	SyncAll(ctx context.Context) billing.SyncReport
}

// SyncHandler exposes the synchronizer to the host platform, which calls
// it whenever a membership or coupon is saved or deleted.
type SyncHandler struct {
	syncer      PlanSyncer
	memberships billing.MembershipStore
	coupons     billing.CouponStore
	logger      *slog.Logger
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(syncer PlanSyncer, memberships billing.MembershipStore, coupons billing.CouponStore, logger *slog.Logger) *SyncHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncHandler{syncer: syncer, memberships: memberships, coupons: coupons, logger: logger}
}

// RegisterRoutes mounts the sync endpoints on the /v1 router.
func (h *SyncHandler) RegisterRoutes(r chi.Router) {
	r.Route("/sync", func(r chi.Router) {
		r.Post("/", h.SyncAll)
		r.Post("/memberships/{id}", h.SyncMembership)
		r.Post("/coupons/{id}", h.SyncCoupon)
		r.Delete("/coupons/{id}", h.DeleteCoupon)
	})
}

// SyncMembership handles POST /v1/sync/memberships/{id}.
func (h *SyncHandler) SyncMembership(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	m, err := h.memberships.Get(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	writeSyncResult(w, r, h.syncer.SyncPlan(r.Context(), m))
}

// SyncCoupon handles POST /v1/sync/coupons/{id}.
func (h *SyncHandler) SyncCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	c, err := h.coupons.Get(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	writeSyncResult(w, r, h.syncer.SyncCoupon(r.Context(), c))
}

// DeleteCoupon handles DELETE /v1/sync/coupons/{id}. The local coupon may
// already be gone, so only the id is used.
func (h *SyncHandler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	writeSyncResult(w, r, h.syncer.DeleteCoupon(r.Context(), id))
}

// SyncAll handles POST /v1/sync.
func (h *SyncHandler) SyncAll(w http.ResponseWriter, r *http.Request) {
	report := h.syncer.SyncAll(r.Context())
	if report.Err != nil {
		core.Error(w, r, report.Err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: report})
}

// writeSyncResult answers 200 for every outcome except failed, which is a
// 502 because the gateway refused the change.
func writeSyncResult(w http.ResponseWriter, r *http.Request, res billing.SyncResult) {
	status := http.StatusOK
	if res.Outcome == billing.OutcomeFailed {
		status = http.StatusBadGateway
	}
	core.JSON(w, r, status, core.APIResponse{Data: res})
}

// GatewayHandler reads and changes the runtime gateway settings. Turning
// the gateway on runs a full sync, as the host does when the gateway is
// enabled.
type GatewayHandler struct {
	keys      *config.GatewayConfig
	syncer    PlanSyncer
	validator *core.Validator
	logger    *slog.Logger
}

// NewGatewayHandler creates a GatewayHandler.
func NewGatewayHandler(keys *config.GatewayConfig, syncer PlanSyncer, validator *core.Validator, logger *slog.Logger) *GatewayHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GatewayHandler{keys: keys, syncer: syncer, validator: validator, logger: logger}
}

// RegisterRoutes mounts the gateway endpoints on the /v1 router.
func (h *GatewayHandler) RegisterRoutes(r chi.Router) {
	r.Get("/gateway", h.Get)
	r.Patch("/gateway", h.Update)
}

// GatewayStatus is the public view of the gateway settings. Secrets are
// never included.
type GatewayStatus struct {
	ID             string              `json:"id"`
	Mode           config.Mode         `json:"mode"`
	Active         bool                `json:"active"`
	Configured     bool                `json:"configured"`
	Currency       string              `json:"currency"`
	PublishableKey string              `json:"publishable_key,omitempty"`
	Sync           *billing.SyncReport `json:"sync,omitempty"`
}

// UpdateGatewayRequest changes any subset of the settings.
type UpdateGatewayRequest struct {
	Active   *bool   `json:"active"`
	Mode     *string `json:"mode" validate:"omitempty,oneof=live sandbox"`
	Currency *string `json:"currency" validate:"omitempty,len=3"`
}

// Get handles GET /v1/gateway.
func (h *GatewayHandler) Get(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.status()})
}

// Update handles PATCH /v1/gateway.
func (h *GatewayHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateGatewayRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	wasActive := h.keys.IsActive()
	if req.Mode != nil {
		if err := h.keys.SetMode(config.Mode(*req.Mode)); err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidValue, err.Error(), err))
			return
		}
	}
	if req.Currency != nil {
		h.keys.SetCurrency(strings.TrimSpace(*req.Currency))
	}
	if req.Active != nil {
		h.keys.SetActive(*req.Active)
	}

	status := h.status()
	if !wasActive && h.keys.IsActive() {
		report := h.syncer.SyncAll(r.Context())
		if report.Err != nil {
			h.logger.ErrorContext(r.Context(), "sync after activation failed", "error", report.Err)
		}
		status.Sync = &report
	}

	actor, _ := types.GetActor(r.Context())
	h.logger.InfoContext(r.Context(), "gateway settings updated",
		"mode", status.Mode,
		"active", status.Active,
		"currency", status.Currency,
		"actor", actor.ID,
		"actor_source", actor.Source,
	)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: status})
}

func (h *GatewayHandler) status() GatewayStatus {
	return GatewayStatus{
		ID:             types.GatewayID,
		Mode:           h.keys.Mode(),
		Active:         h.keys.IsActive(),
		Configured:     h.keys.IsConfigured(),
		Currency:       h.keys.Currency(),
		PublishableKey: h.keys.PublishableKey(),
	}
}
