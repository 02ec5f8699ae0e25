package billing

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"memberpay/internal/cache"
	"memberpay/internal/config"
	"memberpay/internal/external"
	"memberpay/internal/metrics"
	"memberpay/internal/types"
)

// DefaultSyncConcurrency bounds SyncAll when no limit is configured.
const DefaultSyncConcurrency = 4

// SyncOutcome is the result kind of one sync.
type SyncOutcome string

const (
	OutcomeUnchanged SyncOutcome = "unchanged"
	OutcomeUpserted  SyncOutcome = "upserted"
	OutcomeDeleted   SyncOutcome = "deleted"
	OutcomeSkipped   SyncOutcome = "skipped"
	OutcomeFailed    SyncOutcome = "failed"
)

// SyncResult reports what happened to one local object.
type SyncResult struct {
	ItemType   ItemType    `json:"item_type"`
	LocalID    int64       `json:"local_id"`
	ExternalID string      `json:"external_id,omitempty"`
	Outcome    SyncOutcome `json:"outcome"`
	Reason     string      `json:"reason,omitempty"`
	Err        error       `json:"-"`
}

// SyncReport collects the results of a batch sync. Err is set only when
// the batch could not be listed at all.
type SyncReport struct {
	Results []SyncResult `json:"results"`
	Err     error        `json:"-"`
}

// Count returns the number of results with the given outcome.
func (r SyncReport) Count(outcome SyncOutcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// SyncerConfig holds the Synchronizer's dependencies.
type SyncerConfig struct {
	Gateway     external.Gateway
	Cache       *cache.FingerprintCache
	IDs         *IDDeriver
	Keys        *config.GatewayConfig
	Memberships MembershipStore
	Coupons     CouponStore
	Validator   IntentValidator
	Metrics     metrics.Recorder
	Logger      *slog.Logger

	// Concurrency bounds SyncAll. Zero uses DefaultSyncConcurrency.
	Concurrency int
	// CouponsEnabled includes coupons in SyncAll.
	CouponsEnabled bool
}

// Synchronizer pushes membership plans and coupons to the gateway. It
// never returns gateway errors; every call yields a SyncResult.
type Synchronizer struct {
	gateway     external.Gateway
	cache       *cache.FingerprintCache
	ids         *IDDeriver
	keys        *config.GatewayConfig
	memberships MembershipStore
	coupons     CouponStore
	validator   IntentValidator
	metrics     metrics.Recorder
	logger      *slog.Logger

	concurrency    int
	couponsEnabled bool
}

// NewSynchronizer builds a Synchronizer. Metrics and Logger may be nil.
func NewSynchronizer(cfg SyncerConfig) *Synchronizer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NopRecorder{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultSyncConcurrency
	}
	return &Synchronizer{
		gateway:        cfg.Gateway,
		cache:          cfg.Cache,
		ids:            cfg.IDs,
		keys:           cfg.Keys,
		memberships:    cfg.Memberships,
		coupons:        cfg.Coupons,
		validator:      cfg.Validator,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger.With("component", "synchronizer"),
		concurrency:    cfg.Concurrency,
		couponsEnabled: cfg.CouponsEnabled,
	}
}

// SyncPlan makes the remote plan match the membership.
func (s *Synchronizer) SyncPlan(ctx context.Context, m *types.Membership) SyncResult {
	res := s.syncPlan(ctx, m)
	s.finish(ctx, res)
	return res
}

func (s *Synchronizer) syncPlan(ctx context.Context, m *types.Membership) SyncResult {
	res := SyncResult{ItemType: ItemPlan, LocalID: m.ID}
	if !s.keys.Ready() {
		return skip(res, "gateway inactive or not configured")
	}

	intent := BuildPlanIntent(m, s.ids, s.keys.Currency())
	res.ExternalID = intent.ExternalID

	if intent.IsDeletion() {
		return s.removePlan(ctx, res, intent)
	}

	if err := s.validate(intent); err != nil {
		return skip(res, err.Error())
	}

	fingerprint := intent.Fingerprint()
	if s.cache.Matches(ctx, intent.ExternalID, fingerprint) {
		res.Outcome = OutcomeUnchanged
		return res
	}

	if err := s.gateway.CreateOrUpdatePlan(ctx, intent); err != nil {
		return fail(res, err)
	}
	s.cache.Set(ctx, intent.ExternalID, fingerprint)
	res.Outcome = OutcomeUpserted
	return res
}

// removePlan deletes the remote plan only when it is known to exist.
func (s *Synchronizer) removePlan(ctx context.Context, res SyncResult, intent types.PlanIntent) SyncResult {
	fingerprint := intent.Fingerprint()
	if s.cache.Matches(ctx, intent.ExternalID, fingerprint) {
		res.Outcome = OutcomeUnchanged
		return res
	}

	exists, err := s.gateway.PlanExists(ctx, intent.ExternalID)
	if err != nil {
		return fail(res, err)
	}

	res.Outcome = OutcomeUnchanged
	if exists {
		if err := s.gateway.DeletePlan(ctx, intent.ExternalID); err != nil && !types.IsNotFound(err) {
			return fail(res, err)
		}
		res.Outcome = OutcomeDeleted
	}
	s.cache.Set(ctx, intent.ExternalID, fingerprint)
	return res
}

// SyncCoupon makes the remote coupon match the local one.
func (s *Synchronizer) SyncCoupon(ctx context.Context, c *types.Coupon) SyncResult {
	res := s.syncCoupon(ctx, c)
	s.finish(ctx, res)
	return res
}

func (s *Synchronizer) syncCoupon(ctx context.Context, c *types.Coupon) SyncResult {
	res := SyncResult{ItemType: ItemCoupon, LocalID: c.ID}
	if !s.keys.Ready() {
		return skip(res, "gateway inactive or not configured")
	}

	intent := BuildCouponIntent(c, s.ids, s.keys.Currency())
	res.ExternalID = intent.ExternalID

	if intent.IsDeletion() {
		return s.removeCoupon(ctx, res)
	}

	if err := s.validate(intent); err != nil {
		return skip(res, err.Error())
	}

	fingerprint := intent.Fingerprint()
	if s.cache.Matches(ctx, intent.ExternalID, fingerprint) {
		res.Outcome = OutcomeUnchanged
		return res
	}

	if err := s.gateway.CreateOrUpdateCoupon(ctx, intent); err != nil {
		return fail(res, err)
	}
	s.cache.Set(ctx, intent.ExternalID, fingerprint)
	res.Outcome = OutcomeUpserted
	return res
}

// DeleteCoupon removes the remote coupon of a local coupon that is being
// deleted. A coupon that does not exist remotely counts as deleted.
func (s *Synchronizer) DeleteCoupon(ctx context.Context, localID int64) SyncResult {
	res := SyncResult{ItemType: ItemCoupon, LocalID: localID}
	if !s.keys.Ready() {
		res = skip(res, "gateway inactive or not configured")
	} else {
		res.ExternalID = s.ids.Derive(localID, ItemCoupon)
		res = s.removeCoupon(ctx, res)
		if res.Outcome == OutcomeUnchanged {
			res.Outcome = OutcomeDeleted
		}
	}
	s.finish(ctx, res)
	return res
}

func (s *Synchronizer) removeCoupon(ctx context.Context, res SyncResult) SyncResult {
	fingerprint := types.CouponIntent{ExternalID: res.ExternalID}.Fingerprint()
	if s.cache.Matches(ctx, res.ExternalID, fingerprint) {
		res.Outcome = OutcomeUnchanged
		return res
	}

	res.Outcome = OutcomeDeleted
	if err := s.gateway.DeleteCoupon(ctx, res.ExternalID); err != nil {
		if !types.IsNotFound(err) {
			return fail(res, err)
		}
		res.Outcome = OutcomeUnchanged
	}
	s.cache.Set(ctx, res.ExternalID, fingerprint)
	return res
}

// SyncAll syncs every membership and, when enabled, every coupon. Items
// are independent: a failure is recorded and the batch continues.
func (s *Synchronizer) SyncAll(ctx context.Context) SyncReport {
	if !s.keys.Ready() {
		s.logger.InfoContext(ctx, "sync all skipped, gateway inactive or not configured")
		return SyncReport{}
	}

	memberships, err := s.memberships.List(ctx)
	if err != nil {
		return SyncReport{Err: fmt.Errorf("listing memberships: %w", err)}
	}
	var coupons []*types.Coupon
	if s.couponsEnabled {
		coupons, err = s.coupons.List(ctx)
		if err != nil {
			return SyncReport{Err: fmt.Errorf("listing coupons: %w", err)}
		}
	}

	results := make([]SyncResult, len(memberships)+len(coupons))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, m := range memberships {
		g.Go(func() error {
			results[i] = s.SyncPlan(gCtx, m)
			return nil
		})
	}
	for i, c := range coupons {
		g.Go(func() error {
			results[len(memberships)+i] = s.SyncCoupon(gCtx, c)
			return nil
		})
	}
	// Workers never return errors.
	_ = g.Wait()

	report := SyncReport{Results: results}
	actor, _ := types.GetActor(ctx)
	s.logger.InfoContext(ctx, "sync all complete",
		"triggered_by", actor.Source,
		"items", len(results),
		"upserted", report.Count(OutcomeUpserted),
		"deleted", report.Count(OutcomeDeleted),
		"unchanged", report.Count(OutcomeUnchanged),
		"skipped", report.Count(OutcomeSkipped),
		"failed", report.Count(OutcomeFailed),
	)
	return report
}

func (s *Synchronizer) validate(intent any) error {
	if s.validator == nil {
		return nil
	}
	return s.validator.ValidateStruct(intent)
}

func (s *Synchronizer) finish(ctx context.Context, res SyncResult) {
	s.metrics.RecordSync(ctx, string(res.ItemType), string(res.Outcome))

	attrs := []any{
		"item_type", res.ItemType,
		"local_id", res.LocalID,
		"external_id", res.ExternalID,
		"outcome", res.Outcome,
	}
	switch res.Outcome {
	case OutcomeFailed:
		s.logger.ErrorContext(ctx, "sync failed", append(attrs, "error", res.Err)...)
	case OutcomeSkipped:
		s.logger.InfoContext(ctx, "sync skipped", append(attrs, "reason", res.Reason)...)
	default:
		s.logger.DebugContext(ctx, "sync done", attrs...)
	}
}

func skip(res SyncResult, reason string) SyncResult {
	res.Outcome = OutcomeSkipped
	res.Reason = reason
	return res
}

func fail(res SyncResult, err error) SyncResult {
	res.Outcome = OutcomeFailed
	res.Err = err
	res.Reason = err.Error()
	return res
}
