package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"memberpay/internal/types"
)

const membershipColumns = `id, name, price::text, is_free, payment_type, pay_cycle_unit, pay_cycle_type,
	trial_enabled, trial_unit, trial_type, active, updated_at`

// MembershipRepository implements billing.MembershipStore.
type MembershipRepository struct {
	db DBTX
}

// NewMembershipRepository creates a MembershipRepository.
func NewMembershipRepository(db DBTX) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// Get loads a membership by id.
func (r *MembershipRepository) Get(ctx context.Context, id int64) (*types.Membership, error) {
	row := r.db.QueryRow(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE id = $1`, id)
	m, err := scanMembership(row)
	if err != nil {
		return nil, notFoundOr(err, types.ErrCodeNotFoundMembership, "membership")
	}
	return m, nil
}

// List returns every active membership.
func (r *MembershipRepository) List(ctx context.Context) ([]*types.Membership, error) {
	rows, err := r.db.Query(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE active ORDER BY id`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list memberships", err)
	}
	out, err := collect(rows, scanMembership)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read memberships", err)
	}
	return out, nil
}

func scanMembership(row interface{ Scan(...any) error }) (*types.Membership, error) {
	var (
		m                                 types.Membership
		paymentType, cycleType, trialType string
	)
	if err := row.Scan(
		&m.ID, &m.Name, &m.Price, &m.IsFree, &paymentType, &m.PayCycleUnit, &cycleType,
		&m.TrialEnabled, &m.TrialUnit, &trialType, &m.Active, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.PaymentType = types.PaymentType(paymentType)
	m.PayCycleType = types.PeriodType(cycleType)
	m.TrialType = types.PeriodType(trialType)
	return &m, nil
}

const couponColumns = `id, code, discount_type, discount::float8, duration, updated_at`

// CouponRepository implements billing.CouponStore.
type CouponRepository struct {
	db DBTX
}

// NewCouponRepository creates a CouponRepository.
func NewCouponRepository(db DBTX) *CouponRepository {
	return &CouponRepository{db: db}
}

// Get loads a coupon by id.
func (r *CouponRepository) Get(ctx context.Context, id int64) (*types.Coupon, error) {
	row := r.db.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE id = $1`, id)
	c, err := scanCoupon(row)
	if err != nil {
		return nil, notFoundOr(err, types.ErrCodeNotFoundCoupon, "coupon")
	}
	return c, nil
}

// List returns every coupon.
func (r *CouponRepository) List(ctx context.Context) ([]*types.Coupon, error) {
	rows, err := r.db.Query(ctx, `SELECT `+couponColumns+` FROM coupons ORDER BY id`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list coupons", err)
	}
	out, err := collect(rows, scanCoupon)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read coupons", err)
	}
	return out, nil
}

func scanCoupon(row interface{ Scan(...any) error }) (*types.Coupon, error) {
	var (
		c                      types.Coupon
		discountType, duration string
		updatedAt              time.Time
	)
	if err := row.Scan(&c.ID, &c.Code, &discountType, &c.Discount, &duration, &updatedAt); err != nil {
		return nil, err
	}
	c.DiscountType = types.DiscountType(discountType)
	c.Duration = types.CouponDuration(duration)
	c.UpdatedAt = updatedAt
	return &c, nil
}

// collect scans every row and closes rows.
func collect[T any](rows pgx.Rows, scan func(interface{ Scan(...any) error }) (*T, error)) ([]*T, error) {
	defer rows.Close()
	var out []*T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
