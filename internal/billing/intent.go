package billing

import (
	"math"
	"strconv"
	"strings"

	"memberpay/internal/types"
)

// intervalRule maps a pay cycle period to the remote interval and the
// largest interval count the provider accepts for it.
type intervalRule struct {
	interval types.Interval
	maxCount int64
}

var intervalRules = map[types.PeriodType]intervalRule{
	types.PeriodDays:   {types.IntervalDay, 365},
	types.PeriodWeeks:  {types.IntervalWeek, 52},
	types.PeriodMonths: {types.IntervalMonth, 12},
	types.PeriodYears:  {types.IntervalYear, 1},
}

// AmountMinorUnits converts a decimal price to minor units. Prices that do
// not parse count as zero.
func AmountMinorUnits(price string) int64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(price), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int64(math.Round(math.Abs(f) * 100))
}

// billable reports whether the membership should have a remote plan.
func billable(m *types.Membership) bool {
	return !m.IsFree && m.PaymentType == types.PaymentTypeRecurring
}

// BuildPlanIntent computes the desired remote plan for a membership. Free,
// non-recurring and unpriced memberships yield a deletion intent.
func BuildPlanIntent(m *types.Membership, ids *IDDeriver, currency string) types.PlanIntent {
	intent := types.PlanIntent{
		ExternalID: ids.Derive(m.ID, ItemPlan),
	}
	if !billable(m) {
		return intent
	}

	amount := AmountMinorUnits(m.Price)
	if amount == 0 {
		return intent
	}

	rule, ok := intervalRules[m.PayCycleType]
	if !ok {
		rule = intervalRules[types.PeriodDays]
	}
	count := m.PayCycleUnit
	if count < 1 {
		count = 1
	}
	if count > rule.maxCount {
		count = rule.maxCount
	}

	intent.AmountMinorUnits = amount
	intent.Currency = strings.ToLower(currency)
	intent.ProductName = productName(m)
	intent.Interval = rule.interval
	intent.IntervalCount = count
	if m.HasTrial() {
		days := m.TrialDays()
		intent.TrialPeriodDays = &days
	}
	return intent
}

func productName(m *types.Membership) string {
	if name := strings.TrimSpace(m.Name); name != "" {
		return name
	}
	return "Membership " + strconv.FormatInt(m.ID, 10)
}

// BuildCouponIntent computes the desired remote coupon. A zero discount
// yields a deletion intent.
func BuildCouponIntent(c *types.Coupon, ids *IDDeriver, currency string) types.CouponIntent {
	intent := types.CouponIntent{
		ExternalID: ids.Derive(c.ID, ItemCoupon),
		Duration:   c.Duration,
	}
	if intent.Duration == "" {
		intent.Duration = types.CouponOnce
	}

	discount := math.Abs(c.Discount)
	if discount == 0 || math.IsNaN(discount) {
		return intent
	}

	switch c.DiscountType {
	case types.DiscountPercent:
		intent.PercentOff = &discount
	default:
		amount := int64(math.Round(discount * 100))
		if amount == 0 {
			return intent
		}
		intent.AmountOff = &amount
		intent.Currency = strings.ToLower(currency)
	}
	return intent
}
