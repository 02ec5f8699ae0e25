package types

import (
	"encoding/json"
	"strconv"
)

// CorrelationMetadataKey is the remote subscription metadata key carrying
// the local relationship id.
const CorrelationMetadataKey = "ms_relationship_id"

// Interval is a remote billing interval.
type Interval string

const (
	IntervalDay   Interval = "day"
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// PlanIntent is the desired state of a remote plan, built fresh from a
// membership on every sync. A zero AmountMinorUnits means the remote plan
// must not exist.
type PlanIntent struct {
	ExternalID       string   `json:"id" validate:"required,external_id"`
	AmountMinorUnits int64    `json:"amount" validate:"gt=0"`
	Currency         string   `json:"currency" validate:"required,currency_code"`
	ProductName      string   `json:"product_name" validate:"required,max=250"`
	Interval         Interval `json:"interval" validate:"required,oneof=day week month year"`
	IntervalCount    int64    `json:"interval_count" validate:"min=1,max=365"`
	TrialPeriodDays  *int64   `json:"trial_period_days" validate:"omitempty,min=1,max=730"`
}

// IsDeletion reports whether the intent asks for the remote plan to be
// removed rather than upserted.
func (p PlanIntent) IsDeletion() bool {
	return p.AmountMinorUnits == 0
}

// Fingerprint returns the canonical serialization used for change
// detection. Field order is fixed by the struct so equal intents always
// produce equal fingerprints.
func (p PlanIntent) Fingerprint() string {
	if p.IsDeletion() {
		return deletionFingerprint(p.ExternalID)
	}
	b, _ := json.Marshal(p)
	return string(b)
}

// CouponIntent is the desired state of a remote coupon. Exactly one of
// AmountOff and PercentOff is set; neither set means the coupon must not
// exist remotely.
type CouponIntent struct {
	ExternalID string         `json:"id" validate:"required,external_id"`
	Duration   CouponDuration `json:"duration" validate:"required,oneof=once forever"`
	AmountOff  *int64         `json:"amount_off" validate:"omitempty,gt=0"`
	PercentOff *float64       `json:"percent_off" validate:"omitempty,gt=0,lte=100"`
	Currency   string         `json:"currency" validate:"omitempty,currency_code"`
}

// IsDeletion reports whether the intent asks for the remote coupon to be
// removed.
func (c CouponIntent) IsDeletion() bool {
	return c.AmountOff == nil && c.PercentOff == nil
}

// Fingerprint returns the canonical serialization used for change detection.
func (c CouponIntent) Fingerprint() string {
	if c.IsDeletion() {
		return deletionFingerprint(c.ExternalID)
	}
	b, _ := json.Marshal(c)
	return string(b)
}

func deletionFingerprint(externalID string) string {
	return `{"id":` + strconv.Quote(externalID) + `,"amount":0}`
}

// CheckoutSessionRequest is the outbound hosted-checkout session request.
// Exactly one of CustomerID and CustomerEmail is set.
type CheckoutSessionRequest struct {
	PlanID             string
	RelationshipID     int64
	CustomerID         string
	CustomerEmail      string
	SuccessURL         string
	CancelURL          string
	PaymentMethodTypes []string
}
