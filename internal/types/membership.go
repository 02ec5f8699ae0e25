package types

import (
	"fmt"
	"strings"
	"time"
)

// GatewayID identifies this payment gateway in local records (invoice
// gateway_id, member gateway profiles, relationship gateway_id).
const GatewayID = "stripecheckout"

// PaymentType is the billing shape of a membership.
type PaymentType string

const (
	PaymentTypePermanent PaymentType = "permanent"
	PaymentTypeFinite    PaymentType = "finite"
	PaymentTypeDateRange PaymentType = "date_range"
	PaymentTypeRecurring PaymentType = "recurring"
)

// UnsupportedPaymentTypes lists the payment types hosted checkout cannot
// bill. Memberships of these types are never offered through this gateway.
var UnsupportedPaymentTypes = []PaymentType{
	PaymentTypePermanent,
	PaymentTypeFinite,
	PaymentTypeDateRange,
}

// IsSupported reports whether the gateway can bill this payment type.
func (p PaymentType) IsSupported() bool {
	for _, u := range UnsupportedPaymentTypes {
		if p == u {
			return false
		}
	}
	return true
}

// PeriodType is the unit of a pay cycle or trial period.
type PeriodType string

const (
	PeriodDays   PeriodType = "days"
	PeriodWeeks  PeriodType = "weeks"
	PeriodMonths PeriodType = "months"
	PeriodYears  PeriodType = "years"
)

// DaysPerUnit returns the number of days one unit of the period spans.
// Unknown period types count as days.
func (p PeriodType) DaysPerUnit() int64 {
	switch p {
	case PeriodWeeks:
		return 7
	case PeriodMonths:
		return 30
	case PeriodYears:
		return 365
	default:
		return 1
	}
}

// Member is a platform user that can hold memberships.
type Member struct {
	ID    int64
	Email string
	Name  string
	// Profiles holds per-gateway key/value settings, e.g.
	// Profiles["stripecheckout"]["customer_id"].
	Profiles map[string]map[string]string
}

// GatewayProfile returns a single profile value for the given gateway.
func (m *Member) GatewayProfile(gateway, key string) string {
	if m.Profiles == nil {
		return ""
	}
	return m.Profiles[gateway][key]
}

// SetGatewayProfile sets a profile value. An empty value removes the key.
func (m *Member) SetGatewayProfile(gateway, key, value string) {
	if m.Profiles == nil {
		m.Profiles = make(map[string]map[string]string)
	}
	p, ok := m.Profiles[gateway]
	if !ok {
		p = make(map[string]string)
		m.Profiles[gateway] = p
	}
	if value == "" {
		delete(p, key)
		return
	}
	p[key] = value
}

// Membership is a plan a member can subscribe to. Price is kept as the
// host stores it (decimal text); parsing happens at sync time.
type Membership struct {
	ID           int64
	Name         string
	Price        string
	IsFree       bool
	PaymentType  PaymentType
	PayCycleUnit int64
	PayCycleType PeriodType
	TrialEnabled bool
	TrialUnit    int64
	TrialType    PeriodType
	Active       bool
	UpdatedAt    time.Time
}

// HasTrial reports whether the membership defines a trial period.
func (m *Membership) HasTrial() bool {
	return m.TrialEnabled && m.TrialUnit > 0
}

// TrialDays returns the trial length in days. Zero when there is no trial.
func (m *Membership) TrialDays() int64 {
	if !m.HasTrial() {
		return 0
	}
	return m.TrialUnit * m.TrialType.DaysPerUnit()
}

// DiscountType selects how Coupon.Discount is interpreted.
type DiscountType string

const (
	DiscountValue   DiscountType = "VALUE"
	DiscountPercent DiscountType = "PERCENT"
)

// CouponDuration mirrors the remote coupon duration.
type CouponDuration string

const (
	CouponOnce    CouponDuration = "once"
	CouponForever CouponDuration = "forever"
)

// Coupon is a local discount definition.
type Coupon struct {
	ID           int64
	Code         string
	DiscountType DiscountType
	Discount     float64
	Duration     CouponDuration
	UpdatedAt    time.Time
}

// RelationshipStatus is the lifecycle state of a member's subscription.
type RelationshipStatus string

const (
	StatusPending      RelationshipStatus = "pending"
	StatusActive       RelationshipStatus = "active"
	StatusTrial        RelationshipStatus = "trial"
	StatusTrialExpired RelationshipStatus = "trial_expired"
	StatusExpired      RelationshipStatus = "expired"
	StatusDeactivated  RelationshipStatus = "deactivated"
	StatusCanceled     RelationshipStatus = "canceled"
	StatusWaiting      RelationshipStatus = "waiting"
)

// Relationship links a member to a membership. The host calls it a
// subscription; the remote side correlates to it via ms_relationship_id.
type Relationship struct {
	ID                   int64
	MemberID             int64
	MembershipID         int64
	Status               RelationshipStatus
	GatewayID            string
	System               bool
	CurrentInvoiceNumber int64
	CanceledAt           *time.Time
	UpdatedAt            time.Time
}

// IsSystem reports whether the relationship is an internal one that
// payment events must never touch.
func (r *Relationship) IsSystem() bool {
	return r.System
}

// Cancel moves the relationship to canceled. Calling it again is a no-op
// and returns false.
func (r *Relationship) Cancel(now time.Time) bool {
	if r.Status == StatusCanceled {
		return false
	}
	r.Status = StatusCanceled
	r.CanceledAt = &now
	return true
}

// InvoiceStatus is the payment state of a local invoice.
type InvoiceStatus string

const (
	InvoiceBilled  InvoiceStatus = "billed"
	InvoicePending InvoiceStatus = "pending"
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceFailed  InvoiceStatus = "failed"
)

// Invoice is a single billing period of a relationship. Numbers increase
// by one per period.
type Invoice struct {
	ID             int64
	RelationshipID int64
	MembershipID   int64
	MemberID       int64
	Number         int64
	Status         InvoiceStatus
	GatewayID      string
	ExternalID     string
	Total          float64
	Currency       string
	Notes          []string
	PaidAt         *time.Time
	UpdatedAt      time.Time
}

// IsPaid reports whether the invoice has been settled.
func (i *Invoice) IsPaid() bool {
	return i.Status == InvoicePaid
}

// PayIt marks the invoice paid through the given gateway and records the
// remote invoice reference.
func (i *Invoice) PayIt(gatewayID, externalRef string, now time.Time) {
	i.Status = InvoicePaid
	i.GatewayID = gatewayID
	i.ExternalID = externalRef
	i.PaidAt = &now
}

// MarkFreeProcessed settles a zero-total invoice without a payment record.
func (i *Invoice) MarkFreeProcessed(gatewayID string, now time.Time) {
	i.Status = InvoicePaid
	i.GatewayID = gatewayID
	i.PaidAt = &now
}

// AddNote appends an audit note.
func (i *Invoice) AddNote(format string, args ...any) {
	note := strings.TrimSpace(fmt.Sprintf(format, args...))
	if note == "" {
		return
	}
	i.Notes = append(i.Notes, note)
}
