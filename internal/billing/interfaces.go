package billing

import (
	"context"

	"memberpay/internal/types"
)

// MemberStore persists members and their gateway profiles.
type MemberStore interface {
	Get(ctx context.Context, id int64) (*types.Member, error)
	// FindByEmail matches case-insensitively. Returns a not_found_member
	// AppError when no member has the address.
	FindByEmail(ctx context.Context, email string) (*types.Member, error)
	// Save persists the member's gateway profiles.
	Save(ctx context.Context, m *types.Member) error
}

// MembershipStore reads membership definitions.
type MembershipStore interface {
	Get(ctx context.Context, id int64) (*types.Membership, error)
	List(ctx context.Context) ([]*types.Membership, error)
}

// CouponStore reads coupon definitions.
type CouponStore interface {
	Get(ctx context.Context, id int64) (*types.Coupon, error)
	List(ctx context.Context) ([]*types.Coupon, error)
}

// RelationshipStore persists member-to-membership relationships.
type RelationshipStore interface {
	Get(ctx context.Context, id int64) (*types.Relationship, error)
	Save(ctx context.Context, r *types.Relationship) error
}

// InvoiceStore resolves and persists relationship invoices.
type InvoiceStore interface {
	// Current returns the invoice numbered rel.CurrentInvoiceNumber,
	// creating a billed one when it does not exist yet.
	Current(ctx context.Context, rel *types.Relationship) (*types.Invoice, error)
	// Next returns the invoice after the current one, creating it when
	// needed, and advances rel.CurrentInvoiceNumber to it.
	Next(ctx context.Context, rel *types.Relationship) (*types.Invoice, error)
	Save(ctx context.Context, inv *types.Invoice) error
}

// RenewalNotifier emits a notification after a recurring payment is
// recorded. Implemented by queue.RenewalPublisher.
type RenewalNotifier interface {
	Publish(ctx context.Context, n types.RenewalNotification) error
}

// IntentValidator checks struct tags on outbound intents. Implemented by
// core.Validator.
type IntentValidator interface {
	ValidateStruct(s any) error
}
