package db

import (
	"context"

	"memberpay/internal/types"
)

const invoiceColumns = `id, relationship_id, membership_id, member_id, number, status, gateway_id,
	external_id, total::float8, currency, notes, paid_at, updated_at`

// InvoiceRepository implements billing.InvoiceStore.
type InvoiceRepository struct {
	db       DBTX
	currency func() string
}

// NewInvoiceRepository creates an InvoiceRepository. currency supplies the
// billing currency of newly created invoices.
func NewInvoiceRepository(db DBTX, currency func() string) *InvoiceRepository {
	if currency == nil {
		currency = func() string { return "usd" }
	}
	return &InvoiceRepository{db: db, currency: currency}
}

// Current returns the relationship's current invoice, creating a billed one
// priced from the membership when it does not exist. Concurrent callers
// converge on the same row through the (relationship_id, number) key.
func (r *InvoiceRepository) Current(ctx context.Context, rel *types.Relationship) (*types.Invoice, error) {
	number := max(rel.CurrentInvoiceNumber, 1)
	return r.ensure(ctx, rel.ID, number)
}

// Next advances the relationship's current invoice number and returns the
// invoice it now points at.
func (r *InvoiceRepository) Next(ctx context.Context, rel *types.Relationship) (*types.Invoice, error) {
	var number int64
	err := r.db.QueryRow(ctx,
		`UPDATE relationships
		 SET current_invoice_number = GREATEST(current_invoice_number, 1) + 1,
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING current_invoice_number`,
		rel.ID,
	).Scan(&number)
	if err != nil {
		return nil, notFoundOr(err, types.ErrCodeNotFoundRelationship, "relationship")
	}
	rel.CurrentInvoiceNumber = number
	return r.ensure(ctx, rel.ID, number)
}

func (r *InvoiceRepository) ensure(ctx context.Context, relationshipID, number int64) (*types.Invoice, error) {
	row := r.db.QueryRow(ctx,
		`WITH created AS (
		     INSERT INTO invoices (relationship_id, membership_id, member_id, number, status, total, currency)
		     SELECT r.id, r.membership_id, r.member_id, $2, 'billed',
		            CASE WHEN m.is_free THEN 0 ELSE m.price END, $3
		     FROM relationships r
		     JOIN memberships m ON m.id = r.membership_id
		     WHERE r.id = $1
		     ON CONFLICT (relationship_id, number) DO NOTHING
		     RETURNING `+invoiceColumns+`
		 )
		 SELECT `+invoiceColumns+` FROM created
		 UNION ALL
		 SELECT `+invoiceColumns+` FROM invoices WHERE relationship_id = $1 AND number = $2
		 LIMIT 1`,
		relationshipID, number, r.currency(),
	)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, notFoundOr(err, types.ErrCodeNotFoundRelationship, "relationship")
	}
	return inv, nil
}

// Save persists the payment fields of an invoice.
func (r *InvoiceRepository) Save(ctx context.Context, inv *types.Invoice) error {
	notes := inv.Notes
	if notes == nil {
		notes = []string{}
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE invoices
		 SET status = $2,
		     gateway_id = $3,
		     external_id = $4,
		     notes = $5,
		     paid_at = $6,
		     updated_at = NOW()
		 WHERE id = $1`,
		inv.ID, string(inv.Status), inv.GatewayID, inv.ExternalID, notes, inv.PaidAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save invoice", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundInvoice, "invoice not found", nil)
	}
	return nil
}

func scanInvoice(row interface{ Scan(...any) error }) (*types.Invoice, error) {
	var (
		inv    types.Invoice
		status string
	)
	if err := row.Scan(
		&inv.ID, &inv.RelationshipID, &inv.MembershipID, &inv.MemberID, &inv.Number, &status,
		&inv.GatewayID, &inv.ExternalID, &inv.Total, &inv.Currency, &inv.Notes, &inv.PaidAt, &inv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	inv.Status = types.InvoiceStatus(status)
	return &inv, nil
}
