package db

import (
	"context"

	"memberpay/internal/types"
)

const relationshipColumns = `id, member_id, membership_id, status, gateway_id, is_system,
	current_invoice_number, canceled_at, updated_at`

// RelationshipRepository implements billing.RelationshipStore.
type RelationshipRepository struct {
	db DBTX
}

// NewRelationshipRepository creates a RelationshipRepository.
func NewRelationshipRepository(db DBTX) *RelationshipRepository {
	return &RelationshipRepository{db: db}
}

// Get loads a relationship by id.
func (r *RelationshipRepository) Get(ctx context.Context, id int64) (*types.Relationship, error) {
	row := r.db.QueryRow(ctx, `SELECT `+relationshipColumns+` FROM relationships WHERE id = $1`, id)

	var (
		rel    types.Relationship
		status string
	)
	if err := row.Scan(
		&rel.ID, &rel.MemberID, &rel.MembershipID, &status, &rel.GatewayID, &rel.System,
		&rel.CurrentInvoiceNumber, &rel.CanceledAt, &rel.UpdatedAt,
	); err != nil {
		return nil, notFoundOr(err, types.ErrCodeNotFoundRelationship, "relationship")
	}
	rel.Status = types.RelationshipStatus(status)
	return &rel, nil
}

// Save persists the fields payment events change: status, cancellation
// time and the current invoice number.
func (r *RelationshipRepository) Save(ctx context.Context, rel *types.Relationship) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE relationships
		 SET status = $2,
		     canceled_at = $3,
		     current_invoice_number = $4,
		     updated_at = NOW()
		 WHERE id = $1`,
		rel.ID, string(rel.Status), rel.CanceledAt, rel.CurrentInvoiceNumber,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save relationship", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundRelationship, "relationship not found", nil)
	}
	return nil
}
