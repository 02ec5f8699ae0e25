package db

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"memberpay/internal/types"
)

func invoiceValues(id, number int64, status string) []any {
	return []any{
		id, int64(11), int64(4), int64(7), number, status, "", "",
		9.99, "eur", []string{}, (*time.Time)(nil), time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func isEnsureQuery(sql string) bool {
	return strings.Contains(sql, "ON CONFLICT (relationship_id, number) DO NOTHING")
}

func TestInvoiceRepository_Current(t *testing.T) {
	db := new(mockDBTX)
	repo := NewInvoiceRepository(db, func() string { return "eur" })

	db.On("QueryRow", mock.Anything, mock.MatchedBy(isEnsureQuery), []any{int64(11), int64(2), "eur"}).
		Return(&mockRow{values: invoiceValues(30, 2, "billed")})

	inv, err := repo.Current(context.Background(), &types.Relationship{ID: 11, CurrentInvoiceNumber: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), inv.Number)
	assert.Equal(t, types.InvoiceBilled, inv.Status)
	assert.Equal(t, "eur", inv.Currency)
	db.AssertExpectations(t)
}

func TestInvoiceRepository_Current_ZeroNumberTreatedAsFirst(t *testing.T) {
	db := new(mockDBTX)
	repo := NewInvoiceRepository(db, nil)

	db.On("QueryRow", mock.Anything, mock.Anything, []any{int64(11), int64(1), "usd"}).
		Return(&mockRow{values: invoiceValues(30, 1, "billed")})

	_, err := repo.Current(context.Background(), &types.Relationship{ID: 11})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestInvoiceRepository_Current_UnknownRelationship(t *testing.T) {
	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := NewInvoiceRepository(db, nil).Current(context.Background(), &types.Relationship{ID: 11})
	assert.Equal(t, types.ErrCodeNotFoundRelationship, types.CodeOf(err))
}

func TestInvoiceRepository_Next(t *testing.T) {
	db := new(mockDBTX)
	repo := NewInvoiceRepository(db, func() string { return "eur" })

	db.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "RETURNING current_invoice_number")
	}), []any{int64(11)}).Return(&mockRow{values: []any{int64(3)}})
	db.On("QueryRow", mock.Anything, mock.MatchedBy(isEnsureQuery), []any{int64(11), int64(3), "eur"}).
		Return(&mockRow{values: invoiceValues(31, 3, "billed")})

	rel := &types.Relationship{ID: 11, CurrentInvoiceNumber: 2}
	inv, err := repo.Next(context.Background(), rel)
	require.NoError(t, err)
	assert.Equal(t, int64(3), inv.Number)
	assert.Equal(t, int64(3), rel.CurrentInvoiceNumber, "relationship advanced in memory")
	db.AssertExpectations(t)
}

func TestInvoiceRepository_Save(t *testing.T) {
	db := new(mockDBTX)
	repo := NewInvoiceRepository(db, nil)

	paidAt := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)
	inv := &types.Invoice{ID: 30, Number: 1}
	inv.PayIt("stripe", "in_1", paidAt)

	db.On("Exec", mock.Anything, mock.Anything, []any{
		int64(30), "paid", "stripe", "in_1", []string{}, inv.PaidAt,
	}).Return(tag("UPDATE 1"), nil)

	require.NoError(t, repo.Save(context.Background(), inv))
	db.AssertExpectations(t)
}

func TestInvoiceRepository_Save_Missing(t *testing.T) {
	db := new(mockDBTX)
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(tag("UPDATE 0"), nil)

	err := NewInvoiceRepository(db, nil).Save(context.Background(), &types.Invoice{ID: 1})
	assert.Equal(t, types.ErrCodeNotFoundInvoice, types.CodeOf(err))
}
