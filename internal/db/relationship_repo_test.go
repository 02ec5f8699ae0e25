package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"memberpay/internal/types"
)

func TestRelationshipRepository_Get(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRelationshipRepository(db)

	canceled := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	db.On("QueryRow", mock.Anything, mock.Anything, []any{int64(11)}).Return(&mockRow{values: []any{
		int64(11), int64(7), int64(4), "canceled", "stripe", false,
		int64(3), &canceled, canceled,
	}})

	rel, err := repo.Get(context.Background(), 11)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCanceled, rel.Status)
	assert.Equal(t, int64(3), rel.CurrentInvoiceNumber)
	require.NotNil(t, rel.CanceledAt)
	assert.True(t, rel.CanceledAt.Equal(canceled))
}

func TestRelationshipRepository_Get_NotFound(t *testing.T) {
	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := NewRelationshipRepository(db).Get(context.Background(), 11)
	assert.Equal(t, types.ErrCodeNotFoundRelationship, types.CodeOf(err))
}

func TestRelationshipRepository_Save(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRelationshipRepository(db)

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	rel := &types.Relationship{ID: 11, Status: types.StatusActive, CurrentInvoiceNumber: 2}
	require.True(t, rel.Cancel(now))

	db.On("Exec", mock.Anything, mock.Anything, []any{int64(11), "canceled", rel.CanceledAt, int64(2)}).
		Return(tag("UPDATE 1"), nil)

	require.NoError(t, repo.Save(context.Background(), rel))
	db.AssertExpectations(t)
}

func TestRelationshipRepository_Save_Missing(t *testing.T) {
	db := new(mockDBTX)
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(tag("UPDATE 0"), nil)

	err := NewRelationshipRepository(db).Save(context.Background(), &types.Relationship{ID: 5})
	assert.Equal(t, types.ErrCodeNotFoundRelationship, types.CodeOf(err))
}
