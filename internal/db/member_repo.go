package db

import (
	"context"
	"strings"

	"memberpay/internal/types"
)

const memberColumns = `id, email, name, gateway_profiles`

// MemberRepository implements billing.MemberStore.
type MemberRepository struct {
	db DBTX
}

// NewMemberRepository creates a MemberRepository.
func NewMemberRepository(db DBTX) *MemberRepository {
	return &MemberRepository{db: db}
}

// Get loads a member by id.
func (r *MemberRepository) Get(ctx context.Context, id int64) (*types.Member, error) {
	row := r.db.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id)
	m, err := scanMember(row)
	if err != nil {
		return nil, notFoundOr(err, types.ErrCodeNotFoundMember, "member")
	}
	return m, nil
}

// FindByEmail loads the oldest member with the address, ignoring case.
func (r *MemberRepository) FindByEmail(ctx context.Context, email string) (*types.Member, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM members
		 WHERE lower(email) = $1
		 ORDER BY id
		 LIMIT 1`,
		strings.ToLower(strings.TrimSpace(email)),
	)
	m, err := scanMember(row)
	if err != nil {
		return nil, notFoundOr(err, types.ErrCodeNotFoundMember, "member")
	}
	return m, nil
}

// Save persists the member's gateway profiles. Other member fields belong
// to the host and are never written here.
func (r *MemberRepository) Save(ctx context.Context, m *types.Member) error {
	profiles := m.Profiles
	if profiles == nil {
		profiles = map[string]map[string]string{}
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE members SET gateway_profiles = $2, updated_at = NOW() WHERE id = $1`,
		m.ID, profiles,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save member", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundMember, "member not found", nil)
	}
	return nil
}

func scanMember(row interface{ Scan(...any) error }) (*types.Member, error) {
	var m types.Member
	if err := row.Scan(&m.ID, &m.Email, &m.Name, &m.Profiles); err != nil {
		return nil, err
	}
	return &m, nil
}
