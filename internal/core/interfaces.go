package core

import (
	"context"
	"crypto/subtle"

	"memberpay/internal/types"
)

// Authenticator decouples the HTTP layer from the credential check,
// allowing easy mocking in tests.
type Authenticator interface {
	// ResolveToken returns the Actor for a bearer token, or an AppError
	// with ErrCodeAuthTokenInvalid.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// APIKeyAuthenticator accepts exactly one static admin key. The host
// platform calls the admin API with it when memberships and coupons change.
type APIKeyAuthenticator struct {
	key types.SecretString
}

// NewAPIKeyAuthenticator builds an authenticator for the given admin key.
func NewAPIKeyAuthenticator(key types.SecretString) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{key: key}
}

// ResolveToken compares the token with the admin key in constant time. An
// unset key rejects every token.
func (a *APIKeyAuthenticator) ResolveToken(_ context.Context, token string) (*types.Actor, error) {
	if a.key.IsZero() || subtle.ConstantTimeCompare([]byte(token), []byte(a.key.Unmask())) != 1 {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid admin api key", nil)
	}
	return &types.Actor{ID: "admin", Type: types.ActorTypeAdmin, Source: "admin_api"}, nil
}
