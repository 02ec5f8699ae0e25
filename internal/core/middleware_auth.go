package core

import (
	"net/http"
	"strings"

	"memberpay/internal/types"
)

// AdminAuthMiddleware admits requests bearing the admin API key and stores
// the resolved Actor in the context. Everything else gets a 401. With no
// Authenticator configured every request passes.
func (s *Server) AdminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			s.unauthorized(w, r, types.ErrCodeAuthTokenMissing, "a bearer token is required")
			return
		}

		actor, err := s.Authenticator.ResolveToken(r.Context(), token)
		if err == nil && actor != nil {
			next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), *actor)))
			return
		}

		logger := types.LoggerFromContext(r.Context(), s.Logger)
		switch {
		case err == nil:
			logger.Warn("admin token resolved to no actor", "route", routePattern(r))
		case types.CodeOf(err) == types.ErrCodeAuthTokenInvalid:
			logger.Warn("admin token rejected", "method", r.Method, "path", r.URL.Path)
		default:
			logger.Error("admin token check failed", "method", r.Method, "path", r.URL.Path, "error", err)
		}
		s.unauthorized(w, r, types.ErrCodeAuthTokenInvalid, "invalid admin api key")
	})
}

// extractBearerToken returns the credential of a "Bearer <token>" value.
// The scheme is case-insensitive; any other scheme yields "".
func extractBearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (s *Server) unauthorized(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	Error(w, r, types.NewAppError(code, message, nil))
}
