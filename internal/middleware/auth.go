package middleware

import (
	"context"
	"net/http"

	"github.com/zhouzirui/z-social/backend/internal/auth"
	"github.com/zhouzirui/z-social/backend/internal/model/user"
	"github.com/zhouzirui/z-social/backend/pkg/utils"
)

// TokenVerifier resolves a credential to a user.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (user.User, error)
}

type userKey struct{}

// RequireUser rejects requests without a valid bearer token with 401 and
// stores the resolved user in the request context.
func RequireUser(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				utils.RespondError(w, http.StatusUnauthorized, "authentication credentials were not provided")
				return
			}

			u, err := verifier.Verify(r.Context(), token)
			if err != nil {
				utils.RespondError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}

// WithUser returns a context carrying u.
func WithUser(ctx context.Context, u user.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the user stored by RequireUser.
func UserFromContext(ctx context.Context) (user.User, bool) {
	u, ok := ctx.Value(userKey{}).(user.User)
	return u, ok
}
