package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-pricing/internal/remote"
	"github.com/xenking/kart-pricing/pkg/httpmiddleware"
)

// Authenticator resolves the user owning a session token.
type Authenticator interface {
	CurrentUser(ctx context.Context, token string) (*remote.User, error)
}

// Authenticate admits requests carrying a bearer token Authorization
// header accepted by auth. The token is stored in the request context for
// calls to other services.
func Authenticate(auth Authenticator) httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
				httpmiddleware.WriteError(w, http.StatusUnauthorized, "authorization header is missing or invalid")
				return
			}

			ctx := r.Context()
			user, err := auth.CurrentUser(ctx, token)
			switch {
			case errors.Is(err, remote.ErrUnauthenticated):
				httpmiddleware.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			case err != nil:
				zctx.From(ctx).Error("Validate session", zap.Error(err))
				httpmiddleware.WriteError(w, http.StatusInternalServerError, "could not validate the session")
				return
			}

			ctx = remote.ContextWithToken(ctx, token)
			ctx = zctx.With(ctx, zap.String("user_id", user.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
