package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/domain"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/service"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/authsdk"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/httpx"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/slogx"
)

type identityKey struct{}

// IdentityFromContext returns the identity attached by RequireAuth or
// OptionalAuth.
func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	ident, ok := ctx.Value(identityKey{}).(domain.Identity)
	return ident, ok
}

func withIdentity(r *http.Request, ident domain.Identity) *http.Request {
	ctx := context.WithValue(r.Context(), identityKey{}, ident)
	ctx = httpx.WithPrincipal(ctx, ident.UserID, ident.Roles)
	ctx = slogx.With(ctx, slog.String("user_id", ident.UserID))
	return r.WithContext(ctx)
}

// Guard turns the Authenticator into request middleware.
type Guard struct {
	Auth *service.Authenticator
}

// RequireAuth rejects requests without a credential the Authenticator
// accepts. Every rejection other than rate limiting and backend outages is
// the same generic 401.
func (g *Guard) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred, ok := httpx.ExtractCredential(r)
		if !ok {
			httpx.WriteUnauthorized(w, "missing access token")
			return
		}

		ident, err := g.Auth.Authenticate(r.Context(), cred)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, withIdentity(r, ident))
	})
}

// RequireAdmin must run after RequireAuth.
func (g *Guard) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, ok := IdentityFromContext(r.Context())
		if !ok {
			httpx.WriteUnauthorized(w, "missing access token")
			return
		}
		if err := g.Auth.RequireAdmin(ident); err != nil {
			slogx.FromContext(r.Context()).Warn("admin access denied", slog.Any("roles", ident.Roles))
			authsdk.ErrAccessDenied.WriteError(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// OptionalAuth attaches an identity when the credential verifies and
// otherwise passes the request through untouched.
func (g *Guard) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred, ok := httpx.ExtractCredential(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		ident, err := g.Auth.Authenticate(r.Context(), cred)
		if err != nil {
			slogx.FromContext(r.Context()).Debug("optional auth ignored credential", slog.Any("reason", err))
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, withIdentity(r, ident))
	})
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var rl *service.RateLimitedError
	switch {
	case errors.As(err, &rl):
		// A throttled credential is still an authentication failure.
		httpx.SetRateLimitHeaders(w, rl.Result.Limit, rl.Result.RetryAt())
		httpx.WriteUnauthorized(w, "rate limited")
	case errors.Is(err, service.ErrAuthenticationFailed), errors.Is(err, service.ErrUserNotFound):
		httpx.WriteUnauthorized(w, "invalid or expired token")
	default:
		slogx.FromContext(r.Context()).Error("authentication backend error", slog.Any("error", err))
		authsdk.ErrUnavailable.WriteError(w)
	}
}

func writeRateLimited(w http.ResponseWriter, rl *service.RateLimitedError) {
	httpx.WriteRateLimited(w, rl.Result.Limit, rl.Result.RetryAt())
}
