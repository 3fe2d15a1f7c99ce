package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/domain"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/idp"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/metrics"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/store"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/cryptox"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/jwtx"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/slogx"
)

// rateIdentifierLen is how much of the credential fingerprint keys the
// per-credential rate limit.
const rateIdentifierLen = 16

// ProviderSubjectLookup resolves an identity-provider subject to a local
// user.
type ProviderSubjectLookup interface {
	GetUserByProviderSubject(ctx context.Context, subject string) (domain.User, error)
}

// Authenticator decides whether a raw credential identifies a user. A
// self-issued access token is tried first; only when it fails is the
// credential handed to the external provider.
type Authenticator struct {
	Tokens   *TokenService
	Limiter  *RateLimiter
	External idp.Verifier
	Users    ProviderSubjectLookup

	// Policy is the per-credential budget; zero means APIAccessPolicy.
	Policy RatePolicy

	// AdminRoles pass RequireAdmin; nil means domain.AdminRoles.
	AdminRoles []string

	Metrics *metrics.Metrics
}

func (a *Authenticator) policy() RatePolicy {
	if a.Policy.Requests > 0 {
		return a.Policy
	}
	return APIAccessPolicy
}

func (a *Authenticator) adminRoles() []string {
	if a.AdminRoles != nil {
		return a.AdminRoles
	}
	return domain.AdminRoles
}

// Authenticate runs the rate gate, then the session path, then the
// external provider path. Expected rejections come back as
// ErrAuthenticationFailed or ErrUserNotFound with the reason logged; a
// store or cache outage on the session path is returned wrapped so the
// caller can tell it apart.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (domain.Identity, error) {
	l := slogx.FromContext(ctx)

	if credential == "" {
		a.Metrics.Authentication("none", "missing")
		return domain.Identity{}, ErrAuthenticationFailed
	}

	// 1. Rate gate, keyed by credential so no token is stored in clear.
	if a.Limiter != nil {
		id := cryptox.FingerprintToken(credential)[:rateIdentifierLen]
		if err := a.Limiter.Allow(ctx, id, ActionAPIAccess, a.policy()); err != nil {
			var rl *RateLimitedError
			if errors.As(err, &rl) {
				a.Metrics.Authentication("none", "rate_limited")
			}
			return domain.Identity{}, err
		}
	}

	// 2. Self-issued access token.
	ident, primaryErr := a.verifySession(ctx, credential)
	if primaryErr == nil {
		a.Metrics.Authentication(string(domain.VerifiedViaSession), "ok")
		return ident, nil
	}

	// 3. External provider token.
	ident, fallbackErr := a.verifyExternal(ctx, credential)
	if fallbackErr == nil {
		a.Metrics.Authentication(string(domain.VerifiedViaExternalProvider), "ok")
		return ident, nil
	}

	l.Info("authentication failed",
		slog.String("credential", slogx.RedactToken(credential)),
		slog.String("session_reason", primaryErr.Error()),
		slog.String("provider_reason", fallbackErr.Error()),
	)

	switch {
	case errors.Is(fallbackErr, ErrUserNotFound):
		a.Metrics.Authentication(string(domain.VerifiedViaExternalProvider), "unknown_user")
		return domain.Identity{}, ErrUserNotFound
	case !IsTokenFailure(primaryErr):
		a.Metrics.Authentication(string(domain.VerifiedViaSession), "error")
		return domain.Identity{}, fmt.Errorf("authenticate: %w", primaryErr)
	case !errors.Is(fallbackErr, idp.ErrInvalidToken) && !errors.Is(fallbackErr, idp.ErrDisabled):
		a.Metrics.Authentication(string(domain.VerifiedViaExternalProvider), "error")
		return domain.Identity{}, fmt.Errorf("authenticate: %w", fallbackErr)
	}

	a.Metrics.Authentication("none", "failed")
	return domain.Identity{}, ErrAuthenticationFailed
}

func (a *Authenticator) verifySession(ctx context.Context, credential string) (domain.Identity, error) {
	claims, err := a.Tokens.VerifyToken(ctx, credential)
	if err != nil {
		return domain.Identity{}, err
	}
	if claims.Type != jwtx.TypeAccess {
		return domain.Identity{}, ErrWrongTokenType
	}
	return domain.Identity{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Roles:     claims.Roles,
		SessionID: claims.SID,
		TokenType: claims.Type,
		Source:    domain.VerifiedViaSession,
	}, nil
}

func (a *Authenticator) verifyExternal(ctx context.Context, credential string) (domain.Identity, error) {
	if a.External == nil || a.Users == nil {
		return domain.Identity{}, idp.ErrDisabled
	}

	ext, err := a.External.VerifyExternalToken(ctx, credential)
	if err != nil {
		return domain.Identity{}, err
	}

	u, err := a.Users.GetUserByProviderSubject(ctx, ext.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Identity{}, ErrUserNotFound
	}
	if err != nil {
		return domain.Identity{}, fmt.Errorf("lookup provider subject: %w", err)
	}

	return domain.Identity{
		UserID: u.ID,
		Email:  u.Email,
		Roles:  u.Roles,
		Source: domain.VerifiedViaExternalProvider,
	}, nil
}

// RequireAdmin checks the verified roles only.
func (a *Authenticator) RequireAdmin(ident domain.Identity) error {
	if !ident.IsAdmin(a.adminRoles()) {
		return ErrAdminAccessDenied
	}
	return nil
}
