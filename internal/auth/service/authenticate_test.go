package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/domain"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/idp"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/kv"
)

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("self-issued access token", func(t *testing.T) {
		e := newEnv(t)
		u := e.user(t, "alice@example.com")
		pair, err := e.Tokens.CreateTokenPair(ctx, u)
		require.NoError(t, err)

		ident, err := e.Auth.Authenticate(ctx, pair.AccessToken)
		require.NoError(t, err)
		require.Equal(t, domain.VerifiedViaSession, ident.Source)
		require.Equal(t, u.ID, ident.UserID)
		require.Equal(t, u.Roles, ident.Roles)
		require.NotEmpty(t, ident.SessionID)
		require.Zero(t, e.External.calls, "provider not consulted")
	})

	t.Run("refresh token is not accepted", func(t *testing.T) {
		e := newEnv(t)
		pair, err := e.Tokens.CreateTokenPair(ctx, alice)
		require.NoError(t, err)

		_, err = e.Auth.Authenticate(ctx, pair.RefreshToken)
		require.ErrorIs(t, err, ErrAuthenticationFailed)
	})

	t.Run("provider token for a linked user", func(t *testing.T) {
		e := newEnv(t)
		u, err := e.Users.SignInWithProvider(ctx, idp.ExternalIdentity{
			Subject: "google-123", Email: "carol@example.com", EmailVerified: true,
		})
		require.NoError(t, err)
		e.External.add("provider-token", idp.ExternalIdentity{Subject: "google-123", Email: "carol@example.com"})

		ident, err := e.Auth.Authenticate(ctx, "provider-token")
		require.NoError(t, err)
		require.Equal(t, domain.VerifiedViaExternalProvider, ident.Source)
		require.Equal(t, u.ID, ident.UserID)
		require.Empty(t, ident.SessionID)
	})

	t.Run("provider token for an unknown subject", func(t *testing.T) {
		e := newEnv(t)
		e.External.add("provider-token", idp.ExternalIdentity{Subject: "google-999"})

		_, err := e.Auth.Authenticate(ctx, "provider-token")
		require.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("both paths fail", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.Auth.Authenticate(ctx, "nonsense")
		require.ErrorIs(t, err, ErrAuthenticationFailed)
		require.Equal(t, 1, e.External.calls)
	})

	t.Run("no provider configured", func(t *testing.T) {
		e := newEnv(t)
		e.Auth.External = idp.Disabled{}
		_, err := e.Auth.Authenticate(ctx, "nonsense")
		require.ErrorIs(t, err, ErrAuthenticationFailed)
	})

	t.Run("expired access token", func(t *testing.T) {
		e := newEnv(t)
		pair, err := e.Tokens.CreateTokenPair(ctx, alice)
		require.NoError(t, err)

		e.Clock.Advance(2 * time.Hour)
		_, err = e.Auth.Authenticate(ctx, pair.AccessToken)
		require.ErrorIs(t, err, ErrAuthenticationFailed)
	})

	t.Run("rate gate", func(t *testing.T) {
		e := newEnv(t)
		e.Auth.Policy = RatePolicy{Requests: 2, Window: time.Minute, Block: 5 * time.Minute}
		pair, err := e.Tokens.CreateTokenPair(ctx, alice)
		require.NoError(t, err)

		for range 2 {
			_, err := e.Auth.Authenticate(ctx, pair.AccessToken)
			require.NoError(t, err)
		}

		_, err = e.Auth.Authenticate(ctx, pair.AccessToken)
		var rl *RateLimitedError
		require.True(t, errors.As(err, &rl))
		require.Equal(t, ActionAPIAccess, rl.Action)
		require.Equal(t, e.Clock.Now().Add(5*time.Minute), rl.Result.BlockExpiresAt)

		// A different credential has its own budget.
		other, err := e.Tokens.CreateTokenPair(ctx, alice)
		require.NoError(t, err)
		_, err = e.Auth.Authenticate(ctx, other.AccessToken)
		require.NoError(t, err)
	})

	t.Run("store outage is not reported as a bad token", func(t *testing.T) {
		e := newEnv(t)
		pair, err := e.Tokens.CreateTokenPair(ctx, alice)
		require.NoError(t, err)

		e.Tokens.KV = brokenKV{Store: e.KV}
		e.Auth.Limiter = nil

		_, err = e.Auth.Authenticate(ctx, pair.AccessToken)
		require.Error(t, err)
		require.ErrorIs(t, err, errKVDown)
		require.NotErrorIs(t, err, ErrAuthenticationFailed)
	})

	t.Run("empty credential", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.Auth.Authenticate(ctx, "")
		require.ErrorIs(t, err, ErrAuthenticationFailed)
	})
}

func TestRequireAdmin(t *testing.T) {
	t.Parallel()
	a := &Authenticator{}

	// The email is never consulted.
	err := a.RequireAdmin(domain.Identity{Email: "admin@example.com", Roles: []string{"user"}})
	require.ErrorIs(t, err, ErrAdminAccessDenied)

	require.NoError(t, a.RequireAdmin(domain.Identity{Roles: []string{"user", "admin"}}))
	require.NoError(t, a.RequireAdmin(domain.Identity{Roles: []string{"super_admin"}}))

	custom := &Authenticator{AdminRoles: []string{"moderator"}}
	require.ErrorIs(t, custom.RequireAdmin(domain.Identity{Roles: []string{"admin"}}), ErrAdminAccessDenied)
	require.NoError(t, custom.RequireAdmin(domain.Identity{Roles: []string{"moderator"}}))
}

var errKVDown = errors.New("kv down")

type brokenKV struct{ kv.Store }

func (brokenKV) Exists(context.Context, string) (bool, error) { return false, errKVDown }
