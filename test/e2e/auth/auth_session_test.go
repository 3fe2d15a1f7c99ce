package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/authsdk"
)

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	svc := startService(t, testConfig(t))

	health, err := svc.client.GetLiveness(t.Context())
	require.NoError(t, err)
	require.Equal(t, "ok", health.Status)

	health, err = svc.client.GetReadiness(t.Context())
	require.NoError(t, err)
	require.Equal(t, "ok", health.Status)
	require.NotNil(t, health.Checks)
	require.Equal(t, "ok", health.Checks.Signer)
}

// TestLoginRefreshRetry covers the client-side lifecycle: proactive refresh
// ahead of expiry and the single retry after a 401.
func TestLoginRefreshRetry(t *testing.T) {
	t.Parallel()
	svc := startService(t, testConfig(t))
	ctx := t.Context()

	svc.register(t, "alice@example.com")

	session, err := svc.client.AuthenticateWithPassword(ctx, "alice@example.com", userPassword)
	require.NoError(t, err)

	me, err := session.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", me.Email)
	require.Equal(t, "session", me.Source)
	sid := me.SessionID

	t.Run("refresh after server revokes access token", func(t *testing.T) {
		old := session.AccessToken()
		oldRefresh := session.RefreshToken()
		require.NoError(t, svc.client.RevokeToken(ctx, old))

		me, err := session.Me(ctx)
		require.NoError(t, err)
		require.NotEqual(t, old, session.AccessToken())
		require.NotEqual(t, oldRefresh, session.RefreshToken(), "refresh token rotates")
		require.Equal(t, sid, me.SessionID, "rotation keeps the session")

		_, err = svc.client.Refresh(ctx, oldRefresh)
		assertUnauthorized(t, err, "rotated refresh token")
	})

	t.Run("proactive refresh", func(t *testing.T) {
		// A skew longer than the token lifetime makes every call refresh first.
		eager := *svc.client
		eager.RefreshSkew = 2 * time.Hour
		s := eager.NewSessionFromTokens(session.AccessToken(), session.RefreshToken(), 3600)

		before := s.AccessToken()
		_, err := s.Me(ctx)
		require.NoError(t, err)
		require.NotEqual(t, before, s.AccessToken())
	})

	t.Run("forced refresh", func(t *testing.T) {
		s, err := svc.client.AuthenticateWithPassword(ctx, "alice@example.com", userPassword)
		require.NoError(t, err)

		before := s.AccessToken()
		require.NoError(t, s.Refresh(ctx))
		require.NotEqual(t, before, s.AccessToken())
	})
}

func TestIndependentSessions(t *testing.T) {
	t.Parallel()
	svc := startService(t, testConfig(t))
	ctx := t.Context()

	svc.register(t, "bob@example.com")

	phone, err := svc.client.AuthenticateWithPassword(ctx, "bob@example.com", userPassword)
	require.NoError(t, err)
	laptop, err := svc.client.AuthenticateWithPassword(ctx, "bob@example.com", userPassword)
	require.NoError(t, err)

	sessions, err := laptop.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 3, "register and two logins")

	require.NoError(t, phone.Logout(ctx))

	_, err = phone.Me(ctx)
	assertUnauthorized(t, err, "logged out session")

	me, err := laptop.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, "bob@example.com", me.Email)

	sessions, err = laptop.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	// Ending the laptop's own refresh token leaves its access token valid
	// until expiry, but nothing can renew it.
	require.NoError(t, laptop.Revoke(ctx))
	_, err = laptop.Me(ctx)
	require.NoError(t, err)
	require.ErrorIs(t, laptop.Refresh(ctx), authsdk.ErrInvalidGrant)
}

func TestAnonymousFeed(t *testing.T) {
	t.Parallel()
	svc := startService(t, testConfig(t))
	ctx := t.Context()

	info, err := svc.client.FeedInfo(ctx, "")
	require.NoError(t, err)
	require.False(t, info.Authenticated)

	info, err = svc.client.FeedInfo(ctx, "garbage")
	require.NoError(t, err)
	require.False(t, info.Authenticated, "bad credentials degrade to anonymous")

	session := svc.register(t, "carol@example.com")
	info, err = session.FeedInfo(ctx)
	require.NoError(t, err)
	require.True(t, info.Authenticated)
	require.Equal(t, "session", info.Source)
}

// TestAccessExpiry lets an access token run out on the server clock: the
// protected call fails with the generic 401 until the refresh token mints
// a new one.
func TestAccessExpiry(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.AccessTTL = time.Second
	svc := startService(t, cfg)
	ctx := t.Context()

	tok, err := svc.client.Register(ctx, authsdk.RegisterRequest{Email: "ivy@example.com", Password: userPassword})
	require.NoError(t, err)
	require.EqualValues(t, 1, tok.ExpiresIn)

	// No refresh token, so the SDK surfaces the 401 instead of retrying.
	bare := func(access string) *authsdk.Session {
		return svc.client.NewSessionFromTokens(access, "", 3600)
	}

	_, err = bare(tok.AccessToken).Me(ctx)
	require.NoError(t, err)

	time.Sleep(2100 * time.Millisecond)

	_, err = bare(tok.AccessToken).Me(ctx)
	require.ErrorIs(t, err, authsdk.ErrInvalidToken)

	next, err := svc.client.Refresh(ctx, tok.RefreshToken)
	require.NoError(t, err)

	me, err := bare(next.AccessToken).Me(ctx)
	require.NoError(t, err)
	require.Equal(t, "ivy@example.com", me.Email)
}
