package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/domain"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/jwtx"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/kv"
)

var alice = domain.User{ID: "user-alice", Email: "alice@example.com", Roles: []string{"user"}}

func TestCreateTokenPair(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	pair, err := e.Tokens.CreateTokenPair(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, "Bearer", pair.TokenType)
	require.Equal(t, int64(3600), pair.ExpiresIn)
	require.Equal(t, int64(30*24*3600), pair.RefreshExpiresIn)

	access, err := e.Tokens.VerifyToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	refresh, err := e.Tokens.VerifyToken(ctx, pair.RefreshToken)
	require.NoError(t, err)

	require.Equal(t, jwtx.TypeAccess, access.Type)
	require.Equal(t, jwtx.TypeRefresh, refresh.Type)
	require.Equal(t, access.SID, refresh.SID)
	require.Len(t, access.SID, 64)
	require.Equal(t, alice.ID, access.Subject)
	require.Equal(t, alice.Roles, refresh.Roles)

	stored, err := e.KV.Get(ctx, "refresh_token:"+access.SID)
	require.NoError(t, err)
	require.Equal(t, pair.RefreshToken, stored)

	ttl, err := e.KV.TTL(ctx, "refresh_token:"+access.SID)
	require.NoError(t, err)
	require.Equal(t, jwtx.DefaultRefreshTokenTTL, ttl)
}

func TestVerifyToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("expired access token", func(t *testing.T) {
		e := newEnv(t)
		pair, err := e.Tokens.CreateTokenPair(ctx, alice)
		require.NoError(t, err)

		e.Clock.Advance(time.Hour + time.Second)
		_, err = e.Tokens.VerifyToken(ctx, pair.AccessToken)
		require.ErrorIs(t, err, jwtx.ErrExpired)
	})

	t.Run("tampered signature", func(t *testing.T) {
		e := newEnv(t)
		pair, err := e.Tokens.CreateTokenPair(ctx, alice)
		require.NoError(t, err)

		tok := pair.AccessToken
		last := tok[len(tok)-1]
		repl := byte('A')
		if last == 'A' {
			repl = 'B'
		}
		_, err = e.Tokens.VerifyToken(ctx, tok[:len(tok)-1]+string(repl))
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})

	t.Run("garbage", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.Tokens.VerifyToken(ctx, "not-a-token")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})

	t.Run("foreign secret", func(t *testing.T) {
		e := newEnv(t)
		other, err := jwtx.NewHMACCodec([]byte(strings.Repeat("z", 32)), "kc-auth-test")
		require.NoError(t, err)

		tok, err := other.Sign(jwtx.NewClaims(jwtx.TypeAccess, "u", "u@example.com", "sid", nil, "", e.Clock.Now(), time.Hour))
		require.NoError(t, err)

		_, err = e.Tokens.VerifyToken(ctx, tok)
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})

	t.Run("refresh without a record", func(t *testing.T) {
		e := newEnv(t)
		tok, err := e.Codec.Sign(jwtx.NewClaims(jwtx.TypeRefresh, "u", "u@example.com", "sid-x", nil, "", e.Clock.Now(), time.Hour))
		require.NoError(t, err)

		_, err = e.Tokens.VerifyToken(ctx, tok)
		require.ErrorIs(t, err, ErrRefreshRotated)
	})
}

func TestRevokeToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("access token", func(t *testing.T) {
		e := newEnv(t)
		pair, err := e.Tokens.CreateTokenPair(ctx, alice)
		require.NoError(t, err)

		require.NoError(t, e.Tokens.RevokeToken(ctx, pair.AccessToken))
		_, err = e.Tokens.VerifyToken(ctx, pair.AccessToken)
		require.ErrorIs(t, err, ErrTokenRevoked)

		// The refresh half is a separate credential.
		_, err = e.Tokens.VerifyToken(ctx, pair.RefreshToken)
		require.NoError(t, err)
	})

	t.Run("refresh token drops the record", func(t *testing.T) {
		e := newEnv(t)
		pair, err := e.Tokens.CreateTokenPair(ctx, alice)
		require.NoError(t, err)

		require.NoError(t, e.Tokens.RevokeToken(ctx, pair.RefreshToken))
		_, err = e.Tokens.RefreshAccessToken(ctx, pair.RefreshToken)
		require.ErrorIs(t, err, ErrTokenRevoked)

		keys, err := e.KV.Keys(ctx, "refresh_token:*")
		require.NoError(t, err)
		require.Empty(t, keys)
	})

	t.Run("blacklist entry lives as long as the token", func(t *testing.T) {
		e := newEnv(t)
		pair, err := e.Tokens.CreateTokenPair(ctx, alice)
		require.NoError(t, err)

		e.Clock.Advance(20 * time.Minute)
		require.NoError(t, e.Tokens.RevokeToken(ctx, pair.AccessToken))

		keys, err := e.KV.Keys(ctx, "blacklist:*")
		require.NoError(t, err)
		require.Len(t, keys, 1)

		ttl, err := e.KV.TTL(ctx, keys[0])
		require.NoError(t, err)
		require.Equal(t, 40*time.Minute, ttl)
	})

	t.Run("unverifiable input is ignored", func(t *testing.T) {
		e := newEnv(t)
		require.NoError(t, e.Tokens.RevokeToken(ctx, "garbage"))
		require.NoError(t, e.Tokens.RevokeToken(ctx, ""))
	})
}

func TestRefreshAccessToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("access token is the wrong type", func(t *testing.T) {
		e := newEnv(t)
		pair, err := e.Tokens.CreateTokenPair(ctx, alice)
		require.NoError(t, err)

		_, err = e.Tokens.RefreshAccessToken(ctx, pair.AccessToken)
		require.ErrorIs(t, err, ErrWrongTokenType)
	})

	t.Run("rotation invalidates the presented token", func(t *testing.T) {
		e := newEnv(t)
		pair, err := e.Tokens.CreateTokenPair(ctx, alice)
		require.NoError(t, err)

		res, err := e.Tokens.RefreshAccessToken(ctx, pair.RefreshToken)
		require.NoError(t, err)
		require.NotEmpty(t, res.RefreshToken)
		require.NotEqual(t, pair.RefreshToken, res.RefreshToken)

		_, err = e.Tokens.RefreshAccessToken(ctx, pair.RefreshToken)
		require.Error(t, err)
		require.True(t, IsTokenFailure(err))

		next, err := e.Tokens.RefreshAccessToken(ctx, res.RefreshToken)
		require.NoError(t, err)

		orig, err := e.Tokens.VerifyToken(ctx, pair.AccessToken)
		require.NoError(t, err)
		fresh, err := e.Tokens.VerifyToken(ctx, next.AccessToken)
		require.NoError(t, err)
		require.Equal(t, orig.SID, fresh.SID)
		require.Equal(t, orig.Roles, fresh.Roles)
	})

	t.Run("without rotation the refresh token is reusable", func(t *testing.T) {
		e := newEnv(t)
		e.Tokens.RotateRefresh = false
		pair, err := e.Tokens.CreateTokenPair(ctx, alice)
		require.NoError(t, err)

		for range 2 {
			res, err := e.Tokens.RefreshAccessToken(ctx, pair.RefreshToken)
			require.NoError(t, err)
			require.Empty(t, res.RefreshToken)
			require.Equal(t, int64(3600), res.ExpiresIn)
		}
	})

	t.Run("rotation keeps the login deadline", func(t *testing.T) {
		e := newEnv(t)
		pair, err := e.Tokens.CreateTokenPair(ctx, alice)
		require.NoError(t, err)

		tok := pair.RefreshToken
		for _, left := range []time.Duration{20 * 24 * time.Hour, 10 * 24 * time.Hour} {
			e.Clock.Advance(10 * 24 * time.Hour)
			res, err := e.Tokens.RefreshAccessToken(ctx, tok)
			require.NoError(t, err)
			require.Equal(t, int64(left.Seconds()), res.RefreshExpiresIn)

			ttl, err := e.KV.TTL(ctx, "refresh_token:"+sidOf(t, e, res.AccessToken))
			require.NoError(t, err)
			require.Equal(t, left, ttl)
			tok = res.RefreshToken
		}

		e.Clock.Advance(10*24*time.Hour + time.Second)
		_, err = e.Tokens.RefreshAccessToken(ctx, tok)
		require.Error(t, err)
		require.True(t, IsTokenFailure(err))
	})

	t.Run("expired refresh token", func(t *testing.T) {
		e := newEnv(t)
		pair, err := e.Tokens.CreateTokenPair(ctx, alice)
		require.NoError(t, err)

		e.Clock.Advance(jwtx.DefaultRefreshTokenTTL + time.Second)
		_, err = e.Tokens.RefreshAccessToken(ctx, pair.RefreshToken)
		require.Error(t, err)
		require.True(t, IsTokenFailure(err))
	})
}

func TestUserSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)

	bob := domain.User{ID: "user-bob", Email: "bob@example.com", Roles: []string{"user"}}

	p1, err := e.Tokens.CreateTokenPair(ctx, alice)
	require.NoError(t, err)
	p2, err := e.Tokens.CreateTokenPair(ctx, alice)
	require.NoError(t, err)
	_, err = e.Tokens.CreateTokenPair(ctx, bob)
	require.NoError(t, err)

	sessions, err := e.Tokens.GetUserActiveSessions(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	// Revoking one session leaves the other refreshable.
	c1, err := e.Tokens.VerifyToken(ctx, p1.RefreshToken)
	require.NoError(t, err)
	ok, err := e.Tokens.RevokeUserSession(ctx, c1.SID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = e.Tokens.RefreshAccessToken(ctx, p1.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshRotated)
	_, err = e.Tokens.RefreshAccessToken(ctx, p2.RefreshToken)
	require.NoError(t, err)

	ok, err = e.Tokens.RevokeUserSession(ctx, c1.SID)
	require.NoError(t, err)
	require.False(t, ok)

	n, err := e.Tokens.RevokeAllUserSessions(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	sessions, err = e.Tokens.GetUserActiveSessions(ctx, alice.ID)
	require.NoError(t, err)
	require.Empty(t, sessions)

	sessions, err = e.Tokens.GetUserActiveSessions(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

// repeatingKeys answers Keys with every match twice, the way a Redis SCAN
// may during a rehash.
type repeatingKeys struct{ *kv.Memory }

func (r repeatingKeys) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := r.Memory.Keys(ctx, pattern)
	return append(keys, keys...), err
}

func TestUserSessionsListedOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	e.Tokens.KV = repeatingKeys{Memory: e.KV}

	for range 2 {
		_, err := e.Tokens.CreateTokenPair(ctx, alice)
		require.NoError(t, err)
	}

	sessions, err := e.Tokens.GetUserActiveSessions(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	n, err := e.Tokens.RevokeAllUserSessions(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func sidOf(t *testing.T, e *testEnv, token string) string {
	t.Helper()
	claims, err := e.Codec.Verify(token)
	require.NoError(t, err)
	return claims.SID
}
