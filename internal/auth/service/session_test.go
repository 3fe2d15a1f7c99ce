package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/domain"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/slogx"
)

func TestSessionRegistry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		e := newEnv(t)
		id, err := e.Sessions.CreateSession(ctx, "u1", "u1@example.com", domain.SessionMeta{
			Username:  "u1",
			IPAddress: "10.0.0.1",
			UserAgent: "test",
		})
		require.NoError(t, err)
		require.Len(t, id, 64)

		sess, err := e.Sessions.GetSession(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, sess)
		require.Equal(t, "u1", sess.UserID)
		require.Equal(t, "10.0.0.1", sess.IPAddress)
		require.True(t, sess.LoginTime.Equal(e.Clock.Now()))

		missing, err := e.Sessions.GetSession(ctx, "nope")
		require.NoError(t, err)
		require.Nil(t, missing)
	})

	t.Run("activity slides the expiry", func(t *testing.T) {
		e := newEnv(t)
		id, err := e.Sessions.CreateSession(ctx, "u1", "u1@example.com", domain.SessionMeta{})
		require.NoError(t, err)

		e.Clock.Advance(23 * time.Hour)
		sess, err := e.Sessions.GetSession(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, sess)
		require.True(t, sess.LastActivity.Equal(e.Clock.Now()))

		ttl, err := e.KV.TTL(ctx, "session:"+id)
		require.NoError(t, err)
		require.Equal(t, DefaultSessionTTL, ttl)

		e.Clock.Advance(23 * time.Hour)
		sess, err = e.Sessions.GetSession(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, sess)

		e.Clock.Advance(DefaultSessionTTL)
		sess, err = e.Sessions.GetSession(ctx, id)
		require.NoError(t, err)
		require.Nil(t, sess)
	})

	t.Run("delete one", func(t *testing.T) {
		e := newEnv(t)
		a, err := e.Sessions.CreateSession(ctx, "u1", "u1@example.com", domain.SessionMeta{})
		require.NoError(t, err)
		b, err := e.Sessions.CreateSession(ctx, "u1", "u1@example.com", domain.SessionMeta{})
		require.NoError(t, err)

		ok, err := e.Sessions.DeleteSession(ctx, a)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = e.Sessions.DeleteSession(ctx, a)
		require.NoError(t, err)
		require.False(t, ok)

		list, err := e.Sessions.GetUserSessions(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.Equal(t, b, list[0].ID)
	})

	t.Run("delete all then list is empty", func(t *testing.T) {
		e := newEnv(t)
		for range 3 {
			_, err := e.Sessions.CreateSession(ctx, "u1", "u1@example.com", domain.SessionMeta{})
			require.NoError(t, err)
		}
		other, err := e.Sessions.CreateSession(ctx, "u2", "u2@example.com", domain.SessionMeta{})
		require.NoError(t, err)

		n, err := e.Sessions.DeleteAllUserSessions(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, 3, n)

		list, err := e.Sessions.GetUserSessions(ctx, "u1")
		require.NoError(t, err)
		require.Empty(t, list)

		sess, err := e.Sessions.GetSession(ctx, other)
		require.NoError(t, err)
		require.NotNil(t, sess)

		n, err = e.Sessions.DeleteAllUserSessions(ctx, "u1")
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("active session stays indexed", func(t *testing.T) {
		e := newEnv(t)
		id, err := e.Sessions.CreateSession(ctx, "u1", "u1@example.com", domain.SessionMeta{})
		require.NoError(t, err)

		for range 3 {
			e.Clock.Advance(20 * time.Hour)
			sess, err := e.Sessions.GetSession(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, sess)
		}

		list, err := e.Sessions.GetUserSessions(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 1)

		n, err := e.Sessions.DeleteAllUserSessions(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, 1, n)

		sess, err := e.Sessions.GetSession(ctx, id)
		require.NoError(t, err)
		require.Nil(t, sess)
	})

	t.Run("clean drops dangling ids", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.Sessions.CreateSession(ctx, "u1", "u1@example.com", domain.SessionMeta{})
		require.NoError(t, err)

		e.Clock.Advance(12 * time.Hour)
		live, err := e.Sessions.CreateSession(ctx, "u1", "u1@example.com", domain.SessionMeta{})
		require.NoError(t, err)

		e.Clock.Advance(13 * time.Hour)
		n, err := e.Sessions.CleanExpiredSessions(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, 1, n)

		ids, err := e.Sessions.index(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, []string{live}, ids)

		n, err = e.Sessions.CleanExpiredSessions(ctx, "u1")
		require.NoError(t, err)
		require.Zero(t, n)
	})
}

func TestHousekeepingSweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)

	for _, u := range []string{"u1", "u2"} {
		_, err := e.Sessions.CreateSession(ctx, u, u+"@example.com", domain.SessionMeta{})
		require.NoError(t, err)
	}
	e.Clock.Advance(12 * time.Hour)
	_, err := e.Sessions.CreateSession(ctx, "u1", "u1@example.com", domain.SessionMeta{})
	require.NoError(t, err)
	e.Clock.Advance(13 * time.Hour)

	hk := NewHousekeepingService(e.Sessions, slogx.Discard(), time.Minute)
	require.Equal(t, 1, hk.Sweep(ctx))

	users, err := e.Sessions.IndexedUsers(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, users)
}
