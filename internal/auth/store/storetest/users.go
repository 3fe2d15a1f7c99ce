// Package storetest holds behaviour checks shared by every store driver.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/domain"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/store"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/idx"
)

// RunUsers runs the user repository checks against a migrated, empty store.
func RunUsers(t *testing.T, s store.Store) {
	ctx := context.Background()

	empty, err := s.Users().IsEmpty(ctx)
	require.NoError(t, err)
	require.True(t, empty)

	alice := domain.User{
		ID:           idx.New().String(),
		Email:        "alice@example.com",
		DisplayName:  "Alice",
		PasswordHash: "$argon2id$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA",
		Roles:        []string{domain.RoleUser, domain.RoleAdmin},
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}

	t.Run("create and fetch", func(t *testing.T) {
		require.NoError(t, s.Users().CreateUser(ctx, alice))

		got, err := s.Users().GetUserByID(ctx, alice.ID)
		require.NoError(t, err)
		require.Equal(t, alice.Email, got.Email)
		require.Equal(t, alice.DisplayName, got.DisplayName)
		require.Equal(t, alice.PasswordHash, got.PasswordHash)
		require.Equal(t, alice.Roles, got.Roles)
		require.Empty(t, got.ProviderSubject)
		require.WithinDuration(t, alice.CreatedAt, got.CreatedAt, time.Second)

		byEmail, err := s.Users().GetUserByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		require.Equal(t, alice.ID, byEmail.ID)

		empty, err := s.Users().IsEmpty(ctx)
		require.NoError(t, err)
		require.False(t, empty)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := s.Users().GetUserByID(ctx, "nope")
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.Users().GetUserByEmail(ctx, "nobody@example.com")
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.Users().GetUserByProviderSubject(ctx, "")
		require.ErrorIs(t, err, store.ErrNotFound)

		require.ErrorIs(t, s.Users().UpdateRoles(ctx, "nope", []string{"user"}), store.ErrNotFound)
	})

	t.Run("duplicate email", func(t *testing.T) {
		dup := alice
		dup.ID = idx.New().String()
		require.ErrorIs(t, s.Users().CreateUser(ctx, dup), store.ErrAlreadyExists)
	})

	t.Run("provider subject", func(t *testing.T) {
		bob := domain.User{
			ID:              idx.New().String(),
			Email:           "bob@example.com",
			Roles:           domain.DefaultRoles,
			ProviderSubject: "google-123",
		}
		require.NoError(t, s.Users().CreateUser(ctx, bob))

		got, err := s.Users().GetUserByProviderSubject(ctx, "google-123")
		require.NoError(t, err)
		require.Equal(t, bob.ID, got.ID)
		require.False(t, got.HasPassword())

		require.NoError(t, s.Users().LinkProviderSubject(ctx, alice.ID, "google-456"))
		got, err = s.Users().GetUserByProviderSubject(ctx, "google-456")
		require.NoError(t, err)
		require.Equal(t, alice.ID, got.ID)

		require.ErrorIs(t, s.Users().LinkProviderSubject(ctx, alice.ID, "google-123"), store.ErrAlreadyExists)
	})

	t.Run("update roles", func(t *testing.T) {
		require.NoError(t, s.Users().UpdateRoles(ctx, alice.ID, []string{"user"}))
		got, err := s.Users().GetUserByID(ctx, alice.ID)
		require.NoError(t, err)
		require.Equal(t, []string{"user"}, got.Roles)
	})

	t.Run("transaction rollback", func(t *testing.T) {
		carol := domain.User{ID: idx.New().String(), Email: "carol@example.com", Roles: domain.DefaultRoles}

		err := s.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.Users().CreateUser(ctx, carol); err != nil {
				return err
			}
			return store.ErrAlreadyExists
		})
		require.ErrorIs(t, err, store.ErrAlreadyExists)

		_, err = s.Users().GetUserByEmail(ctx, carol.Email)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("transaction commit", func(t *testing.T) {
		dave := domain.User{ID: idx.New().String(), Email: "dave@example.com", Roles: domain.DefaultRoles}

		require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
			return tx.Users().CreateUser(ctx, dave)
		}))

		_, err := s.Users().GetUserByEmail(ctx, dave.Email)
		require.NoError(t, err)
	})

	require.NoError(t, s.Ping(ctx))
}
