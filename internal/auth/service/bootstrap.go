package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/domain"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/store"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/idx"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/slogx"
)

var ErrBootstrapAlready = errors.New("system already bootstrapped")

// BootstrapService seeds the first administrator so the admin endpoints
// are reachable on a fresh deployment.
type BootstrapService struct {
	Users *UserService
}

// IsBootstrapped reports whether any user exists.
func (s *BootstrapService) IsBootstrapped(ctx context.Context) (bool, error) {
	empty, err := s.Users.Store.Users().IsEmpty(ctx)
	if err != nil {
		return false, err
	}
	return !empty, nil
}

// EnsureAdmin creates a super admin with email and password when the user
// table is empty. On a populated table it returns ErrBootstrapAlready and
// changes nothing.
func (s *BootstrapService) EnsureAdmin(ctx context.Context, email, password string) (domain.User, error) {
	l := slogx.FromContext(ctx)

	if done, err := s.IsBootstrapped(ctx); err != nil {
		return domain.User{}, err
	} else if done {
		return domain.User{}, ErrBootstrapAlready
	}

	email, err := NormalizeEmail(email)
	if err != nil {
		return domain.User{}, err
	}
	if len(password) < MinPasswordLen {
		return domain.User{}, fmt.Errorf("%w: bootstrap password must be at least %d characters", ErrInvalidInput, MinPasswordLen)
	}

	hash, err := s.Users.Hasher.Hash(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.Users.now()
	admin := domain.User{
		ID:           idx.New().String(),
		Email:        email,
		DisplayName:  "Administrator",
		PasswordHash: hash,
		Roles:        []string{domain.RoleUser, domain.RoleSuperAdmin},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.Users.Store.WithTx(ctx, func(tx store.Tx) error {
		// Re-check inside the transaction so two instances starting at once
		// cannot both seed.
		empty, err := tx.Users().IsEmpty(ctx)
		if err != nil {
			return err
		}
		if !empty {
			return ErrBootstrapAlready
		}
		return tx.Users().CreateUser(ctx, admin)
	})
	if err != nil {
		return domain.User{}, err
	}

	l.Info("bootstrapped admin user",
		slog.String("user_id", admin.ID),
		slog.String("email", slogx.RedactEmail(email)),
	)
	return admin, nil
}
