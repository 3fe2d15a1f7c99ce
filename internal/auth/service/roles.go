package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/domain"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/store"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/slogx"
)

// KnownRoles are the roles an admin may assign.
var KnownRoles = []string{domain.RoleUser, domain.RoleAdmin, domain.RoleSuperAdmin}

// RolesService changes role assignments. A change revokes the user's
// token sessions so the next token pair comes from a login that reads the
// new roles. Access tokens already handed out keep their roles until they
// expire.
type RolesService struct {
	Store  store.Store
	Tokens *TokenService
}

// SetUserRoles replaces userID's roles with roles.
func (s *RolesService) SetUserRoles(ctx context.Context, userID string, roles []string) (domain.User, error) {
	roles = domain.NormalizeRoles(roles)
	if len(roles) == 0 {
		return domain.User{}, fmt.Errorf("%w: at least one role is required", ErrInvalidInput)
	}
	for _, r := range roles {
		if !slices.Contains(KnownRoles, r) {
			return domain.User{}, fmt.Errorf("%w: %q", ErrUnknownRole, r)
		}
	}

	var out domain.User
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().UpdateRoles(ctx, userID, roles); err != nil {
			return err
		}
		u, err := tx.Users().GetUserByID(ctx, userID)
		if err != nil {
			return err
		}
		out = u
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, err
	}

	var revoked int
	if s.Tokens != nil {
		revoked, err = s.Tokens.RevokeAllUserSessions(ctx, userID)
		if err != nil {
			return out, fmt.Errorf("revoke sessions after role change: %w", err)
		}
	}

	slogx.FromContext(ctx).Info("user roles updated",
		slog.String("user_id", userID),
		slog.Any("roles", roles),
		slog.Int("sessions_revoked", revoked),
	)
	return out, nil
}
