package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/domain"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/idp"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/store"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/cryptox"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/idx"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/slogx"
)

const (
	MinPasswordLen    = 8
	MaxPasswordLen    = 256
	MaxDisplayNameLen = 100
)

type UserService struct {
	Store  store.Store
	Hasher *cryptox.PasswordHasher
	Now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func (s *UserService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// NormalizeEmail trims and lower-cases an address and checks its syntax.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: email", ErrInvalidInput)
	}
	return email, nil
}

// GetUserByID fetches a user by id.
func (s *UserService) GetUserByID(ctx context.Context, userID string) (domain.User, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrUserNotFound
	}
	return u, err
}

// GetUserByProviderSubject satisfies ProviderSubjectLookup.
func (s *UserService) GetUserByProviderSubject(ctx context.Context, subject string) (domain.User, error) {
	return s.Store.Users().GetUserByProviderSubject(ctx, subject)
}

// Register creates a password user with the default roles.
func (s *UserService) Register(ctx context.Context, email, password, name string) (domain.User, error) {
	l := slogx.FromContext(ctx)

	email, err := NormalizeEmail(email)
	if err != nil {
		return domain.User{}, err
	}
	if n := utf8.RuneCountInString(password); n < MinPasswordLen || n > MaxPasswordLen {
		return domain.User{}, fmt.Errorf("%w: password must be %d to %d characters", ErrInvalidInput, MinPasswordLen, MaxPasswordLen)
	}
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > MaxDisplayNameLen {
		return domain.User{}, fmt.Errorf("%w: name too long", ErrInvalidInput)
	}

	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	u := domain.User{
		ID:           idx.New().String(),
		Email:        email,
		DisplayName:  name,
		PasswordHash: hash,
		Roles:        append([]string(nil), domain.DefaultRoles...),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Store.Users().CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.User{}, ErrEmailTaken
		}
		return domain.User{}, err
	}

	l.Info("user registered",
		slog.String("user_id", u.ID),
		slog.String("email", slogx.RedactEmail(email)),
	)
	return u, nil
}

// Login checks a password. Unknown emails and provider-only accounts still
// pay for one hash verification so response time does not reveal which
// addresses exist.
func (s *UserService) Login(ctx context.Context, email, password string) (domain.User, error) {
	l := slogx.FromContext(ctx)

	email, err := NormalizeEmail(email)
	if err != nil {
		return domain.User{}, ErrInvalidCredentials
	}

	u, err := s.Store.Users().GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.burnVerify(password)
		return domain.User{}, ErrInvalidCredentials
	case err != nil:
		return domain.User{}, err
	}

	if !u.HasPassword() {
		s.burnVerify(password)
		return domain.User{}, ErrInvalidCredentials
	}

	if err := s.Hasher.Verify(password, u.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			l.Error("stored password hash unreadable", slog.String("user_id", u.ID), slog.Any("error", err))
		}
		return domain.User{}, ErrInvalidCredentials
	}
	return u, nil
}

func (s *UserService) burnVerify(password string) {
	s.dummyOnce.Do(func() {
		h, err := s.Hasher.Hash("not-a-real-password")
		if err == nil {
			s.dummyHash = h
		}
	})
	if s.dummyHash != "" {
		_ = s.Hasher.Verify(password, s.dummyHash)
	}
}

// SignInWithProvider resolves a verified provider identity to a local user.
// It finds by subject, then links an existing account by verified email,
// and otherwise creates a provider-only user.
func (s *UserService) SignInWithProvider(ctx context.Context, ext idp.ExternalIdentity) (domain.User, error) {
	l := slogx.FromContext(ctx)

	if ext.Subject == "" {
		return domain.User{}, fmt.Errorf("%w: subject", ErrInvalidInput)
	}

	u, err := s.Store.Users().GetUserByProviderSubject(ctx, ext.Subject)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.User{}, err
	}

	email, err := NormalizeEmail(ext.Email)
	if err != nil {
		return domain.User{}, err
	}

	var out domain.User
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		existing, err := tx.Users().GetUserByEmail(ctx, email)
		switch {
		case err == nil:
			// Only a provider-verified address may claim an existing account.
			if !ext.EmailVerified {
				return ErrEmailTaken
			}
			if err := tx.Users().LinkProviderSubject(ctx, existing.ID, ext.Subject); err != nil {
				return err
			}
			existing.ProviderSubject = ext.Subject
			out = existing
			l.Info("provider subject linked", slog.String("user_id", existing.ID))
			return nil
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		now := s.now()
		out = domain.User{
			ID:              idx.New().String(),
			Email:           email,
			DisplayName:     strings.TrimSpace(ext.Name),
			Roles:           append([]string(nil), domain.DefaultRoles...),
			ProviderSubject: ext.Subject,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.Users().CreateUser(ctx, out); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return ErrEmailTaken
			}
			return err
		}
		l.Info("user created from provider",
			slog.String("user_id", out.ID),
			slog.String("email", slogx.RedactEmail(email)),
		)
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return out, nil
}
