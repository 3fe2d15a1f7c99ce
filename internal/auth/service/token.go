package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/domain"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/metrics"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/cryptox"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/jwtx"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/kv"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/slogx"
)

const (
	refreshKeyPrefix   = "refresh_token:"
	blacklistKeyPrefix = "blacklist:"
)

func refreshKey(sid string) string     { return refreshKeyPrefix + sid }
func blacklistKey(token string) string { return blacklistKeyPrefix + cryptox.FingerprintToken(token) }

// TokenCodec signs and checks tokens. Verify must not look at time.
type TokenCodec interface {
	Sign(jwtx.Claims) (string, error)
	Verify(token string) (jwtx.Claims, error)
}

// TokenService issues, verifies, refreshes and revokes token pairs. The
// refresh half of each pair is stored under its session id; revoked but
// unexpired tokens are tracked in a blacklist keyed by token fingerprint.
type TokenService struct {
	Codec      TokenCodec
	KV         kv.Store
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// RotateRefresh mints a new refresh token on every refresh and
	// invalidates the presented one.
	RotateRefresh bool

	Now     func() time.Time
	Metrics *metrics.Metrics
}

func (s *TokenService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *TokenService) accessTTL() time.Duration {
	if s.AccessTTL > 0 {
		return s.AccessTTL
	}
	return jwtx.DefaultAccessTokenTTL
}

func (s *TokenService) refreshTTL() time.Duration {
	if s.RefreshTTL > 0 {
		return s.RefreshTTL
	}
	return jwtx.DefaultRefreshTokenTTL
}

func (s *TokenService) sign(typ jwtx.TokenType, userID, email, sid string, roles []string, now time.Time, ttl time.Duration) (string, error) {
	tok, err := s.Codec.Sign(jwtx.NewClaims(typ, userID, email, sid, roles, "", now, ttl))
	if err != nil {
		return "", err
	}
	s.Metrics.TokenIssued(string(typ))
	return tok, nil
}

// CreateTokenPair starts a new session for user: a fresh 256-bit session id
// shared by one access and one refresh token.
func (s *TokenService) CreateTokenPair(ctx context.Context, user domain.User) (domain.TokenPair, error) {
	now := s.now()
	l := slogx.FromContext(ctx)

	sid, err := cryptox.GenerateHexToken(cryptox.TokenSize256)
	if err != nil {
		return domain.TokenPair{}, err
	}

	access, err := s.sign(jwtx.TypeAccess, user.ID, user.Email, sid, user.Roles, now, s.accessTTL())
	if err != nil {
		return domain.TokenPair{}, err
	}
	refresh, err := s.sign(jwtx.TypeRefresh, user.ID, user.Email, sid, user.Roles, now, s.refreshTTL())
	if err != nil {
		return domain.TokenPair{}, err
	}

	if err := s.KV.Set(ctx, refreshKey(sid), refresh, s.refreshTTL()); err != nil {
		return domain.TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}

	l.Info("token pair issued", slog.String("user_id", user.ID))

	return domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.accessTTL().Seconds()),
		RefreshExpiresIn: int64(s.refreshTTL().Seconds()),
	}, nil
}

// VerifyToken checks, in order: blacklist, signature, expiry, and for
// refresh tokens that the presented token is still the one on record.
func (s *TokenService) VerifyToken(ctx context.Context, token string) (jwtx.Claims, error) {
	// 1. Revoked?
	revoked, err := s.KV.Exists(ctx, blacklistKey(token))
	if err != nil {
		return jwtx.Claims{}, fmt.Errorf("check blacklist: %w", err)
	}
	if revoked {
		return jwtx.Claims{}, ErrTokenRevoked
	}

	// 2. Signature and structure.
	claims, err := s.Codec.Verify(token)
	if err != nil {
		return jwtx.Claims{}, err
	}

	// 3. Expiry.
	if err := claims.ValidateExpiryAt(s.now()); err != nil {
		if errors.Is(err, jwtx.ErrInvalidClaim) {
			return jwtx.Claims{}, fmt.Errorf("%w: %v", jwtx.ErrMalformed, err)
		}
		return jwtx.Claims{}, err
	}
	if !claims.Type.Valid() || claims.Subject == "" || claims.SID == "" {
		return jwtx.Claims{}, jwtx.ErrMalformed
	}

	// 4. Refresh tokens must match the stored record for their session.
	if claims.Type == jwtx.TypeRefresh {
		stored, err := s.KV.Get(ctx, refreshKey(claims.SID))
		switch {
		case errors.Is(err, kv.ErrNotFound):
			return jwtx.Claims{}, ErrRefreshRotated
		case err != nil:
			return jwtx.Claims{}, fmt.Errorf("load refresh token: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(stored), []byte(token)) != 1 {
			return jwtx.Claims{}, ErrRefreshRotated
		}
	}

	return claims, nil
}

// RefreshAccessToken mints a new access token for the session of a valid
// refresh token. With rotation on, the refresh token is replaced as well
// and the presented one stops working immediately.
func (s *TokenService) RefreshAccessToken(ctx context.Context, refreshToken string) (domain.RefreshResult, error) {
	l := slogx.FromContext(ctx)

	claims, err := s.VerifyToken(ctx, refreshToken)
	if err != nil {
		return domain.RefreshResult{}, err
	}
	if claims.Type != jwtx.TypeRefresh {
		return domain.RefreshResult{}, ErrWrongTokenType
	}

	now := s.now()
	access, err := s.sign(jwtx.TypeAccess, claims.Subject, claims.Email, claims.SID, claims.Roles, now, s.accessTTL())
	if err != nil {
		return domain.RefreshResult{}, err
	}

	out := domain.RefreshResult{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.accessTTL().Seconds()),
	}

	if s.RotateRefresh {
		// The session keeps the deadline set at login; rotation never extends it.
		remaining := claims.Remaining(now)
		if remaining <= 0 {
			return domain.RefreshResult{}, jwtx.ErrExpired
		}
		next, err := s.sign(jwtx.TypeRefresh, claims.Subject, claims.Email, claims.SID, claims.Roles, now, remaining)
		if err != nil {
			return domain.RefreshResult{}, err
		}
		if err := s.KV.Set(ctx, refreshKey(claims.SID), next, remaining); err != nil {
			return domain.RefreshResult{}, fmt.Errorf("store refresh token: %w", err)
		}
		if err := s.blacklist(ctx, refreshToken, remaining); err != nil {
			l.Warn("failed to blacklist rotated refresh token", slog.Any("error", err))
		}

		out.RefreshToken = next
		out.RefreshExpiresIn = int64(remaining.Seconds())
	}

	l.Info("access token refreshed",
		slog.String("user_id", claims.Subject),
		slog.Bool("rotated", s.RotateRefresh),
	)
	return out, nil
}

func (s *TokenService) blacklist(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.KV.Set(ctx, blacklistKey(token), "1", ttl)
}

// RevokeToken blacklists token for the rest of its lifetime and, for a
// refresh token, drops the session's refresh record. A token that does not
// verify is ignored.
func (s *TokenService) RevokeToken(ctx context.Context, token string) error {
	l := slogx.FromContext(ctx)

	claims, err := s.Codec.Verify(token)
	if err != nil {
		l.Debug("revoke ignored unverifiable token", slog.Any("reason", err))
		return nil
	}

	if err := s.blacklist(ctx, token, claims.Remaining(s.now())); err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}
	if claims.Type == jwtx.TypeRefresh {
		if _, err := s.KV.Delete(ctx, refreshKey(claims.SID)); err != nil {
			return fmt.Errorf("delete refresh token: %w", err)
		}
	}

	s.Metrics.Revoked("token")
	l.Info("token revoked", slog.String("user_id", claims.Subject), slog.String("type", string(claims.Type)))
	return nil
}

// RevokeUserSession drops the refresh record for sid. Returns whether a
// record existed.
func (s *TokenService) RevokeUserSession(ctx context.Context, sid string) (bool, error) {
	n, err := s.KV.Delete(ctx, refreshKey(sid))
	if err != nil {
		return false, fmt.Errorf("delete refresh token: %w", err)
	}
	if n > 0 {
		s.Metrics.Revoked("session")
	}
	return n > 0, nil
}

// GetUserActiveSessions scans every stored refresh token and keeps those
// that still verify and belong to userID. Cost is linear in the number of
// live sessions across all users.
func (s *TokenService) GetUserActiveSessions(ctx context.Context, userID string) ([]domain.ActiveSession, error) {
	l := slogx.FromContext(ctx)

	keys, err := s.KV.Keys(ctx, refreshKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan refresh tokens: %w", err)
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)

	out := make([]domain.ActiveSession, 0)
	for _, key := range keys {
		tok, err := s.KV.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, kv.ErrNotFound) {
				l.Warn("failed to read refresh token", slog.String("key", key), slog.Any("error", err))
			}
			continue
		}

		claims, err := s.VerifyToken(ctx, tok)
		if err != nil || claims.Subject != userID {
			continue
		}
		if strings.TrimPrefix(key, refreshKeyPrefix) != claims.SID {
			continue
		}

		out = append(out, domain.ActiveSession{
			SessionID: claims.SID,
			UserID:    claims.Subject,
			Email:     claims.Email,
			Roles:     claims.Roles,
			IssuedAt:  claims.IssuedAt.Time,
			ExpiresAt: claims.ExpiresAt.Time,
		})
	}
	return out, nil
}

// RevokeAllUserSessions revokes every active session of userID and returns
// how many were dropped.
func (s *TokenService) RevokeAllUserSessions(ctx context.Context, userID string) (int, error) {
	sessions, err := s.GetUserActiveSessions(ctx, userID)
	if err != nil {
		return 0, err
	}

	var n int
	for _, sess := range sessions {
		ok, err := s.RevokeUserSession(ctx, sess.SessionID)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}
