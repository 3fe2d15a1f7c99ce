package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/domain"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/metrics"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/cryptox"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/kv"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/slogx"
)

// DefaultSessionTTL is the sliding lifetime of a legacy session.
const DefaultSessionTTL = 24 * time.Hour

const (
	sessionKeyPrefix     = "session:"
	userSessionKeyPrefix = "user_sessions:"
)

func sessionKey(id string) string         { return sessionKeyPrefix + id }
func userSessionsKey(userID string) string { return userSessionKeyPrefix + userID }

// SessionRegistry stores opaque legacy sessions and a per-user index of
// their ids. Session records expire on their own; the index may then hold
// dangling ids until CleanExpiredSessions runs.
type SessionRegistry struct {
	KV      kv.Store
	TTL     time.Duration
	Now     func() time.Time
	Metrics *metrics.Metrics
}

func (r *SessionRegistry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *SessionRegistry) ttl() time.Duration {
	if r.TTL > 0 {
		return r.TTL
	}
	return DefaultSessionTTL
}

// CreateSession persists a new session and appends it to the user's index.
func (r *SessionRegistry) CreateSession(ctx context.Context, userID, email string, meta domain.SessionMeta) (string, error) {
	id, err := cryptox.GenerateHexToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}

	now := r.now()
	sess := domain.Session{
		ID:           id,
		UserID:       userID,
		Email:        email,
		Username:     meta.Username,
		LoginTime:    now,
		LastActivity: now,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
	}
	if err := kv.SetJSON(ctx, r.KV, sessionKey(id), sess, r.ttl()); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}

	ids, err := r.index(ctx, userID)
	if err != nil {
		return "", err
	}
	if err := r.writeIndex(ctx, userID, append(ids, id)); err != nil {
		return "", err
	}

	r.Metrics.Session("create")
	slogx.FromContext(ctx).Info("legacy session created",
		slog.String("user_id", userID),
		slog.String("email", slogx.RedactEmail(email)),
	)
	return id, nil
}

// GetSession returns nil, nil for an unknown or expired id. A hit slides
// the expiry forward and records the activity.
func (r *SessionRegistry) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := kv.GetJSON[domain.Session](ctx, r.KV, sessionKey(id))
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("load session: %w", err)
	}

	sess.LastActivity = r.now()
	if err := kv.SetJSON(ctx, r.KV, sessionKey(id), sess, r.ttl()); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	// The index must live at least as long as any session it lists.
	if _, err := r.KV.Expire(ctx, userSessionsKey(sess.UserID), r.ttl()); err != nil {
		return nil, fmt.Errorf("touch session index: %w", err)
	}
	return &sess, nil
}

// DeleteSession removes one session and its index entry. It reports
// whether the session existed.
func (r *SessionRegistry) DeleteSession(ctx context.Context, id string) (bool, error) {
	sess, err := kv.GetJSON[domain.Session](ctx, r.KV, sessionKey(id))
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("load session: %w", err)
	}

	n, err := r.KV.Delete(ctx, sessionKey(id))
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}

	ids, err := r.index(ctx, sess.UserID)
	if err != nil {
		return false, err
	}
	if i := slices.Index(ids, id); i >= 0 {
		if err := r.writeIndex(ctx, sess.UserID, slices.Delete(ids, i, i+1)); err != nil {
			return false, err
		}
	}

	if n > 0 {
		r.Metrics.Session("delete")
	}
	return n > 0, nil
}

// DeleteAllUserSessions drops every session in the user's index together
// with the index. Only records that still existed are counted.
func (r *SessionRegistry) DeleteAllUserSessions(ctx context.Context, userID string) (int, error) {
	ids, err := r.index(ctx, userID)
	if err != nil {
		return 0, err
	}

	var deleted int
	if len(ids) > 0 {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = sessionKey(id)
		}
		n, err := r.KV.Delete(ctx, keys...)
		if err != nil {
			return 0, fmt.Errorf("delete sessions: %w", err)
		}
		deleted = int(n)
	}

	if _, err := r.KV.Delete(ctx, userSessionsKey(userID)); err != nil {
		return deleted, fmt.Errorf("delete session index: %w", err)
	}

	r.Metrics.Session("delete_all")
	slogx.FromContext(ctx).Info("legacy sessions deleted",
		slog.String("user_id", userID),
		slog.Int("count", deleted),
	)
	return deleted, nil
}

// CleanExpiredSessions rewrites the user's index without ids whose record
// has expired, and returns how many were dropped.
func (r *SessionRegistry) CleanExpiredSessions(ctx context.Context, userID string) (int, error) {
	ids, err := r.index(ctx, userID)
	if err != nil {
		return 0, err
	}

	live := make([]string, 0, len(ids))
	for _, id := range ids {
		ok, err := r.KV.Exists(ctx, sessionKey(id))
		if err != nil {
			return 0, fmt.Errorf("check session: %w", err)
		}
		if ok {
			live = append(live, id)
		}
	}

	dropped := len(ids) - len(live)
	if dropped == 0 {
		return 0, nil
	}
	if err := r.writeIndex(ctx, userID, live); err != nil {
		return 0, err
	}
	r.Metrics.Session("clean")
	return dropped, nil
}

// GetUserSessions returns the user's live sessions without touching them.
func (r *SessionRegistry) GetUserSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	ids, err := r.index(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := kv.GetJSON[domain.Session](ctx, r.KV, sessionKey(id))
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		out = append(out, sess)
	}
	return out, nil
}

// IndexedUsers lists every user id that has a session index.
func (r *SessionRegistry) IndexedUsers(ctx context.Context) ([]string, error) {
	keys, err := r.KV.Keys(ctx, userSessionKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan session indexes: %w", err)
	}
	users := make([]string, 0, len(keys))
	for _, k := range keys {
		users = append(users, k[len(userSessionKeyPrefix):])
	}
	return users, nil
}

func (r *SessionRegistry) index(ctx context.Context, userID string) ([]string, error) {
	ids, err := kv.GetJSON[[]string](ctx, r.KV, userSessionsKey(userID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session index: %w", err)
	}
	return ids, nil
}

func (r *SessionRegistry) writeIndex(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		if _, err := r.KV.Delete(ctx, userSessionsKey(userID)); err != nil {
			return fmt.Errorf("delete session index: %w", err)
		}
		return nil
	}
	if err := kv.SetJSON(ctx, r.KV, userSessionsKey(userID), ids, r.ttl()); err != nil {
		return fmt.Errorf("store session index: %w", err)
	}
	return nil
}
