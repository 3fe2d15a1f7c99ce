package authsdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

var ErrNoRefreshToken = errors.New("authsdk: access token expired and no refresh token available")

// Session is an authenticated client. It refreshes the access token ahead
// of expiry and, once, when the server answers 401 to a token it believed
// valid.
type Session struct {
	client *SDKClient

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

func newSession(client *SDKClient, tok *TokenResponse) *Session {
	s := &Session{client: client}
	s.apply(tok)
	return s
}

// apply stores tok. Callers hold s.mu or own s exclusively.
func (s *Session) apply(tok *TokenResponse) {
	s.accessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		s.refreshToken = tok.RefreshToken
	}
	s.expiresAt = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - s.client.RefreshSkew)
}

// getValidToken returns an access token, refreshing first when it has
// expired locally.
func (s *Session) getValidToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	if time.Now().Before(s.expiresAt) {
		token := s.accessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	return s.refresh(ctx, "")
}

// refresh swaps tokens unless another goroutine already replaced stale.
func (s *Session) refresh(ctx context.Context, stale string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stale != "" && s.accessToken != stale {
		return s.accessToken, nil
	}
	if stale == "" && time.Now().Before(s.expiresAt) {
		return s.accessToken, nil
	}
	if s.refreshToken == "" {
		return "", ErrNoRefreshToken
	}

	tok, err := s.client.Refresh(ctx, s.refreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}
	s.apply(tok)
	return s.accessToken, nil
}

// Refresh forces a token refresh.
func (s *Session) Refresh(ctx context.Context) error {
	_, err := s.refresh(ctx, s.AccessToken())
	return err
}

// doAuthRequest sends an authenticated JSON request and retries once with a
// refreshed token on 401. A 401 carrying Retry-After is a throttled
// credential and is returned as is.
func (s *Session) doAuthRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	token, err := s.getValidToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.doJSON(ctx, method, path, body, map[string]string{"Authorization": "Bearer " + token})
	if err != nil || resp.StatusCode != http.StatusUnauthorized || resp.Header.Get("Retry-After") != "" {
		return resp, err
	}

	s.mu.RLock()
	canRefresh := s.refreshToken != ""
	s.mu.RUnlock()
	if !canRefresh {
		return resp, nil
	}
	_ = resp.Body.Close()

	token, err = s.refresh(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.client.doJSON(ctx, method, path, body, map[string]string{"Authorization": "Bearer " + token})
}

// Revoke revokes the refresh token, ending this session for good.
func (s *Session) Revoke(ctx context.Context) error {
	s.mu.RLock()
	refreshToken := s.refreshToken
	s.mu.RUnlock()

	if refreshToken == "" {
		return ErrNoRefreshToken
	}
	return s.client.RevokeToken(ctx, refreshToken)
}

// AccessToken returns the current access token without checking expiry.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken returns the current refresh token.
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}
