package authsdk

import (
	"context"
	"net/http"
	"net/url"
)

// Me returns the caller's identity and profile.
func (s *Session) Me(ctx context.Context) (*MeResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/auth/me", nil)
	if err != nil {
		return nil, err
	}
	var out MeResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions returns the caller's active token sessions.
func (s *Session) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/auth/sessions", nil)
	if err != nil {
		return nil, err
	}
	var out SessionsResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// RevokeSession ends one of the caller's sessions by id.
func (s *Session) RevokeSession(ctx context.Context, sessionID string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodDelete, "/v1/auth/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil, http.StatusNoContent)
}

// Logout revokes the current access token and its session.
func (s *Session) Logout(ctx context.Context) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/auth/logout", nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil, http.StatusNoContent)
}

// FeedInfo calls the feed probe as this session.
func (s *Session) FeedInfo(ctx context.Context) (*FeedInfoResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/public/feed-info", nil)
	if err != nil {
		return nil, err
	}
	var out FeedInfoResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
