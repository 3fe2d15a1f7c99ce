package authsdk

import (
	"context"
	"net/http"
	"net/url"
)

// Admin operations. The server rejects them with 403 unless the session's
// roles include an admin role.

// ListUserSessions returns another user's active token sessions.
func (s *Session) ListUserSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/admin/users/"+url.PathEscape(userID)+"/sessions", nil)
	if err != nil {
		return nil, err
	}
	var out SessionsResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// RevokeUserSessions ends every session of userID.
func (s *Session) RevokeUserSessions(ctx context.Context, userID string) (int, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodDelete, "/v1/admin/users/"+url.PathEscape(userID)+"/sessions", nil)
	if err != nil {
		return 0, err
	}
	var out RevokedResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return 0, err
	}
	return out.Revoked, nil
}

// SetUserRoles replaces userID's roles.
func (s *Session) SetUserRoles(ctx context.Context, userID string, roles []string) (*UserResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPut, "/v1/admin/users/"+url.PathEscape(userID)+"/roles", SetRolesRequest{Roles: roles})
	if err != nil {
		return nil, err
	}
	var out UserResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
