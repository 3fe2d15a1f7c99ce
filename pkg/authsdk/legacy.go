package authsdk

import (
	"context"
	"net/http"
)

// HeaderSessionID carries a legacy session id.
const HeaderSessionID = "X-Session-ID"

// LegacyLogin creates an opaque legacy session.
func (c *SDKClient) LegacyLogin(ctx context.Context, email, password string) (*LegacySessionResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/legacy/sessions", LoginRequest{Email: email, Password: password}, nil)
	if err != nil {
		return nil, err
	}
	var out LegacySessionResponse
	if err := decodeJSON(resp, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// LegacySession fetches the session and extends its lifetime.
func (c *SDKClient) LegacySession(ctx context.Context, sessionID string) (*LegacySession, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, "/v1/legacy/sessions/current", nil,
		map[string]string{HeaderSessionID: sessionID})
	if err != nil {
		return nil, err
	}
	var out LegacySession
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// LegacyLogout ends one legacy session.
func (c *SDKClient) LegacyLogout(ctx context.Context, sessionID string) error {
	resp, err := c.doJSON(ctx, http.MethodDelete, "/v1/legacy/sessions/current", nil,
		map[string]string{HeaderSessionID: sessionID})
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil, http.StatusNoContent)
}

// LegacyLogoutAll ends every legacy session of the session's owner.
func (c *SDKClient) LegacyLogoutAll(ctx context.Context, sessionID string) (int, error) {
	resp, err := c.doJSON(ctx, http.MethodDelete, "/v1/legacy/sessions", nil,
		map[string]string{HeaderSessionID: sessionID})
	if err != nil {
		return 0, err
	}
	var out DeletedResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}
