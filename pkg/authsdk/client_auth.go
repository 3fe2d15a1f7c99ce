package authsdk

import (
	"context"
	"net/http"
)

// Register creates a password account and returns its first token pair.
func (c *SDKClient) Register(ctx context.Context, req RegisterRequest) (*TokenResponse, error) {
	return c.tokenCall(ctx, "/v1/auth/register", req, http.StatusCreated)
}

// Login exchanges email and password for a token pair.
func (c *SDKClient) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	return c.tokenCall(ctx, "/v1/auth/login", LoginRequest{Email: email, Password: password}, http.StatusOK)
}

// SignInWithProvider exchanges an identity-provider ID token for a token
// pair, creating or linking the account on first use.
func (c *SDKClient) SignInWithProvider(ctx context.Context, idToken string) (*TokenResponse, error) {
	return c.tokenCall(ctx, "/v1/auth/google", ProviderLoginRequest{IDToken: idToken}, http.StatusOK)
}

// Refresh exchanges a refresh token for a new access token. RefreshToken
// in the result is set only when the server rotated it.
func (c *SDKClient) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	return c.tokenCall(ctx, "/v1/auth/refresh", RefreshRequest{RefreshToken: refreshToken}, http.StatusOK)
}

// RevokeToken revokes an access or refresh token. The server answers 200
// for unknown tokens too.
func (c *SDKClient) RevokeToken(ctx context.Context, token string) error {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/auth/revoke", RevokeRequest{Token: token}, nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil, http.StatusOK)
}

// FeedInfo calls the optionally authenticated feed probe. An empty token
// makes an anonymous call.
func (c *SDKClient) FeedInfo(ctx context.Context, accessToken string) (*FeedInfoResponse, error) {
	var headers map[string]string
	if accessToken != "" {
		headers = map[string]string{"Authorization": "Bearer " + accessToken}
	}
	resp, err := c.doJSON(ctx, http.MethodGet, "/v1/public/feed-info", nil, headers)
	if err != nil {
		return nil, err
	}
	var out FeedInfoResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SDKClient) tokenCall(ctx context.Context, path string, body any, want int) (*TokenResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, path, body, nil)
	if err != nil {
		return nil, err
	}
	var tok TokenResponse
	if err := decodeJSON(resp, &tok, want); err != nil {
		return nil, err
	}
	return &tok, nil
}
