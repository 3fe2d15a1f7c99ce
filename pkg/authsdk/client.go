package authsdk

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// SDKClient talks to the auth service. It covers the unauthenticated
// endpoints and creates Sessions for the rest.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// RefreshSkew refreshes access tokens this long before they expire.
	RefreshSkew time.Duration
}

// NewSDKClient creates a client with a 10 second timeout.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		RefreshSkew: 30 * time.Second,
	}
}

// AuthenticateWithPassword logs in and returns a Session.
func (c *SDKClient) AuthenticateWithPassword(ctx context.Context, email, password string) (*Session, error) {
	tok, err := c.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return newSession(c, tok), nil
}

// AuthenticateWithIDToken exchanges an identity-provider ID token for a
// Session.
func (c *SDKClient) AuthenticateWithIDToken(ctx context.Context, idToken string) (*Session, error) {
	tok, err := c.SignInWithProvider(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return newSession(c, tok), nil
}

// NewSessionFromTokens wraps tokens obtained elsewhere. The session still
// refreshes on expiry.
func (c *SDKClient) NewSessionFromTokens(accessToken, refreshToken string, expiresIn int64) *Session {
	return newSession(c, &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
	})
}
