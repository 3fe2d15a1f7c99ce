package authsdk

import "time"

// ErrorResponse is the wire form of OAuth2Error.
type ErrorResponse struct {
	Error            string `json:"error" example:"invalid_request"`
	ErrorDescription string `json:"error_description" example:"the request is malformed or missing required parameters"`
}

// RegisterRequest is the body of POST /v1/auth/register.
type RegisterRequest struct {
	Email    string `json:"email" example:"alice@example.com"`
	Password string `json:"password" example:"correct horse battery staple"`
	Name     string `json:"name,omitempty" example:"Alice"`
}

// LoginRequest is the body of POST /v1/auth/login and POST /v1/legacy/sessions.
type LoginRequest struct {
	Email    string `json:"email" example:"alice@example.com"`
	Password string `json:"password" example:"correct horse battery staple"`
}

// ProviderLoginRequest is the body of POST /v1/auth/google.
type ProviderLoginRequest struct {
	IDToken string `json:"id_token"`
}

// RefreshRequest is the body of POST /v1/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RevokeRequest is the body of POST /v1/auth/revoke.
type RevokeRequest struct {
	Token string `json:"token"`
}

// TokenResponse carries a token pair, or a refreshed access token with an
// optional rotated refresh token.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	TokenType        string `json:"token_type" example:"Bearer"`
	ExpiresIn        int64  `json:"expires_in" example:"3600"`
	RefreshExpiresIn int64  `json:"refresh_expires_in,omitempty" example:"2592000"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID          string    `json:"id" example:"01HZX3Y8K2M4N6P8Q0R2S4T6V8"`
	Email       string    `json:"email" example:"alice@example.com"`
	DisplayName string    `json:"display_name,omitempty" example:"Alice"`
	Roles       []string  `json:"roles" example:"user"`
	LinkedIdP   bool      `json:"linked_idp"`
	CreatedAt   time.Time `json:"created_at"`
}

// MeResponse describes the caller as resolved by the guard.
type MeResponse struct {
	UserID    string        `json:"user_id"`
	Email     string        `json:"email"`
	Roles     []string      `json:"roles"`
	SessionID string        `json:"session_id,omitempty"`
	Source    string        `json:"source" example:"session"`
	User      *UserResponse `json:"user,omitempty"`
}

// SessionInfo is one token session.
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Current   bool      `json:"current,omitempty"`
}

type SessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

type RevokedResponse struct {
	Revoked int `json:"revoked"`
}

// SetRolesRequest is the body of PUT /v1/admin/users/{id}/roles.
type SetRolesRequest struct {
	Roles []string `json:"roles" example:"user,admin"`
}

// FeedInfoResponse is what the optionally authenticated feed probe returns.
type FeedInfoResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	Source        string `json:"source,omitempty"`
}

// LegacySessionResponse is returned by POST /v1/legacy/sessions.
type LegacySessionResponse struct {
	SessionID string `json:"session_id"`
	ExpiresIn int64  `json:"expires_in" example:"86400"`
}

// LegacySession is a legacy opaque session record.
type LegacySession struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Username     string    `json:"username,omitempty"`
	LoginTime    time.Time `json:"login_time"`
	LastActivity time.Time `json:"last_activity"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
}

type DeletedResponse struct {
	Deleted int `json:"deleted"`
}

// HealthResponse is returned by /livez and /readyz.
type HealthResponse struct {
	Status  string        `json:"status" example:"ok"`
	Uptime  string        `json:"uptime" example:"1h2m3s"`
	Version string        `json:"version" example:"v0.1.0"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports each readiness dependency as "ok" or "error: ...".
type HealthChecks struct {
	Database string `json:"database" example:"ok"`
	Cache    string `json:"cache" example:"ok"`
	Signer   string `json:"signer" example:"ok"`
}
