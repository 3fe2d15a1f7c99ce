package domain

import "time"

// Session is a record in the legacy opaque-session registry. It is separate
// from the token sessions identified by a token's sid.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Username     string    `json:"username,omitempty"`
	LoginTime    time.Time `json:"login_time"`
	LastActivity time.Time `json:"last_activity"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
}

// SessionMeta is optional request context captured at session creation.
type SessionMeta struct {
	Username  string
	IPAddress string
	UserAgent string
}
