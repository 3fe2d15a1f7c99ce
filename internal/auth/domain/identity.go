package domain

import "github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/jwtx"

// VerificationSource records which path accepted a credential.
type VerificationSource string

const (
	VerifiedViaSession          VerificationSource = "session"
	VerifiedViaExternalProvider VerificationSource = "external_provider"
)

// Identity is attached to a request after successful authentication and
// dropped when the request ends.
type Identity struct {
	UserID    string             `json:"user_id"`
	Email     string             `json:"email"`
	Roles     []string           `json:"roles"`
	SessionID string             `json:"session_id,omitempty"`
	TokenType jwtx.TokenType     `json:"token_type,omitempty"`
	Source    VerificationSource `json:"source"`
}

// IsAdmin reports whether the verified roles include one of adminRoles.
func (i Identity) IsAdmin(adminRoles []string) bool {
	return HasAnyRole(i.Roles, adminRoles)
}
