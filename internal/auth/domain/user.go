package domain

import "time"

// User is a row in the user-profile store. PasswordHash is empty for users
// who only ever signed in through the external identity provider, and
// ProviderSubject is empty for users who never did.
type User struct {
	ID              string
	Email           string // lower-cased, unique
	DisplayName     string
	PasswordHash    string // argon2id PHC string
	Roles           []string
	ProviderSubject string // "sub" from the identity provider, unique when set
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasPassword reports whether password login is possible for u.
func (u User) HasPassword() bool { return u.PasswordHash != "" }
